package main

import (
	"encoding/json"
	"fmt"

	"github.com/arcsign/chainpilot/internal/planmodel"
)

// llmAdapter is the pure-function shape spec.md §1 specifies for the
// out-of-scope LLM HTTP client: (user_message, system_prompt, context) ->
// text. Production callers wire this to a real chat completion API; this
// demo uses a canned response so the engine can be exercised without one.
type llmAdapter func(userMessage, systemPrompt string, chatContext map[string]interface{}) (string, error)

// mockLLM returns a fenced ExecutionPlan that transfers from sender to
// recipient, standing in for a real LLM's structured-plan response.
func mockLLM(sender, recipient string) llmAdapter {
	return func(userMessage, systemPrompt string, chatContext map[string]interface{}) (string, error) {
		plan := planmodel.ExecutionPlan{
			ID:              "plan-demo-1",
			OriginalRequest: userMessage,
			Status:          "pending",
			Steps: []planmodel.ExecutionStep{
				{
					ID:             "step-1",
					StepNumber:     1,
					AgentClassName: "AssetTransferAgent",
					FunctionName:   "transfer",
					Description:    "transfer 2.5 tokens to " + recipient,
					ExecutionType:  planmodel.ExecutionTypeExtrinsic,
					Status:         "pending",
					Parameters: map[string]interface{}{
						"address":         sender,
						"recipient":       recipient,
						"amount":          "2.5",
						"validateBalance": true,
					},
				},
			},
		}
		body, err := json.Marshal(plan)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Here is the transfer plan I've prepared:\n```json\n%s\n```\n", body), nil
	}
}
