// Package planmodel defines the wire shapes named in spec.md §6 ("Execution
// plan wire shape"): the JSON an LLM adapter's response text may embed.
package planmodel

// ExecutionType enumerates a step's kind, per spec.md §6.
type ExecutionType string

const (
	ExecutionTypeExtrinsic  ExecutionType = "extrinsic"
	ExecutionTypeDataFetch  ExecutionType = "data_fetch"
	ExecutionTypeValidation ExecutionType = "validation"
	ExecutionTypeUserInput  ExecutionType = "user_input"
)

// ExecutionStep is one step of an ExecutionPlan.
type ExecutionStep struct {
	ID                   string                 `json:"id"`
	StepNumber           int                    `json:"stepNumber"`
	AgentClassName       string                 `json:"agentClassName"`
	FunctionName         string                 `json:"functionName"`
	Parameters           map[string]interface{} `json:"parameters"`
	ExecutionType        ExecutionType          `json:"executionType"`
	Status               string                 `json:"status"`
	Description          string                 `json:"description"`
	RequiresConfirmation bool                   `json:"requiresConfirmation"`
	// DependsOn is stored and round-tripped but has no consumer: the
	// orchestrator processes steps in declaration order regardless of its
	// value (spec.md §9 open question).
	DependsOn []string `json:"dependsOn,omitempty"`
	CreatedAt int64     `json:"createdAt"`
}

// ExecutionPlan is the declarative DAG-lite spec.md §3 and §6 describe.
type ExecutionPlan struct {
	ID               string          `json:"id"`
	OriginalRequest  string          `json:"originalRequest"`
	Steps            []ExecutionStep `json:"steps"`
	Status           string          `json:"status"`
	RequiresApproval bool            `json:"requiresApproval"`
	CreatedAt        int64           `json:"createdAt"`
}
