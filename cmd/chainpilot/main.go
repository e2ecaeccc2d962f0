// Command chainpilot is a runnable demonstration of the execution engine,
// not a product CLI: spec.md describes the engine as a library consumed by
// a chat UI and wallet extension, both out of scope here. This binary
// exercises the full pipeline end to end against a mock chain and a
// deterministic in-process signer, because no live network endpoint is
// available in this environment.
package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch detectMode() {
	case ModeDashboard:
		runDashboardMode(ctx)
	default:
		runInteractiveMode(ctx)
	}
}

func runInteractiveMode(ctx context.Context) {
	fmt.Println("=== ChainPilot Execution Engine Demo ===")
	fmt.Println()

	result, err := runDemo(ctx, func(format string, args ...interface{}) {
		fmt.Printf(format+"\n", args...)
	})
	if err != nil {
		fmt.Printf("demo run failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Plan text:")
	fmt.Println(result.PlanText)
	fmt.Println()
	fmt.Printf("Signer address: %s\n", result.SignerAddress)
	fmt.Printf("Items: %d total, %d finalized, %d failed, %d cancelled\n",
		result.ItemCount, result.Finalized, result.Failed, result.Cancelled)
	for _, item := range result.Items {
		line := fmt.Sprintf("  [%s] %s", item.Status, item.Description)
		if item.TxHash != "" {
			line += " tx=" + item.TxHash
		}
		if item.Error != "" {
			line += " error=" + item.Error
		}
		fmt.Println(line)
	}
}

func runDashboardMode(ctx context.Context) {
	writeLog("ChainPilot demo - dashboard mode")

	result, err := runDemo(ctx, writeLog)
	if err != nil {
		writeJSON(map[string]string{"error": err.Error()})
		os.Exit(1)
	}
	writeJSON(result)
}
