package signet_test

import (
	"context"
	"fmt"
	"log"

	"github.com/signetlabs/signet"
)

// Example_workflowBuilder demonstrates assembling and starting a signing
// workflow with the high-level WorkflowBuilder API and an in-memory engine.
func Example_workflowBuilder() {
	ctx := context.Background()

	eng := signet.NewInMemoryEngine()

	wf, err := signet.NewWorkflow("Mutual NDA").
		Creator("user-42").
		Sequential().
		Signer("Ada Lovelace", "ada@example.com").
		Signer("Grace Hopper", "grace@example.com").
		CC("Legal Archive", "legal@example.com").
		Create(ctx, eng)
	if err != nil {
		log.Fatal(err)
	}

	if err := signet.StartWorkflow(ctx, eng, wf.ID, signet.StartOptions{}); err != nil {
		log.Fatal(err)
	}

	progress, err := signet.GetProgress(ctx, eng, wf.ID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%d of %d signatures collected (%d%%)\n",
		progress.SignedCount, progress.TotalSigners, progress.PercentComplete)
	// Output: 0 of 2 signatures collected (0%)
}

// Example_localRunner demonstrates using LocalRunner to drive a workflow and
// its reminder jobs in a single process.
func Example_localRunner() {
	ctx := context.Background()

	runner := signet.NewLocalRunner(signet.EngineOptions{})
	defer runner.Stop()

	wf, err := signet.NewWorkflow("Offer letter").
		Signer("Ada Lovelace", "ada@example.com").
		AutoRemind(2).
		StartImmediately().
		Create(ctx, runner.Engine)
	if err != nil {
		log.Fatal(err)
	}

	// Fire any due reminder jobs deterministically; the job registered at
	// start is not due yet, so nothing fires.
	fired, err := runner.RunDueReminders(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("workflow is %s, %d reminder jobs fired\n", wf.Status, fired)
	// Output: workflow is IN_PROGRESS, 0 reminder jobs fired
}
