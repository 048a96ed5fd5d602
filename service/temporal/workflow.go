package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// PollProgramWorkflow is the Temporal workflow that snapshots a watched
// program's accounts. It is triggered by a Temporal schedule at a
// configured interval (e.g., every 30 seconds).
//
// The workflow performs these steps:
// 1. Read the program's stored slot watermark (GetLatestSlot activity)
// 2. Snapshot the program's accounts via RPC (SnapshotProgram activity)
// 3. Write the snapshot to the database (WriteAccountUpdates activity)
//
// The snapshot exists to backfill gaps in the WebSocket watcher's
// coverage: anything the watcher already recorded is deduplicated at
// write time.
func PollProgramWorkflow(ctx workflow.Context, input PollProgramInput) (*PollProgramResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PollProgramWorkflow started", "program_id", input.ProgramID)

	result := &PollProgramResult{
		ProgramID: input.ProgramID,
		PollTime:  workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: Get the program's stored slot watermark
	var slotResult *GetLatestSlotResult
	err := workflow.ExecuteActivity(ctx, a.GetLatestSlot, GetLatestSlotInput{ProgramID: input.ProgramID}).Get(ctx, &slotResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to get latest slot: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to get latest slot: %w", err)
	}
	logger.Info("got stored slot watermark", "program_id", input.ProgramID, "slot", slotResult.Slot)

	// Step 2: Snapshot the program's accounts
	snapshotInput := SnapshotProgramInput{
		ProgramID: input.ProgramID,
		SinceSlot: slotResult.Slot,
	}

	var snapshotResult *SnapshotProgramResult
	err = workflow.ExecuteActivity(ctx, a.SnapshotProgram, snapshotInput).Get(ctx, &snapshotResult)
	if err != nil {
		logger.Error("failed to snapshot program", "program_id", input.ProgramID, "error", err)
		errMsg := fmt.Sprintf("failed to snapshot program: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to snapshot program: %w", err)
	}

	result.SnapshotSlot = snapshotResult.Slot
	result.AccountCount = len(snapshotResult.Updates)

	logger.Info("snapshotted program successfully",
		"program_id", input.ProgramID,
		"slot", snapshotResult.Slot,
		"account_count", len(snapshotResult.Updates),
	)

	// If the program owns no accounts, we're done
	if len(snapshotResult.Updates) == 0 {
		logger.Info("no accounts found", "program_id", input.ProgramID)
		return result, nil
	}

	// Step 3: Write the snapshot to the database
	writeInput := WriteAccountUpdatesInput{
		ProgramID: input.ProgramID,
		Updates:   snapshotResult.Updates,
	}

	var writeResult *WriteAccountUpdatesResult
	err = workflow.ExecuteActivity(ctx, a.WriteAccountUpdates, writeInput).Get(ctx, &writeResult)
	if err != nil {
		logger.Error("failed to write account updates",
			"program_id", input.ProgramID,
			"error", err,
		)
		errMsg := fmt.Sprintf("failed to write account updates: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to write account updates: %w", err)
	}

	result.Written = writeResult.Written
	result.Skipped = writeResult.Skipped

	logger.Info("PollProgramWorkflow completed successfully",
		"program_id", input.ProgramID,
		"account_count", result.AccountCount,
		"written", writeResult.Written,
		"skipped", writeResult.Skipped,
	)

	return result, nil
}
