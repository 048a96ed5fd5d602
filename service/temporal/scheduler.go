package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for program polling.
// Each registered program gets its own schedule that triggers the
// PollProgramWorkflow.
type Scheduler interface {
	// CreateProgramSchedule creates a new schedule for polling a program.
	// The schedule will trigger the PollProgramWorkflow on the given interval.
	CreateProgramSchedule(ctx context.Context, programID string, interval time.Duration) error

	// UpsertProgramSchedule creates the schedule if it doesn't exist, or
	// updates its interval if it does.
	UpsertProgramSchedule(ctx context.Context, programID string, interval time.Duration) error

	// DeleteProgramSchedule deletes the schedule for a program.
	// This stops the program from being polled.
	DeleteProgramSchedule(ctx context.Context, programID string) error
}

// scheduleID returns the Temporal schedule ID for a program.
func scheduleID(programID string) string {
	return "poll-program-" + programID
}
