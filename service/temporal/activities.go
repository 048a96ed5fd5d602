package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/brojonat/snipebot/service/metrics"
	natspkg "github.com/brojonat/snipebot/service/nats"
	"github.com/brojonat/snipebot/service/solana"
)

// PollProgramInput contains the input parameters for polling a program.
type PollProgramInput struct {
	ProgramID string `json:"program_id"`
}

// PollProgramResult contains the result of polling a program.
type PollProgramResult struct {
	ProgramID    string    `json:"program_id"`
	SnapshotSlot uint64    `json:"snapshot_slot"`
	AccountCount int       `json:"account_count"`
	Written      int       `json:"written"`
	Skipped      int       `json:"skipped"`
	PollTime     time.Time `json:"poll_time"`
	Error        *string   `json:"error,omitempty"`
}

// GetLatestSlotInput contains parameters for the GetLatestSlot activity.
type GetLatestSlotInput struct {
	ProgramID string `json:"program_id"`
}

// GetLatestSlotResult contains the result of the GetLatestSlot activity.
type GetLatestSlotResult struct {
	Slot uint64 `json:"slot"`
}

// SnapshotProgramInput contains parameters for the SnapshotProgram activity.
type SnapshotProgramInput struct {
	ProgramID string `json:"program_id"`
	// SinceSlot is the highest slot already stored for this program.
	// Used for logging; deduplication happens at write time.
	SinceSlot uint64 `json:"since_slot"`
}

// SnapshotProgramResult contains the result of the SnapshotProgram activity.
type SnapshotProgramResult struct {
	Updates []*solana.AccountUpdate `json:"updates"`
	Slot    uint64                  `json:"slot"`
}

// WriteAccountUpdatesInput contains parameters for the WriteAccountUpdates activity.
type WriteAccountUpdatesInput struct {
	ProgramID string                  `json:"program_id"`
	Updates   []*solana.AccountUpdate `json:"updates"`
}

// WriteAccountUpdatesResult contains the result of writing account updates.
type WriteAccountUpdatesResult struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"` // Already existed in DB
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	CreateAccountUpdate(ctx context.Context, update *solana.AccountUpdate) (bool, error)
	GetLatestSlotByProgram(ctx context.Context, programID string) (uint64, error)
	UpdateProgramPollTime(ctx context.Context, programID string, polledAt time.Time) error
}

// SolanaClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type SolanaClientInterface interface {
	SnapshotProgramAccounts(ctx context.Context, programID solanago.PublicKey) ([]*solana.AccountUpdate, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishUpdateBatch(ctx context.Context, events []*natspkg.AccountUpdateEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store        StoreInterface
	solanaClient SolanaClientInterface
	publisher    PublisherInterface
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If m is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	solanaClient SolanaClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:        store,
		solanaClient: solanaClient,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
	}
}

// GetLatestSlot fetches the highest slot already stored for a program.
// The poll workflow uses it as a watermark when reporting snapshot results.
func (a *Activities) GetLatestSlot(ctx context.Context, input GetLatestSlotInput) (*GetLatestSlotResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("GetLatestSlot", input.ProgramID, time.Since(start).Seconds())
		}
	}()

	slot, err := a.store.GetLatestSlotByProgram(ctx, input.ProgramID)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to get latest slot",
			"program_id", input.ProgramID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get latest slot: %w", err)
	}

	a.logger.DebugContext(ctx, "fetched latest stored slot",
		"program_id", input.ProgramID,
		"slot", slot,
	)

	return &GetLatestSlotResult{Slot: slot}, nil
}

// SnapshotProgram fetches the current state of all accounts owned by a
// program via getProgramAccounts. This backfills anything the WebSocket
// watcher missed while disconnected.
func (a *Activities) SnapshotProgram(ctx context.Context, input SnapshotProgramInput) (*SnapshotProgramResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("SnapshotProgram", input.ProgramID, time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "snapshotting program",
		"program_id", input.ProgramID,
		"since_slot", input.SinceSlot,
	)

	programPubkey, err := solanago.PublicKeyFromBase58(input.ProgramID)
	if err != nil {
		a.logger.ErrorContext(ctx, "invalid program id",
			"program_id", input.ProgramID,
			"error", err,
		)
		return nil, fmt.Errorf("invalid program id: %w", err)
	}

	updates, err := a.solanaClient.SnapshotProgramAccounts(ctx, programPubkey)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to snapshot program",
			"program_id", input.ProgramID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to snapshot program: %w", err)
	}

	result := &SnapshotProgramResult{Updates: updates}
	if len(updates) > 0 {
		result.Slot = updates[0].Slot
	}

	a.logger.InfoContext(ctx, "snapshotted program successfully",
		"program_id", input.ProgramID,
		"slot", result.Slot,
		"count", len(updates),
	)

	return result, nil
}

// WriteAccountUpdates writes account updates to the database.
// It handles duplicate (account, slot) pairs gracefully by skipping them.
// After writing, it publishes the newly written updates to NATS for
// real-time subscribers.
func (a *Activities) WriteAccountUpdates(ctx context.Context, input WriteAccountUpdatesInput) (*WriteAccountUpdatesResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("WriteAccountUpdates", input.ProgramID, time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "writing account updates",
		"program_id", input.ProgramID,
		"count", len(input.Updates),
	)

	written := 0
	skipped := 0
	var events []*natspkg.AccountUpdateEvent

	for _, update := range input.Updates {
		inserted, err := a.store.CreateAccountUpdate(ctx, update)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to write account update",
				"program_id", input.ProgramID,
				"account", update.AccountPubkey,
				"slot", update.Slot,
				"error", err,
			)
			return nil, fmt.Errorf("failed to write account update for %s: %w", update.AccountPubkey, err)
		}
		if !inserted {
			skipped++
			continue
		}
		written++
		events = append(events, natspkg.FromAccountUpdate(update))
	}

	// Update program's last poll time
	if err := a.store.UpdateProgramPollTime(ctx, input.ProgramID, time.Now().UTC()); err != nil {
		a.logger.WarnContext(ctx, "failed to update program last poll time",
			"program_id", input.ProgramID,
			"error", err,
		)
		// Don't fail the activity for this - updates are written
	}

	a.logger.InfoContext(ctx, "wrote account updates to database",
		"program_id", input.ProgramID,
		"written", written,
		"skipped", skipped,
		"total", len(input.Updates),
	)

	if a.metrics != nil {
		a.metrics.RecordUpdatesWritten(input.ProgramID, written)
		a.metrics.RecordUpdatesSkipped(input.ProgramID, "already_exists", skipped)
	}

	// Publish newly written updates to NATS
	if len(events) > 0 && a.publisher != nil {
		if err := a.publisher.PublishUpdateBatch(ctx, events); err != nil {
			// Updates are persisted, NATS publish is best-effort
			a.logger.ErrorContext(ctx, "failed to publish account updates to NATS",
				"program_id", input.ProgramID,
				"count", len(events),
				"error", err,
			)
		} else {
			a.logger.DebugContext(ctx, "published account updates to NATS",
				"program_id", input.ProgramID,
				"count", len(events),
			)
		}
	}

	return &WriteAccountUpdatesResult{
		Written: written,
		Skipped: skipped,
	}, nil
}
