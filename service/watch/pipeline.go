package watch

import (
	"context"
	"log/slog"

	"github.com/brojonat/snipebot/service/metrics"
	"github.com/brojonat/snipebot/service/solana"
)

// UpdateStore persists account updates. CreateAccountUpdate reports
// whether a row was actually inserted; false means the (pubkey, slot)
// pair was already recorded.
type UpdateStore interface {
	CreateAccountUpdate(ctx context.Context, update *solana.AccountUpdate) (bool, error)
}

// Publisher broadcasts stored updates to downstream consumers.
type Publisher interface {
	PublishAccountUpdate(ctx context.Context, update *solana.AccountUpdate) error
}

// Pipeline drains the connector's channel, persists each update, and
// publishes the ones that were newly inserted. Publishing is
// best-effort: a failed publish is logged and the pipeline moves on,
// since the update is already durable in the database.
type Pipeline struct {
	store     UpdateStore
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. The publisher may be nil, in which
// case updates are persisted but not broadcast.
func NewPipeline(store UpdateStore, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Run consumes updates from in until the channel closes or the context
// is canceled.
func (p *Pipeline) Run(ctx context.Context, in <-chan *solana.AccountUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-in:
			if !ok {
				return nil
			}
			p.handle(ctx, update)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, update *solana.AccountUpdate) {
	inserted, err := p.store.CreateAccountUpdate(ctx, update)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to store account update",
			"program_id", update.ProgramID,
			"account", update.AccountPubkey,
			"slot", update.Slot,
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.RecordUpdatesSkipped(update.ProgramID, "error", 1)
		}
		return
	}

	if !inserted {
		p.logger.DebugContext(ctx, "skipping duplicate account update",
			"program_id", update.ProgramID,
			"account", update.AccountPubkey,
			"slot", update.Slot,
		)
		if p.metrics != nil {
			p.metrics.RecordUpdatesSkipped(update.ProgramID, "duplicate", 1)
		}
		return
	}

	if p.metrics != nil {
		p.metrics.RecordUpdatesWritten(update.ProgramID, 1)
	}

	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishAccountUpdate(ctx, update); err != nil {
		p.logger.WarnContext(ctx, "failed to publish account update",
			"program_id", update.ProgramID,
			"account", update.AccountPubkey,
			"error", err,
		)
	}
}
