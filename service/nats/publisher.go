package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/snipebot/service/metrics"
	"github.com/brojonat/snipebot/service/solana"
)

// Publisher defines the interface for publishing account update events to NATS.
type Publisher interface {
	// PublishUpdate publishes a single account update event to JetStream.
	// The event is published to the subject "updates.{program_id}".
	PublishUpdate(ctx context.Context, event *AccountUpdateEvent) error

	// PublishUpdateBatch publishes multiple account update events.
	// Failures on individual events are logged and skipped.
	PublishUpdateBatch(ctx context.Context, events []*AccountUpdateEvent) error

	// PublishAccountUpdate converts a domain update to an event and publishes it.
	PublishAccountUpdate(ctx context.Context, update *solana.AccountUpdate) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes account update events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for account updates.
	StreamName = "PROGRAM_UPDATES"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "updates.*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// UpdateSubject returns the JetStream subject for a program's updates.
func UpdateSubject(programID string) string {
	return fmt.Sprintf("updates.%s", programID)
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("snipebot-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Account update events from watched Solana programs",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishUpdate publishes a single account update event.
func (p *JetStreamPublisher) PublishUpdate(ctx context.Context, event *AccountUpdateEvent) error {
	subject := UpdateSubject(event.ProgramID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal account update event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	p.recordPublish(subject, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to publish account update: %w", err)
	}

	p.logger.Debug("published account update event",
		"subject", subject,
		"account", event.AccountPubkey,
		"slot", event.Slot,
	)

	return nil
}

// PublishUpdateBatch publishes multiple account update events.
func (p *JetStreamPublisher) PublishUpdateBatch(ctx context.Context, events []*AccountUpdateEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := p.PublishUpdate(ctx, event); err != nil {
			// Don't fail the entire batch on one error
			p.logger.Error("failed to publish account update in batch",
				"account", event.AccountPubkey,
				"slot", event.Slot,
				"error", err,
			)
			continue
		}
	}

	p.logger.Debug("published account update batch",
		"count", len(events),
	)

	return nil
}

// PublishAccountUpdate converts a domain update to an event and publishes it.
func (p *JetStreamPublisher) PublishAccountUpdate(ctx context.Context, update *solana.AccountUpdate) error {
	return p.PublishUpdate(ctx, FromAccountUpdate(update))
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

func (p *JetStreamPublisher) recordPublish(subject string, err error, duration float64) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, duration)
}
