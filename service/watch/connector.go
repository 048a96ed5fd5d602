package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/brojonat/snipebot/service/metrics"
	"github.com/brojonat/snipebot/service/solana"
)

// reconnectWait is how long the connector pauses before redialing after
// a connection or subscription failure. Variable so tests can shorten it.
var reconnectWait = 2 * time.Second

// Stream is a live program subscription. Recv blocks until the next
// account notification arrives or the context is canceled.
type Stream interface {
	Recv(ctx context.Context) (*ws.ProgramResult, error)
	Unsubscribe()
}

// Conn is an established WebSocket connection that can open program
// subscriptions.
type Conn interface {
	ProgramSubscribe(program solanago.PublicKey) (Stream, error)
	Close()
}

// Dialer establishes WebSocket connections to a Solana RPC node.
// The real implementation wraps the solana-go ws client; tests supply
// scripted fakes.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// wsDialer is the production Dialer backed by the solana-go ws client.
type wsDialer struct {
	endpoint   string
	commitment rpc.CommitmentType
}

// NewDialer returns a Dialer that connects to the given WebSocket
// endpoint and subscribes at the given commitment level.
func NewDialer(endpoint string, commitment rpc.CommitmentType) Dialer {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &wsDialer{endpoint: endpoint, commitment: commitment}
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	client, err := ws.Connect(ctx, d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.endpoint, err)
	}
	return &wsConn{client: client, commitment: d.commitment}, nil
}

type wsConn struct {
	client     *ws.Client
	commitment rpc.CommitmentType
}

func (c *wsConn) ProgramSubscribe(program solanago.PublicKey) (Stream, error) {
	sub, err := c.client.ProgramSubscribeWithOpts(
		program,
		c.commitment,
		solanago.EncodingBase64,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to program %s: %w", program.String(), err)
	}
	return sub, nil
}

func (c *wsConn) Close() {
	c.client.Close()
}

// Connector maintains a program subscription over WebSocket and fans
// observed account updates out to a channel. It reconnects on failure
// up to a bounded number of attempts; the attempt counter resets after
// every successful subscribe, so the bound applies to consecutive
// failures rather than the lifetime of the process.
type Connector struct {
	dialer               Dialer
	programID            solanago.PublicKey
	maxReconnectAttempts int
	metrics              *metrics.Metrics
	logger               *slog.Logger
}

// NewConnector creates a connector for the given program.
// If m is nil, no metrics are recorded.
func NewConnector(dialer Dialer, programID solanago.PublicKey, maxReconnectAttempts int, m *metrics.Metrics, logger *slog.Logger) *Connector {
	return &Connector{
		dialer:               dialer,
		programID:            programID,
		maxReconnectAttempts: maxReconnectAttempts,
		metrics:              m,
		logger:               logger,
	}
}

// Run subscribes to the program and forwards account updates to out
// until the context is canceled or the reconnect budget is exhausted.
// It does not close out; the caller owns the channel.
func (c *Connector) Run(ctx context.Context, out chan<- *solana.AccountUpdate) error {
	attempts := 0
	program := c.programID.String()

	defer c.setSubscriptionActive(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dialer.Dial(ctx)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to connect", "program_id", program, "error", err)
			if retryErr := c.retry(ctx, &attempts, "dial"); retryErr != nil {
				return retryErr
			}
			continue
		}

		stream, err := conn.ProgramSubscribe(c.programID)
		if err != nil {
			conn.Close()
			c.logger.ErrorContext(ctx, "failed to subscribe", "program_id", program, "error", err)
			if retryErr := c.retry(ctx, &attempts, "subscribe"); retryErr != nil {
				return retryErr
			}
			continue
		}

		c.logger.InfoContext(ctx, "program subscription established", "program_id", program)
		attempts = 0
		c.setSubscriptionActive(true)

		err = c.consume(ctx, stream, out)
		stream.Unsubscribe()
		conn.Close()
		c.setSubscriptionActive(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.WarnContext(ctx, "program subscription lost", "program_id", program, "error", err)
		if retryErr := c.retry(ctx, &attempts, "stream"); retryErr != nil {
			return retryErr
		}
	}
}

// consume reads notifications from the stream until it fails or the
// context is canceled.
func (c *Connector) consume(ctx context.Context, stream Stream, out chan<- *solana.AccountUpdate) error {
	for {
		result, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		if result == nil {
			continue
		}

		update := updateFromResult(c.programID, result)
		if c.metrics != nil {
			c.metrics.RecordWSMessage(update.ProgramID)
		}

		select {
		case out <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// retry increments the attempt counter and waits before the next dial.
// It returns an error once the budget is exhausted or the context is
// canceled during the wait.
func (c *Connector) retry(ctx context.Context, attempts *int, reason string) error {
	*attempts++
	if c.metrics != nil {
		c.metrics.RecordWSReconnect(c.programID.String(), reason)
	}
	if *attempts > c.maxReconnectAttempts {
		return fmt.Errorf("max reconnection attempts reached (%d)", c.maxReconnectAttempts)
	}

	c.logger.WarnContext(ctx, "reconnecting",
		"program_id", c.programID.String(),
		"attempt", *attempts,
		"max_attempts", c.maxReconnectAttempts,
	)

	select {
	case <-time.After(reconnectWait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// updateFromResult converts a raw subscription notification into our
// domain model.
func updateFromResult(programID solanago.PublicKey, result *ws.ProgramResult) *solana.AccountUpdate {
	var (
		lamports uint64
		owner    string
		data     []byte
	)
	if result.Value.Account != nil {
		lamports = result.Value.Account.Lamports
		owner = result.Value.Account.Owner.String()
		if result.Value.Account.Data != nil {
			data = result.Value.Account.Data.GetBinary()
		}
	}

	return &solana.AccountUpdate{
		ProgramID:     programID.String(),
		AccountPubkey: result.Value.Pubkey.String(),
		Slot:          result.Context.Slot,
		Lamports:      lamports,
		Owner:         owner,
		Data:          data,
		Source:        solana.SourceWebSocket,
		ReceivedAt:    time.Now().UTC(),
	}
}

func (c *Connector) setSubscriptionActive(active bool) {
	if c.metrics != nil {
		c.metrics.SetSubscriptionActive(c.programID.String(), active)
	}
}
