package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/snipebot/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSlot(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (uint64, error)

	GetProgramAccountsWithOpts(
		ctx context.Context,
		program solana.PublicKey,
		opts *rpc.GetProgramAccountsOpts,
	) (rpc.GetProgramAccountsResult, error)
}

// Client provides domain-level operations against a Solana cluster.
// It wraps the RPC client with the calls the service actually makes.
type Client struct {
	rpc        RPCClient
	commitment rpc.CommitmentType
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	logger     *slog.Logger
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, commitment rpc.CommitmentType, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Client{
		rpc:        rpcClient,
		commitment: commitment,
		metrics:    m,
		endpoint:   endpoint,
		logger:     logger,
	}
}

// Initialize submits the program's initialize instruction signed by payer
// and returns the transaction signature. There is no retry: any failure
// (RPC error, program rejection) propagates to the caller.
func (c *Client) Initialize(ctx context.Context, programID solana.PublicKey, payer solana.PrivateKey) (solana.Signature, error) {
	c.logger.DebugContext(ctx, "building initialize transaction",
		"program_id", programID.String(),
		"payer", payer.PublicKey().String(),
	)

	start := time.Now()
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.recordRPCCall("GetLatestBlockhash", err, time.Since(start).Seconds())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{NewInitializeInstruction(programID)},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if payer.PublicKey().Equals(key) {
			return &payer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	start = time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	c.recordRPCCall("SendTransaction", err, time.Since(start).Seconds())
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to send initialize transaction",
			"program_id", programID.String(),
			"error", err,
		)
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "initialize transaction sent",
		"program_id", programID.String(),
		"signature", sig.String(),
	)

	return sig, nil
}

// SnapshotProgramAccounts fetches the current state of every account owned
// by the program. All updates in the snapshot are tagged with the slot
// observed just before the getProgramAccounts call, which gives the poll
// workflow a consistent watermark.
func (c *Client) SnapshotProgramAccounts(ctx context.Context, programID solana.PublicKey) ([]*AccountUpdate, error) {
	start := time.Now()
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	c.recordRPCCall("GetSlot", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}

	start = time.Now()
	accounts, err := c.rpc.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
	})
	c.recordRPCCall("GetProgramAccounts", err, time.Since(start).Seconds())
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get program accounts",
			"program_id", programID.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get program accounts: %w", err)
	}

	now := time.Now().UTC()
	updates := make([]*AccountUpdate, 0, len(accounts))
	for _, acct := range accounts {
		if acct == nil || acct.Account == nil {
			continue
		}

		var data []byte
		if acct.Account.Data != nil {
			data = acct.Account.Data.GetBinary()
		}

		updates = append(updates, &AccountUpdate{
			ProgramID:     programID.String(),
			AccountPubkey: acct.Pubkey.String(),
			Slot:          slot,
			Lamports:      acct.Account.Lamports,
			Owner:         acct.Account.Owner.String(),
			Data:          data,
			Source:        SourceSnapshot,
			ReceivedAt:    now,
		})
	}

	c.logger.InfoContext(ctx, "snapshotted program accounts",
		"program_id", programID.String(),
		"slot", slot,
		"count", len(updates),
	)

	return updates, nil
}

// recordRPCCall records an RPC call metric if metrics are configured.
func (c *Client) recordRPCCall(method string, err error, duration float64) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
}

// LoadKeypair reads a payer keypair from a solana-keygen JSON file.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("keypair path is required")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return key, nil
}

// CommitmentFromString converts a config commitment string to the RPC type.
func CommitmentFromString(s string) (rpc.CommitmentType, error) {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid commitment %q: must be processed, confirmed, or finalized", s)
	}
}
