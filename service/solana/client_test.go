package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	blockhash    solana.Hash
	blockhashErr error

	sendSig solana.Signature
	sendErr error
	sentTx  *solana.Transaction

	slot    uint64
	slotErr error

	accounts    rpc.GetProgramAccountsResult
	accountsErr error
}

func (m *mockRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.blockhash,
			LastValidBlockHeight: 1000,
		},
	}, nil
}

func (m *mockRPCClient) SendTransactionWithOpts(
	ctx context.Context,
	tx *solana.Transaction,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	m.sentTx = tx
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	return m.sendSig, nil
}

func (m *mockRPCClient) GetSlot(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (uint64, error) {
	if m.slotErr != nil {
		return 0, m.slotErr
	}
	return m.slot, nil
}

func (m *mockRPCClient) GetProgramAccountsWithOpts(
	ctx context.Context,
	program solana.PublicKey,
	opts *rpc.GetProgramAccountsOpts,
) (rpc.GetProgramAccountsResult, error) {
	if m.accountsErr != nil {
		return nil, m.accountsErr
	}
	return m.accounts, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, rpc.CommitmentConfirmed, "test", nil, logger)
}

func testProgramID(t *testing.T) solana.PublicKey {
	t.Helper()
	return solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
}

func TestInitialize_ReturnsSignature(t *testing.T) {
	ctx := context.Background()

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	wantSig := solana.Signature{0x01, 0x02, 0x03}
	mock := &mockRPCClient{
		blockhash: solana.Hash{0xaa},
		sendSig:   wantSig,
	}

	client := newTestClient(mock)

	sig, err := client.Initialize(ctx, testProgramID(t), payer)

	require.NoError(t, err)
	assert.Equal(t, wantSig, sig)
	assert.False(t, sig.IsZero())

	// The transaction handed to the RPC must be signed by the payer.
	require.NotNil(t, mock.sentTx)
	require.Len(t, mock.sentTx.Signatures, 1)
	assert.False(t, mock.sentTx.Signatures[0].IsZero())
}

func TestInitialize_BlockhashError(t *testing.T) {
	ctx := context.Background()

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	mock := &mockRPCClient{
		blockhashErr: errors.New("rpc unavailable"),
	}

	client := newTestClient(mock)

	_, err = client.Initialize(ctx, testProgramID(t), payer)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get latest blockhash")
	assert.Nil(t, mock.sentTx, "no transaction should be sent when blockhash fetch fails")
}

func TestInitialize_SendError(t *testing.T) {
	ctx := context.Background()

	payer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	mock := &mockRPCClient{
		blockhash: solana.Hash{0xaa},
		sendErr:   errors.New("transaction simulation failed"),
	}

	client := newTestClient(mock)

	_, err = client.Initialize(ctx, testProgramID(t), payer)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send transaction")
}

func TestSnapshotProgramAccounts(t *testing.T) {
	ctx := context.Background()
	programID := testProgramID(t)

	acct1 := solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	acct2 := solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")

	mock := &mockRPCClient{
		slot: 12345,
		accounts: rpc.GetProgramAccountsResult{
			{
				Pubkey: acct1,
				Account: &rpc.Account{
					Lamports: 5000,
					Owner:    programID,
				},
			},
			{
				Pubkey: acct2,
				Account: &rpc.Account{
					Lamports: 7000,
					Owner:    programID,
				},
			},
		},
	}

	client := newTestClient(mock)

	updates, err := client.SnapshotProgramAccounts(ctx, programID)

	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, programID.String(), updates[0].ProgramID)
	assert.Equal(t, acct1.String(), updates[0].AccountPubkey)
	assert.Equal(t, uint64(12345), updates[0].Slot)
	assert.Equal(t, uint64(5000), updates[0].Lamports)
	assert.Equal(t, SourceSnapshot, updates[0].Source)
	assert.False(t, updates[0].ReceivedAt.IsZero())

	assert.Equal(t, acct2.String(), updates[1].AccountPubkey)
	assert.Equal(t, uint64(7000), updates[1].Lamports)
}

func TestSnapshotProgramAccounts_SkipsNilAccounts(t *testing.T) {
	ctx := context.Background()
	programID := testProgramID(t)

	acct := solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")

	mock := &mockRPCClient{
		slot: 50,
		accounts: rpc.GetProgramAccountsResult{
			nil,
			{Pubkey: acct, Account: nil},
			{
				Pubkey: acct,
				Account: &rpc.Account{
					Lamports: 1,
					Owner:    programID,
				},
			},
		},
	}

	client := newTestClient(mock)

	updates, err := client.SnapshotProgramAccounts(ctx, programID)

	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, acct.String(), updates[0].AccountPubkey)
}

func TestSnapshotProgramAccounts_SlotError(t *testing.T) {
	ctx := context.Background()

	mock := &mockRPCClient{
		slotErr: errors.New("node behind"),
	}

	client := newTestClient(mock)

	_, err := client.SnapshotProgramAccounts(ctx, testProgramID(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get slot")
}

func TestSnapshotProgramAccounts_AccountsError(t *testing.T) {
	ctx := context.Background()

	mock := &mockRPCClient{
		slot:        10,
		accountsErr: errors.New("scan disabled"),
	}

	client := newTestClient(mock)

	_, err := client.SnapshotProgramAccounts(ctx, testProgramID(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get program accounts")
}

func TestCommitmentFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    rpc.CommitmentType
		wantErr bool
	}{
		{"processed", rpc.CommitmentProcessed, false},
		{"confirmed", rpc.CommitmentConfirmed, false},
		{"finalized", rpc.CommitmentFinalized, false},
		{"", "", true},
		{"final", "", true},
	}

	for _, tt := range tests {
		got, err := CommitmentFromString(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
		} else {
			require.NoError(t, err, "input %q", tt.in)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestLoadKeypair_EmptyPath(t *testing.T) {
	_, err := LoadKeypair("")
	require.Error(t, err)
}
