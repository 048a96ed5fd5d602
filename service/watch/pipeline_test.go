package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/snipebot/service/solana"
)

type mockUpdateStore struct {
	inserted bool
	err      error
	calls    []*solana.AccountUpdate
}

func (m *mockUpdateStore) CreateAccountUpdate(ctx context.Context, update *solana.AccountUpdate) (bool, error) {
	m.calls = append(m.calls, update)
	if m.err != nil {
		return false, m.err
	}
	return m.inserted, nil
}

type mockPublisher struct {
	err       error
	published []*solana.AccountUpdate
}

func (m *mockPublisher) PublishAccountUpdate(ctx context.Context, update *solana.AccountUpdate) error {
	m.published = append(m.published, update)
	return m.err
}

func testUpdate(slot uint64) *solana.AccountUpdate {
	return &solana.AccountUpdate{
		ProgramID:     "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		AccountPubkey: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		Slot:          slot,
		Lamports:      1000,
		Source:        solana.SourceWebSocket,
		ReceivedAt:    time.Now().UTC(),
	}
}

func runPipeline(t *testing.T, p *Pipeline, updates ...*solana.AccountUpdate) {
	t.Helper()

	in := make(chan *solana.AccountUpdate, len(updates))
	for _, u := range updates {
		in <- u
	}
	close(in)

	err := p.Run(context.Background(), in)
	require.NoError(t, err)
}

func TestPipeline_StoresAndPublishes(t *testing.T) {
	store := &mockUpdateStore{inserted: true}
	pub := &mockPublisher{}
	p := NewPipeline(store, pub, nil, testLogger())

	runPipeline(t, p, testUpdate(100), testUpdate(101))

	require.Len(t, store.calls, 2)
	require.Len(t, pub.published, 2)
	assert.Equal(t, uint64(100), pub.published[0].Slot)
	assert.Equal(t, uint64(101), pub.published[1].Slot)
}

func TestPipeline_SkipsDuplicates(t *testing.T) {
	store := &mockUpdateStore{inserted: false}
	pub := &mockPublisher{}
	p := NewPipeline(store, pub, nil, testLogger())

	runPipeline(t, p, testUpdate(100))

	require.Len(t, store.calls, 1)
	assert.Empty(t, pub.published, "duplicates should not be published")
}

func TestPipeline_StoreErrorDoesNotPublish(t *testing.T) {
	store := &mockUpdateStore{err: errors.New("database unavailable")}
	pub := &mockPublisher{}
	p := NewPipeline(store, pub, nil, testLogger())

	runPipeline(t, p, testUpdate(100))

	assert.Empty(t, pub.published)
}

func TestPipeline_PublishErrorContinues(t *testing.T) {
	store := &mockUpdateStore{inserted: true}
	pub := &mockPublisher{err: errors.New("nats unavailable")}
	p := NewPipeline(store, pub, nil, testLogger())

	runPipeline(t, p, testUpdate(100), testUpdate(101))

	// Publishing is best-effort: both updates are still stored.
	assert.Len(t, store.calls, 2)
	assert.Len(t, pub.published, 2)
}

func TestPipeline_NilPublisher(t *testing.T) {
	store := &mockUpdateStore{inserted: true}
	p := NewPipeline(store, nil, nil, testLogger())

	runPipeline(t, p, testUpdate(100))

	assert.Len(t, store.calls, 1)
}

func TestPipeline_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(&mockUpdateStore{}, nil, nil, testLogger())
	in := make(chan *solana.AccountUpdate)

	err := p.Run(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
}
