package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/snipebot/service/metrics"
	"github.com/brojonat/snipebot/service/solana"
)

const (
	testProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testAccount   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

func newUpdate(programID, pubkey string, slot uint64) *solana.AccountUpdate {
	return &solana.AccountUpdate{
		ProgramID:     programID,
		AccountPubkey: pubkey,
		Slot:          slot,
		Lamports:      5000,
		Owner:         programID,
		Data:          []byte{0x01, 0x02},
		Source:        solana.SourceWebSocket,
		ReceivedAt:    time.Now().UTC(),
	}
}

func TestCreateAndGetProgram(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	label := "token program"

	created, err := store.CreateProgram(ctx, CreateProgramParams{
		ProgramID:    testProgramID,
		Label:        &label,
		PollInterval: 30 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, testProgramID, created.ProgramID)
	require.NotNil(t, created.Label)
	assert.Equal(t, label, *created.Label)
	assert.Equal(t, 30*time.Second, created.PollInterval)
	assert.Equal(t, ProgramStatusActive, created.Status)
	assert.Nil(t, created.LastPolledAt)

	got, err := store.GetProgram(ctx, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, created.ProgramID, got.ProgramID)
	assert.Equal(t, created.PollInterval, got.PollInterval)
}

func TestGetProgram_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	_, err := store.GetProgram(context.Background(), testProgramID)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestCreateProgram_UpsertReactivates(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()

	_, err := store.CreateProgram(ctx, CreateProgramParams{
		ProgramID:    testProgramID,
		PollInterval: 30 * time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgramStatus(ctx, testProgramID, ProgramStatusPaused))

	updated, err := store.CreateProgram(ctx, CreateProgramParams{
		ProgramID:    testProgramID,
		PollInterval: 60 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, ProgramStatusActive, updated.Status)
	assert.Equal(t, 60*time.Second, updated.PollInterval)

	// Upsert must not create a second row.
	programs, err := store.ListPrograms(ctx)
	require.NoError(t, err)
	assert.Len(t, programs, 1)
}

func TestListActivePrograms(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	other := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	for _, id := range []string{testProgramID, other} {
		_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: id, PollInterval: 30 * time.Second})
		require.NoError(t, err)
	}
	require.NoError(t, store.UpdateProgramStatus(ctx, other, ProgramStatusPaused))

	active, err := store.ListActivePrograms(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, testProgramID, active[0].ProgramID)
}

func TestUpdateProgramPollTime(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	polledAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.UpdateProgramPollTime(ctx, testProgramID, polledAt))

	got, err := store.GetProgram(ctx, testProgramID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPolledAt)
	assert.WithinDuration(t, polledAt, *got.LastPolledAt, time.Second)
}

func TestDeleteProgram_CascadesUpdates(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	inserted, err := store.CreateAccountUpdate(ctx, newUpdate(testProgramID, testAccount, 100))
	require.NoError(t, err)
	require.True(t, inserted)

	require.NoError(t, store.DeleteProgram(ctx, testProgramID))

	exists, err := store.ProgramExists(ctx, testProgramID)
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := store.CountAccountUpdatesByProgram(ctx, testProgramID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreateAccountUpdate_DuplicateSkipped(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	inserted, err := store.CreateAccountUpdate(ctx, newUpdate(testProgramID, testAccount, 100))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same account and slot observed again (e.g. snapshot after the
	// websocket already recorded it): no new row.
	dup := newUpdate(testProgramID, testAccount, 100)
	dup.Source = solana.SourceSnapshot
	inserted, err = store.CreateAccountUpdate(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := store.CountAccountUpdatesByProgram(ctx, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateAccountUpdate_StoresDataLength(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	update := newUpdate(testProgramID, testAccount, 100)
	update.Data = []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	_, err = store.CreateAccountUpdate(ctx, update)
	require.NoError(t, err)

	empty := newUpdate(testProgramID, testAccount, 101)
	empty.Data = nil
	_, err = store.CreateAccountUpdate(ctx, empty)
	require.NoError(t, err)

	updates, err := store.ListAccountUpdatesByProgram(ctx, ListAccountUpdatesParams{ProgramID: testProgramID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, updates, 2)

	// Newest slot first.
	assert.Equal(t, int64(0), updates[0].DataLen)
	assert.Equal(t, int64(5), updates[1].DataLen)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, updates[1].Data)
}

func TestCreateAccountUpdates_Batch(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	_, err = store.CreateAccountUpdate(ctx, newUpdate(testProgramID, testAccount, 100))
	require.NoError(t, err)

	batch := []*solana.AccountUpdate{
		newUpdate(testProgramID, testAccount, 100), // duplicate
		newUpdate(testProgramID, testAccount, 101),
		newUpdate(testProgramID, testAccount, 102),
	}
	inserted, err := store.CreateAccountUpdates(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestListAccountUpdatesByProgram(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	for slot := uint64(100); slot < 105; slot++ {
		_, err := store.CreateAccountUpdate(ctx, newUpdate(testProgramID, testAccount, slot))
		require.NoError(t, err)
	}

	updates, err := store.ListAccountUpdatesByProgram(ctx, ListAccountUpdatesParams{
		ProgramID: testProgramID,
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, updates, 3)

	// Newest slot first.
	assert.Equal(t, int64(104), updates[0].Slot)
	assert.Equal(t, int64(103), updates[1].Slot)
	assert.Equal(t, int64(102), updates[2].Slot)
	assert.Equal(t, testAccount, updates[0].AccountPubkey)
	assert.Equal(t, []byte{0x01, 0x02}, updates[0].Data)

	page2, err := store.ListAccountUpdatesByProgram(ctx, ListAccountUpdatesParams{
		ProgramID: testProgramID,
		Limit:     3,
		Offset:    3,
	})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, int64(101), page2[0].Slot)
}

func TestGetLatestSlotByProgram(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()

	// No rows yet: watermark is 0.
	slot, err := store.GetLatestSlotByProgram(ctx, testProgramID)
	require.NoError(t, err)
	assert.Zero(t, slot)

	_, err = store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	for _, s := range []uint64{100, 105, 103} {
		_, err := store.CreateAccountUpdate(ctx, newUpdate(testProgramID, testAccount, s))
		require.NoError(t, err)
	}

	slot, err = store.GetLatestSlotByProgram(ctx, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), slot)
}

func TestDeleteAccountUpdatesOlderThan(t *testing.T) {
	SkipIfNoTestDB(t)
	store := NewTestStore(t)
	defer store.Close()
	store.Cleanup(t)

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	old := newUpdate(testProgramID, testAccount, 100)
	old.ReceivedAt = time.Now().UTC().Add(-48 * time.Hour)
	_, err = store.CreateAccountUpdate(ctx, old)
	require.NoError(t, err)

	recent := newUpdate(testProgramID, testAccount, 101)
	_, err = store.CreateAccountUpdate(ctx, recent)
	require.NoError(t, err)

	deleted, err := store.DeleteAccountUpdatesOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := store.CountAccountUpdatesByProgram(ctx, testProgramID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStoreRecordsQueryMetrics(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	registry := prometheus.NewRegistry()
	store := NewStore(ts.pool, metrics.NewMetrics(registry))

	ctx := context.Background()
	_, err := store.CreateProgram(ctx, CreateProgramParams{ProgramID: testProgramID, PollInterval: 30 * time.Second})
	require.NoError(t, err)

	exists, err := store.ProgramExists(ctx, testProgramID)
	require.NoError(t, err)
	assert.True(t, exists)

	families, err := registry.Gather()
	require.NoError(t, err)

	ops := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "db_operations_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var op, status string
			for _, label := range metric.GetLabel() {
				switch label.GetName() {
				case "operation":
					op = label.GetValue()
				case "status":
					status = label.GetValue()
				}
			}
			ops[op+"/"+status] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, ops["create_program/success"])
	assert.Equal(t, 1.0, ops["program_exists/success"])
}
