package db

import (
	"context"
	"time"

	"github.com/brojonat/snipebot/service/solana"
)

// AccountUpdate represents a stored account observation. It mirrors
// solana.AccountUpdate with the database row identity attached.
type AccountUpdate struct {
	ID            int64
	ProgramID     string
	AccountPubkey string
	Slot          int64
	Lamports      int64
	Owner         string
	Data          []byte
	DataLen       int64  // length of the account data payload in bytes
	Source        string // "websocket" or "snapshot"
	ReceivedAt    time.Time
	CreatedAt     time.Time
}

// ListAccountUpdatesParams contains pagination parameters for listing
// a program's updates.
type ListAccountUpdatesParams struct {
	ProgramID string
	Limit     int32
	Offset    int32
}

// CreateAccountUpdate inserts an observed account update. The
// (account_pubkey, slot) pair is unique: the WebSocket watcher and the
// snapshot poller can both observe the same state, and the second
// write is silently dropped. Returns true if a row was inserted.
func (s *Store) CreateAccountUpdate(ctx context.Context, update *solana.AccountUpdate) (bool, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO account_updates
			(program_id, account_pubkey, slot, lamports, owner, data, data_len, source, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account_pubkey, slot) DO NOTHING
	`,
		update.ProgramID,
		update.AccountPubkey,
		int64(update.Slot),
		int64(update.Lamports),
		update.Owner,
		update.Data,
		int64(len(update.Data)),
		update.Source,
		update.ReceivedAt,
	)
	s.recordQuery("create_account_update", "account_updates", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreateAccountUpdates inserts a batch of updates, skipping duplicates.
// Returns the number of rows actually inserted.
func (s *Store) CreateAccountUpdates(ctx context.Context, updates []*solana.AccountUpdate) (int, error) {
	inserted := 0
	for _, u := range updates {
		ok, err := s.CreateAccountUpdate(ctx, u)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// ListAccountUpdatesByProgram retrieves a program's stored updates,
// newest slot first.
func (s *Store) ListAccountUpdatesByProgram(ctx context.Context, params ListAccountUpdatesParams) ([]*AccountUpdate, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, program_id, account_pubkey, slot, lamports, owner, data, data_len, source, received_at, created_at
		FROM account_updates
		WHERE program_id = $1
		ORDER BY slot DESC, id DESC
		LIMIT $2 OFFSET $3
	`, params.ProgramID, limit, params.Offset)
	if err != nil {
		s.recordQuery("list_account_updates", "account_updates", start, err)
		return nil, err
	}
	defer rows.Close()

	var updates []*AccountUpdate
	for rows.Next() {
		var u AccountUpdate
		err := rows.Scan(&u.ID, &u.ProgramID, &u.AccountPubkey, &u.Slot, &u.Lamports, &u.Owner, &u.Data, &u.DataLen, &u.Source, &u.ReceivedAt, &u.CreatedAt)
		if err != nil {
			s.recordQuery("list_account_updates", "account_updates", start, err)
			return nil, err
		}
		updates = append(updates, &u)
	}
	err = rows.Err()
	s.recordQuery("list_account_updates", "account_updates", start, err)
	return updates, err
}

// GetLatestSlotByProgram returns the highest slot recorded for a
// program, or 0 if no updates have been stored yet.
func (s *Store) GetLatestSlotByProgram(ctx context.Context, programID string) (uint64, error) {
	start := time.Now()
	var slot int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(slot), 0) FROM account_updates WHERE program_id = $1
	`, programID).Scan(&slot)
	s.recordQuery("get_latest_slot", "account_updates", start, err)
	if err != nil {
		return 0, err
	}
	return uint64(slot), nil
}

// CountAccountUpdatesByProgram counts the stored updates for a program.
func (s *Store) CountAccountUpdatesByProgram(ctx context.Context, programID string) (int64, error) {
	start := time.Now()
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM account_updates WHERE program_id = $1
	`, programID).Scan(&count)
	s.recordQuery("count_account_updates", "account_updates", start, err)
	return count, err
}

// DeleteAccountUpdatesOlderThan removes updates received before the
// given time. Returns the number of rows deleted.
func (s *Store) DeleteAccountUpdatesOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM account_updates WHERE received_at < $1
	`, before)
	s.recordQuery("delete_account_updates_older_than", "account_updates", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
