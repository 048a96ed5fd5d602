package nats

import (
	"encoding/base64"
	"time"

	"github.com/brojonat/snipebot/service/db"
	"github.com/brojonat/snipebot/service/solana"
)

// AccountUpdateEvent represents an account update published to NATS.
// This is published to the subject "updates.{program_id}" in JetStream.
type AccountUpdateEvent struct {
	// Account identifiers
	ProgramID     string `json:"program_id"`
	AccountPubkey string `json:"account_pubkey"`
	Slot          uint64 `json:"slot"`

	// Account state
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
	Data     string `json:"data,omitempty"` // base64-encoded account data

	// Provenance
	Source     string    `json:"source"` // "websocket" or "snapshot"
	ReceivedAt time.Time `json:"received_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromAccountUpdate converts a domain account update to an event for publishing.
func FromAccountUpdate(update *solana.AccountUpdate) *AccountUpdateEvent {
	return &AccountUpdateEvent{
		ProgramID:     update.ProgramID,
		AccountPubkey: update.AccountPubkey,
		Slot:          update.Slot,
		Lamports:      update.Lamports,
		Owner:         update.Owner,
		Data:          base64.StdEncoding.EncodeToString(update.Data),
		Source:        update.Source,
		ReceivedAt:    update.ReceivedAt,
		PublishedAt:   time.Now().UTC(),
	}
}

// FromDBAccountUpdate converts a stored account update to an event for publishing.
func FromDBAccountUpdate(update *db.AccountUpdate) *AccountUpdateEvent {
	return &AccountUpdateEvent{
		ProgramID:     update.ProgramID,
		AccountPubkey: update.AccountPubkey,
		Slot:          uint64(update.Slot),
		Lamports:      uint64(update.Lamports),
		Owner:         update.Owner,
		Data:          base64.StdEncoding.EncodeToString(update.Data),
		Source:        update.Source,
		ReceivedAt:    update.ReceivedAt,
		PublishedAt:   time.Now().UTC(),
	}
}
