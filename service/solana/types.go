package solana

import (
	"time"
)

// Update sources. WebSocket updates come from the live program
// subscription; snapshot updates come from the scheduled
// getProgramAccounts poll.
const (
	SourceWebSocket = "websocket"
	SourceSnapshot  = "snapshot"
)

// AccountUpdate represents an observed change to an account owned by a
// watched program. This is our domain model, independent of the RPC
// notification format.
type AccountUpdate struct {
	ProgramID     string
	AccountPubkey string
	Slot          uint64
	Lamports      uint64
	Owner         string
	Data          []byte
	Source        string
	ReceivedAt    time.Time
}
