package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/brojonat/snipebot/service/config"
	"github.com/brojonat/snipebot/service/db"
	"github.com/brojonat/snipebot/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for program registration
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	minPollInterval    = 10 * time.Second
	maxPollInterval    = 24 * time.Hour
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleRegisterProgram returns a handler that registers a program for
// watching and creates a Temporal schedule for snapshot polling.
// POST /api/v1/programs
func handleRegisterProgram(store *db.Store, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Limit request body size to prevent memory exhaustion
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			ProgramID    string `json:"program_id"`
			Label        string `json:"label"`
			PollInterval string `json:"poll_interval"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode register request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		// Validate program id
		if err := validateProgramID(req.ProgramID); err != nil {
			logger.Debug("invalid program id", "program_id", req.ProgramID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Parse and validate poll interval; fall back to the configured default
		pollInterval := cfg.DefaultPollInterval
		if req.PollInterval != "" {
			parsed, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				logger.Debug("invalid poll interval", "interval", req.PollInterval, "error", err)
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			pollInterval = parsed
		}

		if err := validatePollInterval(pollInterval); err != nil {
			logger.Debug("invalid poll interval value", "interval", pollInterval, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var label *string
		if req.Label != "" {
			label = &req.Label
		}

		// Registration is an upsert: remember whether the program already
		// existed so we can pick the right status code and rollback path.
		existed, err := store.ProgramExists(r.Context(), req.ProgramID)
		if err != nil {
			logger.Error("failed to check program existence", "program_id", req.ProgramID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		program, err := store.CreateProgram(r.Context(), db.CreateProgramParams{
			ProgramID:    req.ProgramID,
			Label:        label,
			PollInterval: pollInterval,
		})
		if err != nil {
			logger.Error("failed to register program", "program_id", req.ProgramID, "error", err)
			writeError(w, "failed to register program", http.StatusInternalServerError)
			return
		}

		// Create or update the Temporal schedule
		if err := scheduler.UpsertProgramSchedule(r.Context(), req.ProgramID, pollInterval); err != nil {
			logger.Error("failed to upsert schedule", "program_id", req.ProgramID, "error", err)

			if !existed {
				// Rollback: delete the program we just created
				if delErr := store.DeleteProgram(r.Context(), req.ProgramID); delErr != nil {
					logger.Error("failed to rollback program creation", "program_id", req.ProgramID, "error", delErr)
				}
			}

			writeError(w, "failed to create schedule for program", http.StatusInternalServerError)
			return
		}

		statusCode := http.StatusCreated
		if existed {
			statusCode = http.StatusOK
		}

		logger.Info("program registered with schedule",
			"program_id", program.ProgramID,
			"poll_interval", program.PollInterval,
			"updated", existed,
		)

		writeJSON(w, programToResponse(program), statusCode)
	})
}

// handleUnregisterProgram returns a handler that unregisters a program
// and deletes its Temporal schedule.
// DELETE /api/v1/programs/{program_id}
func handleUnregisterProgram(store *db.Store, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		programID := r.PathValue("program_id")

		if err := validateProgramID(programID); err != nil {
			logger.Debug("invalid program id", "program_id", programID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		exists, err := store.ProgramExists(r.Context(), programID)
		if err != nil {
			logger.Error("failed to check program existence", "program_id", programID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if !exists {
			writeError(w, "program not found", http.StatusNotFound)
			return
		}

		// Delete Temporal schedule first (before DB)
		// If this fails, we don't want to delete the program from DB
		if err := scheduler.DeleteProgramSchedule(r.Context(), programID); err != nil {
			logger.Error("failed to delete schedule", "program_id", programID, "error", err)
			writeError(w, "failed to delete schedule for program", http.StatusInternalServerError)
			return
		}

		if err := store.DeleteProgram(r.Context(), programID); err != nil {
			logger.Error("failed to delete program", "program_id", programID, "error", err)
			// Schedule is already deleted but DB deletion failed
			// This is an inconsistent state, but schedule can be cleaned up by reconciliation
			writeError(w, "failed to unregister program", http.StatusInternalServerError)
			return
		}

		logger.Info("program unregistered with schedule", "program_id", programID)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetProgram returns a handler that retrieves a registered program.
// GET /api/v1/programs/{program_id}
func handleGetProgram(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		programID := r.PathValue("program_id")

		if err := validateProgramID(programID); err != nil {
			logger.Debug("invalid program id", "program_id", programID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		program, err := store.GetProgram(r.Context(), programID)
		if err != nil {
			if err == pgx.ErrNoRows {
				writeError(w, "program not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get program", "program_id", programID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("program retrieved", "program_id", programID)
		writeJSON(w, programToResponse(program), http.StatusOK)
	})
}

// handleListPrograms returns a handler that lists all registered programs.
// GET /api/v1/programs
func handleListPrograms(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		programs, err := store.ListPrograms(r.Context())
		if err != nil {
			logger.Error("failed to list programs", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("programs listed", "count", len(programs))

		resp := make([]programResponse, len(programs))
		for i, program := range programs {
			resp[i] = programToResponse(program)
		}

		writeJSON(w, map[string]interface{}{
			"programs": resp,
		}, http.StatusOK)
	})
}

// handleListUpdates returns a handler that lists stored account updates
// for a specific program.
// GET /api/v1/updates?program_id=ID&limit=N&offset=N
func handleListUpdates(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		programID := query.Get("program_id")

		// program_id is required
		if programID == "" {
			writeError(w, "program_id query parameter is required", http.StatusBadRequest)
			return
		}

		if err := validateProgramID(programID); err != nil {
			logger.Debug("invalid program id", "program_id", programID, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Parse limit (default 100, max 1000)
		limit := int32(100)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 1000 {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		// Parse offset (default 0)
		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		updates, err := store.ListAccountUpdatesByProgram(r.Context(), db.ListAccountUpdatesParams{
			ProgramID: programID,
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			logger.Error("failed to list updates", "program_id", programID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("updates listed", "program_id", programID, "count", len(updates))

		resp := make([]updateResponse, len(updates))
		for i := range updates {
			resp[i] = updateToResponse(updates[i])
		}

		writeJSON(w, map[string]interface{}{
			"updates": resp,
			"count":   len(resp),
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// programResponse is the JSON response format for a registered program.
type programResponse struct {
	ProgramID    string     `json:"program_id"`
	Label        *string    `json:"label,omitempty"`
	PollInterval string     `json:"poll_interval"`
	Status       string     `json:"status"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// programToResponse converts a domain Program to a response format.
func programToResponse(p *db.Program) programResponse {
	return programResponse{
		ProgramID:    p.ProgramID,
		Label:        p.Label,
		PollInterval: p.PollInterval.String(),
		Status:       p.Status,
		LastPolledAt: p.LastPolledAt,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// updateResponse is the JSON response format for a stored account update.
type updateResponse struct {
	ID            int64     `json:"id"`
	ProgramID     string    `json:"program_id"`
	AccountPubkey string    `json:"account_pubkey"`
	Slot          int64     `json:"slot"`
	Lamports      int64     `json:"lamports"`
	Owner         string    `json:"owner"`
	DataLen       int64     `json:"data_len"`
	Source        string    `json:"source"`
	ReceivedAt    time.Time `json:"received_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// updateToResponse converts a stored account update to a response format.
func updateToResponse(u *db.AccountUpdate) updateResponse {
	return updateResponse{
		ID:            u.ID,
		ProgramID:     u.ProgramID,
		AccountPubkey: u.AccountPubkey,
		Slot:          u.Slot,
		Lamports:      u.Lamports,
		Owner:         u.Owner,
		DataLen:       u.DataLen,
		Source:        u.Source,
		ReceivedAt:    u.ReceivedAt,
		CreatedAt:     u.CreatedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateProgramID validates a program address for security and format.
func validateProgramID(programID string) error {
	if programID == "" {
		return errorf("program_id is required")
	}

	if len(programID) > maxAddressLength {
		return errorf("program_id too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range programID {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in program_id: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(programID) {
		return errorf("invalid program_id format: must contain only valid base58 characters")
	}

	// The program must be a parseable Solana public key, since it goes
	// straight into subscribe and getProgramAccounts calls.
	if _, err := solanago.PublicKeyFromBase58(programID); err != nil {
		return errorf("invalid program_id: not a valid Solana public key")
	}

	return nil
}

// validatePollInterval validates a poll interval for reasonable bounds.
func validatePollInterval(interval time.Duration) error {
	if interval <= 0 {
		return errorf("poll_interval must be positive")
	}

	if interval < minPollInterval {
		return errorf("poll_interval must be at least %v", minPollInterval)
	}

	if interval > maxPollInterval {
		return errorf("poll_interval cannot exceed %v", maxPollInterval)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
