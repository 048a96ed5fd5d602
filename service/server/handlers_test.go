package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/snipebot/service/config"
	"github.com/brojonat/snipebot/service/db"
	"github.com/brojonat/snipebot/service/solana"
	"github.com/brojonat/snipebot/service/temporal"
)

const (
	// Well-known Solana program addresses used as fixtures.
	testProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testProgramID2 = "Stake11111111111111111111111111111111111111"
)

func setupTestStore(t *testing.T) *db.TestStore {
	t.Helper()
	db.SkipIfNoTestDB(t)

	store := db.NewTestStore(t)
	t.Cleanup(func() { store.Close() })
	store.Cleanup(t)

	return store
}

func testServerLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServerConfig() *config.Config {
	return &config.Config{
		DefaultPollInterval: 30 * time.Second,
		MinPollInterval:     10 * time.Second,
	}
}

func TestRegisterProgram_PathologicalInput(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	scheduler := temporal.NewMockScheduler()
	handler := handleRegisterProgram(store.Store, scheduler, testServerConfig(), logger)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		checkError     func(t *testing.T, body string)
	}{
		{
			name:           "extremely large request body",
			body:           `{"program_id":"` + strings.Repeat("A", 10*1024*1024) + `","poll_interval":"30s"}`, // 10MB
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "request body too large")
			},
		},
		{
			name:           "malformed JSON",
			body:           `{"program_id":"abc123","poll_interval":`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid request body")
			},
		},
		{
			name:           "empty JSON object",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "program_id is required")
			},
		},
		{
			name:           "missing program id",
			body:           `{"poll_interval":"30s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "program_id is required")
			},
		},
		{
			name:           "program id too long",
			body:           `{"program_id":"` + strings.Repeat("A", 500) + `","poll_interval":"30s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "program_id too long")
			},
		},
		{
			name:           "program id with null bytes",
			body:           "{\"program_id\":\"abc\u0000def\",\"poll_interval\":\"30s\"}",
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid characters")
			},
		},
		{
			name:           "program id with SQL injection attempt",
			body:           `{"program_id":"abc'; DROP TABLE programs; --","poll_interval":"30s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid program_id")
			},
		},
		{
			name:           "program id with base58-invalid characters",
			body:           `{"program_id":"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OI","poll_interval":"30s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid program_id")
			},
		},
		{
			name:           "valid base58 but not a public key",
			body:           `{"program_id":"abc","poll_interval":"30s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "not a valid Solana public key")
			},
		},
		{
			name:           "garbage poll interval",
			body:           `{"program_id":"` + testProgramID + `","poll_interval":"banana"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "invalid poll_interval")
			},
		},
		{
			name:           "poll interval below minimum",
			body:           `{"program_id":"` + testProgramID + `","poll_interval":"1s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "at least")
			},
		},
		{
			name:           "poll interval above maximum",
			body:           `{"program_id":"` + testProgramID + `","poll_interval":"48h"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "cannot exceed")
			},
		},
		{
			name:           "negative poll interval",
			body:           `{"program_id":"` + testProgramID + `","poll_interval":"-30s"}`,
			expectedStatus: http.StatusBadRequest,
			checkError: func(t *testing.T, body string) {
				assert.Contains(t, body, "positive")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/programs", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkError != nil {
				tt.checkError(t, w.Body.String())
			}
		})
	}

	// None of the pathological requests should have produced a schedule
	assert.Equal(t, 0, scheduler.ScheduleCount())
}

func TestRegisterProgram_ValidInput(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	scheduler := temporal.NewMockScheduler()
	handler := handleRegisterProgram(store.Store, scheduler, testServerConfig(), logger)

	tests := []struct {
		name      string
		programID string
		interval  string
	}{
		{"token program", "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "30s"},
		{"stake program", "Stake11111111111111111111111111111111111111", "1m"},
		{"config program", "Config1111111111111111111111111111111111111", "10s"},
		{"sysvar rent", "SysvarRent111111111111111111111111111111111", "5m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"program_id":"` + tt.programID + `","label":"test","poll_interval":"` + tt.interval + `"}`
			req := httptest.NewRequest("POST", "/api/v1/programs", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

			var resp programResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.programID, resp.ProgramID)
			wantInterval, err := time.ParseDuration(tt.interval)
			require.NoError(t, err)
			assert.Equal(t, wantInterval.String(), resp.PollInterval)
			assert.True(t, scheduler.ScheduleExists(tt.programID))

			// Clean up
			store.DeleteProgram(context.Background(), tt.programID)
		})
	}
}

func TestRegisterProgram_UpdateExisting(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	scheduler := temporal.NewMockScheduler()
	handler := handleRegisterProgram(store.Store, scheduler, testServerConfig(), logger)

	register := func(interval string) *httptest.ResponseRecorder {
		body := `{"program_id":"` + testProgramID + `","poll_interval":"` + interval + `"}`
		req := httptest.NewRequest("POST", "/api/v1/programs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	// Initial registration returns 201
	w := register("30s")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Re-registration with a new interval returns 200 and updates the schedule
	w = register("1m")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	interval, ok := scheduler.GetScheduleInterval(testProgramID)
	require.True(t, ok)
	assert.Equal(t, time.Minute, interval)
	assert.Equal(t, 1, scheduler.ScheduleCount())
}

func TestRegisterProgram_ScheduleFailureRollsBack(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	scheduler := temporal.NewMockScheduler()
	scheduler.SetCreateError(assert.AnError)
	handler := handleRegisterProgram(store.Store, scheduler, testServerConfig(), logger)

	body := `{"program_id":"` + testProgramID + `","poll_interval":"30s"}`
	req := httptest.NewRequest("POST", "/api/v1/programs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The program row created before the schedule attempt must be rolled back
	exists, err := store.ProgramExists(context.Background(), testProgramID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetProgram(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	handler := handleGetProgram(store.Store, logger)

	_, err := store.CreateProgram(context.Background(), db.CreateProgramParams{
		ProgramID:    testProgramID,
		PollInterval: 30 * time.Second,
	})
	require.NoError(t, err)

	t.Run("existing program", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/programs/"+testProgramID, nil)
		req.SetPathValue("program_id", testProgramID)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp programResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, testProgramID, resp.ProgramID)
		assert.Equal(t, "30s", resp.PollInterval)
	})

	t.Run("unknown program", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/programs/"+testProgramID2, nil)
		req.SetPathValue("program_id", testProgramID2)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid program id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/programs/"+strings.Repeat("A", 500), nil)
		req.SetPathValue("program_id", strings.Repeat("A", 500))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUnregisterProgram(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	scheduler := temporal.NewMockScheduler()
	handler := handleUnregisterProgram(store.Store, scheduler, logger)

	_, err := store.CreateProgram(context.Background(), db.CreateProgramParams{
		ProgramID:    testProgramID,
		PollInterval: 30 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, scheduler.CreateProgramSchedule(context.Background(), testProgramID, 30*time.Second))

	t.Run("existing program", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/v1/programs/"+testProgramID, nil)
		req.SetPathValue("program_id", testProgramID)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.False(t, scheduler.ScheduleExists(testProgramID))

		exists, err := store.ProgramExists(context.Background(), testProgramID)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("unknown program", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/v1/programs/"+testProgramID2, nil)
		req.SetPathValue("program_id", testProgramID2)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUnregisterProgram_ScheduleFailureKeepsProgram(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	scheduler := temporal.NewMockScheduler()
	handler := handleUnregisterProgram(store.Store, scheduler, logger)

	_, err := store.CreateProgram(context.Background(), db.CreateProgramParams{
		ProgramID:    testProgramID,
		PollInterval: 30 * time.Second,
	})
	require.NoError(t, err)

	scheduler.SetDeleteError(assert.AnError)

	req := httptest.NewRequest("DELETE", "/api/v1/programs/"+testProgramID, nil)
	req.SetPathValue("program_id", testProgramID)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// Schedule deletion failed so the program row must remain
	exists, err := store.ProgramExists(context.Background(), testProgramID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListPrograms(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	handler := handleListPrograms(store.Store, logger)

	for _, id := range []string{testProgramID, testProgramID2} {
		_, err := store.CreateProgram(context.Background(), db.CreateProgramParams{
			ProgramID:    id,
			PollInterval: 30 * time.Second,
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest("GET", "/api/v1/programs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Programs []programResponse `json:"programs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Programs, 2)
}

func TestListUpdates(t *testing.T) {
	store := setupTestStore(t)
	logger := testServerLogger()
	handler := handleListUpdates(store.Store, logger)

	_, err := store.CreateProgram(context.Background(), db.CreateProgramParams{
		ProgramID:    testProgramID,
		PollInterval: 30 * time.Second,
	})
	require.NoError(t, err)

	for slot := uint64(100); slot < 105; slot++ {
		inserted, err := store.CreateAccountUpdate(context.Background(), &solana.AccountUpdate{
			ProgramID:     testProgramID,
			AccountPubkey: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
			Slot:          slot,
			Lamports:      2039280,
			Owner:         testProgramID,
			Source:        solana.SourceWebSocket,
			ReceivedAt:    time.Now().UTC(),
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	t.Run("missing program id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/updates", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "program_id query parameter is required")
	})

	t.Run("lists updates newest first", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/updates?program_id="+testProgramID, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Updates []updateResponse `json:"updates"`
			Count   int              `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Updates, 5)
		assert.Equal(t, 5, resp.Count)
		assert.Equal(t, int64(104), resp.Updates[0].Slot)
	})

	t.Run("pagination", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/updates?program_id="+testProgramID+"&limit=2&offset=2", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Updates []updateResponse `json:"updates"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Updates, 2)
		assert.Equal(t, int64(102), resp.Updates[0].Slot)
	})

	t.Run("rejects excessive limit", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/updates?program_id="+testProgramID+"&limit=5000", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects negative offset", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/updates?program_id="+testProgramID+"&offset=-1", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidatePollInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		wantErr  bool
	}{
		{"minimum", 10 * time.Second, false},
		{"typical", 30 * time.Second, false},
		{"maximum", 24 * time.Hour, false},
		{"zero", 0, true},
		{"negative", -time.Second, true},
		{"below minimum", 9 * time.Second, true},
		{"above maximum", 25 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePollInterval(tt.interval)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
