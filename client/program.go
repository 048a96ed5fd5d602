package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Program represents a registered program that the server is watching.
type Program struct {
	ProgramID    string        `json:"program_id"`
	Label        string        `json:"label,omitempty"`
	PollInterval time.Duration `json:"poll_interval"`
	Status       string        `json:"status"` // active, paused
	LastPolledAt *time.Time    `json:"last_polled_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// AccountUpdate represents a stored account observation retrieved from the
// server.
type AccountUpdate struct {
	ID            int64     `json:"id"`
	ProgramID     string    `json:"program_id"`
	AccountPubkey string    `json:"account_pubkey"`
	Slot          int64     `json:"slot"`
	Lamports      int64     `json:"lamports"`
	Owner         string    `json:"owner"`
	DataLen       int64     `json:"data_len"`
	Source        string    `json:"source"` // websocket, snapshot
	ReceivedAt    time.Time `json:"received_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Client is the HTTP client for the snipebot program watch service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new program watch service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Register tells the server to start watching a program. Registering an
// already-watched program updates its label and poll interval.
func (c *Client) Register(ctx context.Context, programID, label string, pollInterval time.Duration) (*Program, error) {
	reqBody := map[string]interface{}{
		"program_id":    programID,
		"poll_interval": pollInterval.String(),
	}
	if label != "" {
		reqBody["label"] = label
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/programs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 201 for a new registration, 200 when an existing one was updated
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var apiProgram programResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiProgram); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("program registered", "program_id", programID, "poll_interval", pollInterval)
	return responseToProgram(&apiProgram)
}

// Unregister tells the server to stop watching a program.
func (c *Client) Unregister(ctx context.Context, programID string) error {
	u := fmt.Sprintf("%s/api/v1/programs/%s", c.baseURL, url.PathEscape(programID))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("program unregistered", "program_id", programID)
	return nil
}

// Get retrieves the registration details for a specific program.
func (c *Client) Get(ctx context.Context, programID string) (*Program, error) {
	u := fmt.Sprintf("%s/api/v1/programs/%s", c.baseURL, url.PathEscape(programID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var apiProgram programResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiProgram); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return responseToProgram(&apiProgram)
}

// List retrieves all registered programs.
func (c *Client) List(ctx context.Context) ([]*Program, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/programs", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Programs []programResponse `json:"programs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	programs := make([]*Program, len(response.Programs))
	for i, apiProgram := range response.Programs {
		program, err := responseToProgram(&apiProgram)
		if err != nil {
			return nil, fmt.Errorf("failed to parse program %s: %w", apiProgram.ProgramID, err)
		}
		programs[i] = program
	}

	return programs, nil
}

// ListUpdates retrieves stored account updates for a program, newest first.
// A limit of 0 uses the server default.
func (c *Client) ListUpdates(ctx context.Context, programID string, limit, offset int) ([]*AccountUpdate, error) {
	q := url.Values{}
	q.Set("program_id", programID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	u := fmt.Sprintf("%s/api/v1/updates?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Updates []*AccountUpdate `json:"updates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Updates, nil
}

// programResponse is the API response format for a program.
// The server returns poll_interval as a string (e.g. "30s").
type programResponse struct {
	ProgramID    string     `json:"program_id"`
	Label        *string    `json:"label,omitempty"`
	PollInterval string     `json:"poll_interval"`
	Status       string     `json:"status"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// responseToProgram converts an API response to a domain Program.
func responseToProgram(resp *programResponse) (*Program, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	label := ""
	if resp.Label != nil {
		label = *resp.Label
	}

	return &Program{
		ProgramID:    resp.ProgramID,
		Label:        label,
		PollInterval: pollInterval,
		Status:       resp.Status,
		LastPolledAt: resp.LastPolledAt,
		CreatedAt:    resp.CreatedAt,
		UpdatedAt:    resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
