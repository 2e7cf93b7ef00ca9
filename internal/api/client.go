// Package api is the client for the recruitment backend: interview
// metadata plus the start/complete status transitions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNotFound     = errors.New("api: interview not found")
)

// Interview is the backend's interview record, trimmed to what the
// session needs: who is who and whether the slot is live.
type Interview struct {
	ID              string    `json:"id"`
	JobTitle        string    `json:"job_title"`
	CandidateName   string    `json:"candidate_name"`
	InterviewerName string    `json:"interviewer_name"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	Status          string    `json:"status"`
}

type Client struct {
	base  string
	token string
	http  *http.Client
	log   zerolog.Logger
}

func NewClient(baseURL, token string, logger zerolog.Logger) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
		log:   logger.With().Str("module", "api").Logger(),
	}
}

// GetInterview fetches the interview record.
func (c *Client) GetInterview(ctx context.Context, id string) (*Interview, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/recruitment/interviews/%s/", id))
	if err != nil {
		return nil, err
	}
	var iv Interview
	if err := json.Unmarshal(body, &iv); err != nil {
		return nil, fmt.Errorf("decode interview: %w", err)
	}
	return &iv, nil
}

// Start marks the interview as started. Best effort for callers: a
// failure here never blocks joining the room.
func (c *Client) Start(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/recruitment/interviews/%s/start/", id))
	return err
}

// Complete marks the interview as finished.
func (c *Client) Complete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/recruitment/interviews/%s/complete/", id))
	return err
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("backend error")
		return nil, fmt.Errorf("api: %s %s: status %d", method, path, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
