package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

// ErrTransientFetch marks a failed read against the backend of record.
// Callers may retry; the engine never swallows it.
var ErrTransientFetch = errors.New("transient fetch failure")

// Client talks to the backend of record. It owns no state beyond the bearer
// credential; every roster write is a fire-and-forget companion to the
// engine's optimistic local edit.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "marshal")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "http")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// FetchHistory returns the ordered prior chat messages of a run.
func (c *Client) FetchHistory(ctx context.Context, runID uint) ([]models.ChatMessage, error) {
	var history []models.ChatMessage
	path := fmt.Sprintf("/chat/%d", runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, errors.Wrapf(ErrTransientFetch, "chat history for run %d: %v", runID, err)
	}
	return history, nil
}

// RosterPayload is one full-roster read: the run plus its buyers.
type RosterPayload struct {
	Run    models.Run     `json:"run"`
	Buyers []models.Buyer `json:"buyers"`
}

// FetchRoster returns the run and its current buyer list.
func (c *Client) FetchRoster(ctx context.Context, runID uint) (*RosterPayload, error) {
	var payload RosterPayload
	path := fmt.Sprintf("/run/%d/buyers", runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, errors.Wrapf(ErrTransientFetch, "roster for run %d: %v", runID, err)
	}
	return &payload, nil
}

// UpdateBuyerStatus persists a status change.
func (c *Client) UpdateBuyerStatus(ctx context.Context, runID, buyerID uint, status string) error {
	path := fmt.Sprintf("/run/%d/buyers/%d/status", runID, buyerID)
	payload := struct {
		Status string `json:"status"`
	}{Status: status}
	return c.do(ctx, http.MethodPut, path, payload, nil)
}

// UpdateBuyerPaid persists a paid-flag change.
func (c *Client) UpdateBuyerPaid(ctx context.Context, runID, buyerID uint, paid bool) error {
	path := fmt.Sprintf("/run/%d/buyers/%d/paid", runID, buyerID)
	payload := struct {
		Paid bool `json:"is_paid"`
	}{Paid: paid}
	return c.do(ctx, http.MethodPut, path, payload, nil)
}
