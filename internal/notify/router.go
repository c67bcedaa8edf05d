package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

// ErrNoValidRecipients aborts a tagging operation in which every leader
// failed identity resolution. A tag that would reach nobody must fail
// loudly, never send silently to an empty set.
var ErrNoValidRecipients = errors.New("no valid notification recipients")

// Resolver turns a raid leader into a routable discord id. Implemented by
// internal/identity.Resolve bound to the configured secret.
type Resolver func(leader models.RaidLeader) (string, error)

// TagResult reports how a tagging operation went. Sent+Failed always equals
// the number of leaders tagged; partial delivery is never reported as full
// success.
type TagResult struct {
	Sent       int
	Failed     int
	Unresolved []string
}

// Router fans one notification out to the resolved raid leaders of a run,
// one POST per recipient.
type Router struct {
	baseURL    string
	token      string
	resolver   Resolver
	httpClient *http.Client
}

func NewRouter(baseURL, token string, resolver Resolver) *Router {
	return &Router{
		baseURL:    baseURL,
		token:      token,
		resolver:   resolver,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	IDDiscord string `json:"id_discord"`
	Message   string `json:"message"`
	Nonce     string `json:"nonce"`
}

func (r *Router) send(ctx context.Context, idDiscord, body string) error {
	payload, err := json.Marshal(sendRequest{
		IDDiscord: idDiscord,
		Message:   body,
		Nonce:     uuid.NewString(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "http")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("notification send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// TagLeaders resolves each leader independently and notifies the ones that
// resolve. Leaders that fail resolution are excluded and counted; if none
// resolve the whole operation fails with ErrNoValidRecipients.
func (r *Router) TagLeaders(ctx context.Context, leaders []models.RaidLeader, body string) (TagResult, error) {
	result := TagResult{}

	var targets []string
	for _, leader := range leaders {
		id, err := r.resolver(leader)
		if err != nil || id == "" {
			// An empty identifier is treated exactly like an explicit
			// resolution failure.
			log.Printf("notify: skipping leader %q: %v", leader.Username, err)
			result.Failed++
			result.Unresolved = append(result.Unresolved, leader.Username)
			continue
		}
		targets = append(targets, id)
	}

	if len(targets) == 0 {
		result.Failed = len(leaders)
		return result, ErrNoValidRecipients
	}

	// No batching at the transport level; sends go out concurrently.
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, id := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.send(ctx, id, body); err != nil {
				log.Printf("notify: send to %s failed: %v", id, err)
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			result.Sent++
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return result, nil
}
