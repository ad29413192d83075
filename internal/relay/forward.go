package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rhye/rhye-dev/internal/tabs"
)

// ErrNoWebhook is returned when the forwarder has nowhere to post.
var ErrNoWebhook = errors.New("webhook url not configured")

// Forwarder attaches the shared token to a submission and posts it to the
// webhook. The token never leaves the server.
type Forwarder struct {
	WebhookURL string
	Token      string
	HTTP       *http.Client
}

// NewForwarder returns a forwarder. A nil httpClient gets a default with
// DefaultTimeout.
func NewForwarder(webhookURL, token string, httpClient *http.Client) *Forwarder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Forwarder{WebhookURL: webhookURL, Token: token, HTTP: httpClient}
}

// Reply is what the webhook answered.
type Reply struct {
	StatusCode int
	Body       []byte
	Ack        tabs.Ack
}

// OK reports a 2xx status.
func (r Reply) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

type webhookPayload struct {
	Token   string `json:"token"`
	User    string `json:"user"`
	Message string `json:"message"`
}

// Forward posts the submission with the token. A reply that is not JSON is
// an error whatever its status.
func (f *Forwarder) Forward(ctx context.Context, s tabs.Submission) (Reply, error) {
	if f.WebhookURL == "" {
		return Reply{}, ErrNoWebhook
	}
	body, err := json.Marshal(webhookPayload{Token: f.Token, User: s.AuthorName, Message: s.Content})
	if err != nil {
		return Reply{}, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	// Apps Script endpoints reject a CORS preflight, so the body goes as text.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Reply{}, fmt.Errorf("read webhook reply: %w", err)
	}
	ack, err := decodeAck(data)
	if err != nil {
		return Reply{StatusCode: resp.StatusCode}, err
	}
	return Reply{StatusCode: resp.StatusCode, Body: data, Ack: ack}, nil
}

// Submit lets the server hand drafts straight to the webhook without an
// HTTP hop through its own relay endpoint.
func (f *Forwarder) Submit(ctx context.Context, s tabs.Submission) (tabs.Ack, error) {
	reply, err := f.Forward(ctx, s)
	if err != nil {
		return tabs.Ack{}, err
	}
	if !reply.OK() {
		return tabs.Ack{}, fmt.Errorf("HTTP error! status: %d", reply.StatusCode)
	}
	return reply.Ack, nil
}
