// Package relay carries draft submissions to the message endpoint: Client
// talks to the relay over HTTP, Forwarder is the relay itself and adds the
// shared secret before posting to the webhook.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhye/rhye-dev/internal/tabs"
)

// DefaultTimeout bounds one HTTP exchange when no client is supplied.
const DefaultTimeout = 15 * time.Second

// maxBody caps how much of a reply is read.
const maxBody = 1 << 20

// Client posts submissions to a relay endpoint.
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

// NewClient returns a client for endpoint. A nil httpClient gets a default
// with DefaultTimeout.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{Endpoint: endpoint, HTTP: httpClient}
}

// Submit sends {user, message} and returns the endpoint's {status, data}.
// Any non-2xx status or unparsable body is an error.
func (c *Client) Submit(ctx context.Context, s tabs.Submission) (tabs.Ack, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return tabs.Ack{}, fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return tabs.Ack{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return tabs.Ack{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return tabs.Ack{}, fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tabs.Ack{}, fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}
	return decodeAck(data)
}

type wireAck struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// decodeAck parses {status, data}. data may be any JSON value; non-strings
// are kept as their JSON text.
func decodeAck(body []byte) (tabs.Ack, error) {
	var w wireAck
	if err := json.Unmarshal(body, &w); err != nil {
		return tabs.Ack{}, fmt.Errorf("decode reply: %w", err)
	}
	ack := tabs.Ack{Status: w.Status}
	raw := bytes.TrimSpace(w.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ack, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ack.Data = s
	} else {
		ack.Data = strings.TrimSpace(string(raw))
	}
	return ack, nil
}
