package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	repltransport "github.com/replset/topology/pkg/repl/transport"
)

// Client is a thin HTTP client for the heartbeat/vote endpoints.
type Client struct {
	httpc *http.Client
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{httpc: &http.Client{Timeout: timeout}}
}

func (c *Client) post(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Heartbeat sends a heartbeat request to addr.
func (c *Client) Heartbeat(ctx context.Context, addr string, req repltransport.HeartbeatRequest) (repltransport.HeartbeatReply, error) {
	var out repltransport.HeartbeatReply
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	url := fmt.Sprintf("http://%s/topology/heartbeat", addr)
	err = c.post(ctx, url, body, &out)
	return out, err
}

// RequestVote sends a vote request to addr.
func (c *Client) RequestVote(ctx context.Context, addr string, req repltransport.VoteRequest) (repltransport.VoteReply, error) {
	var out repltransport.VoteReply
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	url := fmt.Sprintf("http://%s/topology/vote", addr)
	err = c.post(ctx, url, body, &out)
	return out, err
}

// StepDown sends a replSetStepDown request to addr.
func (c *Client) StepDown(ctx context.Context, addr string, req repltransport.StepDownRequest) (repltransport.StepDownReply, error) {
	var out repltransport.StepDownReply
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	url := fmt.Sprintf("http://%s/topology/stepDown", addr)
	err = c.post(ctx, url, body, &out)
	return out, err
}

// Freeze sends a replSetFreeze request to addr.
func (c *Client) Freeze(ctx context.Context, addr string, req repltransport.FreezeRequest) (repltransport.FreezeReply, error) {
	var out repltransport.FreezeReply
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	url := fmt.Sprintf("http://%s/topology/freeze", addr)
	err = c.post(ctx, url, body, &out)
	return out, err
}

// SyncFrom sends a replSetSyncFrom request to addr.
func (c *Client) SyncFrom(ctx context.Context, addr string, req repltransport.SyncFromRequest) (repltransport.SyncFromReply, error) {
	var out repltransport.SyncFromReply
	body, err := json.Marshal(req)
	if err != nil {
		return out, err
	}
	url := fmt.Sprintf("http://%s/topology/syncFrom", addr)
	err = c.post(ctx, url, body, &out)
	return out, err
}

var _ repltransport.Client = (*Client)(nil)
