package callapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"embercall/internal/core/domain"
	"embercall/pkg/circuitbreaker"
	pkgerrors "embercall/pkg/errors"
)

// Client is the REST call backend. It records call intent server-side so the
// peer's device gets the push notification; the real-time flow runs over the
// signaling channel. A circuit breaker keeps a dead backend from stalling
// every call attempt on a full timeout.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

type initiateRequest struct {
	ToUserID domain.UserID   `json:"toUserId"`
	CallType domain.CallType `json:"callType"`
}

type initiateResponse struct {
	CallID domain.CallID `json:"callId"`
	Error  string        `json:"error,omitempty"`
}

type callRef struct {
	CallID domain.CallID `json:"callId"`
}

func (c *Client) InitiateCall(ctx context.Context, to domain.UserID, callType domain.CallType) (domain.CallID, error) {
	var resp initiateResponse
	if err := c.post(ctx, "/call/initiate", initiateRequest{ToUserID: to, CallType: callType}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", pkgerrors.New(pkgerrors.ErrCodeBackendRejected, resp.Error, http.StatusBadGateway)
	}
	if resp.CallID == "" {
		return "", pkgerrors.New(pkgerrors.ErrCodeBackendRejected, "backend returned no call id", http.StatusBadGateway)
	}
	return resp.CallID, nil
}

func (c *Client) AcceptCall(ctx context.Context, id domain.CallID) error {
	return c.post(ctx, "/call/accept", callRef{CallID: id}, nil)
}

func (c *Client) RejectCall(ctx context.Context, id domain.CallID) error {
	return c.post(ctx, "/call/reject", callRef{CallID: id}, nil)
}

func (c *Client) EndCall(ctx context.Context, id domain.CallID) error {
	return c.post(ctx, "/call/end", callRef{CallID: id}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.breaker.Execute(func() error {
		return c.doPost(ctx, path, body, out)
	})
}

func (c *Client) doPost(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pkgerrors.New(
			pkgerrors.ErrCodeBackendRejected,
			fmt.Sprintf("%s returned %d: %s", path, resp.StatusCode, string(snippet)),
			http.StatusBadGateway,
		)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
