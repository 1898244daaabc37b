package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/frak-labs/framesession/core"
)

// Header names understood by the backend
const (
	headerWalletAuth    = "x-wallet-auth"
	headerWalletSdkAuth = "x-wallet-sdk-auth"
)

// Client talks to the backend token service. It implements
// ports.TokenService and ports.InteractionSubmitter.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL. A nil httpClient
// uses a client with a 10s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Validate asks the backend whether an sdk token is still usable
func (c *Client) Validate(ctx context.Context, sdkToken string) (bool, error) {
	var resp struct {
		IsValid bool `json:"isValid"`
	}
	err := c.do(ctx, http.MethodGet, "/auth/sdk/isValid", map[string]string{headerWalletSdkAuth: sdkToken}, nil, &resp)
	if err != nil {
		return false, err
	}
	return resp.IsValid, nil
}

// Exchange trades a signature proof for a fresh sdk session
func (c *Client) Exchange(ctx context.Context, proof *core.SignatureProof) (*core.SdkSession, error) {
	var session core.SdkSession
	if err := c.do(ctx, http.MethodPost, "/auth/sdk/fromSignature", nil, proof, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Mint derives a fresh sdk session from a full session
func (c *Client) Mint(ctx context.Context, session *core.Session) (*core.SdkSession, error) {
	var sdk core.SdkSession
	err := c.do(ctx, http.MethodGet, "/auth/sdk/generate", map[string]string{headerWalletAuth: session.Token}, nil, &sdk)
	if err != nil {
		return nil, err
	}
	return &sdk, nil
}

// Submit pushes interactions authorized by sdkToken and returns their delegation ids
func (c *Client) Submit(ctx context.Context, sdkToken string, interactions []core.PendingInteraction) ([]string, error) {
	req := struct {
		Interactions []core.PendingInteraction `json:"interactions"`
	}{Interactions: interactions}

	var resp struct {
		DelegationIDs []string `json:"delegationIds"`
	}
	err := c.do(ctx, http.MethodPost, "/interactions/push", map[string]string{headerWalletSdkAuth: sdkToken}, req, &resp)
	if err != nil {
		return nil, err
	}
	return resp.DelegationIDs, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError maps a backend error response onto the core token errors
func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)

	var sentinel error
	switch payload.Error {
	case "Token expired":
		sentinel = core.ErrTokenExpired
	case "Token has been invalidated":
		sentinel = core.ErrTokenInvalidated
	case "Invalid signature":
		sentinel = core.ErrInvalidSignature
	case "Invalid challenge":
		sentinel = core.ErrInvalidChallenge
	default:
		if resp.StatusCode == http.StatusUnauthorized {
			sentinel = core.ErrInvalidToken
		}
	}

	if sentinel != nil {
		return fmt.Errorf("backend returned %d: %w", resp.StatusCode, sentinel)
	}
	return fmt.Errorf("backend returned %d: %s", resp.StatusCode, payload.Error)
}
