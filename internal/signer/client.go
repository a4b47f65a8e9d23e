package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the remote key-management backend over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

// NewClient initialises an HTTP client for the backend. Signing calls carry
// no client-side timeout: threshold signing is allowed to take as long as it
// takes, and callers cancel through ctx.
func NewClient(baseURL, authToken string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("signer base url is empty")
	}
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		authToken:  authToken,
	}, nil
}

type signResponse struct {
	SignatureOrHash string `json:"signatureOrHash"`
	Raw             string `json:"raw,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Sign wraps POST /v1/sign. Every failure path returns *SigningError so the
// lifecycle manager has a single error shape to convert into a Result.
func (c *Client) Sign(ctx context.Context, sreq Request) (Output, error) {
	b, err := json.Marshal(sreq)
	if err != nil {
		return Output{}, &SigningError{Message: fmt.Sprintf("encode request: %v", err)}
	}

	url := c.baseURL + "/v1/sign"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Output{}, &SigningError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Output{}, &SigningError{Message: err.Error()}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)

	var out signResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil && resp.StatusCode == http.StatusOK {
		return Output{}, &SigningError{Message: fmt.Sprintf("decode sign response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = fmt.Sprintf("sign: status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		}
		return Output{}, &SigningError{Message: msg}
	}
	if out.SignatureOrHash == "" {
		return Output{}, &SigningError{Message: "sign: empty result from backend"}
	}

	return Output{SignatureOrHash: out.SignatureOrHash, Raw: out.Raw}, nil
}

type accountsResponse struct {
	Accounts []string `json:"accounts"`
}

// Accounts wraps GET /v1/accounts with a short timeout; unlike signing this
// is a bounded metadata lookup.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := c.baseURL + "/v1/accounts"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("accounts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var out accountsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode accounts response: %w", err)
	}
	return out.Accounts, nil
}

var _ Gateway = (*Client)(nil)
