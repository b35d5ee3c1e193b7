package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"koma/internal/core/domain"
)

// InviteClient talks to the invite API of a signaling server.
type InviteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewInviteClient accepts the http(s) base URL of the server. A ws(s) signal
// URL is accepted too and mapped to its http(s) origin.
func NewInviteClient(baseURL string) (*InviteClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", errInvalidURL, u.Scheme)
	}
	u.Path, u.RawQuery = "", ""

	return &InviteClient{
		baseURL: strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type createInviteRequest struct {
	Provider  string `json:"provider"`
	Role      string `json:"role,omitempty"`
	Autostart bool   `json:"autostart"`
}

func (c *InviteClient) Create(ctx context.Context, provider string, role domain.Role, autostart bool) (domain.Invite, error) {
	var inv domain.Invite
	err := c.do(ctx, http.MethodPost, "/api/v1/invites", createInviteRequest{
		Provider:  provider,
		Role:      string(role),
		Autostart: autostart,
	}, &inv)
	return inv, err
}

func (c *InviteClient) Decode(ctx context.Context, token string) (domain.Invite, error) {
	var inv domain.Invite
	err := c.do(ctx, http.MethodGet, "/api/v1/invites/"+url.PathEscape(token), nil, &inv)
	return inv, err
}

func (c *InviteClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s (HTTP %d)", apiErr.Error, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return json.Unmarshal(data, out)
}
