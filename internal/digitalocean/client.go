// Package digitalocean is a minimal DigitalOcean REST client covering the droplet lifecycle the control plane needs,
// plus the OAuth configuration for the account-connect flow. Tokens are per-user and passed per call; the client
// itself holds no credentials.
package digitalocean

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrProviderFailure wraps every failed provider interaction. The API layer maps it to HTTP 502.
var ErrProviderFailure = errors.New("provider request failed")

const requestTimeout = 30 * time.Second

// Client talks to the DigitalOcean v2 API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client against the given API base URL (no trailing slash).
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logger.With().Str("component", "digitalocean").Logger(),
	}
}

// Droplet is the subset of droplet state the control plane tracks.
type Droplet struct {
	ID         int64
	Status     string
	PublicIPv4 string
}

// CreateDropletParams holds the droplet creation request.
type CreateDropletParams struct {
	Name     string
	Region   string
	Size     string
	Image    string
	UserData string
	Tags     []string
}

type apiNetworkV4 struct {
	IPAddress string `json:"ip_address"`
	Type      string `json:"type"`
}

type apiDroplet struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Networks struct {
		V4 []apiNetworkV4 `json:"v4"`
	} `json:"networks"`
}

func (d apiDroplet) toDroplet() *Droplet {
	out := &Droplet{ID: d.ID, Status: d.Status}
	for _, n := range d.Networks.V4 {
		if n.Type == "public" {
			out.PublicIPv4 = n.IPAddress
			break
		}
	}
	return out
}

type dropletEnvelope struct {
	Droplet apiDroplet `json:"droplet"`
}

type apiError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// CreateDroplet provisions a new droplet and returns its id. The droplet boots asynchronously; its public IPv4 is
// usually absent from the creation response and picked up later via GetDroplet.
func (c *Client) CreateDroplet(ctx context.Context, token string, params CreateDropletParams) (*Droplet, error) {
	body := map[string]any{
		"name":      params.Name,
		"region":    params.Region,
		"size":      params.Size,
		"image":     params.Image,
		"user_data": params.UserData,
		"tags":      params.Tags,
	}

	var out dropletEnvelope
	if err := c.do(ctx, http.MethodPost, "/v2/droplets", token, body, &out); err != nil {
		return nil, fmt.Errorf("create droplet: %w", err)
	}
	c.log.Info().Int64("droplet_id", out.Droplet.ID).Str("region", params.Region).Msg("Droplet created")
	return out.Droplet.toDroplet(), nil
}

// GetDroplet fetches a droplet's current state.
func (c *Client) GetDroplet(ctx context.Context, token string, id int64) (*Droplet, error) {
	var out dropletEnvelope
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v2/droplets/%d", id), token, nil, &out); err != nil {
		return nil, fmt.Errorf("get droplet %d: %w", id, err)
	}
	return out.Droplet.toDroplet(), nil
}

// DeleteDroplet destroys a droplet. A 404 means the droplet is already gone and counts as success, which makes
// deletion retries idempotent.
func (c *Client) DeleteDroplet(ctx context.Context, token string, id int64) error {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v2/droplets/%d", id), token, nil, nil)
	if err != nil {
		var status *statusError
		if errors.As(err, &status) && status.code == http.StatusNotFound {
			c.log.Debug().Int64("droplet_id", id).Msg("Droplet already gone")
			return nil
		}
		return fmt.Errorf("delete droplet %d: %w", id, err)
	}
	return nil
}

// statusError carries the HTTP status of a failed provider call so callers can special-case individual codes.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.message, e.code)
}

func (e *statusError) Unwrap() error { return ErrProviderFailure }

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrProviderFailure, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrProviderFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := "request rejected"
		var apiErr apiError
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
				msg = apiErr.Message
			}
		}
		return &statusError{code: resp.StatusCode, message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrProviderFailure, err)
		}
	}
	return nil
}
