package state

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/fabric/pkg/envelope"
	"github.com/cuemby/fabric/pkg/types"
)

// Client talks to a remote Server over HTTP, signing every write with the
// given key. Used by pkg/pack, pkg/vmm, and pkg/nodemetrics to publish
// entity updates without depending on pkg/state's storage internals.
type Client struct {
	baseURL string
	key     *ecdsa.PrivateKey
	signer  types.Address
	http    *http.Client
}

// NewClient targets the datastore at baseURL (e.g. "http://127.0.0.1:3004"),
// signing writes with key.
func NewClient(baseURL string, key *ecdsa.PrivateKey) *Client {
	return &Client{
		baseURL: baseURL,
		key:     key,
		signer:  envelope.AddressFromPublicKey(&key.PublicKey),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Put signs value and PUTs it as the register for key under kind.
func (c *Client) Put(ctx context.Context, kind Kind, key string, value any) error {
	reg, err := Sign(c.key, value)
	if err != nil {
		return err
	}

	body, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, kind, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("state client: put %s/%s: %w", kind, key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("state client: put %s/%s: status %d", kind, key, resp.StatusCode)
	}
	return nil
}

// Get fetches and decodes the register for key under kind into v.
func (c *Client) Get(ctx context.Context, kind Kind, key string, v any) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, kind, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("state client: get %s/%s: %w", kind, key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("state client: %s/%s: %w", kind, key, errNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("state client: get %s/%s: status %d", kind, key, resp.StatusCode)
	}
	var reg Register
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return err
	}
	return json.Unmarshal(reg.ValueJSON, v)
}

// List fetches every register currently stored under kind, keyed by
// entity key. Used by cmd/fabricctl to list entities without depending on
// pkg/state's bbolt internals.
func (c *Client) List(ctx context.Context, kind Kind) (map[string]Register, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("state client: list %s: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("state client: list %s: status %d", kind, resp.StatusCode)
	}
	var regs map[string]Register
	if err := json.NewDecoder(resp.Body).Decode(&regs); err != nil {
		return nil, err
	}
	return regs, nil
}

var errNotFound = fmt.Errorf("not found")
