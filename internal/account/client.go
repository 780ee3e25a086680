// Package account is a JSON-RPC client for the account service: account
// expiry, tunnel key replacement, API address list and relay list.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// maxAddressRetries is how many alternate API addresses are tried after a
// network failure.
const maxAddressRetries = 2

// AddressPicker supplies API addresses to dial instead of resolving the
// service host name.
type AddressPicker interface {
	Current() (netip.AddrPort, bool)
	MarkFailed(addr netip.AddrPort)
}

// Client calls the account service. Create it with NewClient.
type Client struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string

	mu     sync.RWMutex
	picker AddressPicker

	nextID atomic.Uint64
	pinned *xsync.Map[netip.AddrPort, *http.Client]
}

// NewClient creates a client for the JSON-RPC endpoint at url.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{},
		Timeout:    timeout,
		pinned:     xsync.NewMap[netip.AddrPort, *http.Client](),
	}
}

// SetAddressPicker enables dialing cached API addresses.
func (c *Client) SetAddressPicker(p AddressPicker) {
	c.mu.Lock()
	c.picker = p
	c.mu.Unlock()
}

func (c *Client) addressPicker() AddressPicker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.picker
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call invokes method and returns the raw result. Network failures are
// retried through alternate API addresses when a picker is set.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, &EncodingError{Err: err}
	}

	picker := c.addressPicker()
	addr, _ := currentAddress(picker)
	result, err := c.attempt(ctx, addr, body)
	if err == nil || !IsRetryable(err) || picker == nil {
		return result, err
	}

	for i := 0; i < maxAddressRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &NetworkError{Err: ctxErr}
		}
		if addr.IsValid() {
			picker.MarkFailed(addr)
		}
		next, ok := picker.Current()
		if !ok || next == addr {
			return nil, err
		}
		log.Printf("[account] %s via %s failed, retrying via %s: %v", method, addr, next, err)
		addr = next

		result, err = c.attempt(ctx, addr, body)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, err
}

func currentAddress(p AddressPicker) (netip.AddrPort, bool) {
	if p == nil {
		return netip.AddrPort{}, false
	}
	return p.Current()
}

func (c *Client) attempt(ctx context.Context, addr netip.AddrPort, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClientFor(addr).Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: c.URL}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &DecodingError{Err: err}
	}
	if envelope.Error != nil {
		return nil, &ServerError{Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	if len(envelope.Result) == 0 {
		return nil, &DecodingError{Err: fmt.Errorf("response has neither result nor error")}
	}
	return envelope.Result, nil
}

// httpClientFor returns a client that dials addr regardless of the URL host,
// keeping the host for TLS verification. An invalid addr uses the base client.
func (c *Client) httpClientFor(addr netip.AddrPort) *http.Client {
	base := c.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	if !addr.IsValid() {
		return base
	}
	if hc, ok := c.pinned.Load(addr); ok {
		return hc
	}

	tr, ok := base.Transport.(*http.Transport)
	if !ok || tr == nil {
		tr = http.DefaultTransport.(*http.Transport)
	}
	tr = tr.Clone()
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	target := addr.String()
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, target)
	}
	hc, _ := c.pinned.LoadOrStore(addr, &http.Client{Transport: tr, Timeout: base.Timeout})
	return hc
}

func decodeResult[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &DecodingError{Err: err}
	}
	return v, nil
}
