// Package mcpclient is a JSON-RPC 2.0 client for the upstream
// catalog/cart/policy tool service (spec.md §4.2). Every wrapper
// degrades to nil on any failure — malformed response, JSON-RPC error,
// network exception, non-2xx status — and never lets an exception
// escape to the caller. Only HTTP 429 is retried.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// Client talks to https://<shop-domain>/api/mcp.
type Client struct {
	shopDomain string
	httpClient *http.Client
	nextID     int64
}

// New creates a client bound to a single shop domain.
func New(shopDomain string) *Client {
	return &Client{
		shopDomain: shopDomain,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      string    `json:"id"`
}

type rpcParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      string          `json:"id"`
}

const maxRetries = 3

// call performs one tools/call RPC and returns the raw result envelope.
// Any failure (network, non-2xx, JSON-RPC error, malformed body) returns
// a non-nil error; callers degrade that to nil per §4.2.
func (c *Client) call(ctx context.Context, name string, args any) (json.RawMessage, error) {
	if c.shopDomain == "" {
		return nil, fmt.Errorf("mcpclient: no shop domain configured")
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal arguments: %w", err)
	}

	id := atomic.AddInt64(&c.nextID, 1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params:  rpcParams{Name: name, Arguments: argBytes},
		ID:      fmt.Sprintf("%d", id),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal request: %w", err)
	}

	url := fmt.Sprintf("https://%s/api/mcp", c.shopDomain)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("mcpclient: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("mcpclient: request failed: %w", err)
			L_warn("mcpclient: request error", "tool", name, "error", err)
			return nil, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("mcpclient: rate limited (429)")
			L_warn("mcpclient: 429, retrying", "tool", name, "attempt", attempt+1)
			continue
		}

		if readErr != nil {
			return nil, fmt.Errorf("mcpclient: read response: %w", readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			L_warn("mcpclient: non-2xx response", "tool", name, "status", resp.StatusCode)
			return nil, fmt.Errorf("mcpclient: status %d", resp.StatusCode)
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(body, &rpcResp); err != nil {
			L_warn("mcpclient: malformed response", "tool", name, "error", err)
			return nil, fmt.Errorf("mcpclient: malformed response: %w", err)
		}
		if rpcResp.Error != nil {
			L_warn("mcpclient: tool returned error", "tool", name, "code", rpcResp.Error.Code, "message", rpcResp.Error.Message)
			return nil, fmt.Errorf("mcpclient: tool error: %s", rpcResp.Error.Message)
		}

		return rpcResp.Result, nil
	}

	L_warn("mcpclient: exhausted retries", "tool", name, "error", lastErr)
	return nil, lastErr
}

// decodeResult narrows a loosely-shaped JSON-RPC result into T. Any
// failure is treated as "no result" (the Null side of the Ok(T)/Null
// tagged variant §9 asks for), never an exception.
func decodeResult[T any](raw json.RawMessage) (*T, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return &out, true
}

// CatalogSearch wraps the catalog_search tool.
func (c *Client) CatalogSearch(ctx context.Context, query, context_ string) []domain.CatalogProduct {
	raw, err := c.call(ctx, "catalog_search", map[string]string{"query": query, "context": context_})
	if err != nil {
		return nil
	}
	type result struct {
		Products []domain.CatalogProduct `json:"products"`
	}
	r, ok := decodeResult[result](raw)
	if !ok {
		return nil
	}
	return r.Products
}

// SearchPolicies wraps the search_policies tool.
func (c *Client) SearchPolicies(ctx context.Context, query, context_ string) []domain.PolicyAnswer {
	raw, err := c.call(ctx, "search_policies", map[string]string{"query": query, "context": context_})
	if err != nil {
		return nil
	}
	type result struct {
		Answers []domain.PolicyAnswer `json:"answers"`
	}
	r, ok := decodeResult[result](raw)
	if !ok {
		return nil
	}
	return r.Answers
}

// GetCart wraps the get_cart tool.
func (c *Client) GetCart(ctx context.Context, cartID string) *domain.Cart {
	if cartID == "" {
		return nil
	}
	raw, err := c.call(ctx, "get_cart", map[string]string{"cartId": cartID})
	if err != nil {
		return nil
	}
	cart, ok := decodeResult[domain.Cart](raw)
	if !ok {
		return nil
	}
	return cart
}

// UpdateCart wraps the update_cart tool. An empty lines slice is a no-op
// that still round-trips the current cart snapshot.
func (c *Client) UpdateCart(ctx context.Context, cartID string, lines []domain.CartLine) *domain.Cart {
	args := struct {
		CartID string            `json:"cartId,omitempty"`
		Lines  []domain.CartLine `json:"lines"`
	}{CartID: cartID, Lines: lines}
	if args.Lines == nil {
		args.Lines = []domain.CartLine{}
	}

	raw, err := c.call(ctx, "update_cart", args)
	if err != nil {
		return nil
	}
	cart, ok := decodeResult[domain.Cart](raw)
	if !ok {
		return nil
	}
	return cart
}

// OrderStatus wraps the order_status tool.
func (c *Client) OrderStatus(ctx context.Context, orderID string) *domain.OrderStatus {
	raw, err := c.call(ctx, "order_status", map[string]string{"orderId": orderID})
	if err != nil {
		return nil
	}
	status, ok := decodeResult[domain.OrderStatus](raw)
	if !ok {
		return nil
	}
	return status
}

// RecentOrderStatus wraps the recent_order_status tool.
func (c *Client) RecentOrderStatus(ctx context.Context) *domain.OrderStatus {
	raw, err := c.call(ctx, "recent_order_status", map[string]string{})
	if err != nil {
		return nil
	}
	status, ok := decodeResult[domain.OrderStatus](raw)
	if !ok {
		return nil
	}
	return status
}
