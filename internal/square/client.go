package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/order"
)

const apiVersion = "2024-06-04"

type Config struct {
	BaseURL     string
	AccessToken string
	LocationID  string
	Timeout     time.Duration
}

// Client talks to the Square Orders API: one retrieve per job and one
// search per reconciliation pass.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// GetOrder retrieves the full order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	var resp struct {
		Order *order.Order `json:"order"`
	}
	err := c.do(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, &job.RemoteError{Service: "square", Status: http.StatusNotFound, Message: "order missing in response"}
	}
	return resp.Order, nil
}

// SearchCompleted returns orders closed in [from, to) for the configured
// location. Used by the reconciliation scanner as the source of truth.
func (c *Client) SearchCompleted(ctx context.Context, from, to time.Time) ([]*order.Order, error) {
	body := map[string]any{
		"location_ids": []string{c.cfg.LocationID},
		"query": map[string]any{
			"filter": map[string]any{
				"state_filter": map[string]any{"states": []string{order.StateCompleted}},
				"date_time_filter": map[string]any{
					"closed_at": map[string]string{
						"start_at": from.UTC().Format(time.RFC3339),
						"end_at":   to.UTC().Format(time.RFC3339),
					},
				},
			},
			"sort": map[string]string{"sort_field": "CLOSED_AT", "sort_order": "ASC"},
		},
	}

	var orders []*order.Order
	cursor := ""
	for {
		if cursor != "" {
			body["cursor"] = cursor
		}
		var resp struct {
			Orders []*order.Order `json:"orders"`
			Cursor string         `json:"cursor"`
		}
		if err := c.do(ctx, http.MethodPost, "/v2/orders/search", body, &resp); err != nil {
			return nil, err
		}
		orders = append(orders, resp.Orders...)
		if resp.Cursor == "" {
			return orders, nil
		}
		cursor = resp.Cursor
	}
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var r io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal square request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, r)
	if err != nil {
		return fmt.Errorf("build square request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Square-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// transport errors surface as net errors and classify as network
		return fmt.Errorf("square %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &job.RemoteError{Service: "square", Status: resp.StatusCode, Message: string(msg)}
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode square response: %w", err)
	}
	return nil
}
