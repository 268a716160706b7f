package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/receipt"
)

type Config struct {
	BaseURL     string
	RealmID     string
	AccessToken string
	Timeout     time.Duration
}

// Client creates sales receipts in QuickBooks Online: one create call per
// successfully transformed order.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// CreateSalesReceipt posts the receipt and returns it with the QuickBooks
// id filled in.
func (c *Client) CreateSalesReceipt(ctx context.Context, r *receipt.SalesReceipt) (*receipt.SalesReceipt, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal sales receipt: %w", err)
	}

	url := fmt.Sprintf("%s/v3/company/%s/salesreceipt", c.cfg.BaseURL, c.cfg.RealmID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build quickbooks request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quickbooks create sales receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &job.RemoteError{Service: "quickbooks", Status: resp.StatusCode, Message: string(msg)}
	}

	var out struct {
		SalesReceipt *receipt.SalesReceipt `json:"SalesReceipt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode quickbooks response: %w", err)
	}
	if out.SalesReceipt == nil {
		return nil, &job.RemoteError{Service: "quickbooks", Status: resp.StatusCode, Message: "missing SalesReceipt in response"}
	}
	return out.SalesReceipt, nil
}
