// Package razorpay adapts the Razorpay Orders API and webhooks.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

const (
	DefaultBaseURL  = "https://api.razorpay.com"
	SignatureHeader = "X-Razorpay-Signature"
)

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) Name() gateway.Name { return gateway.Razorpay }

// notes tolerates Razorpay's habit of sending [] for empty notes.
type notes map[string]string

func (n *notes) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		*n = notes{}
		return nil
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(notes, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	*n = out
	return nil
}

type orderEntity struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Receipt string `json:"receipt"`
	Status  string `json:"status"`
	Notes   notes  `json:"notes"`
}

func (o orderEntity) toOrder() *gateway.Order {
	return &gateway.Order{
		ID:      o.ID,
		Receipt: o.Receipt,
		Amount:  money.Paise(o.Amount),
		State:   gateway.OrderState(o.Status),
		Link:    gateway.LinkFromMetadata(o.Notes),
	}
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Status           string `json:"status"`
	Notes            notes  `json:"notes"`
	ErrorDescription string `json:"error_description"`
}

type refundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	Notes     notes  `json:"notes"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	n := req.Link.Metadata()
	for k, v := range req.Metadata {
		n[k] = v
	}
	body := map[string]any{
		"amount":   int64(req.Amount),
		"currency": "INR",
		"receipt":  req.Receipt,
		"notes":    n,
	}
	var out orderEntity
	if err := c.do(ctx, http.MethodPost, "/v1/orders", body, &out); err != nil {
		return nil, err
	}
	return out.toOrder(), nil
}

func (c *Client) FetchOrder(ctx context.Context, id string) (*gateway.Order, error) {
	var out orderEntity
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	o := out.toOrder()
	if o.State == gateway.OrderPaid {
		if p, err := c.capturedPayment(ctx, id); err == nil && p != nil {
			o.PaymentID = p.ID
		}
	}
	return o, nil
}

func (c *Client) FindOrderByReceipt(ctx context.Context, receipt string) (*gateway.Order, error) {
	var out struct {
		Items []orderEntity `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/orders?receipt="+url.QueryEscape(receipt), nil, &out); err != nil {
		return nil, err
	}
	for _, o := range out.Items {
		if o.Receipt == receipt {
			return o.toOrder(), nil
		}
	}
	return nil, nil
}

// CreateRefund refunds the captured payment of a gateway order.
func (c *Client) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	p, err := c.capturedPayment(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("razorpay order %s has no captured payment", req.GatewayOrderID)
	}
	body := map[string]any{
		"amount":  int64(req.Amount),
		"receipt": req.Key,
		"notes":   map[string]string{"reason": req.Reason, gateway.MetaOrderID: p.Notes[gateway.MetaOrderID]},
	}
	var out refundEntity
	if err := c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(p.ID)+"/refund", body, &out); err != nil {
		return nil, err
	}
	return &gateway.Refund{ID: out.ID, Status: out.Status}, nil
}

func (c *Client) capturedPayment(ctx context.Context, gatewayOrderID string) (*paymentEntity, error) {
	var out struct {
		Items []paymentEntity `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(gatewayOrderID)+"/payments", nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Items {
		if out.Items[i].Status == "captured" {
			return &out.Items[i], nil
		}
	}
	return nil, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	default:
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		return fmt.Errorf("razorpay %s %s: status %d: %s %s", method, path, resp.StatusCode, ae.Error.Code, ae.Error.Description)
	}
}
