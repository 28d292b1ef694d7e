// Package phonepe adapts the PhonePe PG v2 checkout API and its callbacks.
// Merchant order ids double as gateway order ids, so receipts must be unique.
package phonepe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/imrishuroy/marketplace-orderflow/internal/gateway"
	"github.com/imrishuroy/marketplace-orderflow/internal/money"
)

const DefaultBaseURL = "https://api.phonepe.com/apis/pg"

var errNotFound = errors.New("phonepe: order not found")

type Config struct {
	ClientID        string
	ClientSecret    string
	ClientVersion   string
	WebhookUsername string
	WebhookPassword string
	RedirectURL     string
	BaseURL         string
	HTTPClient      *http.Client
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: hc, now: time.Now}
}

func (c *Client) Name() gateway.Name { return gateway.PhonePe }

type metaInfo struct {
	UDF1 string `json:"udf1,omitempty"`
	UDF2 string `json:"udf2,omitempty"`
	UDF3 string `json:"udf3,omitempty"`
	UDF4 string `json:"udf4,omitempty"`
	UDF5 string `json:"udf5,omitempty"`
}

func metaFromLink(l gateway.Link) metaInfo {
	m := metaInfo{UDF1: l.OrderID, UDF2: l.SplitSessionID, UDF3: l.Type, UDF4: l.AddOnID}
	if l.Type == gateway.LinkSplit {
		m.UDF5 = strconv.Itoa(l.ShareIndex)
	}
	return m
}

func (m metaInfo) link() gateway.Link {
	l := gateway.Link{OrderID: m.UDF1, SplitSessionID: m.UDF2, Type: m.UDF3, AddOnID: m.UDF4}
	if v, err := strconv.Atoi(m.UDF5); err == nil {
		l.ShareIndex = v
	}
	return l
}

type paymentDetail struct {
	TransactionID     string `json:"transactionId"`
	PaymentMode       string `json:"paymentMode"`
	State             string `json:"state"`
	ErrorCode         string `json:"errorCode"`
	DetailedErrorCode string `json:"detailedErrorCode"`
}

type orderStatus struct {
	OrderID         string          `json:"orderId"`
	MerchantOrderID string          `json:"merchantOrderId"`
	State           string          `json:"state"`
	Amount          int64           `json:"amount"`
	MetaInfo        metaInfo        `json:"metaInfo"`
	PaymentDetails  []paymentDetail `json:"paymentDetails"`
	ErrorCode       string          `json:"errorCode"`
}

func (s orderStatus) completedTxn() string {
	for _, p := range s.PaymentDetails {
		if p.State == "COMPLETED" {
			return p.TransactionID
		}
	}
	return ""
}

func (s orderStatus) toOrder(receipt string) *gateway.Order {
	o := &gateway.Order{
		ID:      receipt,
		Receipt: receipt,
		Amount:  money.Paise(s.Amount),
		Link:    s.MetaInfo.link(),
	}
	switch s.State {
	case "COMPLETED":
		o.State = gateway.OrderPaid
		o.PaymentID = s.completedTxn()
	case "FAILED":
		o.State = gateway.OrderFailed
	default:
		o.State = gateway.OrderCreated
	}
	return o
}

func (c *Client) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	body := map[string]any{
		"merchantOrderId": req.Receipt,
		"amount":          int64(req.Amount),
		"expireAfter":     1200,
		"metaInfo":        metaFromLink(req.Link),
		"paymentFlow": map[string]any{
			"type":         "PG_CHECKOUT",
			"merchantUrls": map[string]string{"redirectUrl": c.cfg.RedirectURL},
		},
	}
	var out struct {
		OrderID     string `json:"orderId"`
		State       string `json:"state"`
		RedirectURL string `json:"redirectUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "/checkout/v2/pay", body, &out); err != nil {
		return nil, err
	}
	return &gateway.Order{
		ID:          req.Receipt,
		Receipt:     req.Receipt,
		Amount:      req.Amount,
		State:       gateway.OrderCreated,
		Link:        req.Link,
		CheckoutURL: out.RedirectURL,
	}, nil
}

func (c *Client) FetchOrder(ctx context.Context, merchantOrderID string) (*gateway.Order, error) {
	var out orderStatus
	if err := c.do(ctx, http.MethodGet, "/checkout/v2/order/"+url.PathEscape(merchantOrderID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return out.toOrder(merchantOrderID), nil
}

func (c *Client) FindOrderByReceipt(ctx context.Context, receipt string) (*gateway.Order, error) {
	o, err := c.FetchOrder(ctx, receipt)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	return o, err
}

// CreateRefund refunds against the original merchant order id. req.Key is
// used as the merchant refund id, which PhonePe accepts once.
func (c *Client) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	refundID := req.Key
	if refundID == "" {
		refundID = req.GatewayOrderID + "_R" + strconv.FormatInt(c.now().Unix(), 10)
	}
	body := map[string]any{
		"merchantRefundId":        refundID,
		"originalMerchantOrderId": req.GatewayOrderID,
		"amount":                  int64(req.Amount),
	}
	var out struct {
		RefundID string `json:"refundId"`
		State    string `json:"state"`
	}
	if err := c.do(ctx, http.MethodPost, "/payments/v2/refund", body, &out); err != nil {
		return nil, err
	}
	return &gateway.Refund{ID: refundID, Status: strings.ToLower(out.State)}, nil
}

// accessToken returns a cached OAuth token, refreshing a minute before expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Add(time.Minute).Before(c.expiresAt) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("client_version", c.cfg.ClientVersion)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("phonepe token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("phonepe token: status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	c.token = out.AccessToken
	c.expiresAt = time.Unix(out.ExpiresAt, 0)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
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
	req.Header.Set("Authorization", "O-Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("phonepe %s %s: %w", method, path, err)
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
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	default:
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("phonepe %s %s: status %d: %s %s", method, path, resp.StatusCode, e.Code, e.Message)
	}
}
