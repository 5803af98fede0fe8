package mollie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

var ErrNotConfigured = errors.New("mollie_not_configured")

// Payment statuses reported by Mollie.
const (
	StatusOpen       = "open"
	StatusPending    = "pending"
	StatusAuthorized = "authorized"
	StatusPaid       = "paid"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
	StatusExpired    = "expired"
)

const (
	MethodDirectDebit = "directdebit"
	MethodCreditCard  = "creditcard"
	MethodBancontact  = "bancontact"
	MethodTransfer    = "banktransfer"

	SequenceRecurring = "recurring"
	MandateValid      = "valid"
)

type Amount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Description  string            `json:"description"`
	SequenceType string            `json:"sequenceType,omitempty"`
	CustomerID   string            `json:"customerId,omitempty"`
	MandateID    string            `json:"mandateId,omitempty"`
	Method       string            `json:"method,omitempty"`
	RedirectURL  string            `json:"redirectUrl,omitempty"`
	WebhookURL   string            `json:"webhookUrl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Payment struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	Method            string            `json:"method"`
	Amount            Amount            `json:"amount"`
	AmountChargedBack *Amount           `json:"amountChargedBack,omitempty"`
	CustomerID        string            `json:"customerId"`
	MandateID         string            `json:"mandateId"`
	PaidAt            *time.Time        `json:"paidAt,omitempty"`
	Metadata          map[string]string `json:"metadata"`
	Links             struct {
		Checkout *struct {
			Href string `json:"href"`
		} `json:"checkout,omitempty"`
	} `json:"_links"`
}

// ChargedBack reports whether any part of the payment was reversed.
func (p Payment) ChargedBack() bool {
	if p.AmountChargedBack == nil {
		return false
	}
	v := strings.Trim(p.AmountChargedBack.Value, "0.")
	return v != ""
}

func (p Payment) CheckoutURL() string {
	if p.Links.Checkout == nil {
		return ""
	}
	return p.Links.Checkout.Href
}

type Mandate struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"createdAt"`
}

type Client interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	ListMandates(ctx context.Context, customerID string) ([]Mandate, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// HTTPClient talks to the Mollie v2 REST API. Calls are not retried.
type HTTPClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Error is a non-2xx response from Mollie.
type Error struct {
	StatusCode int
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mollie %d %s: %s", e.StatusCode, e.Title, e.Detail)
}

func (c *HTTPClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/payments", req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *HTTPClient) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *HTTPClient) ListMandates(ctx context.Context, customerID string) ([]Mandate, error) {
	var resp struct {
		Embedded struct {
			Mandates []Mandate `json:"mandates"`
		} `json:"_embedded"`
	}
	path := "/customers/" + url.PathEscape(customerID) + "/mandates"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.Mandates, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// FirstValidMandate returns the newest valid mandate, if any.
func FirstValidMandate(mandates []Mandate) (Mandate, bool) {
	var best Mandate
	found := false
	for _, m := range mandates {
		if m.Status != MandateValid {
			continue
		}
		if !found || m.CreatedAt.After(best.CreatedAt) {
			best = m
			found = true
		}
	}
	return best, found
}
