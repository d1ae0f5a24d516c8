// Package paymentprovider talks to the hosted payment provider and verifies
// the events it sends back.
package paymentprovider

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

// ErrUpstream wraps every transport or non-2xx failure.
var ErrUpstream = errors.New("payment provider unavailable")

type Client struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

func NewClient(apiURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		secretKey:  secretKey,
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type CreateCustomerRequest struct {
	Email    string   `json:"email"`
	Metadata Metadata `json:"metadata"`
}

type Customer struct {
	ID string `json:"id"`
}

// CheckoutMode selects between a recurring plan and a one-off product.
type CheckoutMode string

const (
	ModeSubscription CheckoutMode = "subscription"
	ModePayment      CheckoutMode = "payment"
)

type CheckoutRequest struct {
	CustomerID      string       `json:"customerId"`
	Mode            CheckoutMode `json:"mode"`
	PriceID         string       `json:"priceId"`
	PaymentMethodID string       `json:"paymentMethodId,omitempty"`
	SuccessURL      string       `json:"successUrl"`
	CancelURL       string       `json:"cancelUrl"`
	Metadata        Metadata     `json:"metadata"`
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type cancelRequest struct {
	AtPeriodEnd bool `json:"atPeriodEnd"`
}

type SubscriptionState struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd"`
	PeriodStart       int64  `json:"periodStart"`
	PeriodEnd         int64  `json:"periodEnd"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: unexpected status %s: %s",
			ErrUpstream, method, path, resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	return nil
}

// CreateCustomer registers the user with the provider and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (string, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty customer id", ErrUpstream)
	}
	return out.ID, nil
}

// CreateCheckoutSession opens a hosted checkout page.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	var out CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", req, &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, fmt.Errorf("%w: empty checkout url", ErrUpstream)
	}
	return &out, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*SubscriptionState, error) {
	var out SubscriptionState
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, cancelRequest{AtPeriodEnd: atPeriodEnd}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error) {
	var out SubscriptionState
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID) + "/resume"
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
