package midtrans

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"panelworks/api_tokens/pkg/logging"
)

// Environment base URLs
const (
	SandboxAPIURL     = "https://api.sandbox.midtrans.com"
	SandboxSnapURL    = "https://app.sandbox.midtrans.com"
	ProductionAPIURL  = "https://api.midtrans.com"
	ProductionSnapURL = "https://app.midtrans.com"
)

// Client talks to the Midtrans Core and Snap APIs.
type Client struct {
	serverKey  string
	apiURL     string
	snapURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// Config holds Midtrans client configuration
type Config struct {
	ServerKey  string
	Production bool
	Logger     logging.Logger

	// Overrides for tests; empty means environment default.
	APIURL  string
	SnapURL string
}

// NewClient creates a Midtrans client
func NewClient(cfg Config) *Client {
	apiURL := cfg.APIURL
	snapURL := cfg.SnapURL
	if apiURL == "" {
		if cfg.Production {
			apiURL = ProductionAPIURL
		} else {
			apiURL = SandboxAPIURL
		}
	}
	if snapURL == "" {
		if cfg.Production {
			snapURL = ProductionSnapURL
		} else {
			snapURL = SandboxSnapURL
		}
	}

	return &Client{
		serverKey:  cfg.ServerKey,
		apiURL:     apiURL,
		snapURL:    snapURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     cfg.Logger,
	}
}

// TransactionDetails identifies the order and amount for a Snap transaction
type TransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

// CustomerDetails pre-fills the payment page
type CustomerDetails struct {
	FirstName string `json:"first_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// ItemDetail is one line item on the payment page
type ItemDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// SnapCallbacks configures where the customer lands after payment
type SnapCallbacks struct {
	Finish string `json:"finish,omitempty"`
}

// SnapExpiry bounds how long the checkout stays payable
type SnapExpiry struct {
	Unit     string `json:"unit"`
	Duration int    `json:"duration"`
}

// SnapTransactionParams is the request body for creating a Snap transaction
type SnapTransactionParams struct {
	TransactionDetails TransactionDetails `json:"transaction_details"`
	CustomerDetails    *CustomerDetails   `json:"customer_details,omitempty"`
	ItemDetails        []ItemDetail       `json:"item_details,omitempty"`
	Callbacks          *SnapCallbacks     `json:"callbacks,omitempty"`
	Expiry             *SnapExpiry        `json:"expiry,omitempty"`
}

// SnapTransaction is the gateway's response to a created Snap transaction
type SnapTransaction struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// StatusResponse is the gateway's canonical view of a transaction. Webhook
// handling always re-fetches this instead of trusting the notification body.
type StatusResponse struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	TransactionTime   string `json:"transaction_time"`
	SignatureKey      string `json:"signature_key"`
}

// CreateSnapTransaction creates a hosted checkout page and returns its token
// and redirect URL.
func (c *Client) CreateSnapTransaction(ctx context.Context, params SnapTransactionParams) (*SnapTransaction, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snap request: %w", err)
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, c.snapURL+"/snap/v1/transactions", body)
	if err != nil {
		return nil, err
	}

	var result SnapTransaction
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse snap response: %w", err)
	}
	if result.Token == "" {
		return nil, fmt.Errorf("snap response missing token")
	}

	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"order_id":     params.TransactionDetails.OrderID,
			"gross_amount": params.TransactionDetails.GrossAmount,
		}).Info("Created Snap transaction")
	}

	return &result, nil
}

// GetTransactionStatus fetches the authoritative status of an order.
func (c *Client) GetTransactionStatus(ctx context.Context, orderID string) (*StatusResponse, error) {
	if orderID == "" {
		return nil, fmt.Errorf("missing order ID")
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, c.apiURL+"/v2/"+orderID+"/status", nil)
	if err != nil {
		return nil, err
	}

	var result StatusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	return &result, nil
}

// VerifySignature checks a notification's signature_key. The gateway signs
// SHA-512(order_id + status_code + gross_amount + server_key) and sends the
// hex digest.
func (c *Client) VerifySignature(orderID, statusCode, grossAmount, signature string) bool {
	if orderID == "" || signature == "" {
		return false
	}
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + c.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.serverKey+":")))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("midtrans API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
