package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
	paypalLiveURL    = "https://api-m.paypal.com"

	// tokenSlack is subtracted from the token TTL so we refresh before expiry.
	tokenSlack = 60 * time.Second
)

// PayPalProvider implements Provider against the PayPal Orders v2 REST API.
type PayPalProvider struct {
	clientID     string
	clientSecret string
	webhookID    string
	baseURL      string
	httpClient   *http.Client
	logger       zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// PayPalConfig contains configuration for the PayPal provider.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	Sandbox      bool
	Logger       zerolog.Logger
}

// NewPayPalProvider creates a new PayPal billing provider.
func NewPayPalProvider(cfg PayPalConfig) (*PayPalProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrInvalidCredentials
	}

	baseURL := paypalLiveURL
	if cfg.Sandbox {
		baseURL = paypalSandboxURL
	}

	return &PayPalProvider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       cfg.Logger,
	}, nil
}

// Authorize creates a PayPal order and returns the approval URL the
// customer must visit to approve the payment.
func (p *PayPalProvider) Authorize(ctx context.Context, params AuthorizeParams) (*Authorization, error) {
	if params.AmountCents < 50 {
		return nil, ErrAmountTooSmall
	}

	body := paypalCreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{
			{
				ReferenceID: params.Metadata["order_id"],
				Description: params.Description,
				CustomID:    params.Metadata["checkout_session_id"],
				Amount: paypalAmount{
					CurrencyCode: strings.ToUpper(params.Currency),
					Value:        centsToDollars(params.AmountCents),
				},
			},
		},
	}

	var resp paypalOrderResponse
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("paypal_order_id", resp.ID).
		Str("status", resp.Status).
		Int64("amount_cents", params.AmountCents).
		Msg("paypal order created")

	return &Authorization{
		ProviderPaymentID: resp.ID,
		ApprovalURL:       resp.link("approve"),
		Status:            resp.Status,
		AmountCents:       params.AmountCents,
		Currency:          strings.ToUpper(params.Currency),
		CreatedAt:         time.Now(),
	}, nil
}

// Capture settles an approved PayPal order.
// The idempotency key is sent as PayPal-Request-Id so a retried capture
// returns the original result instead of charging twice.
func (p *PayPalProvider) Capture(ctx context.Context, params CaptureParams) (*Capture, error) {
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", url.PathEscape(params.ProviderPaymentID))

	var resp paypalOrderResponse
	if err := p.do(ctx, http.MethodPost, path, params.IdempotencyKey, struct{}{}, &resp); err != nil {
		return nil, err
	}

	capture, err := resp.firstCapture()
	if err != nil {
		return nil, err
	}

	amountCents, err := dollarsStringToCents(capture.Amount.Value)
	if err != nil {
		return nil, &ProviderError{Provider: "paypal", Message: "unparseable capture amount", OriginalError: err}
	}

	p.logger.Info().
		Str("paypal_order_id", resp.ID).
		Str("capture_id", capture.ID).
		Str("status", capture.Status).
		Msg("paypal capture completed")

	return &Capture{
		ProviderCaptureID: capture.ID,
		ProviderPaymentID: resp.ID,
		AmountCents:       amountCents,
		Currency:          capture.Amount.CurrencyCode,
		Status:            capture.Status,
		CapturedAt:        time.Now(),
	}, nil
}

// Refund returns captured funds via the Payments v2 API.
func (p *PayPalProvider) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", url.PathEscape(params.ProviderCaptureID))

	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}
	body := paypalRefundRequest{NoteToPayer: params.Reason}
	if params.AmountCents > 0 {
		body.Amount = &paypalAmount{
			CurrencyCode: currency,
			Value:        centsToDollars(params.AmountCents),
		}
	}

	var resp paypalRefundResponse
	if err := p.do(ctx, http.MethodPost, path, params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	refundedCents := params.AmountCents
	if resp.Amount != nil {
		if cents, err := dollarsStringToCents(resp.Amount.Value); err == nil {
			refundedCents = cents
		}
	}

	p.logger.Info().
		Str("capture_id", params.ProviderCaptureID).
		Str("refund_id", resp.ID).
		Int64("amount_cents", refundedCents).
		Msg("paypal refund processed")

	resultCurrency := currency
	if resp.Amount != nil && resp.Amount.CurrencyCode != "" {
		resultCurrency = resp.Amount.CurrencyCode
	}
	return &RefundResult{
		ProviderRefundID: resp.ID,
		AmountCents:      refundedCents,
		Currency:         resultCurrency,
		Status:           resp.Status,
		CreatedAt:        time.Now(),
	}, nil
}

// GetPayment retrieves the provider's view of an order for reconciliation.
func (p *PayPalProvider) GetPayment(ctx context.Context, providerPaymentID string) (*PaymentDetails, error) {
	path := fmt.Sprintf("/v2/checkout/orders/%s", url.PathEscape(providerPaymentID))

	var resp paypalOrderResponse
	if err := p.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}

	details := &PaymentDetails{
		ProviderPaymentID: resp.ID,
		Status:            resp.Status,
		Currency:          "USD",
	}

	if len(resp.PurchaseUnits) > 0 {
		unit := resp.PurchaseUnits[0]
		if cents, err := dollarsStringToCents(unit.Amount.Value); err == nil {
			details.AmountCents = cents
			details.Currency = unit.Amount.CurrencyCode
		}
		for _, c := range unit.Payments.Captures {
			if cents, err := dollarsStringToCents(c.Amount.Value); err == nil {
				details.ProviderCaptureID = c.ID
				details.CapturedCents += cents
			}
		}
		for _, r := range unit.Payments.Refunds {
			if cents, err := dollarsStringToCents(r.Amount.Value); err == nil {
				details.RefundedCents += cents
			}
		}
	}

	return details, nil
}

// VerifyWebhook checks the transmission signature PayPal sends with each
// webhook. The signature header carries transmission id, time and sig
// joined by "|". Events with a bad signature are rejected.
func (p *PayPalProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	parts := strings.Split(signature, "|")
	if len(parts) != 3 {
		return nil, ErrInvalidWebhookSignature
	}
	transmissionID, transmissionTime, transmissionSig := parts[0], parts[1], parts[2]

	mac := hmac.New(sha256.New, []byte(p.webhookID))
	fmt.Fprintf(mac, "%s|%s|", transmissionID, transmissionTime)
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(transmissionSig)) {
		return nil, ErrInvalidWebhookSignature
	}

	var raw paypalWebhookEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &ProviderError{Provider: "paypal", Message: "malformed webhook payload", OriginalError: err}
	}

	event := &WebhookEvent{
		ID:   raw.ID,
		Type: raw.EventType,
	}
	if !raw.CreateTime.IsZero() {
		event.OccurredAt = raw.CreateTime
	}

	// For capture events the resource is the capture; the parent order id
	// rides in supplementary_data.
	event.ProviderCaptureID = raw.Resource.ID
	event.ProviderPaymentID = raw.Resource.SupplementaryData.RelatedIDs.OrderID
	if event.ProviderPaymentID == "" {
		event.ProviderPaymentID = raw.Resource.ID
	}
	if raw.Resource.Amount != nil {
		if cents, err := dollarsStringToCents(raw.Resource.Amount.Value); err == nil {
			event.AmountCents = cents
			event.Currency = raw.Resource.Amount.CurrencyCode
		}
	}

	return event, nil
}

// do executes an authenticated request against the PayPal API.
func (p *PayPalProvider) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("PayPal-Request-Id", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: "paypal", Message: "request failed", OriginalError: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Provider: "paypal", Message: "read response", OriginalError: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrPaymentNotFound
	}
	if resp.StatusCode >= 400 {
		return p.apiError(resp, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &ProviderError{Provider: "paypal", Message: "decode response", OriginalError: err}
		}
	}
	return nil
}

// token returns a cached OAuth access token, fetching a fresh one when
// the cached token is absent or near expiry.
func (p *PayPalProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: "paypal", Message: "token request failed", OriginalError: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrInvalidCredentials
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return "", p.apiError(resp, body)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &ProviderError{Provider: "paypal", Message: "decode token response", OriginalError: err}
	}

	p.accessToken = tr.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenSlack)

	p.logger.Debug().Time("expires", p.tokenExpiry).Msg("paypal access token refreshed")
	return p.accessToken, nil
}

// apiError converts a PayPal error response into a ProviderError,
// surfacing instrument declines as ErrPaymentDeclined.
func (p *PayPalProvider) apiError(resp *http.Response, body []byte) error {
	var apiErr struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Details []struct {
			Issue       string `json:"issue"`
			Description string `json:"description"`
		} `json:"details"`
	}
	_ = json.Unmarshal(body, &apiErr)

	code := apiErr.Name
	message := apiErr.Message
	if len(apiErr.Details) > 0 {
		code = apiErr.Details[0].Issue
		if apiErr.Details[0].Description != "" {
			message = apiErr.Details[0].Description
		}
	}
	if message == "" {
		message = fmt.Sprintf("paypal returned HTTP %d", resp.StatusCode)
	}

	perr := &ProviderError{
		Provider:   "paypal",
		Message:    message,
		Code:       code,
		HTTPStatus: resp.StatusCode,
		RequestID:  resp.Header.Get("Paypal-Debug-Id"),
	}
	if perr.IsDeclined() {
		perr.OriginalError = ErrPaymentDeclined
	}
	return perr
}

// Wire types for the PayPal REST API.

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	Description string       `json:"description,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalCreateOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount paypalAmount `json:"amount"`
}

type paypalOrderResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Amount   paypalAmount `json:"amount"`
		Payments struct {
			Captures []paypalCapture `json:"captures"`
			Refunds  []paypalCapture `json:"refunds"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (r *paypalOrderResponse) link(rel string) string {
	for _, l := range r.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

func (r *paypalOrderResponse) firstCapture() (*paypalCapture, error) {
	for _, unit := range r.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			return &unit.Payments.Captures[0], nil
		}
	}
	return nil, &ProviderError{Provider: "paypal", Message: "capture response contained no captures"}
}

type paypalRefundRequest struct {
	Amount      *paypalAmount `json:"amount,omitempty"`
	NoteToPayer string        `json:"note_to_payer,omitempty"`
}

type paypalRefundResponse struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Amount *paypalAmount `json:"amount"`
}

type paypalWebhookEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	CreateTime time.Time `json:"create_time"`
	Resource   struct {
		ID                string        `json:"id"`
		Status            string        `json:"status"`
		Amount            *paypalAmount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// centsToDollars formats an integer cent amount as PayPal's decimal string.
func centsToDollars(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// dollarsStringToCents parses PayPal's decimal amount string into cents.
func dollarsStringToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")

	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	var cents int64
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}

	return dollars*100 + cents, nil
}
