package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"repay/internal/service"
)

// ErrGateway is returned when the gateway could not be reached or answered
// with something other than a well-formed API response. The charge outcome
// is unknown in that case.
var ErrGateway = errors.New("payment gateway error")

// DefaultBaseURL is the Iamport REST endpoint.
const DefaultBaseURL = "https://api.iamport.kr"

// tokenSkew renews the access token this long before it expires.
const tokenSkew = time.Minute

// Config contains the Iamport client configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Iamport is a client for the Iamport recurring-payment API.
type Iamport struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	log       *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewIamport creates a new Iamport client.
func NewIamport(cfg Config, log *zap.Logger) *Iamport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Iamport{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{Timeout: cfg.Timeout},
		log:       log,
		now:       time.Now,
	}
}

type envelope struct {
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiredAt   int64  `json:"expired_at"`
}

type againRequest struct {
	CustomerUID string `json:"customer_uid"`
	MerchantUID string `json:"merchant_uid"`
	Amount      int64  `json:"amount"`
	Name        string `json:"name"`
	BuyerName   string `json:"buyer_name,omitempty"`
	BuyerTel    string `json:"buyer_tel,omitempty"`
}

type paymentResponse struct {
	ImpUID     string `json:"imp_uid"`
	Status     string `json:"status"`
	FailReason string `json:"fail_reason"`
}

// Charge bills a stored customer uid again. A request the gateway rejects
// with a non-zero code is a failed charge, not an error.
func (c *Iamport) Charge(ctx context.Context, req service.ChargeRequest) (*service.ChargeResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", service.ErrChargeNotSent, err)
	}

	env, err := c.post(ctx, "/subscribe/payments/again", token, againRequest{
		CustomerUID: req.BillingKey,
		MerchantUID: req.MerchantUID,
		Amount:      req.Amount,
		Name:        req.Name,
		BuyerName:   req.BuyerName,
		BuyerTel:    req.BuyerTel,
	})
	if err != nil {
		return nil, err
	}

	if env.Code != 0 {
		return &service.ChargeResult{Status: "failed", FailReason: env.Message}, nil
	}

	var payment paymentResponse
	if err := json.Unmarshal(env.Response, &payment); err != nil {
		return nil, fmt.Errorf("%w: decode payment: %v", ErrGateway, err)
	}

	c.log.Debug("iamport charge answered",
		zap.String("merchant_uid", req.MerchantUID),
		zap.String("imp_uid", payment.ImpUID),
		zap.String("status", payment.Status),
	)

	return &service.ChargeResult{
		Status:     payment.Status,
		FailReason: payment.FailReason,
		ImpUID:     payment.ImpUID,
	}, nil
}

func (c *Iamport) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(tokenSkew).Before(c.expiresAt) {
		return c.token, nil
	}

	env, err := c.post(ctx, "/users/getToken", "", map[string]string{
		"imp_key":    c.apiKey,
		"imp_secret": c.apiSecret,
	})
	if err != nil {
		return "", err
	}
	if env.Code != 0 {
		return "", fmt.Errorf("%w: get token: %s", ErrGateway, env.Message)
	}

	var tok tokenResponse
	if err := json.Unmarshal(env.Response, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", ErrGateway)
	}

	c.token = tok.AccessToken
	c.expiresAt = time.Unix(tok.ExpiredAt, 0)
	return c.token, nil
}

func (c *Iamport) post(ctx context.Context, path, token string, body any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s returned %d", ErrGateway, path, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrGateway, path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s returned %d", ErrGateway, path, resp.StatusCode)
	}
	return &env, nil
}

// Ensure Iamport implements service.Gateway.
var _ service.Gateway = (*Iamport)(nil)
