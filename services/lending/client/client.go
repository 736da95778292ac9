package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"crossledger/core/events"
	"crossledger/services/lending/engine"
)

// Config controls how the Client connects to the lending API.
type Config struct {
	BaseURL         string
	BearerToken     string
	TLSClientCAFile string
	AllowInsecure   bool
	Timeout         time.Duration
}

// Client is a typed wrapper around the lending HTTP API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	bearer  string
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lending api: %d %s", e.Status, e.Message)
}

// NewClient constructs a Client from the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.AllowInsecure {
		tlsConfig.InsecureSkipVerify = true
	} else if path := strings.TrimSpace(cfg.TLSClientCAFile); path != "" {
		systemPool, err := x509.SystemCertPool()
		if err != nil || systemPool == nil {
			systemPool = x509.NewCertPool()
		}
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read client ca file: %w", err)
		}
		if ok := systemPool.AppendCertsFromPEM(pemBytes); !ok {
			return nil, fmt.Errorf("append client ca certificates: invalid pem data")
		}
		tlsConfig.RootCAs = systemPool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		bearer:  strings.TrimSpace(cfg.BearerToken),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: message}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type actionBody struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (c *Client) Deposit(ctx context.Context, user, asset, amount string) (engine.Position, error) {
	var out engine.Position
	err := c.do(ctx, http.MethodPost, "/v1/deposit", nil, actionBody{user, asset, amount}, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, user, asset, amount string) (engine.Position, error) {
	var out engine.Position
	err := c.do(ctx, http.MethodPost, "/v1/withdraw", nil, actionBody{user, asset, amount}, &out)
	return out, err
}

func (c *Client) Borrow(ctx context.Context, user, asset, amount string) (engine.Position, error) {
	var out engine.Position
	err := c.do(ctx, http.MethodPost, "/v1/borrow", nil, actionBody{user, asset, amount}, &out)
	return out, err
}

// Repay settles debt of user, paid by payer. An empty payer pays from user.
func (c *Client) Repay(ctx context.Context, payer, user, asset, amount string) (string, error) {
	body := map[string]string{"payer": payer, "user": user, "asset": asset, "amount": amount}
	var out struct {
		Repaid string `json:"repaid"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/repay", nil, body, &out)
	return out.Repaid, err
}

func (c *Client) SetCollateral(ctx context.Context, user, asset string, enabled bool) (engine.Position, error) {
	body := struct {
		User    string `json:"user"`
		Asset   string `json:"asset"`
		Enabled bool   `json:"enabled"`
	}{user, asset, enabled}
	var out engine.Position
	err := c.do(ctx, http.MethodPost, "/v1/collateral", nil, body, &out)
	return out, err
}

func (c *Client) Liquidate(ctx context.Context, liquidator, user, debtAsset, collateralAsset, amount string) (engine.Liquidation, error) {
	body := map[string]string{
		"liquidator":      liquidator,
		"user":            user,
		"debtAsset":       debtAsset,
		"collateralAsset": collateralAsset,
		"amount":          amount,
	}
	var out engine.Liquidation
	err := c.do(ctx, http.MethodPost, "/v1/liquidate", nil, body, &out)
	return out, err
}

func (c *Client) ListReserves(ctx context.Context) ([]engine.Reserve, error) {
	var out struct {
		Reserves []engine.Reserve `json:"reserves"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/reserves", nil, nil, &out)
	return out.Reserves, err
}

func (c *Client) GetReserve(ctx context.Context, asset string) (engine.Reserve, error) {
	var out engine.Reserve
	err := c.do(ctx, http.MethodGet, "/v1/reserves/"+url.PathEscape(asset), nil, nil, &out)
	return out, err
}

func (c *Client) GetPositions(ctx context.Context, user string) ([]engine.Position, error) {
	var out struct {
		Positions []engine.Position `json:"positions"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(user)+"/positions", nil, nil, &out)
	return out.Positions, err
}

func (c *Client) GetHealth(ctx context.Context, user string) (engine.Health, error) {
	var out engine.Health
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(user)+"/health", nil, nil, &out)
	return out, err
}

func (c *Client) Simulate(ctx context.Context, user, asset string, changeBps int64) (engine.Simulation, error) {
	body := struct {
		Asset     string `json:"asset"`
		ChangeBps int64  `json:"changeBps"`
	}{asset, changeBps}
	var out engine.Simulation
	err := c.do(ctx, http.MethodPost, "/v1/accounts/"+url.PathEscape(user)+"/simulate", nil, body, &out)
	return out, err
}

// Events lists journaled events. A zero limit uses the server default.
func (c *Client) Events(ctx context.Context, user, eventType string, limit int) ([]events.Envelope, error) {
	query := url.Values{}
	if user != "" {
		query.Set("user", user)
	}
	if eventType != "" {
		query.Set("type", eventType)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Events []events.Envelope `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/events", query, nil, &out)
	return out.Events, err
}

func (c *Client) SetPrice(ctx context.Context, asset, price string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/prices", nil, map[string]string{"asset": asset, "price": price}, nil)
}

func (c *Client) SetPaused(ctx context.Context, paused bool) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/pause", nil, map[string]bool{"paused": paused}, nil)
}

func (c *Client) WithdrawFees(ctx context.Context, asset, amount string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/fees/withdraw", nil, map[string]string{"asset": asset, "amount": amount}, nil)
}

// IsStatus reports whether err is an APIError carrying status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
