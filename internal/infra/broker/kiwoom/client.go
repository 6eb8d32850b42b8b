// Package kiwoom implements the brokerage REST and realtime clients used to
// ingest trade executions and account snapshots.
package kiwoom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/kfin-labs/lotledger/errs"
	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
	"github.com/kfin-labs/lotledger/internal/infra/config"
)

const (
	continuationYes = "Y"
	// maxPages bounds the continuation loop against a brokerage that keeps
	// answering cont-yn=Y.
	maxPages = 200
)

// Client talks to the brokerage REST API. It caches the bearer token and
// serialises request pacing through a shared rate limiter.
type Client struct {
	baseURL    string
	socketURL  string
	appKey     string
	secretKey  string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	maxWait    time.Duration
	logger     *log.Logger
	loc        *time.Location

	tokenMu sync.Mutex
	token   string
}

// NewClient validates credentials and constructs a brokerage client. A nil
// logger disables informational logging.
func NewClient(cfg config.BrokerConfig, loc *time.Location, logger *log.Logger) (*Client, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, fmt.Errorf("broker config: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		socketURL:  cfg.SocketURL,
		appKey:     cfg.AppKey,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		maxRetries: cfg.MaxRetries,
		maxWait:    cfg.MaxWaitTime,
		logger:     logger,
		loc:        loc,
	}, nil
}

// Token returns a cached bearer token, requesting a fresh one on first use or
// after Invalidate.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.appKey,
		SecretKey: c.secretKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errs.New("kiwoom.Token", errs.CodeNetwork, errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.New("kiwoom.Token", errs.CodeNetwork, errs.WithCause(err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.New("kiwoom.Token", errs.CodeAuth,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(strings.TrimSpace(string(payload))))
	}

	var tok tokenResponse
	if err := json.Unmarshal(payload, &tok); err != nil {
		return "", errs.New("kiwoom.Token", errs.CodeBroker, errs.WithCause(err))
	}
	if strings.TrimSpace(tok.Token) == "" {
		return "", errs.New("kiwoom.Token", errs.CodeAuth,
			errs.WithRawCode(fmt.Sprintf("%d", tok.ReturnCode)),
			errs.WithRawMessage(tok.ReturnMsg),
			errs.WithMessage("token response missing token"))
	}

	c.token = tok.Token
	if c.logger != nil {
		c.logger.Printf("brokerage token acquired")
	}
	return c.token, nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (c *Client) Invalidate() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

// TradeHistory fetches every execution reported for the given trading day,
// following the cont-yn/next-key continuation headers until the brokerage
// reports no further pages. Page order is preserved.
func (c *Client) TradeHistory(ctx context.Context, day time.Time) ([]tradestore.NewExecution, error) {
	reqBody := tradeHistoryRequest{
		OrderDate:      day.Format(tradeDateLayout),
		QueryType:      "1",
		StockBondType:  "1",
		SellType:       "0",
		DomesticStexTp: "KRX",
	}

	var (
		executions []tradestore.NewExecution
		contYn     string
		nextKey    string
	)
	for page := 0; page < maxPages; page++ {
		payload, header, err := c.doRequest(ctx, tradeHistoryAPIID, reqBody, contYn, nextKey)
		if err != nil {
			return nil, err
		}

		var resp tradeHistoryResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, errs.New("kiwoom.TradeHistory", errs.CodeBroker, errs.WithCause(err))
		}
		if resp.ReturnCode != 0 {
			return nil, errs.New("kiwoom.TradeHistory", errs.CodeBroker,
				errs.WithRawCode(fmt.Sprintf("%d", resp.ReturnCode)),
				errs.WithRawMessage(resp.ReturnMsg))
		}

		for _, row := range resp.Trades {
			exec, err := executionFromRow(row, day, c.loc)
			if err != nil {
				if c.logger != nil {
					c.logger.Printf("skipping malformed trade row: %v", err)
				}
				continue
			}
			executions = append(executions, exec)
		}

		if !strings.EqualFold(strings.TrimSpace(header.Get(headerContinuation)), continuationYes) {
			return executions, nil
		}
		contYn = continuationYes
		nextKey = strings.TrimSpace(header.Get(headerNextKey))
	}
	return nil, errs.New("kiwoom.TradeHistory", errs.CodeBroker,
		errs.WithMessage("continuation pages exceeded limit"))
}

// AccountBalance fetches the current account evaluation payload. The raw
// decoded body is returned for snapshot archiving.
func (c *Client) AccountBalance(ctx context.Context) (map[string]any, error) {
	return c.rawQuery(ctx, "kiwoom.AccountBalance", accountBalanceAPIID, accountBalanceRequest{
		QueryType:      "1",
		DomesticStexTp: "KRX",
	})
}

// RealizedPnLDaily fetches the brokerage-computed daily realized P&L over the
// inclusive [start, end] range for cross-checking against the lot matcher.
func (c *Client) RealizedPnLDaily(ctx context.Context, start, end time.Time) (map[string]any, error) {
	return c.rawQuery(ctx, "kiwoom.RealizedPnLDaily", realizedPnLAPIID, realizedPnLRequest{
		StartDate: start.Format(tradeDateLayout),
		EndDate:   end.Format(tradeDateLayout),
	})
}

func (c *Client) rawQuery(ctx context.Context, op, apiID string, body any) (map[string]any, error) {
	payload, _, err := c.doRequest(ctx, apiID, body, "", "")
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, errs.New(op, errs.CodeBroker, errs.WithCause(err))
	}
	if rc, ok := decoded["return_code"].(float64); ok && rc != 0 {
		msg, _ := decoded["return_msg"].(string)
		return nil, errs.New(op, errs.CodeBroker,
			errs.WithRawCode(fmt.Sprintf("%.0f", rc)),
			errs.WithRawMessage(msg))
	}
	return decoded, nil
}

// doRequest issues one authenticated POST against the shared account endpoint
// with rate limiting and bounded retry. Transient failures (network errors,
// HTTP 429 and 5xx) back off exponentially; auth failures refresh the token
// once before surfacing.
func (c *Client) doRequest(ctx context.Context, apiID string, body any, contYn, nextKey string) ([]byte, http.Header, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request body: %w", err)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 200 * time.Millisecond
	backoffCfg.MaxInterval = c.maxWait

	var lastErr error
	refreshed := false
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop || sleep > c.maxWait {
				sleep = c.maxWait
			}
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}

		payload, header, reqErr := c.once(ctx, apiID, encoded, contYn, nextKey)
		if reqErr == nil {
			return payload, header, nil
		}
		lastErr = reqErr

		if errs.IsCode(reqErr, errs.CodeAuth) && !refreshed {
			refreshed = true
			c.Invalidate()
			continue
		}
		if !errs.IsCode(reqErr, errs.CodeNetwork) && !errs.IsCode(reqErr, errs.CodeUnavailable) {
			return nil, nil, reqErr
		}
		if c.logger != nil {
			c.logger.Printf("brokerage request retry: api=%s attempt=%d err=%v", apiID, attempt+1, reqErr)
		}
	}
	return nil, nil, lastErr
}

func (c *Client) once(ctx context.Context, apiID string, encoded []byte, contYn, nextKey string) ([]byte, http.Header, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+accountPath, bytes.NewReader(encoded))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerAPIID, apiID)
	if contYn != "" {
		req.Header.Set(headerContinuation, contYn)
	}
	if nextKey != "" {
		req.Header.Set(headerNextKey, nextKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		return nil, nil, errs.New("kiwoom.request", errs.CodeNetwork, errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errs.New("kiwoom.request", errs.CodeNetwork, errs.WithCause(err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return payload, resp.Header, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, errs.New("kiwoom.request", errs.CodeAuth,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(strings.TrimSpace(string(payload))))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, nil, errs.New("kiwoom.request", errs.CodeUnavailable,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(strings.TrimSpace(string(payload))))
	default:
		return nil, nil, errs.New("kiwoom.request", errs.CodeBroker,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(strings.TrimSpace(string(payload))))
	}
}
