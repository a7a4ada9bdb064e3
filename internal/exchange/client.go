// Package exchange implements the futures REST and user-data stream clients.
//
// The REST client (Client) covers the read-only endpoints the monitor needs:
//   - GetAccount:      GET /fapi/v2/account       — balances + margin totals (signed)
//   - GetPositionRisk: GET /fapi/v2/positionRisk  — open positions w/ leverage (signed)
//   - GetPremiumIndex: GET /fapi/v1/premiumIndex  — mark price + funding rate
//   - GetOpenInterest: GET /fapi/v1/openInterest  — per-symbol open interest
//   - GetTokenInfo:    GET apex token-info        — market cap, 24h volume, concentration
//   - listen-key POST/PUT/DELETE (listenkey.go)
//
// Signed requests carry an HMAC-SHA256 signature over the query string
// (sign.go). The account, position, premium-index, open-interest and
// token-info requests are paced by token buckets; listen-key requests are
// not. Every request is retried on transport errors and 5xx.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Client is the futures REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and request signing.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	apex   *resty.Client // separate host for the apex token-info endpoint
	signer *Signer
	rl     *RateLimiter
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(restBaseURL, apexBaseURL string, signer *Signer, logger *slog.Logger) *Client {
	newHTTP := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json")
	}

	return &Client{
		http:   newHTTP(restBaseURL),
		apex:   newHTTP(apexBaseURL),
		signer: signer,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "rest"),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Wire types
// ————————————————————————————————————————————————————————————————————————

// AccountResponse is the /fapi/v2/account shape. Numbers arrive as decimal
// strings and stay that way until the caller converts them.
type AccountResponse struct {
	TotalInitialMargin string `json:"totalInitialMargin"`
	TotalMarginBalance string `json:"totalMarginBalance"`
	AvailableBalance   string `json:"availableBalance"`
}

// PositionRiskEntry is one row of /fapi/v2/positionRisk.
type PositionRiskEntry struct {
	Symbol         string `json:"symbol"`
	PositionAmt    string `json:"positionAmt"`
	Notional       string `json:"notional"`
	Leverage       string `json:"leverage"`
	InitialMargin  string `json:"initialMargin"`
	IsolatedMargin string `json:"isolatedMargin"`
	MarginType     string `json:"marginType"`
	PositionSide   string `json:"positionSide"`
	MarkPrice      string `json:"markPrice"`
	UpdateTime     int64  `json:"updateTime"`
}

// PremiumIndexEntry is one row of /fapi/v1/premiumIndex.
type PremiumIndexEntry struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// OpenInterestResponse is the /fapi/v1/openInterest shape.
type OpenInterestResponse struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

// TokenInfoResponse wraps the apex token-info endpoint. The request succeeded
// iff Code == "000000"; Data fields tolerate both JSON numbers and formatted
// strings ("1,234,567.89").
type TokenInfoResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Data    TokenInfoData `json:"data"`
}

// TokenInfoData carries the market metrics for one base asset.
type TokenInfoData struct {
	MarketCap FlexNumber `json:"marketCap"`
	Volume24h FlexNumber `json:"volume24h"`
	HHI       FlexNumber `json:"hhi"`
}

// ————————————————————————————————————————————————————————————————————————
// Signed endpoints
// ————————————————————————————————————————————————————————————————————————

// GetAccount fetches account-wide margin totals.
func (c *Client) GetAccount(ctx context.Context) (*AccountResponse, error) {
	if err := c.rl.Signed.Wait(ctx); err != nil {
		return nil, err
	}

	var result AccountResponse
	if err := c.signedGet(ctx, "/fapi/v2/account", nil, &result); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &result, nil
}

// GetPositionRisk fetches every open position with leverage and margin detail.
func (c *Client) GetPositionRisk(ctx context.Context) ([]PositionRiskEntry, error) {
	if err := c.rl.Signed.Wait(ctx); err != nil {
		return nil, err
	}

	var result []PositionRiskEntry
	if err := c.signedGet(ctx, "/fapi/v2/positionRisk", nil, &result); err != nil {
		return nil, fmt.Errorf("get position risk: %w", err)
	}
	return result, nil
}

func (c *Client) signedGet(ctx context.Context, path string, params url.Values, result any) error {
	// The signature covers the exact encoded query string, so it is appended
	// to the URL verbatim rather than going through resty's query re-encoding.
	query := c.signer.SignQuery(params)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.signer.APIKey()).
		SetResult(result).
		Get(path + "?" + query)
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return fmt.Errorf("auth rejected: status %d: %s", resp.StatusCode(), resp.String())
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Public endpoints
// ————————————————————————————————————————————————————————————————————————

// GetPremiumIndex fetches mark price and funding rate for all symbols.
func (c *Client) GetPremiumIndex(ctx context.Context) ([]PremiumIndexEntry, error) {
	if err := c.rl.Public.Wait(ctx); err != nil {
		return nil, err
	}

	var result []PremiumIndexEntry
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/fapi/v1/premiumIndex")
	if err != nil {
		return nil, fmt.Errorf("get premium index: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get premium index: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetOpenInterest fetches open interest (in base units) for one symbol.
func (c *Client) GetOpenInterest(ctx context.Context, symbol string) (*OpenInterestResponse, error) {
	if err := c.rl.Public.Wait(ctx); err != nil {
		return nil, err
	}

	var result OpenInterestResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/fapi/v1/openInterest")
	if err != nil {
		return nil, fmt.Errorf("get open interest %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open interest %s: status %d: %s", symbol, resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetTokenInfo fetches market cap / volume / concentration for a base asset
// from the apex marketing endpoint. A non-success business code is an error.
func (c *Client) GetTokenInfo(ctx context.Context, baseAsset string) (*TokenInfoData, error) {
	if err := c.rl.Public.Wait(ctx); err != nil {
		return nil, err
	}

	var result TokenInfoResponse
	resp, err := c.apex.R().
		SetContext(ctx).
		SetQueryParam("symbol", strings.ToUpper(baseAsset)).
		SetResult(&result).
		Get("/bapi/apex/v1/friendly/apex/marketing/web/token-info")
	if err != nil {
		return nil, fmt.Errorf("get token info %s: %w", baseAsset, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get token info %s: status %d: %s", baseAsset, resp.StatusCode(), resp.String())
	}
	if result.Code != "000000" {
		return nil, fmt.Errorf("get token info %s: code %s: %s", baseAsset, result.Code, result.Message)
	}
	return &result.Data, nil
}

// ————————————————————————————————————————————————————————————————————————
// Tolerant number parsing
// ————————————————————————————————————————————————————————————————————————

// FlexNumber is a nullable decimal that unmarshals from a JSON number, a
// plain decimal string, or a human-formatted string with thousands
// separators. Null, empty, and absent all decode to nil.
type FlexNumber struct {
	Value *decimal.Decimal
}

func (f *FlexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		f.Value = nil
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	f.Value = &d
	return nil
}
