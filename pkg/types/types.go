// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the monitor — order events from
// the user-data stream, account/position snapshots, per-symbol market metrics,
// validation issues, and the notification payloads handed to the webhook sinks.
// It has no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// PositionSide is the hedge-mode position bucket an order affects.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionBoth  PositionSide = "BOTH"
)

// OrderStatus enumerates the exchange-reported order states.
// ExpiredInMatch is normalized to Expired at the wire boundary; downstream
// code only ever sees Expired (the raw execution type is preserved on the
// event for expiry-reason rendering).
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusExpiredInMatch  OrderStatus = "EXPIRED_IN_MATCH"
	StatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status ends the order's life cycle.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// Direction is the long/short bucket used by the position validator.
type Direction string

const (
	DirLong   Direction = "long"
	DirShort  Direction = "short"
	DirGlobal Direction = "global"
)

// ————————————————————————————————————————————————————————————————————————
// Order events
// ————————————————————————————————————————————————————————————————————————

// OrderEvent is the immutable projection of one ORDER_TRADE_UPDATE message.
// Numeric fields stay as decimal strings to preserve the exchange's precision;
// arithmetic goes through shopspring/decimal at the point of use.
type OrderEvent struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	// OrigClientOrderID is set on execution orders spawned by a triggered
	// stop/take-profit; it names the parent order's client id.
	OrigClientOrderID string

	Side         Side
	PositionSide PositionSide
	OrderType    string // LIMIT, MARKET, STOP_MARKET, TAKE_PROFIT_MARKET, ...
	ExecType     string // raw execution type (NEW, TRADE, CANCELED, EXPIRED, ...)
	Status       OrderStatus

	OrigQty         string
	CumQty          string
	LastQty         string
	AvgPrice        string
	LastPrice       string
	OrderPrice      string
	StopPrice       string
	ActivationPrice string
	CallbackRate    string
	RealizedPnL     string

	IsMaker   bool
	TradeTime time.Time
	EventTime time.Time
}

// Key returns the canonical aggregation-context key for the event.
func (e *OrderEvent) Key() string {
	return fmt.Sprintf("%s:%d:%s", e.Symbol, e.OrderID, e.ClientOrderID)
}

// DedupKey identifies one wire message for replay suppression. Two messages
// with the same key are the same logical update.
func (e *OrderEvent) DedupKey() string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%d|%s|%s",
		e.Symbol, e.OrderID, e.ClientOrderID, e.Status, e.ExecType,
		e.TradeTime.UnixMilli(), e.LastQty, e.CumQty)
}

// IsChildExecution reports whether the event belongs to a child execution
// order generated by a triggered parent stop.
func (e *OrderEvent) IsChildExecution() bool {
	return e.OrigClientOrderID != "" && e.OrigClientOrderID != e.ClientOrderID
}

// ————————————————————————————————————————————————————————————————————————
// Account and positions
// ————————————————————————————————————————————————————————————————————————

// PositionSnapshot is one open position at fetch time. Zero-amount,
// zero-notional rows are dropped before a snapshot is built.
type PositionSnapshot struct {
	BaseAsset  string // uppercase, quote asset stripped ("BTC" for BTCUSDT)
	Symbol     string
	Direction  Direction
	Amount     decimal.Decimal // signed position quantity
	Notional   decimal.Decimal // absolute quote-currency value
	Leverage   decimal.Decimal
	InitMargin decimal.Decimal
	IsoMargin  decimal.Decimal
	MarginType string // "cross" or "isolated"
	MarkPrice  decimal.Decimal
	// PredictedFundingRate is nil when the premium-index fetch failed or
	// the symbol has no funding.
	PredictedFundingRate *decimal.Decimal
	UpdatedAt            time.Time
}

// PositionKey is the `<symbol>:<direction>` map key used by the account
// summary and the long/short ratio computation.
func (p PositionSnapshot) PositionKey() string {
	return p.Symbol + ":" + string(p.Direction)
}

// AccountContext is the validator's view of the account at one tick.
type AccountContext struct {
	TotalInitialMargin decimal.Decimal
	TotalMarginBalance decimal.Decimal
	AvailableBalance   decimal.Decimal
	Positions          []PositionSnapshot
	FetchedAt          time.Time
}

// SymbolMetrics carries per-symbol market health numbers. Every field is
// optional: a nil pointer means the observation is missing, which the rule
// engine reports via a data_missing issue rather than guessing.
type SymbolMetrics struct {
	OpenInterest         *decimal.Decimal // base units
	ReferencePrice       *decimal.Decimal
	OpenInterestNotional *decimal.Decimal // OpenInterest × ReferencePrice
	MarketCap            *decimal.Decimal
	Volume24h            *decimal.Decimal
	HHI                  *decimal.Decimal // market concentration, 0..1
	FetchedAt            time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Validation issues and alert events
// ————————————————————————————————————————————————————————————————————————

// Rule names one validation check. The set is closed; the alert limiter and
// the digest card renderer both key off these values.
type Rule string

const (
	RuleWhitelistViolation Rule = "whitelist_violation"
	RuleBlacklistViolation Rule = "blacklist_violation"
	RuleConfigError        Rule = "config_error"
	RuleLeverageLimit      Rule = "leverage_limit"
	RuleMarginShareLimit   Rule = "margin_share_limit"
	RuleTotalMarginUsage   Rule = "total_margin_usage"
	RuleFundingRateLimit   Rule = "funding_rate_limit"
	RuleDataMissing        Rule = "data_missing"
	RuleOIShareLimit       Rule = "oi_share_limit"
	RuleOIMinimum          Rule = "oi_minimum"
	RuleMarketCapMinimum   Rule = "market_cap_minimum"
	RuleVolume24hMinimum   Rule = "volume_24h_minimum"
	RuleConcentrationHHI   Rule = "concentration_hhi_limit"
)

// Severity grades an issue.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AccountAsset is the BaseAsset used for account-wide issues.
const AccountAsset = "__account__"

// ValidationIssue is one rule violation found during a validation tick.
// Identity for cooldown/recovery tracking is (Rule, BaseAsset, Direction).
type ValidationIssue struct {
	Rule             Rule
	BaseAsset        string
	Direction        Direction
	Severity         Severity
	Message          string
	CooldownMinutes  int
	NotifyOnRecovery bool
	Value            *decimal.Decimal
	Threshold        *decimal.Decimal
	Details          map[string]string
}

// IdentityKey returns the dedup identity of the issue.
func (i ValidationIssue) IdentityKey() string {
	return string(i.Rule) + "|" + i.BaseAsset + "|" + string(i.Direction)
}

// AlertEventType distinguishes a fresh/repeated alert from a recovery.
type AlertEventType string

const (
	AlertFired     AlertEventType = "alert"
	AlertRecovered AlertEventType = "recovery"
)

// AlertEvent is what the limiter hands the digest builder: the issue plus
// timing metadata.
type AlertEvent struct {
	Type            AlertEventType
	Issue           ValidationIssue
	Repeat          bool
	FirstDetectedAt time.Time
	TriggeredAt     time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Notifications
// ————————————————————————————————————————————————————————————————————————

// Scenario names one logical order outcome. The set is closed: every
// notification the aggregator emits carries exactly one of these.
type Scenario string

const (
	ScenarioSLTPNew              Scenario = "SLTP_NEW"
	ScenarioSLTPPartialTimeout   Scenario = "SLTP_PARTIAL_TIMEOUT"
	ScenarioSLTPPartialCompleted Scenario = "SLTP_PARTIAL_COMPLETED"
	ScenarioSLTPFilled           Scenario = "SLTP_FILLED"
	ScenarioSLTPPartialCanceled  Scenario = "SLTP_PARTIAL_CANCELED"
	ScenarioSLTPCanceled         Scenario = "SLTP_CANCELED"
	ScenarioGeneralTimeout       Scenario = "GENERAL_TIMEOUT"
	ScenarioGeneralAggregated    Scenario = "GENERAL_AGGREGATED"
	ScenarioGeneralSingle        Scenario = "GENERAL_SINGLE"
	ScenarioGeneralPartialCancel Scenario = "GENERAL_PARTIAL_CANCELED"
)

// Notification is the structurally complete payload the aggregator hands to
// the dispatcher. Optional display fields stay empty when not applicable;
// the card renderer omits empty fields.
type Notification struct {
	Event      *OrderEvent
	Scenario   Scenario
	Title      string // "<symbol>-<titleSuffix>"
	StateLabel string // 创建 / 部分成交 / 成交 / 取消
	Source     string // 止盈 / 止损 / 追踪止损 / 其他

	DisplayPrice string

	CumulativeQty          string
	CumulativeQuoteDisplay string // "45000.00 USDT"
	CumulativeQuoteRatio   string // "45.00%"
	TradePnLDisplay        string // "+12.34 USDT"

	LongShortRatioDisplay string // "2.31:1.00" or "∞:1.00"
	LongShortRatioRaw     string // "2.31:1" or "Infinity:1"

	// ExpiryReason is set on EXPIRED life-cycle notifications only.
	ExpiryReason string

	EmittedAt time.Time
}

// QuoteAsset extracts the quote-currency suffix of a trading pair symbol.
// Unknown suffixes fall back to USDT.
func QuoteAsset(symbol string) string {
	for _, q := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "BNB"} {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return q
		}
	}
	return "USDT"
}

// BaseAsset strips the quote asset from a trading pair symbol and uppercases
// the remainder: BTCUSDT → BTC.
func BaseAsset(symbol string) string {
	symbol = strings.ToUpper(symbol)
	q := QuoteAsset(symbol)
	if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
		return symbol[:len(symbol)-len(q)]
	}
	return symbol
}
