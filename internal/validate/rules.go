// Package validate implements the position validation engine: the rule
// battery over account state (rules.go), the cooldown-aware alert limiter
// (limiter.go), the per-symbol market metrics fetcher (metrics.go), and the
// periodic service that ties them to the alert webhook (service.go).
package validate

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/internal/config"
	"github.com/laodaluo/futures-watch/pkg/types"
)

// Fixed per-symbol market thresholds for this release.
var (
	oiShareThreshold = decimal.RequireFromString("0.02")
	minOpenInterest  = decimal.NewFromInt(2_000_000)
	minMarketCap     = decimal.NewFromInt(50_000_000)
	minVolume24h     = decimal.NewFromInt(1_000_000)
	maxHHI           = decimal.RequireFromString("0.2")
)

// Chinese labels for missing market observations.
var metricLabels = map[string]string{
	"openInterestNotional": "持仓量",
	"marketCap":            "市值",
	"volume24h":            "24小时成交量",
	"hhi":                  "集中度",
}

// Engine evaluates the rule battery. Evaluation is deterministic and
// idempotent: the same inputs always yield the same issue list in the same
// order.
type Engine struct {
	rules  *config.RuleSet
	logger *slog.Logger
}

// NewEngine creates a rule engine over a loaded rule set.
func NewEngine(rules *config.RuleSet, logger *slog.Logger) *Engine {
	return &Engine{rules: rules, logger: logger.With("component", "rules")}
}

// Evaluate runs every check against the account and the (possibly partial)
// market metrics. The asset sequence is the union of configured assets and
// assets with open positions, sorted for determinism; per-asset checks run
// first, then account-wide, then per-symbol market checks.
func (e *Engine) Evaluate(acct *types.AccountContext, metrics map[string]types.SymbolMetrics) []types.ValidationIssue {
	var issues []types.ValidationIssue

	byAsset := groupPositions(acct.Positions)

	assets := e.rules.ConfiguredAssets()
	for asset := range byAsset {
		if !slices.Contains(assets, asset) {
			assets = append(assets, asset)
		}
	}
	slices.Sort(assets)

	for _, asset := range assets {
		issues = append(issues, e.evaluateAsset(asset, byAsset[asset], acct)...)
	}
	issues = append(issues, e.evaluateAccount(acct)...)
	issues = append(issues, e.evaluateSymbols(acct, metrics)...)
	return issues
}

func groupPositions(positions []types.PositionSnapshot) map[string][]types.PositionSnapshot {
	byAsset := make(map[string][]types.PositionSnapshot)
	for _, pos := range positions {
		byAsset[pos.BaseAsset] = append(byAsset[pos.BaseAsset], pos)
	}
	return byAsset
}

// ————————————————————————————————————————————————————————————————————————
// Per-asset checks
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) evaluateAsset(asset string, positions []types.PositionSnapshot, acct *types.AccountContext) []types.ValidationIssue {
	rules := e.rules.ResolveFor(asset)
	var issues []types.ValidationIssue

	issue := func(rule types.Rule, dir types.Direction, sev types.Severity, msg string) types.ValidationIssue {
		return types.ValidationIssue{
			Rule:             rule,
			BaseAsset:        asset,
			Direction:        dir,
			Severity:         sev,
			Message:          msg,
			CooldownMinutes:  rules.CooldownMinutes,
			NotifyOnRecovery: rules.NotifyRecovery,
		}
	}

	hasLong := hasDirection(positions, types.DirLong)
	hasShort := hasDirection(positions, types.DirShort)

	// 1. Contradictory configuration: the asset sits in both its own
	// direction's whitelist and blacklist.
	if slices.Contains(rules.WhitelistLong, asset) && slices.Contains(rules.BlacklistLong, asset) {
		issues = append(issues, issue(types.RuleConfigError, types.DirLong, types.SeverityCritical,
			fmt.Sprintf("%s 同时出现在多头白名单与黑名单", asset)))
	}
	if slices.Contains(rules.WhitelistShort, asset) && slices.Contains(rules.BlacklistShort, asset) {
		issues = append(issues, issue(types.RuleConfigError, types.DirShort, types.SeverityCritical,
			fmt.Sprintf("%s 同时出现在空头白名单与黑名单", asset)))
	}

	// 2. Whitelist: a defined list the asset is not on.
	if rules.WhitelistLong != nil && !slices.Contains(rules.WhitelistLong, asset) && hasLong {
		issues = append(issues, issue(types.RuleWhitelistViolation, types.DirLong, types.SeverityCritical,
			fmt.Sprintf("%s 多头持仓不在白名单内", asset)))
	}
	if rules.WhitelistShort != nil && !slices.Contains(rules.WhitelistShort, asset) && hasShort {
		issues = append(issues, issue(types.RuleWhitelistViolation, types.DirShort, types.SeverityCritical,
			fmt.Sprintf("%s 空头持仓不在白名单内", asset)))
	}

	// 3. Blacklist.
	if slices.Contains(rules.BlacklistLong, asset) && hasLong {
		issues = append(issues, issue(types.RuleBlacklistViolation, types.DirLong, types.SeverityCritical,
			fmt.Sprintf("%s 多头持仓触发黑名单", asset)))
	}
	if slices.Contains(rules.BlacklistShort, asset) && hasShort {
		issues = append(issues, issue(types.RuleBlacklistViolation, types.DirShort, types.SeverityCritical,
			fmt.Sprintf("%s 空头持仓触发黑名单", asset)))
	}

	// 4. Leverage, per position.
	if rules.MaxLeverage != nil {
		for _, pos := range positions {
			if pos.Leverage.GreaterThan(*rules.MaxLeverage) {
				iss := issue(types.RuleLeverageLimit, pos.Direction, types.SeverityWarning,
					fmt.Sprintf("%s %s杠杆 %s 超过上限 %s", asset, directionLabel(pos.Direction), pos.Leverage, rules.MaxLeverage))
				iss.Value = decPtr(pos.Leverage)
				iss.Threshold = rules.MaxLeverage
				issues = append(issues, iss)
			}
		}
	}

	// 5. Margin share, per direction.
	if rules.MaxMarginShare != nil && acct.TotalMarginBalance.IsPositive() {
		for _, dir := range []types.Direction{types.DirLong, types.DirShort} {
			share := marginSum(positions, dir).Div(acct.TotalMarginBalance)
			if share.GreaterThan(*rules.MaxMarginShare) {
				iss := issue(types.RuleMarginShareLimit, dir, types.SeverityWarning,
					fmt.Sprintf("%s %s保证金占比 %s%% 超过上限 %s%%",
						asset, directionLabel(dir), percent(share), percent(*rules.MaxMarginShare)))
				iss.Value = decPtr(share)
				iss.Threshold = rules.MaxMarginShare
				issues = append(issues, iss)
			}
		}
	}

	// 6. Funding rate, per position. A nil predicted rate is a missing
	// observation, not a pass.
	for _, pos := range positions {
		var threshold *decimal.Decimal
		exceeds := false
		switch pos.Direction {
		case types.DirShort:
			threshold = rules.FundingThresholdShort
			if threshold != nil && pos.PredictedFundingRate != nil {
				exceeds = pos.PredictedFundingRate.LessThan(*threshold)
			}
		case types.DirLong:
			threshold = rules.FundingThresholdLong
			if threshold != nil && pos.PredictedFundingRate != nil {
				exceeds = pos.PredictedFundingRate.GreaterThan(*threshold)
			}
		}
		if threshold == nil {
			continue
		}
		if pos.PredictedFundingRate == nil {
			iss := issue(types.RuleDataMissing, pos.Direction, types.SeverityWarning,
				fmt.Sprintf("%s 缺少预期资金费率", pos.Symbol))
			iss.Details = map[string]string{"缺失字段": "预期资金费率"}
			issues = append(issues, iss)
			continue
		}
		if exceeds {
			iss := issue(types.RuleFundingRateLimit, pos.Direction, types.SeverityWarning,
				fmt.Sprintf("%s %s资金费率 %s 超出阈值 %s",
					pos.Symbol, directionLabel(pos.Direction), pos.PredictedFundingRate, threshold))
			iss.Value = pos.PredictedFundingRate
			iss.Threshold = threshold
			issues = append(issues, iss)
		}
	}

	return issues
}

// ————————————————————————————————————————————————————————————————————————
// Account-wide checks
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) evaluateAccount(acct *types.AccountContext) []types.ValidationIssue {
	defaults := e.rules.Defaults

	// 7. A non-positive margin balance means the account fetch is unusable;
	// every ratio below would divide by it.
	if !acct.TotalMarginBalance.IsPositive() {
		return []types.ValidationIssue{{
			Rule:             types.RuleDataMissing,
			BaseAsset:        types.AccountAsset,
			Direction:        types.DirGlobal,
			Severity:         types.SeverityCritical,
			Message:          "账户总保证金余额无效",
			CooldownMinutes:  defaults.CooldownMinutes,
			NotifyOnRecovery: defaults.NotifyRecovery,
			Details:          map[string]string{"缺失字段": "总保证金余额"},
		}}
	}

	// 8. Total margin usage.
	if limit := e.rules.TotalMarginUsageLimit; limit != nil {
		total := decimal.Zero
		for _, pos := range acct.Positions {
			total = total.Add(pos.InitMargin.Abs())
		}
		usage := total.Div(acct.TotalMarginBalance)
		if usage.GreaterThan(*limit) {
			return []types.ValidationIssue{{
				Rule:             types.RuleTotalMarginUsage,
				BaseAsset:        types.AccountAsset,
				Direction:        types.DirGlobal,
				Severity:         types.SeverityCritical,
				Message:          fmt.Sprintf("总保证金使用率 %s%% 超过上限 %s%%", percent(usage), percent(*limit)),
				CooldownMinutes:  defaults.CooldownMinutes,
				NotifyOnRecovery: defaults.NotifyRecovery,
				Value:            decPtr(usage),
				Threshold:        limit,
			}}
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Per-symbol market checks
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) evaluateSymbols(acct *types.AccountContext, metrics map[string]types.SymbolMetrics) []types.ValidationIssue {
	bySymbol := make(map[string][]types.PositionSnapshot)
	for _, pos := range acct.Positions {
		bySymbol[pos.Symbol] = append(bySymbol[pos.Symbol], pos)
	}

	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	slices.Sort(symbols)

	var issues []types.ValidationIssue
	for _, symbol := range symbols {
		issues = append(issues, e.evaluateSymbol(symbol, bySymbol[symbol], metrics[symbol])...)
	}
	return issues
}

func (e *Engine) evaluateSymbol(symbol string, positions []types.PositionSnapshot, m types.SymbolMetrics) []types.ValidationIssue {
	asset := types.BaseAsset(symbol)
	rules := e.rules.ResolveFor(asset)
	var issues []types.ValidationIssue

	issue := func(rule types.Rule, sev types.Severity, msg string, value, threshold decimal.Decimal) types.ValidationIssue {
		return types.ValidationIssue{
			Rule:             rule,
			BaseAsset:        asset,
			Direction:        types.DirGlobal,
			Severity:         sev,
			Message:          msg,
			CooldownMinutes:  rules.CooldownMinutes,
			NotifyOnRecovery: rules.NotifyRecovery,
			Value:            decPtr(value),
			Threshold:        decPtr(threshold),
		}
	}

	var missing []string

	// 9/10. Open interest share and floor.
	if m.OpenInterestNotional == nil {
		missing = append(missing, "openInterestNotional")
	} else {
		totalNotional := decimal.Zero
		for _, pos := range positions {
			totalNotional = totalNotional.Add(pos.Notional.Abs())
		}
		if m.OpenInterestNotional.IsPositive() {
			share := totalNotional.Div(*m.OpenInterestNotional)
			if share.GreaterThan(oiShareThreshold) {
				issues = append(issues, issue(types.RuleOIShareLimit, types.SeverityCritical,
					fmt.Sprintf("%s 持仓占全市场持仓量 %s%%，超过 %s%%", symbol, percent(share), percent(oiShareThreshold)),
					share, oiShareThreshold))
			}
		}
		if m.OpenInterestNotional.LessThan(minOpenInterest) {
			issues = append(issues, issue(types.RuleOIMinimum, types.SeverityWarning,
				fmt.Sprintf("%s 全市场持仓量 %s 低于下限 %s", symbol, m.OpenInterestNotional, minOpenInterest),
				*m.OpenInterestNotional, minOpenInterest))
		}
	}

	// 11. Market cap floor.
	if m.MarketCap == nil {
		missing = append(missing, "marketCap")
	} else if m.MarketCap.LessThan(minMarketCap) {
		issues = append(issues, issue(types.RuleMarketCapMinimum, types.SeverityWarning,
			fmt.Sprintf("%s 市值 %s 低于下限 %s", asset, m.MarketCap, minMarketCap),
			*m.MarketCap, minMarketCap))
	}

	// 12. 24h volume floor.
	if m.Volume24h == nil {
		missing = append(missing, "volume24h")
	} else if m.Volume24h.LessThan(minVolume24h) {
		issues = append(issues, issue(types.RuleVolume24hMinimum, types.SeverityWarning,
			fmt.Sprintf("%s 24小时成交量 %s 低于下限 %s", asset, m.Volume24h, minVolume24h),
			*m.Volume24h, minVolume24h))
	}

	// 13. Concentration ceiling.
	if m.HHI == nil {
		missing = append(missing, "hhi")
	} else if m.HHI.GreaterThan(maxHHI) {
		issues = append(issues, issue(types.RuleConcentrationHHI, types.SeverityWarning,
			fmt.Sprintf("%s 集中度 %s 超过上限 %s", asset, m.HHI, maxHHI),
			*m.HHI, maxHHI))
	}

	// 14. One data_missing issue naming every absent observation.
	if len(missing) > 0 {
		labels := make([]string, len(missing))
		for i, field := range missing {
			labels[i] = metricLabels[field]
		}
		issues = append(issues, types.ValidationIssue{
			Rule:             types.RuleDataMissing,
			BaseAsset:        asset,
			Direction:        types.DirGlobal,
			Severity:         types.SeverityWarning,
			Message:          fmt.Sprintf("%s 市场数据缺失: %s", symbol, strings.Join(labels, "、")),
			CooldownMinutes:  rules.CooldownMinutes,
			NotifyOnRecovery: rules.NotifyRecovery,
			Details:          map[string]string{"缺失字段": strings.Join(labels, "、")},
		})
	}

	return issues
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

func hasDirection(positions []types.PositionSnapshot, dir types.Direction) bool {
	for _, pos := range positions {
		if pos.Direction == dir {
			return true
		}
	}
	return false
}

func marginSum(positions []types.PositionSnapshot, dir types.Direction) decimal.Decimal {
	sum := decimal.Zero
	for _, pos := range positions {
		if pos.Direction == dir {
			sum = sum.Add(pos.InitMargin.Abs())
		}
	}
	return sum
}

func directionLabel(dir types.Direction) string {
	switch dir {
	case types.DirLong:
		return "多头"
	case types.DirShort:
		return "空头"
	}
	return string(dir)
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).Round(2).String()
}

func decPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
