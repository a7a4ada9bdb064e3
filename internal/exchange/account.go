// account.go assembles the validator's account view from three REST calls:
// margin totals, per-position risk, and the premium index (for predicted
// funding rates). Zero-amount, zero-notional position rows are dropped.
package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/laodaluo/futures-watch/pkg/types"
)

// FetchAccountContext fetches and assembles a full AccountContext snapshot.
func (c *Client) FetchAccountContext(ctx context.Context) (*types.AccountContext, error) {
	account, err := c.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	risks, err := c.GetPositionRisk(ctx)
	if err != nil {
		return nil, err
	}

	// Funding rates are best-effort: a premium-index failure leaves every
	// snapshot's rate nil and the rule engine reports data_missing.
	funding := map[string]decimal.Decimal{}
	premium, err := c.GetPremiumIndex(ctx)
	if err != nil {
		c.logger.Warn("premium index fetch failed, funding rates unavailable", "error", err)
	} else {
		for _, p := range premium {
			if rate, err := decimal.NewFromString(p.LastFundingRate); err == nil {
				funding[p.Symbol] = rate
			}
		}
	}

	out := &types.AccountContext{
		TotalInitialMargin: parseDecimal(account.TotalInitialMargin),
		TotalMarginBalance: parseDecimal(account.TotalMarginBalance),
		AvailableBalance:   parseDecimal(account.AvailableBalance),
		FetchedAt:          time.Now(),
	}

	for _, entry := range risks {
		snap, ok := buildSnapshot(entry, funding)
		if !ok {
			continue
		}
		out.Positions = append(out.Positions, snap)
	}
	return out, nil
}

// buildSnapshot converts one positionRisk row. Returns ok=false for rows with
// neither quantity nor notional.
func buildSnapshot(entry PositionRiskEntry, funding map[string]decimal.Decimal) (types.PositionSnapshot, bool) {
	amount := parseDecimal(entry.PositionAmt)
	notional := parseDecimal(entry.Notional).Abs()
	if amount.IsZero() && notional.IsZero() {
		return types.PositionSnapshot{}, false
	}

	snap := types.PositionSnapshot{
		BaseAsset:  types.BaseAsset(strings.ToUpper(entry.Symbol)),
		Symbol:     strings.ToUpper(entry.Symbol),
		Direction:  resolveDirection(entry.PositionSide, amount),
		Amount:     amount,
		Notional:   notional,
		Leverage:   parseDecimal(entry.Leverage),
		InitMargin: parseDecimal(entry.InitialMargin),
		IsoMargin:  parseDecimal(entry.IsolatedMargin),
		MarginType: strings.ToLower(entry.MarginType),
		MarkPrice:  parseDecimal(entry.MarkPrice),
		UpdatedAt:  time.UnixMilli(entry.UpdateTime),
	}
	if rate, ok := funding[snap.Symbol]; ok {
		snap.PredictedFundingRate = &rate
	}
	return snap, true
}

// resolveDirection maps the hedge-mode position side to long/short; one-way
// mode (BOTH) falls back to the sign of the position amount.
func resolveDirection(positionSide string, amount decimal.Decimal) types.Direction {
	switch strings.ToUpper(positionSide) {
	case "LONG":
		return types.DirLong
	case "SHORT":
		return types.DirShort
	}
	if amount.IsNegative() {
		return types.DirShort
	}
	return types.DirLong
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
