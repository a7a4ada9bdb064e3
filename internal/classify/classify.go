// Package classify maps client-order-id prefixes to order categories.
//
// The account's own tooling encodes order intent in the client order id:
//
//	TP / TP3   — take-profit (lone TP is the moving-stop umbrella, TP<n> a ladder tier)
//	SL / SL2   — hard stop-loss, optionally tiered
//	FT         — follow/trailing trade stop
//	TW_<frame> — time-window stop bound to a chart time frame (TW_4H, TW_1D, ...)
//
// Anything else is OTHER. Classification is a pure function of the id string.
package classify

import (
	"strconv"
	"strings"
	"unicode"
)

// Kind is the recognized order family.
type Kind string

const (
	KindTP    Kind = "TP"
	KindSL    Kind = "SL"
	KindFT    Kind = "FT"
	KindTW    Kind = "TW"
	KindOther Kind = "OTHER"
)

// Source labels shown in card bodies.
const (
	SourceTakeProfit   = "止盈"
	SourceStopLoss     = "止损"
	SourceTrailingStop = "追踪止损"
	SourceOther        = "其他"
)

// Category is the classification result for one client order id.
type Category struct {
	Kind Kind
	// Level is the ladder tier parsed from TP<n>/SL<n>; nil for lone TP/SL,
	// FT, TW and OTHER.
	Level *int
	// TimeFrame is the chart frame parsed from TW_<frame>; empty otherwise.
	TimeFrame string
}

// Source returns the card body label for the category.
func (c Category) Source() string {
	switch c.Kind {
	case KindTP:
		return SourceTakeProfit
	case KindSL:
		return SourceStopLoss
	case KindFT, KindTW:
		return SourceTrailingStop
	default:
		return SourceOther
	}
}

// StopLike reports whether the category routes through the stop-order branch
// of the aggregator.
func (c Category) StopLike() bool {
	return c.Kind != KindOther
}

// TitleSuffix returns the card header suffix. The full card title is
// "<symbol>-<suffix>".
func (c Category) TitleSuffix() string {
	switch c.Kind {
	case KindTP:
		if c.Level != nil {
			return "移动止损第" + strconv.Itoa(*c.Level) + "档"
		}
		return "止盈"
	case KindSL:
		if c.Level != nil {
			return "硬止损第" + strconv.Itoa(*c.Level) + "档"
		}
		return "硬止损单"
	case KindFT:
		return "跟踪交易止损"
	case KindTW:
		if c.TimeFrame != "" {
			return c.TimeFrame + " 时间周期止损单"
		}
		return "时间周期止损单"
	default:
		return "其他"
	}
}

// Classify parses a client order id into a Category. Input is trimmed and
// uppercased; prefixes are tested in priority order (TW_ before TP/SL so a
// hypothetical "TW_..." id never matches the bare prefixes).
func Classify(clientOrderID string) Category {
	id := strings.ToUpper(strings.TrimSpace(clientOrderID))

	if frame, ok := strings.CutPrefix(id, "TW_"); ok {
		return Category{Kind: KindTW, TimeFrame: leadingToken(frame)}
	}
	if rest, ok := strings.CutPrefix(id, "TP"); ok {
		return Category{Kind: KindTP, Level: leadingDigits(rest)}
	}
	if rest, ok := strings.CutPrefix(id, "SL"); ok {
		return Category{Kind: KindSL, Level: leadingDigits(rest)}
	}
	if strings.HasPrefix(id, "FT") {
		return Category{Kind: KindFT}
	}
	return Category{Kind: KindOther}
}

// leadingDigits parses the digit run at the start of s; nil when s does not
// begin with a digit.
func leadingDigits(s string) *int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return nil
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return nil
	}
	return &n
}

// leadingToken returns the substring up to the next separator (underscore,
// dash, or any non-alphanumeric rune).
func leadingToken(s string) string {
	for i, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return s[:i]
		}
	}
	return s
}
