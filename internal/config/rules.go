// rules.go loads and resolves the position-rules JSON file.
//
// The file has a `defaults` block plus per-asset `overrides`. Every override
// key is tri-state: absent means inherit from defaults, present-null means
// explicitly unset the rule, present-value means override. Presence is
// detected per key, never by truthiness, so `"maxLeverage": null` disables an
// inherited leverage limit while omitting the key keeps it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetRules is the fully-resolved rule set for one asset. A nil slice or nil
// pointer means the corresponding check is disabled.
type AssetRules struct {
	WhitelistLong  []string
	WhitelistShort []string
	BlacklistLong  []string
	BlacklistShort []string

	MaxLeverage           *decimal.Decimal
	MaxMarginShare        *decimal.Decimal
	FundingThresholdLong  *decimal.Decimal
	FundingThresholdShort *decimal.Decimal
	MinFundingRateDelta   *decimal.Decimal

	CooldownMinutes int
	NotifyRecovery  bool
}

// RuleSet is the loaded rules file: resolved defaults plus raw per-asset
// overrides. TotalMarginUsageLimit is a defaults-only key.
type RuleSet struct {
	Defaults              AssetRules
	TotalMarginUsageLimit *decimal.Decimal
	overrides             map[string]assetOverride
}

// assetOverride holds one asset's raw override block with per-key presence.
type assetOverride struct {
	fields map[string]json.RawMessage
}

func (o *assetOverride) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &o.fields)
}

func (o assetOverride) has(key string) bool {
	_, ok := o.fields[key]
	return ok
}

// LoadRules reads and validates the position-rules JSON file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a rules document.
func ParseRules(data []byte) (*RuleSet, error) {
	var doc struct {
		Defaults  assetOverride            `json:"defaults"`
		Overrides map[string]assetOverride `json:"overrides"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rs := &RuleSet{overrides: make(map[string]assetOverride, len(doc.Overrides))}
	if err := applyOverride(&rs.Defaults, doc.Defaults); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	if doc.Defaults.has("totalMarginUsageLimit") {
		limit, err := decodeNullableDecimal(doc.Defaults.fields["totalMarginUsageLimit"])
		if err != nil {
			return nil, fmt.Errorf("defaults.totalMarginUsageLimit: %w", err)
		}
		if limit != nil && !limit.IsPositive() {
			return nil, fmt.Errorf("defaults.totalMarginUsageLimit must be positive or null")
		}
		rs.TotalMarginUsageLimit = limit
	}

	// Asset ids are uppercased on load so lookups are case-insensitive.
	for asset, ov := range doc.Overrides {
		if ov.has("totalMarginUsageLimit") {
			return nil, fmt.Errorf("override %s: totalMarginUsageLimit is a defaults-only key", asset)
		}
		// Validate each override by resolving it once up front.
		resolved := rs.Defaults
		if err := applyOverride(&resolved, ov); err != nil {
			return nil, fmt.Errorf("override %s: %w", asset, err)
		}
		rs.overrides[strings.ToUpper(asset)] = ov
	}
	return rs, nil
}

// ConfiguredAssets returns the assets that have explicit overrides.
func (rs *RuleSet) ConfiguredAssets() []string {
	assets := make([]string, 0, len(rs.overrides))
	for asset := range rs.overrides {
		assets = append(assets, asset)
	}
	return assets
}

// ResolveFor returns the effective rules for an asset: defaults with the
// asset's override keys applied on top.
func (rs *RuleSet) ResolveFor(asset string) AssetRules {
	resolved := rs.Defaults
	if ov, ok := rs.overrides[strings.ToUpper(asset)]; ok {
		// Overrides were validated at load time.
		_ = applyOverride(&resolved, ov)
	}
	return resolved
}

func applyOverride(dst *AssetRules, ov assetOverride) error {
	for _, f := range []struct {
		key string
		dst *[]string
	}{
		{"whitelistLong", &dst.WhitelistLong},
		{"whitelistShort", &dst.WhitelistShort},
		{"blacklistLong", &dst.BlacklistLong},
		{"blacklistShort", &dst.BlacklistShort},
	} {
		if !ov.has(f.key) {
			continue
		}
		list, err := decodeAssetList(ov.fields[f.key])
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = list
	}

	for _, f := range []struct {
		key      string
		dst      **decimal.Decimal
		validate func(decimal.Decimal) error
	}{
		{"maxLeverage", &dst.MaxLeverage, mustBePositive},
		{"maxMarginShare", &dst.MaxMarginShare, mustBeShare},
		{"fundingThresholdLong", &dst.FundingThresholdLong, nil},
		{"fundingThresholdShort", &dst.FundingThresholdShort, nil},
		{"minFundingRateDelta", &dst.MinFundingRateDelta, mustBeNonNegative},
	} {
		if !ov.has(f.key) {
			continue
		}
		val, err := decodeNullableDecimal(ov.fields[f.key])
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		if val != nil && f.validate != nil {
			if err := f.validate(*val); err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
		}
		*f.dst = val
	}

	if ov.has("cooldownMinutes") {
		var n int
		if err := json.Unmarshal(ov.fields["cooldownMinutes"], &n); err != nil {
			return fmt.Errorf("cooldownMinutes: %w", err)
		}
		if n < 0 {
			return fmt.Errorf("cooldownMinutes must be >= 0")
		}
		dst.CooldownMinutes = n
	}
	if ov.has("notifyRecovery") {
		if err := json.Unmarshal(ov.fields["notifyRecovery"], &dst.NotifyRecovery); err != nil {
			return fmt.Errorf("notifyRecovery: %w", err)
		}
	}
	return nil
}

// decodeAssetList decodes a string array, uppercasing entries. An empty array
// or explicit null both resolve to nil (check disabled).
func decodeAssetList(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = strings.ToUpper(a)
	}
	return out, nil
}

func decodeNullableDecimal(raw json.RawMessage) (*decimal.Decimal, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func mustBePositive(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("must be positive or null")
	}
	return nil
}

func mustBeNonNegative(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("must be >= 0 or null")
	}
	return nil
}

func mustBeShare(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be within 0..1 or null")
	}
	return nil
}
