// card.go renders typed notifications into interactive-card JSON. The card
// schema is what the chat platform expects; everything upstream of this file
// works with typed structs and treats the payload as opaque.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/laodaluo/futures-watch/pkg/types"
)

// Header color templates.
const (
	colorBlue   = "blue"
	colorGreen  = "green"
	colorOrange = "orange"
	colorRed    = "red"
)

// Card is the interactive-card wire shape.
type Card struct {
	MsgType string   `json:"msg_type"`
	Card    CardBody `json:"card"`
}

type CardBody struct {
	Header   CardHeader    `json:"header"`
	Elements []CardElement `json:"elements"`
}

type CardHeader struct {
	Template string   `json:"template"`
	Title    CardText `json:"title"`
}

type CardElement struct {
	Tag  string    `json:"tag"`
	Text *CardText `json:"text,omitempty"`
}

type CardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

func markdownElement(content string) CardElement {
	return CardElement{Tag: "div", Text: &CardText{Tag: "lark_md", Content: content}}
}

// statusColor picks the header template for an order notification.
func statusColor(status types.OrderStatus) string {
	switch status {
	case types.StatusFilled:
		return colorGreen
	case types.StatusCanceled, types.StatusExpired, types.StatusRejected:
		return colorOrange
	default:
		return colorBlue
	}
}

// BuildOrderCard renders one order notification.
func BuildOrderCard(n types.Notification) Card {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("**%s**: %s", label, value))
		}
	}

	evt := n.Event
	add("状态", n.StateLabel)
	add("来源", n.Source)
	add("方向", directionLabel(evt))
	add("价格", n.DisplayPrice)
	add("成交数量", n.CumulativeQty)
	add("成交金额", n.CumulativeQuoteDisplay)
	add("资金占比", n.CumulativeQuoteRatio)
	add("已实现盈亏", n.TradePnLDisplay)
	add("多空比", n.LongShortRatioDisplay)
	if n.ExpiryReason != "" {
		add("过期原因", n.ExpiryReason)
	}
	add("时间", evt.TradeTime.Format("2006-01-02 15:04:05"))

	return Card{
		MsgType: "interactive",
		Card: CardBody{
			Header: CardHeader{
				Template: statusColor(evt.Status),
				Title:    CardText{Tag: "plain_text", Content: n.Title + " " + n.StateLabel},
			},
			Elements: []CardElement{markdownElement(strings.Join(lines, "\n"))},
		},
	}
}

func directionLabel(evt *types.OrderEvent) string {
	switch evt.Side {
	case types.BUY:
		return "买入"
	case types.SELL:
		return "卖出"
	}
	return string(evt.Side)
}

// ————————————————————————————————————————————————————————————————————————
// Validation digest card
// ————————————————————————————————————————————————————————————————————————

// ruleLabels translates rule names for the digest card.
var ruleLabels = map[types.Rule]string{
	types.RuleWhitelistViolation: "白名单限制",
	types.RuleBlacklistViolation: "黑名单限制",
	types.RuleConfigError:        "配置错误",
	types.RuleLeverageLimit:      "杠杆超限",
	types.RuleMarginShareLimit:   "保证金占比超限",
	types.RuleTotalMarginUsage:   "总保证金使用率超限",
	types.RuleFundingRateLimit:   "资金费率超限",
	types.RuleDataMissing:        "数据缺失",
	types.RuleOIShareLimit:       "持仓占比超限",
	types.RuleOIMinimum:          "持仓量过低",
	types.RuleMarketCapMinimum:   "市值过低",
	types.RuleVolume24hMinimum:   "成交量过低",
	types.RuleConcentrationHHI:   "集中度过高",
}

// RuleLabel returns the translated name of a rule.
func RuleLabel(rule types.Rule) string {
	if label, ok := ruleLabels[rule]; ok {
		return label
	}
	return string(rule)
}

// DigestColor derives the header color for a batch of alert events:
// green iff every event is a recovery, red when any critical alert remains,
// orange for warnings, blue as the fallback.
func DigestColor(events []types.AlertEvent) string {
	if len(events) == 0 {
		return colorBlue
	}
	allRecovery := true
	anyCritical := false
	anyWarning := false
	for _, e := range events {
		if e.Type == types.AlertRecovered {
			continue
		}
		allRecovery = false
		switch e.Issue.Severity {
		case types.SeverityCritical:
			anyCritical = true
		case types.SeverityWarning:
			anyWarning = true
		}
	}
	switch {
	case allRecovery:
		return colorGreen
	case anyCritical:
		return colorRed
	case anyWarning:
		return colorOrange
	default:
		return colorBlue
	}
}

// BuildDigestCard renders one validation tick's alert and recovery events
// into a single card.
func BuildDigestCard(events []types.AlertEvent) Card {
	var sections []string
	for _, e := range events {
		status := "告警"
		if e.Type == types.AlertRecovered {
			status = "恢复"
		}

		var lines []string
		lines = append(lines, fmt.Sprintf("**[%s] %s · %s**", status, e.Issue.BaseAsset, RuleLabel(e.Issue.Rule)))
		if e.Issue.Direction != types.DirGlobal {
			lines = append(lines, fmt.Sprintf("方向: %s", e.Issue.Direction))
		}
		if e.Issue.Message != "" {
			lines = append(lines, e.Issue.Message)
		}
		if e.Issue.Value != nil && e.Issue.Threshold != nil {
			lines = append(lines, fmt.Sprintf("当前值: %s / 阈值: %s", e.Issue.Value, e.Issue.Threshold))
		}
		for k, v := range e.Issue.Details {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
		lines = append(lines, fmt.Sprintf("首次发现: %s / 触发: %s",
			e.FirstDetectedAt.Format(time.DateTime), e.TriggeredAt.Format(time.DateTime)))
		sections = append(sections, strings.Join(lines, "\n"))
	}

	return Card{
		MsgType: "interactive",
		Card: CardBody{
			Header: CardHeader{
				Template: DigestColor(events),
				Title:    CardText{Tag: "plain_text", Content: "持仓校验报告"},
			},
			Elements: []CardElement{markdownElement(strings.Join(sections, "\n\n"))},
		},
	}
}
