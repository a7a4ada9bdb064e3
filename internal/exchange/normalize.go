// normalize.go validates raw user-data stream messages and projects them into
// typed OrderEvents. Messages that fail validation are dropped by returning
// nil — the stream carries plenty of event types the monitor does not care
// about, and a malformed message must never take the process down.
package exchange

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/laodaluo/futures-watch/pkg/types"
)

// EventOrderTradeUpdate is the envelope type carrying order updates.
const EventOrderTradeUpdate = "ORDER_TRADE_UPDATE"

// EventListenKeyExpired signals that the server invalidated our listen key.
const EventListenKeyExpired = "listenKeyExpired"

// wireEnvelope is the outer message shape. The combined-stream endpoint wraps
// the payload one level deeper in `data`.
type wireEnvelope struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	TxTime    int64           `json:"T"`
	Order     json.RawMessage `json:"o"`

	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wireOrder is the single-letter-keyed `o` object of ORDER_TRADE_UPDATE.
type wireOrder struct {
	Symbol            string          `json:"s"`
	ClientOrderID     string          `json:"c"`
	OrigClientOrderID string          `json:"C"`
	Side              string          `json:"S"`
	PositionSide      string          `json:"ps"`
	OrderType         string          `json:"o"`
	ExecType          string          `json:"x"`
	Status            string          `json:"X"`
	OrderID           int64           `json:"i"`
	OrigQty           string          `json:"q"`
	CumQty            string          `json:"z"`
	LastQty           string          `json:"l"`
	AvgPrice          string          `json:"ap"`
	LastPrice         string          `json:"L"`
	OrderPrice        string          `json:"p"`
	StopPrice         string          `json:"sp"`
	ActivationPrice   string          `json:"AP"`
	CallbackRate      string          `json:"cr"`
	RealizedPnL       json.RawMessage `json:"rp"`
	IsMaker           bool            `json:"m"`
	TradeTime         int64           `json:"T"`
}

// StreamEventKind tells the stream reader how to route a raw message.
type StreamEventKind int

const (
	StreamEventIgnored StreamEventKind = iota
	StreamEventOrder
	StreamEventListenKeyExpired
)

// InspectMessage peeks at the envelope to classify the message without fully
// decoding it.
func InspectMessage(raw []byte) StreamEventKind {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return StreamEventIgnored
	}
	if env.Event == "" && len(env.Data) > 0 {
		return InspectMessage(env.Data)
	}
	switch env.Event {
	case EventOrderTradeUpdate:
		return StreamEventOrder
	case EventListenKeyExpired:
		return StreamEventListenKeyExpired
	}
	return StreamEventIgnored
}

// NormalizeOrderEvent projects a raw ORDER_TRADE_UPDATE message into a typed
// OrderEvent. Returns nil when the message does not satisfy the schema:
// wrong envelope type, missing order object, or missing identity fields.
func NormalizeOrderEvent(raw []byte) *types.OrderEvent {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	// Combined-stream endpoint nests the payload under `data`.
	if env.Event == "" && len(env.Data) > 0 {
		return NormalizeOrderEvent(env.Data)
	}
	if env.Event != EventOrderTradeUpdate || len(env.Order) == 0 {
		return nil
	}

	var o wireOrder
	if err := json.Unmarshal(env.Order, &o); err != nil {
		return nil
	}
	if o.Symbol == "" || o.OrderID == 0 || o.Status == "" || o.Side == "" {
		return nil
	}

	status := types.OrderStatus(strings.ToUpper(o.Status))
	if status == types.StatusExpiredInMatch {
		status = types.StatusExpired
	}

	tradeTime := o.TradeTime
	if tradeTime == 0 {
		tradeTime = env.TxTime
	}

	return &types.OrderEvent{
		Symbol:            strings.ToUpper(o.Symbol),
		OrderID:           o.OrderID,
		ClientOrderID:     o.ClientOrderID,
		OrigClientOrderID: o.OrigClientOrderID,
		Side:              types.Side(strings.ToUpper(o.Side)),
		PositionSide:      types.PositionSide(strings.ToUpper(o.PositionSide)),
		OrderType:         strings.ToUpper(o.OrderType),
		ExecType:          strings.ToUpper(o.ExecType),
		Status:            status,
		OrigQty:           o.OrigQty,
		CumQty:            o.CumQty,
		LastQty:           o.LastQty,
		AvgPrice:          o.AvgPrice,
		LastPrice:         o.LastPrice,
		OrderPrice:        o.OrderPrice,
		StopPrice:         o.StopPrice,
		ActivationPrice:   o.ActivationPrice,
		CallbackRate:      o.CallbackRate,
		RealizedPnL:       decodeRealizedPnL(o.RealizedPnL),
		IsMaker:           o.IsMaker,
		TradeTime:         time.UnixMilli(tradeTime),
		EventTime:         time.UnixMilli(env.EventTime),
	}
}

// decodeRealizedPnL accepts both string and bare-number encodings of `rp`.
func decodeRealizedPnL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
