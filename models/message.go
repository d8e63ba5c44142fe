package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MessageKind tags the payload carried in an Envelope.
type MessageKind string

const (
	KindTrade     MessageKind = "trade"
	KindOrderBook MessageKind = "orderbook"
	KindTicker    MessageKind = "ticker"
	KindCandle    MessageKind = "candle"
	KindDepth     MessageKind = "depth"
	KindHeartbeat MessageKind = "heartbeat"
)

var (
	ErrEmptyPayload       = errors.New("empty message payload")
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrInvalidUTF8        = errors.New("frame is not valid utf-8")
	ErrInvalidPayload     = errors.New("invalid message payload")
)

// requiredFields lists the payload keys each kind must carry. A missing or
// null key makes the frame a decode failure instead of a zero value.
var requiredFields = map[MessageKind][]string{
	KindTrade:     {"id", "symbol", "price", "quantity", "side", "timestamp"},
	KindOrderBook: {"symbol", "bids", "asks", "timestamp"},
	KindTicker:    {"symbol", "last_price", "timestamp"},
	KindCandle:    {"symbol", "interval", "timestamp", "open", "high", "low", "close", "volume"},
	KindDepth:     {"symbol", "bid_depth", "ask_depth"},
	KindHeartbeat: {"timestamp"},
}

// Envelope is the wire frame: {"type": kind, "data": payload}.
type Envelope struct {
	Type MessageKind     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Heartbeat carries the sender clock in milliseconds.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// Message is a decoded envelope. Exactly one payload field is set, matching Kind.
type Message struct {
	Kind      MessageKind
	Trade     *Trade
	OrderBook *OrderBookSnapshot
	Ticker    *Ticker
	Candle    *Candle
	Depth     *MarketDepth
	Heartbeat *Heartbeat
}

// DecodeMessage parses one frame. Unknown kinds and payloads that do not
// match their kind are errors; the caller decides whether to skip them.
func DecodeMessage(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return Message{}, ErrEmptyPayload
	}
	if !utf8.Valid(frame) {
		return Message{}, ErrInvalidUTF8
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Message{}, fmt.Errorf("%s: %w", env.Type, ErrEmptyPayload)
	}

	msg := Message{Kind: env.Type}
	var target interface{}
	switch env.Type {
	case KindTrade:
		msg.Trade = &Trade{}
		target = msg.Trade
	case KindOrderBook:
		msg.OrderBook = &OrderBookSnapshot{}
		target = msg.OrderBook
	case KindTicker:
		msg.Ticker = &Ticker{}
		target = msg.Ticker
	case KindCandle:
		msg.Candle = &Candle{}
		target = msg.Candle
	case KindDepth:
		msg.Depth = &MarketDepth{}
		target = msg.Depth
	case KindHeartbeat:
		msg.Heartbeat = &Heartbeat{}
		target = msg.Heartbeat
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageKind, env.Type)
	}

	if err := checkRequired(env.Type, env.Data); err != nil {
		return Message{}, err
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return Message{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	if err := msg.validate(); err != nil {
		return Message{}, fmt.Errorf("%s: %w: %v", env.Type, ErrInvalidPayload, err)
	}
	return msg, nil
}

func checkRequired(kind MessageKind, data json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%s: %w: payload is not an object", kind, ErrInvalidPayload)
	}
	for _, key := range requiredFields[kind] {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			return fmt.Errorf("%s: %w: missing %q", kind, ErrInvalidPayload, key)
		}
	}
	return nil
}

// validate rejects payloads that parse but would break store invariants.
func (m Message) validate() error {
	switch m.Kind {
	case KindTrade:
		if m.Trade.ID == "" || m.Trade.Symbol == "" {
			return errors.New("trade needs id and symbol")
		}
		if m.Trade.Timestamp.IsZero() {
			return errors.New("trade needs a timestamp")
		}
	case KindOrderBook:
		if m.OrderBook.Symbol == "" {
			return errors.New("order book needs a symbol")
		}
		if err := checkLevels(m.OrderBook.Bids); err != nil {
			return fmt.Errorf("bids: %w", err)
		}
		if err := checkLevels(m.OrderBook.Asks); err != nil {
			return fmt.Errorf("asks: %w", err)
		}
	case KindTicker:
		if m.Ticker.Symbol == "" {
			return errors.New("ticker needs a symbol")
		}
	case KindCandle:
		if m.Candle.Symbol == "" {
			return errors.New("candle needs a symbol")
		}
	case KindDepth:
		if m.Depth.Symbol == "" {
			return errors.New("depth needs a symbol")
		}
		if err := checkCumulative(m.Depth.BidDepth); err != nil {
			return fmt.Errorf("bid depth: %w", err)
		}
		if err := checkCumulative(m.Depth.AskDepth); err != nil {
			return fmt.Errorf("ask depth: %w", err)
		}
	}
	return nil
}

func checkLevels(levels []OrderBookLevel) error {
	for i, l := range levels {
		if !(l.Quantity > 0) {
			return fmt.Errorf("level %d has non-positive quantity %v", i, l.Quantity)
		}
	}
	return nil
}

func checkCumulative(points []DepthPoint) error {
	prev := 0.0
	for i, p := range points {
		if !(p.CumulativeQuantity >= prev) {
			return fmt.Errorf("point %d decreases cumulative quantity", i)
		}
		prev = p.CumulativeQuantity
	}
	return nil
}

// EncodeMessage wraps payload in an envelope of the given kind.
func EncodeMessage(kind MessageKind, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Type: kind, Data: data})
}

// ConnectionState is the observable state of the feed connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateStopped      ConnectionState = "stopped"
)

func (s ConnectionState) IsConnected() bool { return s == StateConnected }

// Label is the status text shown next to the connection indicator.
func (s ConnectionState) Label() string {
	switch s {
	case StateConnecting:
		return "Connecting..."
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting..."
	case StateStopped:
		return "Stopped"
	}
	return "Disconnected"
}
