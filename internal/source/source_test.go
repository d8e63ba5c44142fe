package source

import (
	"context"
	"sync"
	"testing"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"dashflow/config"
	"dashflow/models"
)

type collectSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *collectSink) Publish(_ context.Context, f Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *collectSink) kinds() map[models.MessageKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[models.MessageKind]int{}
	for _, f := range s.frames {
		out[f.Kind]++
	}
	return out
}

func TestNewSelectsSource(t *testing.T) {
	cfg := config.Default().Server

	src, err := New(cfg, nil)
	if err != nil || src.Name() != "mock" {
		t.Fatalf("expected mock source, got %v, %v", src, err)
	}

	cfg.Source = "binance"
	if src, err = New(cfg, nil); err != nil || src.Name() != "binance" {
		t.Fatalf("expected binance source, got %v, %v", src, err)
	}

	cfg.Source = "coinbase"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestMockOrderBookShape(t *testing.T) {
	m := NewMock(MockOptions{Symbol: "ETH-USD", InitialPrice: 3000, BookLevels: 10, Seed: 7}, nil)
	book := m.nextOrderBook(time.UnixMilli(1000))

	if len(book.Bids) != 10 || len(book.Asks) != 10 {
		t.Fatalf("expected 10 levels per side, got %d/%d", len(book.Bids), len(book.Asks))
	}
	for i := 1; i < len(book.Bids); i++ {
		if book.Bids[i].Price >= book.Bids[i-1].Price {
			t.Fatalf("bids not descending at %d", i)
		}
		if book.Asks[i].Price <= book.Asks[i-1].Price {
			t.Fatalf("asks not ascending at %d", i)
		}
	}
	if book.Bids[0].Price >= book.Asks[0].Price {
		t.Fatal("book is crossed")
	}
	if next := m.nextOrderBook(time.UnixMilli(2000)); next.Sequence != book.Sequence+1 {
		t.Fatalf("sequence did not advance: %d -> %d", book.Sequence, next.Sequence)
	}
}

func TestMockIsDeterministicForSeed(t *testing.T) {
	a := NewMock(MockOptions{Seed: 42}, nil)
	b := NewMock(MockOptions{Seed: 42}, nil)
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 20; i++ {
		ta, tb := a.nextTrade(now), b.nextTrade(now)
		if ta.Price != tb.Price || ta.Quantity != tb.Quantity || ta.Side != tb.Side {
			t.Fatalf("trade %d differs for equal seeds", i)
		}
		if ta.ID == tb.ID {
			t.Fatal("trade ids should be unique")
		}
		if ta.Price < mockPriceFloor || ta.Quantity > 10 {
			t.Fatalf("trade out of bounds: %+v", ta)
		}
	}
}

func TestMockCandleRollsOnBucketChange(t *testing.T) {
	m := NewMock(MockOptions{Seed: 1}, nil)
	base := time.UnixMilli(1_700_000_040_000)

	t1 := models.Trade{Price: 100, Quantity: 1}
	if closed := m.rollCandle(t1, base); closed != nil {
		t.Fatal("first trade should only open a candle")
	}
	t2 := models.Trade{Price: 105, Quantity: 2}
	if closed := m.rollCandle(t2, base.Add(time.Second)); closed != nil {
		t.Fatal("same bucket should not close the candle")
	}
	if m.candle.High != 105 || m.candle.Volume != 2 {
		t.Fatalf("candle not updated: %+v", m.candle)
	}

	t3 := models.Trade{Price: 99, Quantity: 1}
	closed := m.rollCandle(t3, base.Add(time.Minute))
	if closed == nil || !closed.IsClosed || closed.Close != 105 {
		t.Fatalf("expected closed previous candle, got %+v", closed)
	}
	if m.candle.Open != 99 || m.candle.IsClosed {
		t.Fatalf("unexpected new candle %+v", m.candle)
	}
	if m.candle.Timestamp != models.Interval1m.BucketStart(base.Add(time.Minute).UnixMilli()) {
		t.Fatal("candle not aligned to the minute")
	}
}

func TestMockRunEmitsEveryKind(t *testing.T) {
	m := NewMock(MockOptions{
		TradeInterval:     2 * time.Millisecond,
		BookInterval:      3 * time.Millisecond,
		TickerInterval:    4 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		Seed:              3,
	}, nil)
	sink := &collectSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, sink) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		k := sink.kinds()
		if k[models.KindTrade] > 0 && k[models.KindCandle] > 0 && k[models.KindOrderBook] > 0 &&
			k[models.KindDepth] > 0 && k[models.KindTicker] > 0 && k[models.KindHeartbeat] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("missing kinds: %v", k)
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("mock run returned %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, f := range sink.frames {
		msg, err := models.DecodeMessage(f.Data)
		if err != nil {
			t.Fatalf("mock produced undecodable %s frame: %v", f.Kind, err)
		}
		if msg.Kind != f.Kind {
			t.Fatalf("frame kind %s decoded as %s", f.Kind, msg.Kind)
		}
	}
}

func TestBinanceSymbol(t *testing.T) {
	cases := map[models.Symbol]string{
		"BTC-USD":  "BTCUSDT",
		"eth-usdt": "ETHUSDT",
		"SOL-BTC":  "SOLBTC",
	}
	for in, want := range cases {
		if got := BinanceSymbol(in); got != want {
			t.Fatalf("BinanceSymbol(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestNearestDepth(t *testing.T) {
	cases := map[int]int{0: 5, 5: 5, 7: 10, 20: 20, 50: 20}
	for in, want := range cases {
		if got := nearestDepth(in); got != want {
			t.Fatalf("nearestDepth(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestTradeFromAggTrade(t *testing.T) {
	e := &futures.WsAggTradeEvent{AggregateTradeID: 9, Price: "50000.5", Quantity: "0.25", TradeTime: 1_700_000_000_000, Maker: true}
	trade, err := TradeFromAggTrade("BTC-USD", e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.ID != "9" || trade.Price != 50000.5 || trade.Quantity != 0.25 || trade.Side != models.SideSell {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if trade.Timestamp.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("unexpected timestamp %v", trade.Timestamp)
	}

	e.Price = "abc"
	if _, err := TradeFromAggTrade("BTC-USD", e); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBookFromDepthAndTicker(t *testing.T) {
	depth := &futures.WsDepthEvent{
		Time:            1,
		TransactionTime: 2,
		LastUpdateID:    77,
	}
	depth.Bids = append(depth.Bids, futures.Bid{Price: "100", Quantity: "1"}, futures.Bid{Price: "99", Quantity: "2"})
	depth.Asks = append(depth.Asks, futures.Ask{Price: "101", Quantity: "3"})

	book, err := BookFromDepth("BTC-USD", depth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(book.Bids) != 2 || book.Sequence != 77 || book.Timestamp != 2 {
		t.Fatalf("unexpected book %+v", book)
	}

	ticker, err := TickerFromMarketTicker("BTC-USD", &futures.WsMarketTickerEvent{
		Time: 5, ClosePrice: "100.5", HighPrice: "110", LowPrice: "90", OpenPrice: "95",
		BaseVolume: "10", QuoteVolume: "1000", PriceChange: "5.5", PriceChangePercent: "5.79", TradeCount: 12,
	}, book)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticker.BidPrice != 100 || ticker.AskPrice != 101 || ticker.AskQty != 3 || ticker.LastPrice != 100.5 {
		t.Fatalf("unexpected ticker %+v", ticker)
	}

	noBook, _ := TickerFromMarketTicker("BTC-USD", &futures.WsMarketTickerEvent{
		ClosePrice: "1", HighPrice: "1", LowPrice: "1", OpenPrice: "1",
		BaseVolume: "0", QuoteVolume: "0", PriceChange: "0", PriceChangePercent: "0",
	}, models.OrderBookSnapshot{})
	if noBook.BidPrice != 1 || noBook.AskPrice != 1 {
		t.Fatalf("expected last price as top of book, got %+v", noBook)
	}
}

func TestCandleFromKline(t *testing.T) {
	e := &futures.WsKlineEvent{}
	e.Kline.StartTime = 60_000
	e.Kline.Open, e.Kline.High, e.Kline.Low, e.Kline.Close = "1", "3", "0.5", "2"
	e.Kline.Volume, e.Kline.QuoteVolume = "10", "20"
	e.Kline.TradeNum = 4
	e.Kline.IsFinal = true

	c, err := CandleFromKline("BTC-USD", models.Interval1m, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Timestamp != 60_000 || c.High != 3 || c.Low != 0.5 || !c.IsClosed || c.TradeCount != 4 {
		t.Fatalf("unexpected candle %+v", c)
	}
}
