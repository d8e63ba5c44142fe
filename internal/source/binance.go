package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"dashflow/config"
	"dashflow/logger"
	"dashflow/models"
)

// partialDepthLevels must be one of the depths Binance serves: 5, 10 or 20.
var partialDepthLevels = []int{5, 10, 20}

type BinanceOptions struct {
	// Symbol is the dashboard symbol published downstream, e.g. "BTC-USD".
	Symbol models.Symbol
	// BookInterval caps how often order book and depth frames are forwarded.
	BookInterval time.Duration
	BookLevels   int
	Interval     models.CandleInterval
}

func BinanceOptionsFromConfig(cfg config.ServerConfig) BinanceOptions {
	return BinanceOptions{
		Symbol:       models.NewSymbol(cfg.Symbol),
		BookInterval: cfg.BookInterval,
		BookLevels:   cfg.BookLevels,
		Interval:     models.Interval1m,
	}
}

// Binance relays the futures aggTrade, partial depth, kline and market
// ticker streams of one symbol as envelopes.
type Binance struct {
	opts BinanceOptions
	log  *logger.Log

	mu   sync.Mutex
	book models.OrderBookSnapshot
}

func NewBinance(opts BinanceOptions, log *logger.Log) *Binance {
	if opts.Symbol == "" {
		opts.Symbol = models.DefaultSymbol
	}
	if opts.Interval == "" {
		opts.Interval = models.Interval1m
	}
	opts.BookLevels = nearestDepth(opts.BookLevels)
	if log == nil {
		log = logger.GetLogger()
	}
	return &Binance{opts: opts, log: log}
}

func (b *Binance) Name() string { return "binance" }

// BinanceSymbol maps "BTC-USD" to the USDT-margined contract "BTCUSDT".
func BinanceSymbol(s models.Symbol) string {
	quote := strings.ToUpper(s.Quote())
	if quote == "USD" {
		quote = "USDT"
	}
	return strings.ToUpper(s.Base()) + quote
}

// Run subscribes to all streams and blocks until ctx ends or any stream
// terminates. A failed subscription stops the streams already opened.
func (b *Binance) Run(ctx context.Context, sink Sink) error {
	symbol := BinanceSymbol(b.opts.Symbol)
	log := b.log.WithComponent("binance_source").WithFields(logger.Fields{
		"symbol":         b.opts.Symbol,
		"binance_symbol": symbol,
	})

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	var bookLimit *rate.Limiter
	if b.opts.BookInterval > 0 {
		bookLimit = rate.NewLimiter(rate.Every(b.opts.BookInterval), 1)
	}

	type stream struct {
		name  string
		done  chan struct{}
		stopC chan struct{}
	}
	var streams []stream
	stopAll := func() {
		for _, s := range streams {
			close(s.stopC)
			<-s.done
		}
	}
	subscribe := func(name string, serve func() (chan struct{}, chan struct{}, error)) error {
		doneC, stopC, err := serve()
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		streams = append(streams, stream{name: name, done: doneC, stopC: stopC})
		return nil
	}

	err := subscribe("aggTrade", func() (chan struct{}, chan struct{}, error) {
		return futures.WsAggTradeServe(symbol, func(e *futures.WsAggTradeEvent) {
			trade, err := TradeFromAggTrade(b.opts.Symbol, e)
			if err != nil {
				log.WithError(err).Debug("skipping aggTrade")
				return
			}
			emit(ctx, sink, log, b.opts.Symbol, models.KindTrade, trade)
		}, errHandler)
	})
	if err == nil {
		err = subscribe("depth", func() (chan struct{}, chan struct{}, error) {
			return futures.WsPartialDepthServe(symbol, b.opts.BookLevels, func(e *futures.WsDepthEvent) {
				if bookLimit != nil && !bookLimit.Allow() {
					return
				}
				book, err := BookFromDepth(b.opts.Symbol, e)
				if err != nil {
					log.WithError(err).Debug("skipping depth event")
					return
				}
				b.mu.Lock()
				b.book = book
				b.mu.Unlock()
				emit(ctx, sink, log, b.opts.Symbol, models.KindOrderBook, book)
				emit(ctx, sink, log, b.opts.Symbol, models.KindDepth, models.NewMarketDepth(book))
			}, errHandler)
		})
	}
	if err == nil {
		err = subscribe("kline", func() (chan struct{}, chan struct{}, error) {
			return futures.WsKlineServe(symbol, string(b.opts.Interval), func(e *futures.WsKlineEvent) {
				candle, err := CandleFromKline(b.opts.Symbol, b.opts.Interval, e)
				if err != nil {
					log.WithError(err).Debug("skipping kline")
					return
				}
				emit(ctx, sink, log, b.opts.Symbol, models.KindCandle, candle)
			}, errHandler)
		})
	}
	if err == nil {
		err = subscribe("ticker", func() (chan struct{}, chan struct{}, error) {
			return futures.WsMarketTickerServe(symbol, func(e *futures.WsMarketTickerEvent) {
				b.mu.Lock()
				book := b.book
				b.mu.Unlock()
				ticker, err := TickerFromMarketTicker(b.opts.Symbol, e, book)
				if err != nil {
					log.WithError(err).Debug("skipping ticker")
					return
				}
				emit(ctx, sink, log, b.opts.Symbol, models.KindTicker, ticker)
			}, errHandler)
		})
	}
	if err != nil {
		log.WithError(err).Error("failed to subscribe to binance streams")
		stopAll()
		return err
	}

	log.WithFields(logger.Fields{"streams": len(streams)}).Info("binance relay started")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	anyDone := make(chan string, len(streams))
	for _, s := range streams {
		go func(s stream) {
			<-s.done
			anyDone <- s.name
		}(s)
	}

	for {
		select {
		case <-ctx.Done():
			stopAll()
			log.Info("binance relay stopped")
			return nil
		case name := <-anyDone:
			for _, s := range streams {
				if s.name != name {
					close(s.stopC)
				}
			}
			return fmt.Errorf("binance %s stream ended", name)
		case now := <-heartbeat.C:
			emit(ctx, sink, log, b.opts.Symbol, models.KindHeartbeat, models.Heartbeat{Timestamp: now.UnixMilli()})
		}
	}
}

// TradeFromAggTrade converts an aggregate trade. The buyer being the maker
// means the aggressor sold.
func TradeFromAggTrade(symbol models.Symbol, e *futures.WsAggTradeEvent) (models.Trade, error) {
	price, err := parseFloat("price", e.Price)
	if err != nil {
		return models.Trade{}, err
	}
	qty, err := parseFloat("quantity", e.Quantity)
	if err != nil {
		return models.Trade{}, err
	}
	side := models.SideBuy
	if e.Maker {
		side = models.SideSell
	}
	return models.Trade{
		ID:        strconv.FormatInt(e.AggregateTradeID, 10),
		Symbol:    symbol,
		Price:     models.Price(price),
		Quantity:  models.Quantity(qty),
		Side:      side,
		Timestamp: time.UnixMilli(e.TradeTime).UTC(),
	}, nil
}

// BookFromDepth converts a partial depth snapshot.
func BookFromDepth(symbol models.Symbol, e *futures.WsDepthEvent) (models.OrderBookSnapshot, error) {
	bids := make([]models.OrderBookLevel, 0, len(e.Bids))
	for _, l := range e.Bids {
		level, err := parseLevel(l.Price, l.Quantity)
		if err != nil {
			return models.OrderBookSnapshot{}, err
		}
		bids = append(bids, level)
	}
	asks := make([]models.OrderBookLevel, 0, len(e.Asks))
	for _, l := range e.Asks {
		level, err := parseLevel(l.Price, l.Quantity)
		if err != nil {
			return models.OrderBookSnapshot{}, err
		}
		asks = append(asks, level)
	}
	ts := e.TransactionTime
	if ts == 0 {
		ts = e.Time
	}
	return models.OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
		Sequence:  uint64(e.LastUpdateID),
	}, nil
}

// CandleFromKline converts a kline update; IsFinal marks the bar closed.
func CandleFromKline(symbol models.Symbol, interval models.CandleInterval, e *futures.WsKlineEvent) (models.Candle, error) {
	k := e.Kline
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := parseFloat("kline", raw)
		if err != nil {
			return models.Candle{}, err
		}
		vals[i] = v
	}
	quoteVolume, _ := strconv.ParseFloat(k.QuoteVolume, 64)
	return models.Candle{
		Symbol:      symbol,
		Interval:    interval,
		Timestamp:   k.StartTime,
		Open:        models.Price(vals[0]),
		High:        models.Price(vals[1]),
		Low:         models.Price(vals[2]),
		Close:       models.Price(vals[3]),
		Volume:      models.Quantity(vals[4]),
		QuoteVolume: quoteVolume,
		TradeCount:  uint32(k.TradeNum),
		IsClosed:    k.IsFinal,
	}, nil
}

// TickerFromMarketTicker converts the 24h ticker. The futures ticker carries
// no top of book, so bid and ask come from the latest relayed book.
func TickerFromMarketTicker(symbol models.Symbol, e *futures.WsMarketTickerEvent, book models.OrderBookSnapshot) (models.Ticker, error) {
	fields := []string{e.ClosePrice, e.HighPrice, e.LowPrice, e.OpenPrice, e.BaseVolume, e.QuoteVolume, e.PriceChange, e.PriceChangePercent}
	var vals [8]float64
	for i, raw := range fields {
		v, err := parseFloat("ticker", raw)
		if err != nil {
			return models.Ticker{}, err
		}
		vals[i] = v
	}

	t := models.Ticker{
		Symbol:           symbol,
		LastPrice:        models.Price(vals[0]),
		BidPrice:         models.Price(vals[0]),
		AskPrice:         models.Price(vals[0]),
		High24h:          models.Price(vals[1]),
		Low24h:           models.Price(vals[2]),
		Open24h:          models.Price(vals[3]),
		Volume24h:        models.Quantity(vals[4]),
		QuoteVolume24h:   vals[5],
		Change24h:        vals[6],
		ChangePercent24h: vals[7],
		TradeCount24h:    uint64(e.TradeCount),
		Timestamp:        e.Time,
	}
	if bid, ok := book.BestBid(); ok {
		t.BidPrice, t.BidQty = bid.Price, bid.Quantity
	}
	if ask, ok := book.BestAsk(); ok {
		t.AskPrice, t.AskQty = ask.Price, ask.Quantity
	}
	return t, nil
}

func parseLevel(price, qty string) (models.OrderBookLevel, error) {
	p, err := parseFloat("level price", price)
	if err != nil {
		return models.OrderBookLevel{}, err
	}
	q, err := parseFloat("level quantity", qty)
	if err != nil {
		return models.OrderBookLevel{}, err
	}
	return models.NewOrderBookLevel(p, q, 1), nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	return v, nil
}

func nearestDepth(levels int) int {
	for _, d := range partialDepthLevels {
		if levels <= d {
			return d
		}
	}
	return partialDepthLevels[len(partialDepthLevels)-1]
}
