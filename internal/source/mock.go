package source

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"dashflow/config"
	"dashflow/logger"
	"dashflow/models"
)

const (
	mockVolatility = 0.0005
	mockPriceFloor = 1000.0
	mockSpread     = 0.0002
)

type MockOptions struct {
	Symbol            models.Symbol
	InitialPrice      float64
	TradeInterval     time.Duration
	BookInterval      time.Duration
	TickerInterval    time.Duration
	HeartbeatInterval time.Duration
	BookLevels        int
	// Seed fixes the random walk; zero seeds from the clock.
	Seed int64
}

func MockOptionsFromConfig(cfg config.ServerConfig) MockOptions {
	return MockOptions{
		Symbol:            models.NewSymbol(cfg.Symbol),
		InitialPrice:      cfg.InitialPrice,
		TradeInterval:     cfg.TradeInterval,
		BookInterval:      cfg.BookInterval,
		TickerInterval:    cfg.TickerInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		BookLevels:        cfg.BookLevels,
	}
}

func (o *MockOptions) applyDefaults() {
	if o.Symbol == "" {
		o.Symbol = models.DefaultSymbol
	}
	if o.InitialPrice <= 0 {
		o.InitialPrice = 95000
	}
	if o.TradeInterval <= 0 {
		o.TradeInterval = 100 * time.Millisecond
	}
	if o.BookInterval <= 0 {
		o.BookInterval = 250 * time.Millisecond
	}
	if o.TickerInterval <= 0 {
		o.TickerInterval = time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.BookLevels <= 0 {
		o.BookLevels = 20
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
}

// Mock is a random-walk market. Trades drive one-minute candles; the book
// and ticker are regenerated around the current price.
type Mock struct {
	opts MockOptions
	log  *logger.Log
	rng  *rand.Rand

	price      float64
	trend      float64
	sequence   uint64
	candleOpen int64
	candle     *models.Candle
}

func NewMock(opts MockOptions, log *logger.Log) *Mock {
	opts.applyDefaults()
	if log == nil {
		log = logger.GetLogger()
	}
	return &Mock{
		opts:  opts,
		log:   log,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		price: opts.InitialPrice,
	}
}

func (m *Mock) Name() string { return "mock" }

// Run emits until ctx ends. It never fails on its own.
func (m *Mock) Run(ctx context.Context, sink Sink) error {
	log := m.log.WithComponent("mock_source").WithFields(logger.Fields{"symbol": m.opts.Symbol})
	log.WithFields(logger.Fields{
		"initial_price": m.opts.InitialPrice,
		"trade_ms":      m.opts.TradeInterval.Milliseconds(),
		"book_ms":       m.opts.BookInterval.Milliseconds(),
	}).Info("starting mock market")

	trades := time.NewTicker(m.opts.TradeInterval)
	books := time.NewTicker(m.opts.BookInterval)
	tickers := time.NewTicker(m.opts.TickerInterval)
	heartbeats := time.NewTicker(m.opts.HeartbeatInterval)
	defer trades.Stop()
	defer books.Stop()
	defer tickers.Stop()
	defer heartbeats.Stop()

	sym := m.opts.Symbol
	for {
		select {
		case <-ctx.Done():
			log.Info("mock market stopped")
			return nil
		case now := <-trades.C:
			trade := m.nextTrade(now)
			if closed := m.rollCandle(trade, now); closed != nil {
				emit(ctx, sink, log, sym, models.KindCandle, closed)
			}
			if m.candle != nil {
				emit(ctx, sink, log, sym, models.KindCandle, *m.candle)
			}
			emit(ctx, sink, log, sym, models.KindTrade, trade)
		case now := <-books.C:
			book := m.nextOrderBook(now)
			emit(ctx, sink, log, sym, models.KindOrderBook, book)
			emit(ctx, sink, log, sym, models.KindDepth, models.NewMarketDepth(book))
		case now := <-tickers.C:
			emit(ctx, sink, log, sym, models.KindTicker, m.nextTicker(now))
		case now := <-heartbeats.C:
			emit(ctx, sink, log, sym, models.KindHeartbeat, models.Heartbeat{Timestamp: now.UnixMilli()})
		}
	}
}

// step moves the price one tick. The trend flips with 1% probability.
func (m *Mock) step() float64 {
	drift := m.trend * 0.0001
	noise := (m.rng.Float64() - 0.5) * 2 * mockVolatility
	if m.rng.Float64() < 0.01 {
		m.trend = (m.rng.Float64() - 0.5) * 2
	}
	m.price *= 1 + drift + noise
	m.price = math.Max(m.price, mockPriceFloor)
	return m.price
}

func (m *Mock) nextTrade(now time.Time) models.Trade {
	price := m.step()
	side := models.SideSell
	if m.rng.Intn(2) == 0 {
		side = models.SideBuy
	}
	qty := math.Min(math.Exp(m.rng.Float64())*0.1, 10)
	return models.Trade{
		ID:        uuid.NewString(),
		Symbol:    m.opts.Symbol,
		Price:     models.Price(price),
		Quantity:  models.Quantity(qty),
		Side:      side,
		Timestamp: now.UTC(),
	}
}

// rollCandle folds trade into the current one-minute candle. When the bucket
// changes the previous candle is returned closed and a new one opens at the
// trade price.
func (m *Mock) rollCandle(trade models.Trade, now time.Time) *models.Candle {
	bucket := models.Interval1m.BucketStart(now.UnixMilli())
	if bucket == m.candleOpen && m.candle != nil {
		m.candle.Update(float64(trade.Price), float64(trade.Quantity))
		return nil
	}

	prev := m.candle
	if prev != nil {
		prev.Finalize()
	}
	next := models.NewCandle(m.opts.Symbol, models.Interval1m, bucket, float64(trade.Price))
	m.candle = &next
	m.candleOpen = bucket
	return prev
}

func (m *Mock) nextOrderBook(now time.Time) models.OrderBookSnapshot {
	m.sequence++
	half := m.price * mockSpread / 2
	levels := m.opts.BookLevels

	bids := make([]models.OrderBookLevel, 0, levels)
	asks := make([]models.OrderBookLevel, 0, levels)

	bid := m.price - half
	for i := 0; i < levels; i++ {
		bids = append(bids, models.NewOrderBookLevel(bid, m.rng.Float64()*2+0.1, uint32(1+m.rng.Intn(9))))
		bid -= m.rng.Float64()*5 + 1
	}
	ask := m.price + half
	for i := 0; i < levels; i++ {
		asks = append(asks, models.NewOrderBookLevel(ask, m.rng.Float64()*2+0.1, uint32(1+m.rng.Intn(9))))
		ask += m.rng.Float64()*5 + 1
	}

	return models.OrderBookSnapshot{
		Symbol:    m.opts.Symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: now.UnixMilli(),
		Sequence:  m.sequence,
	}
}

func (m *Mock) nextTicker(now time.Time) models.Ticker {
	open := m.price * (1 - m.rng.Float64()*0.02)
	high := m.price * (1 + m.rng.Float64()*0.03)
	low := m.price * (1 - m.rng.Float64()*0.03)
	change := m.price - open

	t := models.NewTicker(m.opts.Symbol, m.price, now)
	t.BidQty = models.Quantity(m.rng.Float64() * 5)
	t.AskQty = models.Quantity(m.rng.Float64() * 5)
	t.High24h = models.Price(high)
	t.Low24h = models.Price(low)
	t.Open24h = models.Price(open)
	t.Volume24h = models.Quantity(m.rng.Float64()*10000 + 1000)
	t.QuoteVolume24h = m.rng.Float64() * 500_000_000
	t.Change24h = change
	t.ChangePercent24h = change / open * 100
	t.TradeCount24h = uint64(10000 + m.rng.Intn(90000))
	return t
}
