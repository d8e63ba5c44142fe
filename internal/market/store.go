// Package market holds the live market state for one symbol and interval.
//
// A Store has a single writer (the feed client loop) and any number of
// readers. Readers always receive copies, and the order book is never
// observable without the depth computed from it.
package market

import (
	"sync"
	"time"

	"dashflow/config"
	"dashflow/internal/metrics"
	"dashflow/logger"
	"dashflow/models"
)

const (
	DefaultMaxTrades  = 100
	DefaultMaxCandles = 200
)

var timeNow = time.Now

// Topic names the part of the state a mutation touched.
type Topic string

const (
	TopicTicker     Topic = "ticker"
	TopicOrderBook  Topic = "orderbook"
	TopicDepth      Topic = "depth"
	TopicTrades     Topic = "trades"
	TopicCandles    Topic = "candles"
	TopicConnection Topic = "connection"
	TopicReset      Topic = "reset"
)

// LastUpdate records, per category, the unix millisecond time of the most
// recent mutation. Zero means never updated. The ticker entry carries the
// ticker's own timestamp rather than the local clock.
type LastUpdate struct {
	Ticker     int64 `json:"ticker"`
	OrderBook  int64 `json:"orderbook"`
	Depth      int64 `json:"depth"`
	Trades     int64 `json:"trades"`
	Candles    int64 `json:"candles"`
	Connection int64 `json:"connection"`
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Symbol     models.Symbol             `json:"symbol"`
	Interval   models.CandleInterval     `json:"interval"`
	Ticker     *models.Ticker            `json:"ticker,omitempty"`
	OrderBook  *models.OrderBookSnapshot `json:"orderbook,omitempty"`
	Depth      *models.MarketDepth       `json:"depth,omitempty"`
	Trades     []models.Trade            `json:"trades"`
	Candles    models.CandleHistory      `json:"candles"`
	Connection models.ConnectionState    `json:"connection"`
	Error      string                    `json:"error,omitempty"`
	LastUpdate LastUpdate                `json:"last_update"`
}

// Options configures a Store. Capacities are fixed for the store's lifetime.
type Options struct {
	Symbol     models.Symbol
	Interval   models.CandleInterval
	MaxTrades  int
	MaxCandles int
}

// OptionsFromConfig converts the market section of the configuration.
func OptionsFromConfig(cfg config.MarketConfig) (Options, error) {
	iv := models.Interval1m
	if cfg.Interval != "" {
		parsed, err := models.ParseInterval(cfg.Interval)
		if err != nil {
			return Options{}, err
		}
		iv = parsed
	}
	return Options{
		Symbol:     models.NewSymbol(cfg.Symbol),
		Interval:   iv,
		MaxTrades:  cfg.MaxTrades,
		MaxCandles: cfg.MaxCandles,
	}, nil
}

type Store struct {
	maxTrades  int
	maxCandles int
	log        *logger.Entry

	mu         sync.RWMutex
	symbol     models.Symbol
	interval   models.CandleInterval
	ticker     *models.Ticker
	book       *models.OrderBookSnapshot
	depth      *models.MarketDepth
	trades     []models.Trade
	candles    []models.Candle
	connection models.ConnectionState
	lastErr    string
	updated    LastUpdate

	obsMu     sync.Mutex
	observers map[uint64]func(Topic)
	nextObs   uint64
}

func NewStore(opts Options, log *logger.Log) *Store {
	if opts.MaxTrades <= 0 {
		opts.MaxTrades = DefaultMaxTrades
	}
	if opts.MaxCandles <= 0 {
		opts.MaxCandles = DefaultMaxCandles
	}
	if opts.Symbol == "" {
		opts.Symbol = models.DefaultSymbol
	}
	if !opts.Interval.Valid() {
		opts.Interval = models.Interval1m
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{
		maxTrades:  opts.MaxTrades,
		maxCandles: opts.MaxCandles,
		log:        log.WithComponent("market_store"),
		symbol:     opts.Symbol,
		interval:   opts.Interval,
		trades:     make([]models.Trade, 0, opts.MaxTrades),
		candles:    make([]models.Candle, 0, opts.MaxCandles),
		connection: models.StateDisconnected,
		observers:  make(map[uint64]func(Topic)),
	}
}

func (s *Store) MaxTrades() int  { return s.maxTrades }
func (s *Store) MaxCandles() int { return s.maxCandles }

// BufferSizes reports occupancy of the trade and candle buffers.
func (s *Store) BufferSizes() []metrics.BufferSize {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []metrics.BufferSize{
		{Name: "trades", Length: len(s.trades), Capacity: s.maxTrades},
		{Name: "candles", Length: len(s.candles), Capacity: s.maxCandles},
	}
}

// Subscribe registers fn to be called after every mutation with the topic
// that changed. fn runs on the writer goroutine after the lock is released,
// so it may read from the store but must not block. The returned func
// removes the subscription.
func (s *Store) Subscribe(fn func(Topic)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.obsMu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) notify(topics ...Topic) {
	s.obsMu.Lock()
	if len(s.observers) == 0 {
		s.obsMu.Unlock()
		return
	}
	fns := make([]func(Topic), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, topic := range topics {
		for _, fn := range fns {
			fn(topic)
		}
	}
}

// UpdateTicker replaces the ticker.
func (s *Store) UpdateTicker(t models.Ticker) {
	s.mu.Lock()
	s.ticker = &t
	s.updated.Ticker = t.Timestamp
	s.mu.Unlock()
	s.notify(TopicTicker)
}

// UpdateOrderBook replaces the book and the depth derived from it under one
// lock.
func (s *Store) UpdateOrderBook(b models.OrderBookSnapshot) {
	book := b.Clone()
	depth := models.NewMarketDepth(book)
	now := timeNow().UnixMilli()

	s.mu.Lock()
	s.book = &book
	s.depth = &depth
	s.updated.OrderBook = now
	s.updated.Depth = now
	s.mu.Unlock()
	s.notify(TopicOrderBook, TopicDepth)
}

// SetDepth replaces the depth without touching the book.
func (s *Store) SetDepth(d models.MarketDepth) {
	depth := d.Clone()
	s.mu.Lock()
	s.depth = &depth
	s.updated.Depth = timeNow().UnixMilli()
	s.mu.Unlock()
	s.notify(TopicDepth)
}

// AddTrade inserts t as the most recent trade.
func (s *Store) AddTrade(t models.Trade) {
	s.AddTrades([]models.Trade{t})
}

// AddTrades places batch ahead of the existing trades, keeping the batch in
// its given order, then trims the oldest trades past capacity. An empty
// batch is a no-op.
func (s *Store) AddTrades(batch []models.Trade) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	n := len(batch) + len(s.trades)
	if n > s.maxTrades {
		n = s.maxTrades
	}
	next := make([]models.Trade, 0, s.maxTrades)
	next = append(next, batch...)
	next = append(next, s.trades...)
	s.trades = next[:n]
	s.updated.Trades = timeNow().UnixMilli()
	s.mu.Unlock()
	s.notify(TopicTrades)
}

// UpdateCandle replaces the forming candle when c continues it, otherwise
// appends c and evicts the oldest candle past capacity. A closed candle is
// never replaced.
func (s *Store) UpdateCandle(c models.Candle) {
	s.mu.Lock()
	if last := len(s.candles) - 1; last >= 0 && s.candles[last].Timestamp == c.Timestamp && !s.candles[last].IsClosed {
		s.candles[last] = c
	} else {
		s.candles = append(s.candles, c)
		if over := len(s.candles) - s.maxCandles; over > 0 {
			s.candles = append(make([]models.Candle, 0, s.maxCandles), s.candles[over:]...)
		}
	}
	s.updated.Candles = timeNow().UnixMilli()
	s.mu.Unlock()
	s.notify(TopicCandles)
}

// SetCandles replaces the candle history with the newest candles of batch.
func (s *Store) SetCandles(batch []models.Candle) {
	if len(batch) > s.maxCandles {
		batch = batch[len(batch)-s.maxCandles:]
	}
	s.mu.Lock()
	s.candles = append(make([]models.Candle, 0, s.maxCandles), batch...)
	s.updated.Candles = timeNow().UnixMilli()
	s.mu.Unlock()
	s.notify(TopicCandles)
}

// SetSymbol switches the store to a new symbol and drops all market data.
func (s *Store) SetSymbol(symbol models.Symbol) {
	s.mu.Lock()
	prev := s.symbol
	s.symbol = symbol
	s.resetLocked()
	s.mu.Unlock()

	s.log.WithFields(logger.Fields{"from": prev.String(), "to": symbol.String()}).Info("symbol changed; market state reset")
	s.notify(TopicReset)
}

// SetInterval switches the candle interval and drops all market data.
func (s *Store) SetInterval(interval models.CandleInterval) {
	s.mu.Lock()
	prev := s.interval
	s.interval = interval
	s.resetLocked()
	s.mu.Unlock()

	s.log.WithFields(logger.Fields{"from": string(prev), "to": string(interval)}).Info("interval changed; market state reset")
	s.notify(TopicReset)
}

// Clear drops all market data but keeps symbol, interval and connection.
func (s *Store) Clear() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.notify(TopicReset)
}

func (s *Store) resetLocked() {
	s.ticker = nil
	s.book = nil
	s.depth = nil
	s.trades = make([]models.Trade, 0, s.maxTrades)
	s.candles = make([]models.Candle, 0, s.maxCandles)
	s.updated.Ticker, s.updated.OrderBook, s.updated.Depth = 0, 0, 0
	s.updated.Trades, s.updated.Candles = 0, 0
}

// SetConnectionState records the feed connection state. Reaching the
// connected state clears any previous error.
func (s *Store) SetConnectionState(state models.ConnectionState) {
	s.mu.Lock()
	s.connection = state
	if state == models.StateConnected {
		s.lastErr = ""
	}
	s.updated.Connection = timeNow().UnixMilli()
	s.mu.Unlock()
	s.notify(TopicConnection)
}

func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.updated.Connection = timeNow().UnixMilli()
	s.mu.Unlock()
	s.notify(TopicConnection)
}

func (s *Store) ClearError() {
	s.SetError("")
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Symbol:     s.symbol,
		Interval:   s.interval,
		Trades:     append([]models.Trade(nil), s.trades...),
		Candles:    s.historyLocked(),
		Connection: s.connection,
		Error:      s.lastErr,
		LastUpdate: s.updated,
	}
	if s.ticker != nil {
		t := *s.ticker
		snap.Ticker = &t
	}
	if s.book != nil {
		b := s.book.Clone()
		snap.OrderBook = &b
	}
	if s.depth != nil {
		d := s.depth.Clone()
		snap.Depth = &d
	}
	return snap
}

func (s *Store) historyLocked() models.CandleHistory {
	h := models.NewCandleHistory(s.symbol, s.interval)
	h.Candles = append(make([]models.Candle, 0, len(s.candles)), s.candles...)
	return h
}

func (s *Store) Symbol() models.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

func (s *Store) Interval() models.CandleInterval {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

func (s *Store) Ticker() (models.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ticker == nil {
		return models.Ticker{}, false
	}
	return *s.ticker, true
}

// OrderBook returns the book together with the depth derived from it. Depth
// may be set without a book by a depth message.
func (s *Store) OrderBook() (*models.OrderBookSnapshot, *models.MarketDepth) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var book *models.OrderBookSnapshot
	var depth *models.MarketDepth
	if s.book != nil {
		b := s.book.Clone()
		book = &b
	}
	if s.depth != nil {
		d := s.depth.Clone()
		depth = &d
	}
	return book, depth
}

// Trades returns every stored trade, most recent first.
func (s *Store) Trades() []models.Trade {
	return s.RecentTrades(0)
}

// RecentTrades returns up to n of the most recent trades; n <= 0 means all.
func (s *Store) RecentTrades(n int) []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.trades) {
		n = len(s.trades)
	}
	return append([]models.Trade(nil), s.trades[:n]...)
}

func (s *Store) LatestTrade() (models.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.trades) == 0 {
		return models.Trade{}, false
	}
	return s.trades[0], true
}

func (s *Store) Candles() models.CandleHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLocked()
}

func (s *Store) Connection() (models.ConnectionState, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection, s.lastErr
}

func (s *Store) LastUpdate() LastUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// CurrentPrice prefers the ticker's last price and falls back to the most
// recent trade.
func (s *Store) CurrentPrice() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ticker != nil {
		return float64(s.ticker.LastPrice), true
	}
	if len(s.trades) > 0 {
		return float64(s.trades[0].Price), true
	}
	return 0, false
}

func (s *Store) MidPrice() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.book == nil {
		return 0, false
	}
	return s.book.MidPrice()
}

func (s *Store) Spread() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.book == nil {
		return 0, false
	}
	return s.book.Spread()
}

// Imbalance is zero until a book has been received.
func (s *Store) Imbalance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.book == nil {
		return 0
	}
	return s.book.Imbalance()
}
