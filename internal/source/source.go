// Package source produces market envelopes for the feed server: a mock
// market generator for development and a relay of Binance futures streams.
package source

import (
	"context"
	"fmt"

	"dashflow/config"
	"dashflow/logger"
	"dashflow/models"
)

// Frame is one encoded envelope ready for the wire.
type Frame struct {
	Kind   models.MessageKind
	Symbol models.Symbol
	Data   []byte
}

// Sink receives every frame a source produces. Publish must not block for
// long; slow consumers are the sink's concern.
type Sink interface {
	Publish(ctx context.Context, f Frame)
}

type SinkFunc func(ctx context.Context, f Frame)

func (fn SinkFunc) Publish(ctx context.Context, f Frame) { fn(ctx, f) }

// Source runs until ctx ends or the upstream fails.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// New returns the source selected by cfg.Source.
func New(cfg config.ServerConfig, log *logger.Log) (Source, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	switch cfg.Source {
	case "", "mock":
		return NewMock(MockOptionsFromConfig(cfg), log), nil
	case "binance":
		return NewBinance(BinanceOptionsFromConfig(cfg), log), nil
	}
	return nil, fmt.Errorf("unknown market source %q", cfg.Source)
}

// emit encodes payload as an envelope of kind and hands it to sink.
func emit(ctx context.Context, sink Sink, log *logger.Entry, symbol models.Symbol, kind models.MessageKind, payload interface{}) {
	data, err := models.EncodeMessage(kind, payload)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"kind": kind}).Warn("failed to encode envelope")
		return
	}
	sink.Publish(ctx, Frame{Kind: kind, Symbol: symbol, Data: data})
}
