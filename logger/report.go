package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	framesRead   int64
	decodeErrors int64
	reconnects   int64
	broadcasts   int64
	warnCounts   sync.Map // component -> *int64
	errorCounts  sync.Map // component -> *int64
	messageKinds sync.Map // kind -> *int64
	flows        sync.Map // name -> *flowStat
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string) {
	bump(&warnCounts, component)
}

func recordError(component string) {
	bump(&errorCounts, component)
}

// IncrementFrameRead counts one inbound feed frame of size bytes.
func IncrementFrameRead(size int) {
	atomic.AddInt64(&framesRead, 1)
	recordFlow("feed_in", size)
}

func IncrementDecodeError() {
	atomic.AddInt64(&decodeErrors, 1)
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementMessage counts one dispatched message of the given kind.
func IncrementMessage(kind string) {
	bump(&messageKinds, kind)
}

// IncrementBroadcast counts one envelope fanned out by the feed server.
func IncrementBroadcast(size int) {
	atomic.AddInt64(&broadcasts, 1)
	recordFlow("feed_out", size)
}

// RecordFlowMessage counts a message on a named sink such as a publisher.
func RecordFlowMessage(name string, size int) {
	recordFlow(name, size)
}

func recordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

func counters(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// ReportFields returns the current counters in the shape logged by the
// runtime report.
func ReportFields() Fields {
	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		flowData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Fields{
		"frames_read":   atomic.LoadInt64(&framesRead),
		"decode_errors": atomic.LoadInt64(&decodeErrors),
		"reconnects":    atomic.LoadInt64(&reconnects),
		"broadcasts":    atomic.LoadInt64(&broadcasts),
		"messages":      counters(&messageKinds),
		"warns":         counters(&warnCounts),
		"errors":        counters(&errorCounts),
		"flows":         flowData,
		"goroutines":    runtime.NumGoroutine(),
		"heap_mb":       int64(mem.HeapAlloc) / 1024 / 1024,
	}
}

// ReportComponents lists components that have logged warnings or errors,
// sorted, for stable report output.
func ReportComponents() []string {
	seen := map[string]struct{}{}
	for _, m := range []*sync.Map{&warnCounts, &errorCounts} {
		m.Range(func(k, _ any) bool {
			seen[k.(string)] = struct{}{}
			return true
		})
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport logs the runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	fields := ReportFields()
	fields["components"] = ReportComponents()
	log.WithComponent("report").WithFields(fields).Info("runtime report")
}

// resetReport clears every counter. Tests only.
func resetReport() {
	atomic.StoreInt64(&framesRead, 0)
	atomic.StoreInt64(&decodeErrors, 0)
	atomic.StoreInt64(&reconnects, 0)
	atomic.StoreInt64(&broadcasts, 0)
	for _, m := range []*sync.Map{&warnCounts, &errorCounts, &messageKinds, &flows} {
		m.Range(func(k, _ any) bool {
			m.Delete(k)
			return true
		})
	}
}
