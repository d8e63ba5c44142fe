package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("report", "text", "stderr", 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("report should map to info, got %s", log.GetLevel())
	}

	t.Setenv("LOG_LEVEL", "debug")
	if err := log.Configure("info", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("LOG_LEVEL should override, got %s", log.GetLevel())
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "dashflow.log")

	log := Logger()
	if err := log.Configure("info", "json", path, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.WithComponent("feed_client").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("log line is not json: %v (%s)", err, data)
	}
	if line["message"] != "hello" || line["component"] != "feed_client" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if _, ok := line["file"]; !ok {
		t.Fatalf("caller missing from log line: %v", line)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReportCounters(t *testing.T) {
	resetReport()
	t.Cleanup(resetReport)

	buf := &syncBuffer{}
	log := Logger()
	log.SetOutput(buf)

	IncrementFrameRead(10)
	IncrementFrameRead(5)
	IncrementDecodeError()
	IncrementReconnect()
	IncrementMessage("trade")
	IncrementMessage("trade")
	IncrementBroadcast(7)
	log.WithComponent("feed_client").Warn("stale heartbeat")

	fields := ReportFields()
	if fields["frames_read"].(int64) != 2 || fields["decode_errors"].(int64) != 1 || fields["reconnects"].(int64) != 1 {
		t.Fatalf("unexpected counters: %v", fields)
	}
	if fields["messages"].(map[string]int64)["trade"] != 2 {
		t.Fatalf("unexpected message counts: %v", fields["messages"])
	}
	if fields["flows"].(map[string]map[string]int64)["feed_in"]["bytes"] != 15 {
		t.Fatalf("unexpected flow stats: %v", fields["flows"])
	}
	if fields["warns"].(map[string]int64)["feed_client"] != 1 {
		t.Fatalf("warn not counted: %v", fields["warns"])
	}
	if comps := ReportComponents(); len(comps) != 1 || comps[0] != "feed_client" {
		t.Fatalf("unexpected components: %v", comps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartReport(ctx, log, 10*time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for !strings.Contains(buf.String(), "runtime report") {
		if time.Now().After(deadline) {
			t.Fatal("runtime report was not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
