package phx

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type lockedBuffer struct {
	lock   sync.Mutex
	buffer bytes.Buffer
}

func (buffer *lockedBuffer) Write(data []byte) (int, error) {
	buffer.lock.Lock()
	defer buffer.lock.Unlock()
	return buffer.buffer.Write(data)
}

func (buffer *lockedBuffer) Sync() error { return nil }

func (buffer *lockedBuffer) String() string {
	buffer.lock.Lock()
	defer buffer.lock.Unlock()
	return buffer.buffer.String()
}

func TestNewLoggerJSON(t *testing.T) {
	output := &lockedBuffer{}
	logger, stop, err := newLogger(LogConfig{Level: "debug", Format: LogFormatJSON, FlushInterval: time.Hour}, output)
	if err != nil {
		t.Fatalf("newLogger returned %v", err)
	}

	logger.Named("client").Debug("got message", zap.String("topic", "room:1"))
	if output.String() != "" {
		t.Fatalf("entries should stay buffered until flushed, got %q", output.String())
	}
	if err := stop(); err != nil {
		t.Fatalf("stop returned %v", err)
	}

	text := output.String()
	for _, part := range []string{`"level":"debug"`, `"logger":"phx.client"`, `"msg":"got message"`, `"topic":"room:1"`} {
		if !strings.Contains(text, part) {
			t.Fatalf("expected %s in %s", part, text)
		}
	}
}

func TestNewLoggerConsoleLevel(t *testing.T) {
	output := &lockedBuffer{}
	logger, stop, err := newLogger(LogConfig{Level: "warn"}, output)
	if err != nil {
		t.Fatalf("newLogger returned %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if err := stop(); err != nil {
		t.Fatalf("stop returned %v", err)
	}

	text := output.String()
	if strings.Contains(text, "hidden") || !strings.Contains(text, "WARN") || !strings.Contains(text, "shown") {
		t.Fatalf("unexpected console output %q", text)
	}
}

func TestNewLoggerInvalidConfig(t *testing.T) {
	if _, _, err := newLogger(LogConfig{Level: "loud"}, zapcore.AddSync(&lockedBuffer{})); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected configuration error for unknown level, got %v", err)
	}
	if _, _, err := newLogger(LogConfig{Format: "xml"}, zapcore.AddSync(&lockedBuffer{})); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected configuration error for unknown format, got %v", err)
	}
}
