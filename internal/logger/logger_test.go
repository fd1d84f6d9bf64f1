package logger

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

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

func TestPrefixAndLevels(t *testing.T) {
	var buf syncBuffer
	SetOutput(&buf)
	SetPrefix("test")
	SetLevel("info")
	t.Cleanup(func() { SetPrefix(""); SetLevel("info") })

	Infof("hello %d", 1)
	Debugf("hidden")
	Errorf("boom")
	Flush()

	got := buf.String()
	require.Contains(t, got, "[test] hello 1")
	require.Contains(t, got, "[test] ERROR: boom")
	require.NotContains(t, got, "hidden")
}

func TestLogDurationDebugLogsFastCalls(t *testing.T) {
	var buf syncBuffer
	SetOutput(&buf)
	SetLevel("debug")
	t.Cleanup(func() { SetLevel("info") })

	DeferLogDuration("msg.Get", time.Now())()
	Flush()

	require.Contains(t, buf.String(), "fn=msg.Get duration_ms=")
}
