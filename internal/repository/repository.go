package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/metrics"
	"github.com/chatcore/internal/model"
)

var ErrNotFound = model.ErrNotFound

// track logs slow calls and feeds the store latency histogram: defer track("msg.Create")().
func track(op string) func() {
	start := time.Now()
	logDone := logger.DeferLogDuration(op, start)
	observe := metrics.ObserveStore(op, start)
	return func() {
		logDone()
		observe()
	}
}

// jsonb marshals v for a JSONB parameter; nil slices become "[]".
func jsonb(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	if string(data) == "null" {
		return []byte("[]"), nil
	}
	return data, nil
}
