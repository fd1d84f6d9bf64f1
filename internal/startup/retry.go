package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcore/internal/logger"
)

var (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// retry повторяет attempt с экспоненциальной паузой, пока не выйдет maxWait; при недоступности
// зависимости не роняет процесс сразу. logPrefix добавляется к сообщениям лога (например "api: ").
func retry(ctx context.Context, maxWait time.Duration, what, logPrefix string, attempt func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
