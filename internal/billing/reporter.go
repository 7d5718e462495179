package billing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cascadeflow/gateway/internal/usage"
)

// maxPending caps the in-flight background report set. Reports beyond
// the cap are dropped with a warning so the request path never blocks
// on a billing backlog.
const maxPending = 1024

// Reporter wraps the client with background, fail-open usage reporting.
// Failures are logged and swallowed; Flush awaits stragglers at
// shutdown.
type Reporter struct {
	client *Client
	logger *zap.Logger

	mu      sync.Mutex
	pending map[int64]struct{}
	nextID  int64
	wg      sync.WaitGroup
}

func NewReporter(client *Client, logger *zap.Logger) *Reporter {
	return &Reporter{
		client:  client,
		logger:  logger,
		pending: make(map[int64]struct{}),
	}
}

// ReportUsage spawns a tracked background task that posts one usage
// event. It never blocks the caller and never returns an error.
func (r *Reporter) ReportUsage(customerID string, u usage.Usage, cost float64, at time.Time) {
	r.mu.Lock()
	if len(r.pending) >= maxPending {
		r.mu.Unlock()
		r.logger.Warn("billing backlog full, dropping usage event",
			zap.String("customer_id", customerID))
		return
	}
	id := r.nextID
	r.nextID++
	r.pending[id] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.pending, id)
			r.mu.Unlock()
			r.wg.Done()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.client.cfg.Timeout)
		defer cancel()

		if _, err := r.client.CreateUsageEvent(ctx, customerID, u, cost, at); err != nil {
			r.logger.Warn("billing report failed",
				zap.String("customer_id", customerID),
				zap.Error(err))
		}
	}()
}

// Pending returns the number of in-flight reports.
func (r *Reporter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush waits for in-flight reports up to timeout. Returns false if the
// deadline passed with tasks still pending.
func (r *Reporter) Flush(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
