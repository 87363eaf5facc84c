package health

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Watchdog holds the worker's liveness heartbeat. The poll loop beats it at
// the top of every iteration; the health endpoint reads it concurrently.
// Liveness is deliberately decoupled from task success: a worker can fail
// every task and still be alive as long as its loop keeps iterating.
type Watchdog struct {
	mu        sync.Mutex
	last      time.Time
	threshold time.Duration
	now       func() time.Time
}

// NewWatchdog creates a watchdog with the given staleness threshold. The
// heartbeat starts at creation time so a freshly booted worker is alive.
func NewWatchdog(threshold time.Duration) *Watchdog {
	if threshold == 0 {
		threshold = 18 * time.Minute
	}
	w := &Watchdog{threshold: threshold, now: time.Now}
	w.last = w.now()
	return w
}

// Beat refreshes the heartbeat.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = w.now()
}

// Alive reports whether the last beat is within the threshold.
func (w *Watchdog) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now().Sub(w.last) < w.threshold
}

// LastBeat returns the time of the last heartbeat.
func (w *Watchdog) LastBeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Handler serves the worker health check: 200 "Alive" while beating, 503
// with the last-beat time once the loop wedges.
func (w *Watchdog) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if w.Alive() {
			c.String(http.StatusOK, "Alive")
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "dead",
			"last_beat": w.LastBeat().UTC().Format(time.RFC3339),
		})
	}
}
