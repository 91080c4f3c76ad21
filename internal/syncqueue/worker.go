package syncqueue

import (
	"context"
	"time"

	"github.com/avolkovs/tripatlas/internal/api"
	"github.com/avolkovs/tripatlas/internal/logging"
)

// Worker periodically probes server reachability and flushes the queue when
// the server answers. It is how edits made offline drain once connectivity
// returns. While offline it probes on the shorter check cadence so a
// reconnect is noticed quickly; while online it flushes on the sync cadence.
type Worker struct {
	queue         *Queue
	api           api.Client
	log           logging.Logger
	flushInterval time.Duration
	checkInterval time.Duration

	online bool
}

func NewWorker(q *Queue, client api.Client, flushInterval, checkInterval time.Duration, log logging.Logger) *Worker {
	if checkInterval <= 0 {
		checkInterval = flushInterval
	}
	return &Worker{queue: q, api: client, log: log, flushInterval: flushInterval, checkInterval: checkInterval}
}

// Run blocks until ctx is done. The first probe happens immediately so a
// fresh start with connectivity drains the backlog without waiting a full
// tick.
func (w *Worker) Run(ctx context.Context) {
	w.tick(ctx)
	timer := time.NewTimer(w.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.tick(ctx)
			timer.Reset(w.nextDelay())
		}
	}
}

func (w *Worker) nextDelay() time.Duration {
	if w.online {
		return w.flushInterval
	}
	return w.checkInterval
}

func (w *Worker) tick(ctx context.Context) {
	if err := w.api.Ping(ctx); err != nil {
		if w.online {
			w.log.Info(ctx, "server unreachable, pausing sync", "error", err)
		}
		w.online = false
		return
	}
	if !w.online {
		w.log.Info(ctx, "server reachable, flushing pending edits")
	}
	w.online = true

	if err := w.queue.Flush(ctx); err != nil {
		w.log.Warn(ctx, "flush failed", "error", err)
	}
}

// Online reports the result of the last reachability probe.
func (w *Worker) Online() bool {
	return w.online
}
