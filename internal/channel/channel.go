// Package channel delivers approval requests to humans over outbound
// notification channels.
package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aegisflow/aegis/internal/approval"
	"github.com/aegisflow/aegis/internal/metrics"
)

// Channel is one outbound notification target.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, req *approval.Request) error
}

const defaultMaxConcurrentSends = 16

// Dispatcher fans an approval request out to every registered channel
// with bounded concurrency. A failing channel is logged and skipped;
// delivery is best-effort and never fails the caller.
type Dispatcher struct {
	mu            sync.RWMutex
	channels      []Channel
	sendSem       chan struct{}
	runtimeMetric *metrics.RuntimeMetrics
}

// NewDispatcher creates a dispatcher with the default send concurrency.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithLimit(defaultMaxConcurrentSends)
}

// NewDispatcherWithLimit bounds concurrent outbound sends.
func NewDispatcherWithLimit(maxConcurrentSends int) *Dispatcher {
	if maxConcurrentSends <= 0 {
		maxConcurrentSends = 1
	}
	return &Dispatcher{sendSem: make(chan struct{}, maxConcurrentSends)}
}

// Register adds a channel.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, ch)
}

// SetRuntimeMetrics attaches a recorder used for outbound send metrics.
func (d *Dispatcher) SetRuntimeMetrics(recorder *metrics.RuntimeMetrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runtimeMetric = recorder
}

// Names returns registered channel names.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Dispatch delivers req to every channel and waits for all of them.
// Failures are logged per channel; none propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, req *approval.Request) {
	d.mu.RLock()
	channels := make([]Channel, len(d.channels))
	copy(channels, d.channels)
	recorder := d.runtimeMetric
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for i, ch := range channels {
		select {
		case d.sendSem <- struct{}{}:
		case <-ctx.Done():
			for _, skipped := range channels[i:] {
				slog.Warn("approval notification skipped",
					"channel", skipped.Name(), "request_id", req.ID, "error", ctx.Err())
			}
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			defer func() { <-d.sendSem }()

			err := c.Deliver(ctx, req)
			if recorder != nil {
				snapshot, recordErr := recorder.RecordChannelSend(err == nil)
				if recordErr != nil {
					slog.Warn("record runtime metrics failed", "scope", "channel", "error", recordErr)
				} else if err != nil {
					slog.Error("approval notification failed",
						"channel", c.Name(),
						"request_id", req.ID,
						"task_id", req.TaskID,
						"error", err,
						"channel_send_attempts", snapshot.Channel.SendAttempts,
						"channel_send_failure_ratio", snapshot.Channel.FailureRatio(),
					)
					return
				}
			}
			if err != nil {
				slog.Error("approval notification failed",
					"channel", c.Name(), "request_id", req.ID, "task_id", req.TaskID, "error", err)
			}
		}(ch)
	}
	wg.Wait()
}

var _ approval.Notifier = (*Dispatcher)(nil)
