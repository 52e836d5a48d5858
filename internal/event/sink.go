package event

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/shadowdhcp/shadowdhcpd/internal/agh"
)

// batchSize and batchInterval bound how long an event can sit in the
// queue before being flushed to the sink, per spec.md §6.
const (
	batchSize     = 256
	batchInterval = 3 * time.Second
)

// minBackoff and maxBackoff bound the sink's reconnect delay, per
// spec.md §5.
const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// queueCapacity is the bounded in-memory queue size; once full, new
// events are dropped and [Sink.Dropped] is incremented, per spec.md §5 —
// the event path never blocks or slows down request processing.
const queueCapacity = 4096

// type check
var _ agh.Service = (*Sink)(nil)

// Sink is the event-sink writer: a best-effort task that batches events
// and writes them newline-delimited-JSON over a TCP connection, with
// exponential-backoff reconnect. Its failure never impairs DHCP service
// (spec.md §7); this is why every public method other than [Sink.Start]
// and [Sink.Shutdown] cannot itself return an error to the caller.
type Sink struct {
	addr   string
	logger *slog.Logger

	queue   chan Event
	dropped atomic64

	cancel context.CancelFunc
	done   chan struct{}
}

// atomic64 is a tiny counter, avoiding an import of sync/atomic's typed
// wrappers for a single field.
type atomic64 struct {
	mu sync.Mutex
	n  uint64
}

func (a *atomic64) add(d uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.n += d
}

func (a *atomic64) load() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.n
}

// NewSink returns a Sink that will dial addr once started. addr may be
// empty, in which case the sink discards every event without ever
// dialing — the event sink is an optional out-of-scope collaborator per
// spec.md §1.
func NewSink(addr string, logger *slog.Logger) *Sink {
	return &Sink{
		addr:   addr,
		logger: logger,
		queue:  make(chan Event, queueCapacity),
	}
}

// Emit enqueues e for delivery. If the queue is full, e is dropped and
// the drop counter is incremented; it never blocks the caller.
func (s *Sink) Emit(e Event) {
	select {
	case s.queue <- e:
	default:
		s.dropped.add(1)
	}
}

// Dropped returns the number of events dropped for a full queue so far.
func (s *Sink) Dropped() uint64 {
	return s.dropped.load()
}

// Start implements the [agh.Service] interface for Sink.
func (s *Sink) Start() (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)

	return nil
}

// Shutdown implements the [agh.Service] interface for Sink.
func (s *Sink) Shutdown(ctx context.Context) (err error) {
	if s.cancel == nil {
		return nil
	}

	s.cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// run is the sink task's main loop: batch, dial, write, reconnect on
// failure with exponential backoff.
func (s *Sink) run(ctx context.Context) {
	defer close(s.done)

	if s.addr == "" {
		// No sink configured: drain the queue so Emit never blocks, but
		// never dial.
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.queue:
			}
		}
	}

	backoff := minBackoff

	for {
		conn, err := net.Dial("tcp", s.addr)
		if err != nil {
			s.logger.WarnContext(ctx, "dialing event sink", slogutil.KeyError, err)

			if !s.sleep(ctx, backoff) {
				return
			}

			backoff = nextBackoff(backoff)

			continue
		}

		backoff = minBackoff

		if !s.drain(ctx, conn) {
			return
		}
	}
}

// drain writes batched events to conn until ctx is canceled or the
// connection fails. It returns false if the caller should stop entirely
// (ctx canceled), true if it should reconnect and retry.
func (s *Sink) drain(ctx context.Context, conn net.Conn) (keepGoing bool) {
	defer conn.Close()

	w := bufio.NewWriter(conn)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, batchSize)

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}

		for _, e := range batch {
			b, err := json.Marshal(e)
			if err != nil {
				continue
			}

			b = append(b, '\n')
			if _, err = w.Write(b); err != nil {
				s.logger.WarnContext(ctx, "writing to event sink", slogutil.KeyError, err)

				return false
			}
		}

		if err := w.Flush(); err != nil {
			s.logger.WarnContext(ctx, "flushing event sink", slogutil.KeyError, err)

			return false
		}

		batch = batch[:0]

		return true
	}

	for {
		select {
		case <-ctx.Done():
			flush()

			return false
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				if !flush() {
					return true
				}
			}
		case <-ticker.C:
			if !flush() {
				return true
			}
		}
	}
}

// sleep waits for d or ctx cancellation, returning false if canceled.
func (s *Sink) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles d, capped at maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}

	return d
}
