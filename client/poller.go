package feast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc produces one reconciliation snapshot.
type FetchFunc func(ctx context.Context) (any, error)

// ResultFunc receives each snapshot or the error that replaced it. The REST
// snapshot is authoritative: consumers overwrite local state with it, which
// makes out-of-order realtime delivery self-correcting.
type ResultFunc func(data any, err error)

// Poller drives periodic reconciliation against the REST API. Realtime events
// are only hints; Nudge schedules an out-of-cycle fetch, debounced so a burst
// of events costs at most one extra round trip.
type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	onResult ResultFunc
	logger   zerolog.Logger

	nudge    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartPoller fetches immediately, then every interval, until Stop is called
// or ctx is canceled. A failed fetch is reported through onResult and does not
// stop the cycle.
func StartPoller(ctx context.Context, interval time.Duration, fetch FetchFunc, onResult ResultFunc, logger zerolog.Logger) *Poller {
	p := &Poller{
		interval: interval,
		fetch:    fetch,
		onResult: onResult,
		logger:   logger.With().Str("component", "poller").Logger(),
		nudge:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Nudge requests an out-of-cycle fetch. Safe from any goroutine; extra nudges
// while one is pending coalesce.
func (p *Poller) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Stop cancels the cycle. Idempotent; safe to call from view teardown paths.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed once the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetchOnce(ctx)
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetchOnce(ctx)
		case <-p.nudge:
			p.fetchOnce(ctx)
		}
	}
}

func (p *Poller) fetchOnce(ctx context.Context) {
	data, err := p.fetch(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("reconciliation fetch failed, keeping cycle")
	}
	p.onResult(data, err)
}
