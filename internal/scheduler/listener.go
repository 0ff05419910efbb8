package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/events"
)

// RecomputeListener recomputes a portfolio after transactions are appended
// to it. Bus handlers must not block, so requests are queued and handled by
// a single worker goroutine. Repeated requests for a portfolio that is
// already queued collapse into one.
type RecomputeListener struct {
	service PortfolioRecomputer
	bus     *events.Bus
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]bool
	queue   chan string
	subID   events.SubscriptionID
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewRecomputeListener creates a listener; call Start to subscribe.
func NewRecomputeListener(service PortfolioRecomputer, bus *events.Bus, log zerolog.Logger) *RecomputeListener {
	return &RecomputeListener{
		service: service,
		bus:     bus,
		log:     log.With().Str("component", "recompute_listener").Logger(),
		pending: make(map[string]bool),
		queue:   make(chan string, 64),
	}
}

// Start subscribes to TransactionsAppended and starts the worker.
func (l *RecomputeListener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.work(ctx)
	l.subID = l.bus.Subscribe(events.TransactionsAppended, l.handle)
	l.log.Info().Msg("Recompute listener started")
}

// Stop unsubscribes and waits for the in-flight recompute to finish.
// Queued requests are dropped; the next recompute_all run covers them.
func (l *RecomputeListener) Stop() {
	l.bus.Unsubscribe(l.subID)
	l.cancel()
	<-l.done
	l.log.Info().Msg("Recompute listener stopped")
}

func (l *RecomputeListener) handle(event *events.Event) {
	portfolioID, _ := event.Data["portfolio_id"].(string)
	if portfolioID == "" {
		return
	}

	l.mu.Lock()
	if l.pending[portfolioID] {
		l.mu.Unlock()
		return
	}
	l.pending[portfolioID] = true
	l.mu.Unlock()

	select {
	case l.queue <- portfolioID:
	default:
		l.mu.Lock()
		delete(l.pending, portfolioID)
		l.mu.Unlock()
		l.log.Warn().Str("portfolio_id", portfolioID).Msg("Recompute queue full, request dropped")
	}
}

func (l *RecomputeListener) work(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case portfolioID := <-l.queue:
			l.mu.Lock()
			delete(l.pending, portfolioID)
			l.mu.Unlock()

			if _, err := l.service.Recompute(ctx, portfolioID); err != nil {
				l.log.Error().Err(err).Str("portfolio_id", portfolioID).Msg("Recompute after append failed")
			}
		}
	}
}
