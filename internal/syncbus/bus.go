// Package syncbus fans collection change signals out to subscribers and
// detects changes committed by other execution contexts.
package syncbus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"certdesk/internal/logging"
	"certdesk/internal/metrics"
	"certdesk/internal/persist"
)

type Signal string

const (
	JobOrdersChanged        Signal = "job-orders-changed"
	NotificationsChanged    Signal = "notifications-changed"
	UsersChanged            Signal = "users-changed"
	TrainingSessionsChanged Signal = "training-sessions-changed"
	SessionUserChanged      Signal = "session-user-changed"
	CertificatesChanged     Signal = "certificates-changed"
	PaymentsChanged         Signal = "payments-changed"
	ClientsChanged          Signal = "clients-changed"
)

// SignalFor maps a collection to the signal announcing its changes.
func SignalFor(c persist.Collection) Signal {
	switch c {
	case persist.JobOrders:
		return JobOrdersChanged
	case persist.Notifications:
		return NotificationsChanged
	case persist.Users:
		return UsersChanged
	case persist.TrainingSessions:
		return TrainingSessionsChanged
	case persist.CurrentUser:
		return SessionUserChanged
	case persist.Certificates:
		return CertificatesChanged
	case persist.Payments:
		return PaymentsChanged
	case persist.Clients:
		return ClientsChanged
	}
	return ""
}

type Origin string

const (
	Local    Origin = "local"
	External Origin = "external"
)

type Event struct {
	Signal Signal    `json:"signal"`
	Origin Origin    `json:"origin"`
	At     time.Time `json:"at"`
}

type Handler func(Event)

type subscription struct {
	filter map[Signal]bool
	fn     Handler
}

func (s subscription) wants(sig Signal) bool {
	return len(s.filter) == 0 || s.filter[sig]
}

// Bus delivers change signals. Local signals are deferred by Delay so that
// a mutation's durable write completes before observers re-read.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]subscription
	nextID  int
	delay   time.Duration
	closed  bool
	pending sync.WaitGroup
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(delay time.Duration, logger *zap.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		subs:    map[int]subscription{},
		delay:   delay,
		logger:  logging.OrNop(logger),
		metrics: m,
		now:     time.Now,
	}
}

// Subscribe registers fn for the given signals (all signals when none are
// given) and returns a function that removes the subscription.
func (b *Bus) Subscribe(fn Handler, signals ...Signal) func() {
	filter := make(map[Signal]bool, len(signals))
	for _, s := range signals {
		filter[s] = true
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{filter: filter, fn: fn}
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeChan is Subscribe over a buffered channel. Events are dropped
// when the buffer is full.
func (b *Bus) SubscribeChan(buffer int, signals ...Signal) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false
	unsub := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropping signal for slow subscriber", zap.String("signal", string(e.Signal)))
		}
	}, signals...)
	return ch, func() {
		unsub()
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
}

// PublishLocal schedules delivery of signals after the configured delay.
func (b *Bus) PublishLocal(signals ...Signal) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	for _, sig := range dedupe(signals) {
		e := Event{Signal: sig, Origin: Local, At: b.now()}
		b.pending.Add(1)
		if b.delay <= 0 {
			go func() {
				defer b.pending.Done()
				b.deliver(e)
			}()
			continue
		}
		time.AfterFunc(b.delay, func() {
			defer b.pending.Done()
			b.deliver(e)
		})
	}
}

// PublishExternal delivers signals for changes detected from other contexts.
func (b *Bus) PublishExternal(signals ...Signal) {
	for _, sig := range dedupe(signals) {
		b.deliver(Event{Signal: sig, Origin: External, At: b.now()})
	}
}

// Flush waits for scheduled local deliveries.
func (b *Bus) Flush() {
	b.pending.Wait()
}

// Close stops new local deliveries and waits for scheduled ones.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.pending.Wait()
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Signal) {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()
	b.metrics.Signal(string(e.Signal), string(e.Origin))
	for _, fn := range targets {
		b.call(fn, e)
	}
}

func (b *Bus) call(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("signal subscriber panicked", zap.String("signal", string(e.Signal)), zap.Any("panic", r))
		}
	}()
	fn(e)
}

func dedupe(signals []Signal) []Signal {
	seen := make(map[Signal]bool, len(signals))
	out := signals[:0:0]
	for _, s := range signals {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
