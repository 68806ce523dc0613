package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected without being
// attempted, so callers can tell "we didn't try" from "we tried and failed".
var ErrCircuitOpen = errors.New("service unavailable: circuit open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings is the trip configuration for one service class.
type Settings struct {
	Threshold        int           // consecutive failures before opening
	Timeout          time.Duration // open duration before probing
	HalfOpenRequests int           // probe calls allowed while half-open
}

// Breaker gates calls to one named external service. State is
// process-local and resets on restart; this weak consistency is accepted
// for the workload (no cross-instance coordination).
type Breaker struct {
	name     string
	class    string
	settings Settings
	sink     EventSink

	mu                sync.Mutex
	state             State
	failures          int
	halfOpenAttempts  int
	halfOpenSuccesses int
	lastFailure       time.Time
	lastSuccess       time.Time

	now func() time.Time // test hook
}

func newBreaker(name, class string, settings Settings, sink EventSink) *Breaker {
	return &Breaker{
		name:     name,
		class:    class,
		settings: settings,
		sink:     sink,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Execute runs call if the breaker allows it. Rejections fail fast with
// ErrCircuitOpen and do not invoke call; a failure of call is recorded
// and the original error is returned.
func (b *Breaker) Execute(call func() error) error {
	if !b.allow() {
		b.emit("rejected", "")
		return ErrCircuitOpen
	}

	if err := call(); err != nil {
		b.recordFailure(err)
		return err
	}

	b.recordSuccess()
	return nil
}

// allow reports whether a call may proceed, lazily moving an expired open
// circuit to half-open. While half-open it admits at most
// HalfOpenRequests in-flight attempts.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.settings.Timeout {
			b.state = StateHalfOpen
			b.halfOpenAttempts = 0
			b.halfOpenSuccesses = 0
			b.emitLocked("half_open", "")
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if b.halfOpenAttempts >= b.settings.HalfOpenRequests {
			return false
		}
		b.halfOpenAttempts++
		return true
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.lastSuccess = b.now()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.settings.HalfOpenRequests {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenAttempts = 0
			b.halfOpenSuccesses = 0
			b.emitLocked("closed", "")
		}
	}
	b.mu.Unlock()

	b.emit("success", "")
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.Threshold {
			b.state = StateOpen
			b.emitLocked("opened", err.Error())
		}
	case StateHalfOpen:
		// A single probe failure reopens immediately, no averaging.
		b.state = StateOpen
		b.halfOpenAttempts = 0
		b.halfOpenSuccesses = 0
		b.emitLocked("opened", err.Error())
	}
	b.mu.Unlock()

	b.emit("failure", err.Error())
}

// Reset forces the breaker back to closed with all counters zeroed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = StateClosed
	b.failures = 0
	b.halfOpenAttempts = 0
	b.halfOpenSuccesses = 0
	b.mu.Unlock()

	b.emit("reset", "")
}

// Snapshot is a point-in-time copy of breaker state for observability.
type Snapshot struct {
	Name        string    `json:"name"`
	Class       string    `json:"class"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
	LastSuccess time.Time `json:"last_success"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		Class:       b.class,
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		LastSuccess: b.lastSuccess,
	}
}

// emit mirrors an outcome to the sink without holding the lock. Sink
// failures must never reach the caller.
func (b *Breaker) emit(event, detail string) {
	if b.sink == nil {
		return
	}
	b.mu.Lock()
	state := b.state
	failures := b.failures
	b.mu.Unlock()
	b.sink(Event{
		Service:  b.name,
		Class:    b.class,
		Event:    event,
		State:    string(state),
		Failures: failures,
		Detail:   detail,
	})
}

// emitLocked is called with b.mu held for state-transition events.
func (b *Breaker) emitLocked(event, detail string) {
	if b.sink == nil {
		return
	}
	b.sink(Event{
		Service:  b.name,
		Class:    b.class,
		Event:    event,
		State:    string(b.state),
		Failures: b.failures,
		Detail:   detail,
	})
}
