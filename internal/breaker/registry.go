package breaker

import (
	"sync"

	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"go.uber.org/zap"
)

// Service classes with distinct trip settings.
const (
	ClassAIProvider = "ai_provider"
	ClassStorage    = "storage"
	ClassWebhook    = "webhook"
	ClassEmail      = "email"
	ClassDefault    = "default"
)

// Event is one breaker outcome handed to the sink.
type Event struct {
	Service  string
	Class    string
	Event    string
	State    string
	Failures int
	Detail   string
}

// EventSink receives breaker outcomes. Implementations must not block for
// long and must swallow their own errors.
type EventSink func(Event)

// SettingsForClass returns the trip settings for a service class, falling
// back to the default tuple for unclassified services. Tuples live in
// config and can be overridden per class through the environment.
func SettingsForClass(class string) Settings {
	all := config.BreakerClassSettings()
	s, ok := all[class]
	if !ok {
		s = all[ClassDefault]
	}
	return Settings{
		Threshold:        s.Threshold,
		Timeout:          s.Timeout,
		HalfOpenRequests: s.HalfOpenRequests,
	}
}

var registryMu sync.Mutex
var registry = make(map[string]*Breaker)

// Get returns the breaker for a service, creating it on first use. State
// lives for the lifetime of this process instance only.
func Get(name, class string) *Breaker {
	key := class + ":" + name

	registryMu.Lock()
	defer registryMu.Unlock()

	if b, ok := registry[key]; ok {
		return b
	}
	b := newBreaker(name, class, SettingsForClass(class), persistEvent)
	registry[key] = b
	return b
}

// Execute is shorthand for Get(name, class).Execute(call).
func Execute(name, class string, call func() error) error {
	return Get(name, class).Execute(call)
}

// Reset forces a single breaker back to closed. It is a no-op for
// breakers that were never created.
func Reset(name, class string) {
	registryMu.Lock()
	b, ok := registry[class+":"+name]
	registryMu.Unlock()
	if ok {
		b.Reset()
	}
}

// ResetAll resets every registered breaker (administrative escape hatch).
func ResetAll() {
	registryMu.Lock()
	breakers := make([]*Breaker, 0, len(registry))
	for _, b := range registry {
		breakers = append(breakers, b)
	}
	registryMu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// Snapshots returns the current state of every registered breaker.
func Snapshots() []Snapshot {
	registryMu.Lock()
	breakers := make([]*Breaker, 0, len(registry))
	for _, b := range registry {
		breakers = append(breakers, b)
	}
	registryMu.Unlock()

	snaps := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}

// persistEvent mirrors breaker outcomes to the breaker_events table.
// Best-effort: a failed write is logged and dropped.
func persistEvent(evt Event) {
	if database.DB == nil {
		return
	}
	row := models.BreakerEvent{
		Service:  evt.Service,
		Class:    evt.Class,
		Event:    evt.Event,
		State:    evt.State,
		Failures: evt.Failures,
		Detail:   evt.Detail,
	}
	if err := database.DB.Create(&row).Error; err != nil {
		zap.L().Warn("breaker event write failed",
			zap.String("service", evt.Service),
			zap.String("event", evt.Event),
			zap.Error(err),
		)
	}
}
