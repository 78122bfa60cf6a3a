package identity

import "sync"

// EventType names a provider event.
type EventType string

const (
	EventLoginSuccess        EventType = "LOGIN_SUCCESS"
	EventLoginFailure        EventType = "LOGIN_FAILURE"
	EventAcquireTokenSuccess EventType = "ACQUIRE_TOKEN_SUCCESS"
	EventSSOSilentSuccess    EventType = "SSO_SILENT_SUCCESS"
	EventAccountChanged      EventType = "ACCOUNT_CHANGED"
	EventLogoutSuccess       EventType = "LOGOUT_SUCCESS"
)

// Event is delivered to callbacks registered with a Provider.
type Event struct {
	Type    EventType
	Account *Account
	Err     error
}

// EventCallback receives provider events. Callbacks run on the emitting goroutine.
type EventCallback func(Event)

// Events fans provider events out to registered callbacks.
type Events struct {
	mu   sync.RWMutex
	subs map[int]EventCallback
	next int
}

// Add registers fn and returns a function that removes it.
func (e *Events) Add(fn EventCallback) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[int]EventCallback)
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

// Emit delivers evt to every registered callback.
func (e *Events) Emit(evt Event) {
	e.mu.RLock()
	fns := make([]EventCallback, 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(evt)
	}
}
