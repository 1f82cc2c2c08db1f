package events

import "sync"

// Handler receives the payload passed to Emit.
type Handler func(data interface{})

var (
	mu       sync.RWMutex
	handlers = map[string][]Handler{}
)

// On registers a handler for an event name.
func On(event string, h Handler) {
	mu.Lock()
	defer mu.Unlock()
	handlers[event] = append(handlers[event], h)
}

// Emit delivers the payload to every handler registered for the event.
// Delivery is synchronous; handlers that do real work should hand off.
func Emit(event string, data interface{}) {
	mu.RLock()
	hs := append([]Handler(nil), handlers[event]...)
	mu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}

// Reset removes all registered handlers. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	handlers = map[string][]Handler{}
}
