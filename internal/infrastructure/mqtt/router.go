package mqtt

import (
	"strings"
	"sync"
)

// TopicMatches reports whether topic matches an MQTT subscription pattern.
//
// Levels are separated by "/". "+" matches exactly one level. "#" matches
// its own level and everything below it, including nothing: "a/#" matches
// "a", "a/b" and "a/b/c". Without "#" the level counts must be equal.
func TopicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, seg := range p {
		if seg == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}

	return len(p) == len(t)
}

// Router dispatches inbound messages to every handler whose pattern
// matches the topic.
//
// Patterns are evaluated in registration order and each pattern's
// handlers run in the order they were added. A failing handler is logged
// and does not prevent the remaining handlers from running.
//
// Thread Safety:
//   - Handle and Dispatch may be called concurrently. Handlers run on the
//     caller's goroutine, outside the router's lock.
type Router struct {
	mu     sync.RWMutex
	routes []route
	index  map[string]int

	logger   Logger
	loggerMu sync.RWMutex
}

type route struct {
	pattern  string
	handlers []MessageHandler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{
		index: make(map[string]int),
	}
}

// SetLogger sets the logger used for handler errors and panics.
func (r *Router) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Router) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Handle appends h to the handlers registered for pattern.
func (r *Router) Handle(pattern string, h MessageHandler) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[pattern]; ok {
		r.routes[i].handlers = append(r.routes[i].handlers, h)
		return
	}
	r.index[pattern] = len(r.routes)
	r.routes = append(r.routes, route{pattern: pattern, handlers: []MessageHandler{h}})
}

// Patterns returns the registered patterns in registration order.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.pattern
	}
	return out
}

// Dispatch invokes every matching handler and returns how many ran.
// Topics matching no pattern are ignored.
func (r *Router) Dispatch(topic string, payload []byte) int {
	var matched []MessageHandler

	r.mu.RLock()
	for _, rt := range r.routes {
		if TopicMatches(rt.pattern, topic) {
			matched = append(matched, rt.handlers...)
		}
	}
	r.mu.RUnlock()

	for _, h := range matched {
		r.invoke(h, topic, payload)
	}
	return len(matched)
}

// Handler adapts the router to a MessageHandler for Client.Subscribe.
func (r *Router) Handler() MessageHandler {
	return func(topic string, payload []byte) error {
		r.Dispatch(topic, payload)
		return nil
	}
}

// invoke runs one handler with panic recovery.
func (r *Router) invoke(h MessageHandler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			if logger := r.getLogger(); logger != nil {
				logger.Error("message handler panic recovered",
					"topic", topic,
					"panic", rec,
				)
			}
		}
	}()

	if err := h(topic, payload); err != nil {
		if logger := r.getLogger(); logger != nil {
			logger.Warn("message handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}
