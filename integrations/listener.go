// Package integrations mirrors recorded steps, info and attachments to
// third-party reporting systems.
package integrations

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// Listener receives step and narrative events as they are recorded. The
// function returned by OnStep is called once when the step exits.
type Listener interface {
	OnStep(title, expected string) func(err error)
	OnDescription(text string)
	OnInfo(key string, value types.Value)
	OnLink(url, name string)
	OnKnownBug(description, url string)
	OnAttach(content []byte, name, mimeType string)
}

// Base implements every Listener method as a no-op. Embed it to implement
// only the events of interest.
type Base struct{}

func (Base) OnStep(string, string) func(error) { return func(error) {} }
func (Base) OnDescription(string) {}
func (Base) OnInfo(string, types.Value) {}
func (Base) OnLink(string, string) {}
func (Base) OnKnownBug(string, string) {}
func (Base) OnAttach([]byte, string, string) {}

// Fanout forwards every event to each listener in order. A nil or empty
// Fanout does nothing. A panicking listener is logged and skipped.
type Fanout struct {
	listeners []Listener
	log       log.Logger
}

func NewFanout(logger log.Logger, listeners ...Listener) *Fanout {
	if logger == nil {
		logger = log.Root()
	}
	f := &Fanout{log: logger}
	for _, l := range listeners {
		if l != nil {
			f.listeners = append(f.listeners, l)
		}
	}
	return f
}

// Add registers another listener
func (f *Fanout) Add(l Listener) {
	if l != nil {
		f.listeners = append(f.listeners, l)
	}
}

func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.listeners)
}

func (f *Fanout) each(event string, fn func(Listener)) {
	if f == nil {
		return
	}
	for _, l := range f.listeners {
		f.call(event, l, fn)
	}
}

func (f *Fanout) call(event string, l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Warn("Integration listener panicked", "event", event, "listener", l, "panic", r)
		}
	}()
	fn(l)
}

func (f *Fanout) OnStep(title, expected string) func(err error) {
	if f.Len() == 0 {
		return func(error) {}
	}
	var ends []func(error)
	f.each("step", func(l Listener) {
		if end := l.OnStep(title, expected); end != nil {
			ends = append(ends, end)
		}
	})
	return func(err error) {
		// close in reverse so nested scopes unwind inside out
		for i := len(ends) - 1; i >= 0; i-- {
			end := ends[i]
			f.call("step end", nil, func(Listener) { end(err) })
		}
	}
}

func (f *Fanout) OnDescription(text string) {
	f.each("description", func(l Listener) { l.OnDescription(text) })
}

func (f *Fanout) OnInfo(key string, value types.Value) {
	f.each("info", func(l Listener) { l.OnInfo(key, value) })
}

func (f *Fanout) OnLink(url, name string) {
	f.each("link", func(l Listener) { l.OnLink(url, name) })
}

func (f *Fanout) OnKnownBug(description, url string) {
	f.each("known bug", func(l Listener) { l.OnKnownBug(description, url) })
}

func (f *Fanout) OnAttach(content []byte, name, mimeType string) {
	f.each("attach", func(l Listener) { l.OnAttach(content, name, mimeType) })
}

var _ Listener = (*Fanout)(nil)
