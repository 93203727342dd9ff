// Package netsignal reports link-layer connectivity of the local host,
// independent of whether the remote service is reachable.
package netsignal

import (
	"context"
	"net"
	"sync"
	"time"
)

// Source exposes the current link state and change notifications.
type Source interface {
	// Current returns true when the host has link-layer connectivity.
	Current() bool
	// Subscribe registers a callback fired on every up/down change.
	// The returned func cancels the subscription.
	Subscribe(fn func(up bool)) (cancel func())
}

// PollingSource derives link state from the host's non-loopback interfaces.
type PollingSource struct {
	interval time.Duration

	mu        sync.Mutex
	up        bool
	subs      map[int]func(bool)
	nextSubID int
	cancel    context.CancelFunc
}

// NewPollingSource creates a source that re-checks interfaces on the given
// interval. Start must be called before changes are delivered.
func NewPollingSource(interval time.Duration) *PollingSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingSource{
		interval: interval,
		up:       hasLink(),
		subs:     make(map[int]func(bool)),
	}
}

// Start begins polling. Idempotent.
func (s *PollingSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.set(hasLink())
			}
		}
	}()
}

// Stop ends polling. Idempotent; no callback fires after Stop returns.
func (s *PollingSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Current returns the last observed link state.
func (s *PollingSource) Current() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up
}

// Subscribe registers a change callback.
func (s *PollingSource) Subscribe(fn func(up bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *PollingSource) set(up bool) {
	s.mu.Lock()
	if s.up == up {
		s.mu.Unlock()
		return
	}
	s.up = up
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(up)
	}
}

// hasLink reports whether any non-loopback interface is up with an address.
func hasLink() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// ManualSource is a toggleable source for composition and tests.
type ManualSource struct {
	mu        sync.Mutex
	up        bool
	subs      map[int]func(bool)
	nextSubID int
}

// NewManualSource creates a manual source with the given initial state.
func NewManualSource(up bool) *ManualSource {
	return &ManualSource{up: up, subs: make(map[int]func(bool))}
}

// Current returns the current state.
func (s *ManualSource) Current() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up
}

// Set updates the state, notifying subscribers on change.
func (s *ManualSource) Set(up bool) {
	s.mu.Lock()
	if s.up == up {
		s.mu.Unlock()
		return
	}
	s.up = up
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(up)
	}
}

// Subscribe registers a change callback.
func (s *ManualSource) Subscribe(fn func(up bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
