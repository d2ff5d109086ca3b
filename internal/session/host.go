package session

import "sync"

// Host tracks the session user actions apply to. A newer device connection
// replaces the previous one.
type Host struct {
	mu  sync.RWMutex
	cur *Session
}

// Attach makes s current and stops the session it replaces.
func (h *Host) Attach(s *Session) {
	h.mu.Lock()
	prev := h.cur
	h.cur = s
	h.mu.Unlock()
	if prev != nil && prev != s {
		prev.Stop()
	}
}

// Detach stops s and clears it if it is still current.
func (h *Host) Detach(s *Session) {
	h.mu.Lock()
	if h.cur == s {
		h.cur = nil
	}
	h.mu.Unlock()
	s.Stop()
}

// Current returns the active session, or nil.
func (h *Host) Current() *Session {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}
