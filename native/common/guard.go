package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when p reports module as paused. A nil view
// or empty module never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSwitch is an operator-controlled PauseView that sits outside any
// module's own state. It is safe for concurrent use.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSwitch returns a switch with the given modules paused.
func NewPauseSwitch(modules ...string) *PauseSwitch {
	s := &PauseSwitch{paused: make(map[string]bool)}
	for _, m := range modules {
		s.Set(m, true)
	}
	return s
}

// Set pauses or resumes module.
func (s *PauseSwitch) Set(module string, paused bool) {
	module = strings.ToLower(strings.TrimSpace(module))
	if module == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[module] = true
		return
	}
	delete(s.paused, module)
}

func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[strings.ToLower(strings.TrimSpace(module))]
}
