package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off at construction time for objects the
// consumer promises to use from a single thread of control.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// Spinlock guards short critical sections. It records whether it is held so that
// callers can assert ownership before touching protected state.
type Spinlock struct {
	mutex sync.Mutex
	held  bool
}

func (s *Spinlock) Acquire() {
	s.mutex.Lock()
	s.held = true
}

func (s *Spinlock) Release() {
	s.held = false
	s.mutex.Unlock()
}

// DoIHold reports whether the lock is currently held. It is only meaningful for the holder.
func (s *Spinlock) DoIHold() bool {
	return s.held
}
