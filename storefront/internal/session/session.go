// Package session holds the signed-in user and their bearer credential, and
// tells observers when the user signs in or out.
package session

import "sync"

type User struct {
	ID    string
	Name  string
	Email string
	Roles []string
}

type Listener func(authenticated bool)

type Session struct {
	mu        sync.RWMutex
	token     string
	user      User
	listeners map[int]Listener
	nextID    int
}

func New() *Session {
	return &Session{listeners: map[int]Listener{}}
}

// Login stores the credential and notifies listeners. Logging in again
// replaces the previous credential and notifies again.
func (s *Session) Login(token string, user User) {
	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()

	s.notify(true)
}

// Logout drops the credential. It is a no-op when nobody is signed in.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.user = User{}
	s.mu.Unlock()

	s.notify(false)
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// Subscribe registers fn for sign-in and sign-out events. Listeners run
// synchronously on the goroutine that changed the session.
func (s *Session) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) notify(authenticated bool) {
	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(authenticated)
	}
}
