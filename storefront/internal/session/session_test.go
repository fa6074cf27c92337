package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoginLogout(t *testing.T) {
	s := New()
	assert.False(t, s.Authenticated())

	s.Login("jwt", User{ID: "u1", Email: "a@b.c"})
	u, ok := s.User()
	assert.True(t, ok)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "jwt", s.Token())

	s.Logout()
	u, ok = s.User()
	assert.False(t, ok)
	assert.Equal(t, User{}, u)
	assert.Empty(t, s.Token())
}

func TestSubscribe(t *testing.T) {
	s := New()
	var events []bool
	unsubscribe := s.Subscribe(func(authenticated bool) { events = append(events, authenticated) })

	s.Login("jwt", User{ID: "u1"})
	s.Logout()
	s.Logout()
	unsubscribe()
	s.Login("jwt2", User{ID: "u2"})

	assert.Equal(t, []bool{true, false}, events)
}

func TestListenerMayReadSession(t *testing.T) {
	s := New()
	var seen string
	s.Subscribe(func(bool) { seen = s.Token() })

	s.Login("jwt", User{ID: "u1"})

	assert.Equal(t, "jwt", seen)
}
