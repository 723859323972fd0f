package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fittrack/internal/idle"
)

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualClock dispara los timers vencidos en Advance, en orden de creación.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) idle.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := make([]*manualTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.at.After(c.now) {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type fakeAPI struct {
	mu      sync.Mutex
	logouts []string
}

func (a *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "password123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-1","expiresAt":"2026-05-11T12:00:00Z","user":{"id":"u1","name":"Ana","email":"a@gmail.com","role":"user","status":"active","isVerified":true}}`))
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication failed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user":{"id":"u1","name":"Ana","email":"a@gmail.com","role":"user","status":"active","isVerified":true}}`))
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.logouts = append(a.logouts, r.Header.Get("Authorization"))
		a.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (a *fakeAPI) logoutCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.logouts...)
}

func newTestSession(t *testing.T) (*Session, *manualClock, *fakeAPI, *[]idle.Reason) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	clock := &manualClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	var reasons []idle.Reason
	s := NewSession(srv.URL, Options{
		HTTPClient:  srv.Client(),
		Idle:        idle.Config{Clock: clock},
		OnLoggedOut: func(r idle.Reason) { reasons = append(reasons, r) },
	})
	t.Cleanup(s.Close)
	return s, clock, api, &reasons
}

func TestSession_LoginAndMe(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	res, err := s.Login(t.Context(), "a@gmail.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.True(t, res.User.IsVerified)
	assert.Equal(t, idle.Active, s.State())

	user, err := s.Me(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "a@gmail.com", user.Email)
}

func TestSession_LoginFailure(t *testing.T) {
	s, _, _, _ := newTestSession(t)

	_, err := s.Login(t.Context(), "a@gmail.com", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid credentials", apiErr.Message)
	assert.Empty(t, s.Token())
}

func TestSession_IdleLogoutDropsCredential(t *testing.T) {
	s, clock, api, reasons := newTestSession(t)
	_, err := s.Login(t.Context(), "a@gmail.com", "password123")
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	assert.Equal(t, idle.Warning, s.State())

	clock.Advance(time.Minute)
	assert.Equal(t, idle.LoggedOut, s.State())
	assert.Empty(t, s.Token())
	assert.Equal(t, []string{"Bearer tok-1"}, api.logoutCalls())
	assert.Equal(t, []idle.Reason{idle.ReasonIdle}, *reasons)

	notice, ok := s.Notice()
	require.True(t, ok)
	assert.Contains(t, notice, "inactivity")
	_, ok = s.Notice()
	assert.False(t, ok)

	_, err = s.Me(t.Context())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestSession_TouchKeepsSessionAlive(t *testing.T) {
	s, clock, api, _ := newTestSession(t)
	_, err := s.Login(t.Context(), "a@gmail.com", "password123")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		clock.Advance(3 * time.Minute)
		s.Touch()
	}
	assert.Equal(t, idle.Active, s.State())
	assert.Equal(t, "tok-1", s.Token())
	assert.Empty(t, api.logoutCalls())

	clock.Advance(4*time.Minute + 30*time.Second)
	require.Equal(t, idle.Warning, s.State())
	s.StayLoggedIn()
	assert.Equal(t, idle.Active, s.State())
}

func TestSession_ExplicitLogout(t *testing.T) {
	s, _, api, reasons := newTestSession(t)
	_, err := s.Login(t.Context(), "a@gmail.com", "password123")
	require.NoError(t, err)

	require.NoError(t, s.Logout(t.Context()))
	assert.Equal(t, idle.LoggedOut, s.State())
	assert.Equal(t, []string{"Bearer tok-1"}, api.logoutCalls())
	assert.Equal(t, []idle.Reason{idle.ReasonUser}, *reasons)
	_, ok := s.Notice()
	assert.False(t, ok)

	assert.ErrorIs(t, s.Logout(t.Context()), ErrNotSignedIn)
}
