package training

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookie names the cookie carrying a gate session token.
const SessionCookie = "kai_training"

// DefaultSessionTTL is how long a gate session stays valid.
const DefaultSessionTTL = 12 * time.Hour

// LoginErrorMessage is shown for rejected credentials.
const LoginErrorMessage = "Incorrect username or password."

// ErrInvalidCredentials is returned by Login for a wrong username or password.
var ErrInvalidCredentials = errors.New("training: invalid credentials")

// Gate keeps casual visitors away from the training panel.
//
// It is not a security boundary: credentials come from plain configuration,
// sessions live in memory and nothing is rate limited.
type Gate struct {
	username string
	password string
	ttl      time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewGate creates a Gate accepting one username/password pair.
func NewGate(username, password string) *Gate {
	return &Gate{
		username: username,
		password: password,
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
}

// Login checks the credentials and returns a new session token.
func (g *Gate) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}

	token := uuid.New().String()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()
	g.sessions[token] = g.now().Add(g.ttl)
	return token, nil
}

// Valid reports whether token names a live session.
func (g *Gate) Valid(token string) bool {
	if token == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	expires, ok := g.sessions[token]
	if !ok {
		return false
	}
	if !g.now().Before(expires) {
		delete(g.sessions, token)
		return false
	}
	return true
}

// Logout ends a session.
func (g *Gate) Logout(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, token)
}

func (g *Gate) sweepLocked() {
	now := g.now()
	for token, expires := range g.sessions {
		if !now.Before(expires) {
			delete(g.sessions, token)
		}
	}
}
