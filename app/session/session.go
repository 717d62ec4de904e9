// Package session tracks the logged-in user: who they are, a signed token
// proving when they logged in, and an inactivity watchdog that ends the
// session when the app sits untouched.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload attached to a session token.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Session is one authenticated user session.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"startedAt"`
}

// Service manages the single active session and its inactivity timeout.
type Service struct {
	mu           sync.Mutex
	signingKey   []byte
	timeout      time.Duration
	log          *ActivityLogger
	onExpire     func()
	current      *Session
	lastActivity time.Time
	stop         chan struct{}
}

// NewService creates a session service. onExpire is called (without the
// lock held) when the inactivity watchdog ends a session; it may be nil.
func NewService(signingKey string, timeout time.Duration, log *ActivityLogger, onExpire func()) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		timeout:    timeout,
		log:        log,
		onExpire:   onExpire,
	}
}

// Login starts a new session for the given user, replacing any session
// already active.
func (s *Service) Login(name, email string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("name and email are required")
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	claims := Claims{
		Name:  name,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  email,
			ID:       id,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	sess := &Session{
		ID:        id,
		Name:      name,
		Email:     email,
		Token:     token,
		StartedAt: now,
	}

	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
	}
	s.current = sess
	s.lastActivity = now
	if s.timeout > 0 {
		s.stop = make(chan struct{})
		go s.watch(s.stop)
	} else {
		s.stop = nil
	}
	s.mu.Unlock()

	s.record("login_success", nil)
	return sess, nil
}

// Logout ends the current session. Calling it with no session active is a
// no-op.
func (s *Service) Logout() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	ev := Event{
		SessionID: s.current.ID,
		UserName:  s.current.Name,
		UserEmail: s.current.Email,
		EventType: "logout",
	}
	s.current = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	if s.log != nil {
		s.log.Log(ev)
	}
}

// Touch marks user activity, resetting the inactivity clock.
func (s *Service) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.lastActivity = time.Now()
	}
}

// Current returns the active session, or nil when nobody is logged in.
func (s *Service) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Active reports whether a session is in progress.
func (s *Service) Active() bool {
	return s.Current() != nil
}

// Record logs an activity event against the current session. Events
// arriving with no session active are dropped.
func (s *Service) Record(eventType string, data map[string]any) {
	s.record(eventType, data)
}

func (s *Service) record(eventType string, data map[string]any) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil || s.log == nil {
		return
	}
	s.log.Log(Event{
		SessionID: cur.ID,
		UserName:  cur.Name,
		UserEmail: cur.Email,
		EventType: eventType,
		EventData: data,
	})
}

// ValidateToken parses and verifies a session token issued by Login.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

// ExpireIfIdle ends the session when no activity has been seen for the
// configured timeout. It returns true when the session was ended.
func (s *Service) ExpireIfIdle(now time.Time) bool {
	s.mu.Lock()
	if s.current == nil || s.timeout <= 0 || now.Sub(s.lastActivity) < s.timeout {
		s.mu.Unlock()
		return false
	}
	ev := Event{
		SessionID: s.current.ID,
		UserName:  s.current.Name,
		UserEmail: s.current.Email,
		EventType: "session_expired",
	}
	s.current = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	if s.log != nil {
		s.log.Log(ev)
	}
	if s.onExpire != nil {
		s.onExpire()
	}
	return true
}

// watch polls the inactivity clock until the session ends.
func (s *Service) watch(stop chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if s.ExpireIfIdle(now) {
				return
			}
		}
	}
}
