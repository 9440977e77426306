// Package session holds the authenticated state of the client: the bearer
// token and the profile of the user it belongs to.
//
// A Store is created once by the entry point and injected wherever the
// session is read or changed. Token and user are always set and cleared
// together, in memory and in the Persister.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ledger/internal/core"
	"ledger/internal/log"
)

// Fixed keys of the two persisted entries.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

var (
	ErrEmptyToken  = errors.New("session token is empty")
	ErrInvalidUser = errors.New("session user has no id")
)

// Session is a snapshot of the authenticated state. Token empty implies
// User nil.
type Session struct {
	Token string
	User  *core.User
}

// Authenticated reports whether s carries both a token and a user.
func (s Session) Authenticated() bool {
	return s.Token != "" && s.User != nil
}

// Persister stores the session entries durably. Each call must apply all
// of its keys or none of them.
type Persister interface {
	Load(ctx context.Context, keys ...string) (map[string]string, error)
	Store(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store is the process-wide session. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	current   Session
	persister Persister
	logger    *log.Logger

	subMu  sync.Mutex
	subs   map[int]func(Session)
	nextID int
}

// NewStore restores the persisted session, if any. A half-persisted
// session, a token without a user or the reverse, is discarded.
func NewStore(ctx context.Context, persister Persister, logger *log.Logger) (*Store, error) {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Store{
		persister: persister,
		logger:    logger.WithComponent(log.ComponentSession),
		subs:      make(map[int]func(Session)),
	}
	if err := s.restore(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) restore(ctx context.Context) error {
	entries, err := s.persister.Load(ctx, KeyToken, KeyUser)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	token, rawUser := entries[KeyToken], entries[KeyUser]
	if token == "" && rawUser == "" {
		return nil
	}

	var user core.User
	if token != "" && rawUser != "" {
		if err := json.Unmarshal([]byte(rawUser), &user); err == nil && user.ID != "" {
			s.current = Session{Token: token, User: &user}
			s.logger.DebugContext(ctx, "Session restored", log.FieldOperation, log.OpRestore, log.FieldUserID, user.ID)
			return nil
		}
	}

	s.logger.WarnContext(ctx, "Discarding incomplete persisted session",
		"has_token", token != "",
		"has_user", rawUser != "")
	if err := s.persister.Delete(ctx, KeyToken, KeyUser); err != nil {
		return fmt.Errorf("purge incomplete session: %w", err)
	}
	return nil
}

// Get returns a copy of the current session.
func (s *Store) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Token returns the bearer token, or "" when unauthenticated.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Token
}

// User returns the authenticated user.
func (s *Store) User() (core.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.User == nil {
		return core.User{}, false
	}
	return *s.current.User, true
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Authenticated()
}

// SetAuthenticated persists token and user, then makes them current. When
// persisting fails the previous session stays in place.
func (s *Store) SetAuthenticated(ctx context.Context, token string, user core.User) error {
	if token == "" {
		return ErrEmptyToken
	}
	if user.ID == "" {
		return ErrInvalidUser
	}
	rawUser, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	s.mu.Lock()
	if err := s.persister.Store(ctx, map[string]string{KeyToken: token, KeyUser: string(rawUser)}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist session: %w", err)
	}
	u := user
	s.current = Session{Token: token, User: &u}
	snapshot := s.current.clone()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Session established", log.FieldUserID, user.ID)
	s.notify(snapshot)
	return nil
}

// Clear drops the session. Memory is cleared before persistence, so the
// store reads as unauthenticated even when the returned error is non-nil.
// Clearing an empty store is a no-op apart from the persister call.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	wasSet := s.current.Token != "" || s.current.User != nil
	s.current = Session{}
	err := s.persister.Delete(ctx, KeyToken, KeyUser)
	s.mu.Unlock()

	if wasSet {
		s.logger.InfoContext(ctx, "Session cleared")
		s.notify(Session{})
	}
	if err != nil {
		return fmt.Errorf("delete persisted session: %w", err)
	}
	return nil
}

// Subscribe registers fn to run after every change of the session. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(Session)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(current Session) {
	s.subMu.Lock()
	fns := make([]func(Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(current.clone())
	}
}

func (s Session) clone() Session {
	if s.User == nil {
		return s
	}
	u := *s.User
	return Session{Token: s.Token, User: &u}
}
