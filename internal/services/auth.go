package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ledger/internal/api"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/session"
)

// ErrInvalidCredentials is returned by Login when the backend rejects the
// email and password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// SessionStore is the part of session.Store the auth service drives.
type SessionStore interface {
	Get() session.Session
	User() (core.User, bool)
	IsAuthenticated() bool
	SetAuthenticated(ctx context.Context, token string, user core.User) error
	Clear(ctx context.Context) error
	Subscribe(fn func(session.Session)) func()
}

var _ SessionStore = (*session.Store)(nil)

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        core.User `json:"user"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthService logs users in and out and registers new accounts.
type AuthService struct {
	backend Backend
	session SessionStore
	logger  *log.Logger
}

func NewAuthService(backend Backend, store SessionStore, logger *log.Logger) *AuthService {
	if logger == nil {
		logger = log.Nop()
	}
	return &AuthService{
		backend: backend,
		session: store,
		logger:  logger.WithComponent(log.ComponentAuth),
	}
}

// Login exchanges credentials for a token and stores the resulting session.
func (s *AuthService) Login(ctx context.Context, email, password string) (session.Session, error) {
	email = strings.TrimSpace(email)
	if err := checkCredentials(email, password); err != nil {
		return session.Session{}, err
	}

	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	var resp loginResponse
	err := s.backend.Send(ctx, api.Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Form:      form,
		Anonymous: true,
	}, &resp)
	if err != nil {
		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
			s.logger.InfoContext(ctx, "Login rejected", log.FieldOperation, log.OpLogin)
			// A rejected login also ends any session signed in before it.
			if s.session.IsAuthenticated() {
				if cerr := s.session.Clear(ctx); cerr != nil {
					s.logger.WarnContext(ctx, "Failed to clear session", log.FieldOperation, log.OpLogin, log.FieldError, cerr)
				}
			}
			return session.Session{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return session.Session{}, fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return session.Session{}, errors.New("login: response carries no access token")
	}

	if err := s.session.SetAuthenticated(ctx, resp.AccessToken, resp.User); err != nil {
		return session.Session{}, fmt.Errorf("login: store session: %w", err)
	}

	s.logger.InfoContext(ctx, "User logged in",
		log.FieldOperation, log.OpLogin,
		log.FieldUserID, resp.User.ID,
	)
	return s.session.Get(), nil
}

// Register creates an account. The new user still has to log in.
func (s *AuthService) Register(ctx context.Context, email, password string) (core.User, error) {
	email = strings.TrimSpace(email)
	if err := checkCredentials(email, password); err != nil {
		return core.User{}, err
	}

	var user core.User
	err := s.backend.Send(ctx, api.Request{
		Method:    http.MethodPost,
		Path:      "/auth/register",
		Body:      registerRequest{Email: email, Password: password},
		Anonymous: true,
	}, &user)
	if err != nil {
		return core.User{}, fmt.Errorf("register: %w", err)
	}

	s.logger.InfoContext(ctx, "User registered",
		log.FieldOperation, log.OpRegister,
		log.FieldUserID, user.ID,
	)
	return user, nil
}

// Logout clears the local session. There is no backend call and it never
// fails; a session that cannot be removed from disk is logged.
func (s *AuthService) Logout(ctx context.Context) {
	if err := s.session.Clear(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to clear persisted session", log.NewFields().
			WithOperation(log.OpLogout).
			WithError(err, log.ErrorTypeDatabase).
			ToSlice()...)
		return
	}
	s.logger.DebugContext(ctx, "Session cleared", log.FieldOperation, log.OpLogout)
}

func (s *AuthService) IsAuthenticated() bool {
	return s.session.IsAuthenticated()
}

func (s *AuthService) CurrentUser() (core.User, bool) {
	return s.session.User()
}

// OnSessionChange runs fn after every login, logout or session rejection.
func (s *AuthService) OnSessionChange(fn func(session.Session)) func() {
	return s.session.Subscribe(fn)
}

func checkCredentials(email, password string) error {
	if email == "" {
		return api.NewValidationError("email", errors.New("is required"))
	}
	if password == "" {
		return api.NewValidationError("password", errors.New("is required"))
	}
	return nil
}
