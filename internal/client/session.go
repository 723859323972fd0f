// Package client es el cliente de terminal de la API de auth. Mantiene la
// credencial en memoria y la descarta cuando el monitor de inactividad
// cierra la sesión.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fittrack/internal/domain"
	"fittrack/internal/idle"
)

const logoutTimeout = 5 * time.Second

var ErrNotSignedIn = errors.New("not signed in")

// APIError es una respuesta no exitosa de la API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Options configura la sesión. Idle se pasa tal cual al monitor; sus
// callbacks OnLogout se reemplazan por los de la sesión.
type Options struct {
	HTTPClient *http.Client
	Idle       idle.Config
	Logger     *zap.Logger
	// OnLoggedOut se llama después de descartar la credencial.
	OnLoggedOut func(reason idle.Reason)
}

type LoginResult struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      domain.PublicUser `json:"user"`
}

// Session combina la credencial con el monitor de inactividad.
type Session struct {
	baseURL     string
	http        *http.Client
	logger      *zap.Logger
	monitor     *idle.Monitor
	onLoggedOut func(reason idle.Reason)

	mu    sync.Mutex
	token string
	user  domain.PublicUser
}

func NewSession(baseURL string, opts Options) *Session {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Session{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        opts.HTTPClient,
		logger:      opts.Logger,
		onLoggedOut: opts.OnLoggedOut,
	}
	cfg := opts.Idle
	cfg.OnLogout = s.handleLogout
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	s.monitor = idle.New(cfg)
	return s
}

// Login autentica y arranca el monitor.
func (s *Session) Login(ctx context.Context, emailAddr, password string) (LoginResult, error) {
	var res LoginResult
	err := s.do(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    emailAddr,
		"password": password,
	}, &res)
	if err != nil {
		return LoginResult{}, err
	}
	s.mu.Lock()
	s.token = res.Token
	s.user = res.User
	s.mu.Unlock()
	s.monitor.Start()
	return res, nil
}

// Me consulta el usuario actual. Cuenta como actividad.
func (s *Session) Me(ctx context.Context) (domain.PublicUser, error) {
	token := s.Token()
	if token == "" {
		return domain.PublicUser{}, ErrNotSignedIn
	}
	s.monitor.Activity()
	var res struct {
		User domain.PublicUser `json:"user"`
	}
	if err := s.do(ctx, http.MethodGet, "/auth/me", token, nil, &res); err != nil {
		return domain.PublicUser{}, err
	}
	return res.User, nil
}

// Logout revoca la credencial en el servidor y la descarta localmente.
func (s *Session) Logout(ctx context.Context) error {
	token := s.takeToken()
	s.monitor.Logout()
	if token == "" {
		return ErrNotSignedIn
	}
	return s.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

// Touch registra interacción del usuario.
func (s *Session) Touch() {
	s.monitor.Activity()
}

// StayLoggedIn responde al aviso de inactividad.
func (s *Session) StayLoggedIn() {
	s.monitor.StayLoggedIn()
}

func (s *Session) State() idle.State {
	return s.monitor.State()
}

// Notice devuelve una vez el aviso de cierre por inactividad.
func (s *Session) Notice() (string, bool) {
	return s.monitor.TakeLogoutNotice()
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) User() domain.PublicUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Close detiene los timers sin tocar el servidor.
func (s *Session) Close() {
	s.monitor.Stop()
}

func (s *Session) takeToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.token
	s.token = ""
	s.user = domain.PublicUser{}
	return token
}

// handleLogout corre en el timer del monitor en el cierre por inactividad.
func (s *Session) handleLogout(reason idle.Reason) {
	if token := s.takeToken(); token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
		if err := s.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil); err != nil {
			s.logger.Warn("remote logout failed", zap.Error(err))
		}
		cancel()
	}
	if s.onLoggedOut != nil {
		s.onLoggedOut(reason)
	}
}

func (s *Session) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
