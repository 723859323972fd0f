package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fittrack/internal/config"
	"fittrack/internal/domain"
	"fittrack/internal/email"
	"fittrack/internal/repository"
	"fittrack/internal/service"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) FindUserByEmail(_ context.Context, emailAddr string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByEmail[emailAddr]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.usersByID[id], nil
}

func (m *mockUserRepo) FindUserByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) FindUserByVerificationToken(_ context.Context, token string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.usersByID {
		if user.VerificationToken != nil && *user.VerificationToken == token {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *mockUserRepo) InsertUser(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByEmail[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) UpdateUserVerification(_ context.Context, id string, verified bool, token *string, expiresAt *time.Time) error {
	return m.update(id, func(u *domain.User) {
		if verified {
			token, expiresAt = nil, nil
		}
		u.IsVerified = verified
		u.VerificationToken = token
		u.TokenExpiresAt = expiresAt
	})
}

func (m *mockUserRepo) UpdateUserResetToken(_ context.Context, id string, token *string, expiresAt *time.Time) error {
	return m.update(id, func(u *domain.User) {
		u.ResetToken = token
		u.ResetExpiresAt = expiresAt
	})
}

func (m *mockUserRepo) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	return m.update(id, func(u *domain.User) { u.PasswordHash = passwordHash })
}

func (m *mockUserRepo) ConsumeResetToken(_ context.Context, id, token, passwordHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok || user.ResetToken == nil || *user.ResetToken != token || user.ResetExpiresAt == nil || !user.ResetExpiresAt.After(at) {
		return pgx.ErrNoRows
	}
	user.PasswordHash = passwordHash
	user.ResetToken, user.ResetExpiresAt = nil, nil
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(u *domain.User) { u.LastLogin = &at })
}

func (m *mockUserRepo) update(id string, fn func(*domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(&user)
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) get(emailAddr string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usersByID[m.usersByEmail[emailAddr]]
}

type mockOTPRepo struct {
	mu   sync.Mutex
	rows []domain.OTP
}

func (m *mockOTPRepo) InsertOTP(_ context.Context, otp domain.OTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, row := range m.rows {
		if row.UserID != otp.UserID {
			kept = append(kept, row)
		}
	}
	m.rows = append(kept, otp)
	return nil
}

func (m *mockOTPRepo) FindOTP(_ context.Context, emailAddr, code string) (domain.OTP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Email == emailAddr && m.rows[i].Code == code {
			return m.rows[i], nil
		}
	}
	return domain.OTP{}, pgx.ErrNoRows
}

func (m *mockOTPRepo) MarkOTPUsed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id && !m.rows[i].IsUsed {
			m.rows[i].IsUsed = true
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *mockOTPRepo) DeleteOTPsForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, row := range m.rows {
		if row.UserID != userID {
			kept = append(kept, row)
		}
	}
	m.rows = kept
	return nil
}

func (m *mockOTPRepo) latest() domain.OTP {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) == 0 {
		return domain.OTP{}
	}
	return m.rows[len(m.rows)-1]
}

type mockEmailSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (m *mockEmailSender) Send(_ context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return m.err
}

func (m *mockEmailSender) last() email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return email.Message{}
	}
	return m.sent[len(m.sent)-1]
}

type testServer struct {
	router   *gin.Engine
	auth     *service.AuthService
	sessions *service.SessionService
	users    *mockUserRepo
	otps     *mockOTPRepo
	sender   *mockEmailSender
}

func newTestServer(resetFlow string, throttle *LoginThrottle) *testServer {
	gin.SetMode(gin.TestMode)
	users := newMockUserRepo()
	otps := &mockOTPRepo{}
	sender := &mockEmailSender{}
	sessions := service.NewSessionService("test-secret", 7*24*time.Hour, service.NewMemoryRevocationStore())
	auth := service.NewAuthService(zap.NewNop(), users, otps, nil, sessions, sender, service.NewOTPRateLimiter(time.Minute, 100), service.AuthConfig{
		AppBaseURL:     "https://fittrack.test",
		NormalizeEmail: true,
		BcryptCost:     4,
	})
	h := NewAuthHandler(zap.NewNop(), auth, sessions, CookieConfig{Name: "session"})
	if resetFlow == "" {
		resetFlow = config.ResetFlowOTP
	}
	return &testServer{
		router:   NewRouter(zap.NewNop(), h, throttle, resetFlow),
		auth:     auth,
		sessions: sessions,
		users:    users,
		otps:     otps,
		sender:   sender,
	}
}

func performRequest(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return out
}

func (s *testServer) register(name, emailAddr, password string) *httptest.ResponseRecorder {
	return performRequest(s.router, http.MethodPost, "/auth/register", map[string]string{
		"name": name, "email": emailAddr, "password": password,
	})
}

func (s *testServer) login(emailAddr, password string) *httptest.ResponseRecorder {
	return performRequest(s.router, http.MethodPost, "/auth/login", map[string]string{
		"email": emailAddr, "password": password,
	})
}
