package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fittrack/internal/domain"
	"fittrack/internal/email"
	"fittrack/internal/repository"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
	writes       int
	findErr      error
	insertErr    error
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
	if m.findErr != nil {
		return domain.User{}, m.findErr
	}
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
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.usersByEmail[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	m.writes++
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
	m.writes++
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
	m.writes++
	return nil
}

func (m *mockUserRepo) get(emailAddr string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usersByID[m.usersByEmail[emailAddr]]
}

func (m *mockUserRepo) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type mockOTPRepo struct {
	mu      sync.Mutex
	rows    []domain.OTP
	markErr error
}

func (m *mockOTPRepo) InsertOTP(_ context.Context, otp domain.OTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(otp.UserID)
	m.rows = append(m.rows, otp)
	return nil
}

func (m *mockOTPRepo) FindOTP(_ context.Context, emailAddr, code string) (domain.OTP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := make([]domain.OTP, 0, 1)
	for _, row := range m.rows {
		if row.Email == emailAddr && row.Code == code {
			matches = append(matches, row)
		}
	}
	if len(matches) == 0 {
		return domain.OTP{}, pgx.ErrNoRows
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return matches[0], nil
}

func (m *mockOTPRepo) MarkOTPUsed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
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
	m.deleteLocked(userID)
	return nil
}

func (m *mockOTPRepo) deleteLocked(userID string) {
	kept := m.rows[:0]
	for _, row := range m.rows {
		if row.UserID != userID {
			kept = append(kept, row)
		}
	}
	m.rows = kept
}

func (m *mockOTPRepo) snapshot() []domain.OTP {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OTP(nil), m.rows...)
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

func (m *mockEmailSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockEmailSender) last() email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return email.Message{}
	}
	return m.sent[len(m.sent)-1]
}

// sequenceTokens devuelve los valores en orden y luego cae al generador real.
type sequenceTokens struct {
	mu     sync.Mutex
	tokens []string
	otps   []string
	next   TokenGenerator
}

func (g *sequenceTokens) VerificationToken() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.tokens) == 0 {
		return g.next.VerificationToken()
	}
	tok := g.tokens[0]
	g.tokens = g.tokens[1:]
	return tok, nil
}

func (g *sequenceTokens) OTP() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.otps) == 0 {
		return g.next.OTP()
	}
	code := g.otps[0]
	g.otps = g.otps[1:]
	return code, nil
}

type mockLimiter struct {
	allow bool
}

func (m *mockLimiter) Allow(_ string) bool {
	return m.allow
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type authFixture struct {
	svc      *AuthService
	users    *mockUserRepo
	otps     *mockOTPRepo
	sender   *mockEmailSender
	sessions *SessionService
	clock    *testClock
	tokens   *sequenceTokens
}

func newAuthFixture() *authFixture {
	clock := &testClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	users := newMockUserRepo()
	otps := &mockOTPRepo{}
	sender := &mockEmailSender{}
	sessions := NewSessionService("test-secret", 7*24*time.Hour, NewMemoryRevocationStore())
	sessions.now = clock.Now
	svc := NewAuthService(zap.NewNop(), users, otps, nil, sessions, sender, NewOTPRateLimiter(time.Minute, 100), AuthConfig{
		AppBaseURL:     "https://fittrack.test/",
		NormalizeEmail: true,
		BcryptCost:     4,
	})
	svc.now = clock.Now
	tokens := &sequenceTokens{next: NewRandomTokens()}
	svc.tokens = tokens
	return &authFixture{svc: svc, users: users, otps: otps, sender: sender, sessions: sessions, clock: clock, tokens: tokens}
}
