package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/skystash/drive-api/internal/sdk/models"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/skystash/drive-api/internal/services/token"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMail struct {
	to  string
	otp string
}

type mailerStub struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *mailerStub) SendPasswordResetOTP(to, otp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, otp: otp})
	return nil
}

func (m *mailerStub) lastSent() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type fixture struct {
	store  *sqldb.MemoryService
	tokens *token.Service
	mailer *mailerStub
	clock  *fakeClock
	svc    *Service
}

func newFixture() *fixture {
	clock := newFakeClock()
	store := sqldb.NewMemory()
	mailer := &mailerStub{}
	tokens := token.NewService("test-secret", "drive-api", 15*time.Minute, 7*24*time.Hour).WithClock(clock.Now)
	svc := NewService(store, tokens, mailer, 10*time.Minute).WithClock(clock.Now)

	return &fixture{
		store:  store,
		tokens: tokens,
		mailer: mailer,
		clock:  clock,
		svc:    svc,
	}
}

func (f *fixture) mustSignup(t *testing.T, email, password string) (models.User, TokenPair) {
	t.Helper()
	user, pair, err := f.svc.Signup(context.Background(), email, password, true, "10.0.0.1")
	require.NoError(t, err)
	return user, pair
}
