package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/waterauth/internal/logging"
	"github.com/dmitrijs2005/waterauth/internal/server/auth"
	"github.com/dmitrijs2005/waterauth/internal/server/repositories/memory"
	"github.com/dmitrijs2005/waterauth/internal/server/revocation"
)

// --- helpers ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeSms struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (f *fakeSms) SendOtp(_ context.Context, phone, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent[phone] = code
	return nil
}

func (f *fakeSms) code(phone string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[phone]
}

type fakeEmail struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (f *fakeEmail) SendVerificationEmail(_ context.Context, email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent[email] = code
	return nil
}

type recordedEvent struct {
	Type    string
	Subject string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Subject: subject})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store    *memory.Store
	clock    *testClock
	issuer   *auth.TokenIssuer
	otps     *OtpService
	sessions *SessionService
	auth     *AuthService
	sms      *fakeSms
	email    *fakeEmail
	events   *recordingPublisher
}

// newTestEnv wires the services over the in-memory store. The clock starts
// at the wall time because token validation uses the real clock.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.NewNopLogger()
	store := memory.NewStore()
	clock := &testClock{t: time.Now()}
	issuer := auth.NewTokenIssuer("test-secret", "iss", "aud", 30*time.Minute, revocation.NewMemoryDenylist())

	otps := NewOtpService(store, store, logger)
	otps.now = clock.now

	sessions := NewSessionService(store, store, issuer, 7*24*time.Hour, logger)
	sessions.now = clock.now

	e := &testEnv{
		store:    store,
		clock:    clock,
		issuer:   issuer,
		otps:     otps,
		sessions: sessions,
		sms:      &fakeSms{sent: map[string]string{}},
		email:    &fakeEmail{sent: map[string]string{}},
		events:   &recordingPublisher{},
	}

	e.auth = NewAuthService(AuthDeps{
		Transactor:   store,
		Repositories: store,
		Hasher:       auth.NewPasswordHasher(),
		Tokens:       issuer,
		Otps:         otps,
		Sessions:     sessions,
		Sms:          e.sms,
		Email:        e.email,
		Events:       e.events,
		Logger:       logger,
	})
	e.auth.now = clock.now
	return e
}

func hashOf(refreshToken string) string {
	return auth.HashRefreshToken(refreshToken)
}
