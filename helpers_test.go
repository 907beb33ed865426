package stepauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeGate struct {
	mu         sync.Mutex
	profile    UserProfile
	password   string
	verifyErr  error
	lookupErr  error
	lookups    int
	verifyCall int
}

func (g *fakeGate) VerifyCredentials(_ context.Context, email, password string) (UserProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCall++
	if g.verifyErr != nil {
		return UserProfile{}, g.verifyErr
	}
	if email != g.profile.Email || password != g.password {
		return UserProfile{}, ErrInvalidCredentials
	}
	return g.profile, nil
}

func (g *fakeGate) GetUserByID(_ context.Context, userID string) (UserProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	if g.lookupErr != nil {
		return UserProfile{}, g.lookupErr
	}
	if userID != g.profile.UserID {
		return UserProfile{}, errors.New("no such user")
	}
	return g.profile, nil
}

func (g *fakeGate) GetUserByEmail(_ context.Context, email string) (UserProfile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if email != g.profile.Email {
		return UserProfile{}, errors.New("no such user")
	}
	return g.profile, nil
}

func (g *fakeGate) setVerifyErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyErr = err
}

func (g *fakeGate) setLookupErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookupErr = err
}

type recordingNotifier struct {
	mu         sync.Mutex
	fail       bool
	codes      []string
	recipients []string
	channels   []Channel
}

func (n *recordingNotifier) Deliver(_ context.Context, channel Channel, recipient, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	n.recipients = append(n.recipients, recipient)
	n.channels = append(n.channels, channel)
	if n.fail {
		return errors.New("smtp relay down")
	}
	return nil
}

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		t.Fatal("no code was delivered")
	}
	return n.codes[len(n.codes)-1]
}

type staticPolicy struct {
	mu       sync.Mutex
	decision PolicyDecision
	err      error
	calls    int
}

func (p *staticPolicy) CheckLogin(context.Context, string, string) (PolicyDecision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.decision, p.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Token.VerifierSalt = []byte("0123456789abcdef")
	return cfg
}

func testProfile() UserProfile {
	return UserProfile{
		UserID:      "u-1",
		Username:    "alice",
		Email:       "alice@example.com",
		Phone:       "+14155550123",
		Role:        "admin",
		Permissions: []string{"read", "write"},
		Team:        "core",
	}
}

// newTestEngine builds an engine against an embedded Redis with a known user
// (alice@example.com / hunter2!). Options mutate the builder before Build.
func newTestEngine(t *testing.T, opts ...func(*Builder)) (*Engine, *fakeGate, *recordingNotifier, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	gate := &fakeGate{profile: testProfile(), password: "hunter2!"}
	notifier := &recordingNotifier{}

	b := NewBuilder().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithCredentialGate(gate).
		WithNotifier(notifier)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, gate, notifier, mr
}

// wrongCode returns a code guaranteed to differ from the real one.
func wrongCode(real string) string {
	if real == "000000" {
		return "000001"
	}
	return "000000"
}

// loginAndVerify walks both phases and returns the issued tokens.
func loginAndVerify(t *testing.T, ctx context.Context, engine *Engine, notifier *recordingNotifier) *LoginResult {
	t.Helper()

	challenge, err := engine.Login(ctx, "alice@example.com", "hunter2!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	result, err := engine.VerifyLogin(ctx, challenge.ChallengeID, notifier.lastCode(t))
	if err != nil {
		t.Fatalf("verify login: %v", err)
	}
	return result
}
