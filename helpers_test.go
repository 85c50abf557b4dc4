package mail2fa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	template string
	target   DeliveryTarget
	vars     map[string]string
}

type captureNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	err   error
	panic bool
}

func (n *captureNotifier) Send(_ context.Context, templateName string, target DeliveryTarget, vars map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.panic {
		panic("notifier exploded")
	}
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	n.sent = append(n.sent, sentMessage{template: templateName, target: target, vars: copied})
	return n.err
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *captureNotifier) last(t *testing.T) sentMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return n.sent[len(n.sent)-1]
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()
	return n.last(t).vars[VarVerificationCode]
}

func (n *captureNotifier) codes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.vars[VarVerificationCode])
	}
	return out
}

type mapDirectory struct {
	byEmail map[string]string
	targets map[string]DeliveryTarget
	err     error
	panic   bool
}

func (d *mapDirectory) LookupUserByEmail(_ context.Context, email string) (string, error) {
	if d.panic {
		panic("directory down")
	}
	if d.err != nil {
		return "", d.err
	}
	return d.byEmail[strings.ToLower(email)], nil
}

func (d *mapDirectory) ResolveDeliveryTarget(_ context.Context, identity string) (DeliveryTarget, error) {
	target, ok := d.targets[identity]
	if !ok {
		return DeliveryTarget{}, errors.New("no such user")
	}
	return target, nil
}

type captureActivity struct {
	mu       sync.Mutex
	messages []string
}

func (a *captureActivity) Record(_ context.Context, message string) {
	a.mu.Lock()
	a.messages = append(a.messages, message)
	a.mu.Unlock()
}

func (a *captureActivity) contains(substr string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type harness struct {
	engine    *Engine
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	clock     *fakeClock
	notifier  *captureNotifier
	directory *mapDirectory
	activity  *captureActivity
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	mr, rdb := newTestRedis(t)
	h := &harness{
		mr:       mr,
		rdb:      rdb,
		clock:    newFakeClock(),
		notifier: &captureNotifier{},
		directory: &mapDirectory{
			byEmail: map[string]string{"alice@example.com": "u1", "bob@example.com": "u2"},
			targets: map[string]DeliveryTarget{
				"u1": {Address: "alice@example.com", FirstName: "Alice"},
				"u2": {Address: "bob@example.com", FirstName: "Bob"},
			},
		},
		activity: &captureActivity{},
	}

	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(h.notifier).
		WithDirectory(h.directory).
		WithActivityLog(h.activity).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	h.engine = engine
	return h
}

func (h *harness) recordKey(identity string) string {
	return "{m2f}:c:" + identity
}

func (h *harness) field(t *testing.T, identity, name string) string {
	t.Helper()
	v, err := h.rdb.HGet(context.Background(), h.recordKey(identity), name).Result()
	if err != nil {
		t.Fatalf("read %s of %s: %v", name, identity, err)
	}
	return v
}

func (h *harness) hasRecord(t *testing.T, identity string) bool {
	t.Helper()
	n, err := h.rdb.Exists(context.Background(), h.recordKey(identity)).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	return n == 1
}

// wrongCode returns a code of the same length that differs in the last digit.
func wrongCode(code string) string {
	last := code[len(code)-1]
	return code[:len(code)-1] + string('0'+(last-'0'+1)%10)
}
