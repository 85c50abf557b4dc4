//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/mail2fa"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	// Cluster mode: when REDIS_CLUSTER_ADDRS is set (comma-separated).
	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) Send(_ context.Context, _ string, target mail2fa.DeliveryTarget, vars map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = make(map[string]string)
	}
	b.codes[target.Identity] = vars[mail2fa.VarVerificationCode]
	return nil
}

func (b *codeBox) code(identity string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[identity]
}

type silentLog struct{}

func (silentLog) Record(context.Context, string) {}

func newCompatEngine(t *testing.T, rdb redis.UniversalClient, prefix string) (*mail2fa.Engine, *codeBox) {
	t.Helper()
	cfg := mail2fa.DefaultConfig()
	cfg.Store.RedisPrefix = prefix
	box := &codeBox{}

	engine, err := mail2fa.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(box).
		WithActivityLog(silentLog{}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, box
}

func flip(code string) string {
	last := code[len(code)-1]
	return code[:len(code)-1] + string('0'+(last-'0'+1)%10)
}

// TestRedisCompat_Lifecycle runs challenge, a wrong guess and the correct code
// through the Lua scripts of every backend.
func TestRedisCompat_Lifecycle(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			engine, box := newCompatEngine(t, rdb, "compat-life")
			ctx := context.Background()
			subject := mail2fa.Subject{ID: "user1"}

			if p := engine.PresentChallenge(ctx, subject, mail2fa.Settings{}, mail2fa.RequestMeta{}); p.State != mail2fa.PromptCodeSent {
				t.Fatalf("expected code_sent, got %s", p.State)
			}
			code := box.code("user1")

			err := engine.ConfirmActivation(ctx, mail2fa.UserContext{ID: "user1"}, flip(code), mail2fa.Settings{}, mail2fa.RequestMeta{})
			var attemptErr *mail2fa.AttemptError
			if !errors.As(err, &attemptErr) || attemptErr.Remaining != 2 {
				t.Fatalf("expected 2 remaining, got %v", err)
			}

			if !engine.VerifyChallenge(ctx, subject, code, mail2fa.RequestMeta{SourceAddress: "10.1.1.1"}) {
				t.Fatal("correct code rejected")
			}
			if engine.VerifyChallenge(ctx, subject, code, mail2fa.RequestMeta{}) {
				t.Fatal("replay accepted")
			}

			entries, err := engine.AuditEntries(ctx, "user1", 1)
			if err != nil || len(entries) != 1 || entries[0].SourceAddress != "10.1.1.1" {
				t.Fatalf("audit entries: %+v %v", entries, err)
			}
		})
	}
}

// TestRedisCompat_ConcurrentChallenges checks the one-record-per-identity rule
// holds against a real server under contention.
func TestRedisCompat_ConcurrentChallenges(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			engine, _ := newCompatEngine(t, rdb, "compat-conc")
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					engine.PresentChallenge(ctx, mail2fa.Subject{ID: "user1"}, mail2fa.Settings{}, mail2fa.RequestMeta{})
				}()
			}
			wg.Wait()

			n, err := rdb.ZCard(ctx, "{compat-conc}:cx").Result()
			if err != nil {
				t.Fatalf("zcard: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected one indexed record, got %d", n)
			}
		})
	}
}

// TestRedisCompat_Sweep checks the batched index walk on every backend.
func TestRedisCompat_Sweep(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			engine, _ := newCompatEngine(t, rdb, "compat-sweep")
			ctx := context.Background()

			res, err := engine.Sweep(ctx)
			if err != nil {
				t.Fatalf("sweep: %v", err)
			}
			if res.CodesPurged != 0 || res.AuditEntriesPurged != 0 {
				t.Fatalf("empty store swept something: %+v", res)
			}
		})
	}
}
