package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/mail2fa"
)

// capturingNotifier keeps the last code per identity instead of sending mail.
type capturingNotifier struct {
	codes sync.Map
}

func (n *capturingNotifier) Send(_ context.Context, _ string, target mail2fa.DeliveryTarget, vars map[string]string) error {
	n.codes.Store(target.Identity, vars[mail2fa.VarVerificationCode])
	return nil
}

func (n *capturingNotifier) code(identity string) string {
	v, _ := n.codes.Load(identity)
	s, _ := v.(string)
	return s
}

func main() {
	var (
		identities  = flag.Int("identities", 20000, "number of identities to challenge and verify")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "m2f-load", "redis key prefix")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 {
		fmt.Fprintln(os.Stderr, "identities and concurrency must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := mail2fa.DefaultConfig()
	cfg.Store.RedisPrefix = *prefix
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	notifier := &capturingNotifier{}
	engine, err := mail2fa.New().
		WithConfig(cfg).
		WithRedis(client).
		WithNotifier(notifier).
		WithActivityLog(discardActivity{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ids := make([]string, *identities)
	for i := range ids {
		ids[i] = fmt.Sprintf("load-%d", i)
	}

	challengeStats := runPhase(ids, *concurrency, func(id string) bool {
		p := engine.PresentChallenge(ctx, mail2fa.Subject{ID: id}, mail2fa.Settings{}, mail2fa.RequestMeta{SourceAddress: "127.0.0.1"})
		return p.State == mail2fa.PromptCodeSent
	})
	// One wrong guess, then the right one: exercises both verify outcomes.
	verifyStats := runPhase(ids, *concurrency, func(id string) bool {
		meta := mail2fa.RequestMeta{SourceAddress: "127.0.0.1"}
		if engine.VerifyChallenge(ctx, mail2fa.Subject{ID: id}, wrongCode(notifier.code(id)), meta) {
			return false
		}
		return engine.VerifyChallenge(ctx, mail2fa.Subject{ID: id}, notifier.code(id), meta)
	})

	fmt.Println("---- results ----")
	printStats("challenge", challengeStats)
	printStats("verify", verifyStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("verify_success=%d verify_failure=%d\n",
		snap.Counters[mail2fa.MetricVerifySuccess], snap.Counters[mail2fa.MetricVerifyFailure])
}

type discardActivity struct{}

func (discardActivity) Record(context.Context, string) {}

func wrongCode(code string) string {
	if code == "" {
		return "0"
	}
	b := []byte(code)
	b[0] = '0' + (b[0]-'0'+1)%10
	return string(b)
}

func runPhase(ids []string, concurrency int, op func(id string) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(ids))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(ids) {
					return
				}
				t0 := time.Now()
				ok := op(ids[i])
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
