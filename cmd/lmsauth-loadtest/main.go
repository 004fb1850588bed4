// Command lmsauth-loadtest drives one session manager with many concurrent
// readers while a writer switches accounts, and reports read and switch
// latency. Any reader that observes a principal paired with the other
// account's role counts as a failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lmsauth "github.com/MrEthical07/lmsauth"
	"github.com/MrEthical07/lmsauth/channel/channeltest"
	"github.com/alicebob/miniredis/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

type account struct {
	token string
	role  lmsauth.Role
	name  string
}

func main() {
	var (
		readers   = flag.Int("readers", 64, "number of concurrent Session readers")
		reads     = flag.Int("reads", 2000000, "total Session reads")
		switches  = flag.Int("switches", 2000, "account switches performed by the writer")
		redisAddr = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix    = flag.String("prefix", "lmsload", "credential key prefix")
	)
	flag.Parse()

	if *readers <= 0 || *reads <= 0 || *switches <= 0 {
		fmt.Fprintln(os.Stderr, "readers, reads, and switches must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := lmsauth.DefaultConfig()
	cfg.Storage.Driver = lmsauth.StorageRedis
	cfg.Storage.RedisPrefix = *prefix
	factory := channeltest.NewFactory()

	m, err := lmsauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithChannelFactory(factory).
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build manager: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	accounts := [2]account{
		{token: mint("alice"), role: lmsauth.RoleMember, name: "alice"},
		{token: mint("bob"), role: lmsauth.RoleLibrarian, name: "bob"},
	}
	if err := m.Login(ctx, accounts[0].token, accounts[0].role); err != nil {
		fmt.Fprintf(os.Stderr, "initial login: %v\n", err)
		os.Exit(1)
	}

	var (
		wg          sync.WaitGroup
		readStats   phaseStats
		switchStats phaseStats
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		readStats = runReadPhase(m, accounts, *reads, *readers)
	}()
	go func() {
		defer wg.Done()
		switchStats = runSwitchPhase(ctx, m, accounts, *switches)
	}()
	wg.Wait()

	fmt.Println("---- results ----")
	printStats("session-read", readStats)
	printStats("account-switch", switchStats)
	fmt.Printf("channels opened=%d live=%d\n", len(factory.Opened()), len(factory.Live()))
	if readStats.failures > 0 || len(factory.Live()) > 1 {
		os.Exit(1)
	}
}

func mint(sub string) string {
	claims := gojwt.MapClaims{"sub": sub, "exp": time.Now().Add(24 * time.Hour).Unix()}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("loadtest"))
	if err != nil {
		panic(err)
	}
	return token
}

func runReadPhase(m *lmsauth.Manager, accounts [2]account, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, 1024)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				s := m.Session()
				d := time.Since(t0)
				if torn(s, accounts) {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, d)
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// torn reports a session whose fields come from two different accounts.
func torn(s lmsauth.Session, accounts [2]account) bool {
	if !s.Valid() {
		return s.Principal != "" || s.Role != ""
	}
	for _, a := range accounts {
		if s.Token == a.token {
			return s.Principal != a.name || s.Role != a.role
		}
	}
	return true
}

func runSwitchPhase(ctx context.Context, m *lmsauth.Manager, accounts [2]account, ops int) phaseStats {
	var failures int64
	latencies := make([]time.Duration, 0, ops)

	start := time.Now()
	for i := 0; i < ops; i++ {
		next := accounts[(i+1)%2]
		t0 := time.Now()
		err := m.Login(ctx, next.token, next.role)
		latencies = append(latencies, time.Since(t0))
		if err != nil {
			failures++
		}
	}
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
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Nanosecond),
		s.p95.Round(time.Nanosecond),
		s.p99.Round(time.Nanosecond),
	)
}
