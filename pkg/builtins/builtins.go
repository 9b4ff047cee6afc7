// Package builtins provides the host functions reachable from Falcon
// scripts: network.scan, crypto.random, time.now and wait.
//
// A Registry satisfies bytecode.Dispatcher and is handed to the VM with
// bytecode.WithBuiltins. Errors returned here surface as runtime errors.
package builtins

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/falcon/pkg/bytecode"
)

// ScanConfig controls network.scan.
type ScanConfig struct {
	Port        int
	Timeout     time.Duration
	First       int
	Last        int
	Concurrency int
}

// DefaultScanConfig probes hosts .1 through .254 on port 80.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Port:        80,
		Timeout:     50 * time.Millisecond,
		First:       1,
		Last:        254,
		Concurrency: 32,
	}
}

// Func is a host function. Arity is checked by the compiler and again by
// the registry before the call.
type Func func(args []bytecode.Value) (bytecode.Value, error)

type entry struct {
	arity int
	fn    Func
}

// Registry maps built-in names to host functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]entry
	scan  ScanConfig
	log   commonlog.Logger

	// Overridable for tests.
	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures a Registry.
type Option func(*Registry)

// WithScanConfig replaces the network.scan settings.
func WithScanConfig(cfg ScanConfig) Option {
	return func(r *Registry) { r.scan = cfg }
}

// NewRegistry returns a registry holding the four standard built-ins.
func NewRegistry(opts ...Option) *Registry {
	d := &net.Dialer{}
	r := &Registry{
		funcs: make(map[string]entry),
		scan:  DefaultScanConfig(),
		log:   commonlog.GetLogger("falcon.builtins"),
		dial:  d.DialContext,
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Register("network.scan", 1, r.networkScan)
	r.Register("crypto.random", 1, cryptoRandom)
	r.Register("time.now", 0, r.timeNow)
	r.Register("wait", 1, r.wait)
	return r
}

// Register adds or replaces a host function.
func (r *Registry) Register(name string, arity int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = entry{arity: arity, fn: fn}
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Call invokes the named built-in.
func (r *Registry) Call(name string, args []bytecode.Value) (bytecode.Value, error) {
	r.mu.RLock()
	e, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return bytecode.Nil, fmt.Errorf("unknown built-in %q", name)
	}
	if len(args) != e.arity {
		return bytecode.Nil, fmt.Errorf("takes %d argument(s), got %d", e.arity, len(args))
	}
	return e.fn(args)
}

// ---------------------------------------------------------------------------
// network.scan
// ---------------------------------------------------------------------------

func (r *Registry) networkScan(args []bytecode.Value) (bytecode.Value, error) {
	if args[0].Kind != bytecode.KindString {
		return bytecode.Nil, fmt.Errorf("subnet must be a string, got %s", args[0].Kind)
	}
	prefix, err := parseSubnet(args[0].Str)
	if err != nil {
		return bytecode.Nil, err
	}

	hosts, err := r.Scan(context.Background(), prefix)
	if err != nil {
		return bytecode.Nil, err
	}
	return bytecode.StringValue(strings.Join(hosts, ",")), nil
}

// parseSubnet accepts the first three octets of an IPv4 address, with or
// without a trailing dot.
func parseSubnet(s string) (string, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid subnet %q: want three octets like 192.168.1", s)
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("invalid subnet %q: bad octet %q", s, p)
		}
	}
	return s, nil
}

// Scan probes prefix.N for every N in the configured range and returns the
// hosts that accepted a TCP connection, in ascending order.
func (r *Registry) Scan(ctx context.Context, prefix string) ([]string, error) {
	cfg := r.scan
	if cfg.First < 0 || cfg.Last > 255 || cfg.First > cfg.Last {
		return nil, fmt.Errorf("invalid scan range %d-%d", cfg.First, cfg.Last)
	}

	alive := make([]bool, cfg.Last-cfg.First+1)
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}

	for n := cfg.First; n <= cfg.Last; n++ {
		g.Go(func() error {
			addr := net.JoinHostPort(fmt.Sprintf("%s.%d", prefix, n), strconv.Itoa(cfg.Port))
			dctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			conn, err := r.dial(dctx, "tcp", addr)
			if err != nil {
				return nil
			}
			conn.Close()
			alive[n-cfg.First] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var hosts []string
	for i, ok := range alive {
		if ok {
			hosts = append(hosts, fmt.Sprintf("%s.%d", prefix, cfg.First+i))
		}
	}
	r.log.Debugf("scan %s.%d-%d port %d: %d host(s) up", prefix, cfg.First, cfg.Last, cfg.Port, len(hosts))
	return hosts, nil
}

// ---------------------------------------------------------------------------
// crypto.random, time.now, wait
// ---------------------------------------------------------------------------

func cryptoRandom(args []bytecode.Value) (bytecode.Value, error) {
	if args[0].Kind != bytecode.KindInt {
		return bytecode.Nil, fmt.Errorf("max must be an integer, got %s", args[0].Kind)
	}
	limit := args[0].Int
	if limit <= 0 {
		return bytecode.Nil, fmt.Errorf("max must be positive, got %d", limit)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(limit))
	if err != nil {
		return bytecode.Nil, fmt.Errorf("reading random source: %w", err)
	}
	return bytecode.IntValue(n.Int64()), nil
}

func (r *Registry) timeNow(args []bytecode.Value) (bytecode.Value, error) {
	return bytecode.IntValue(r.now().UnixMilli()), nil
}

func (r *Registry) wait(args []bytecode.Value) (bytecode.Value, error) {
	if args[0].Kind != bytecode.KindInt {
		return bytecode.Nil, fmt.Errorf("milliseconds must be an integer, got %s", args[0].Kind)
	}
	ms := args[0].Int
	if ms < 0 {
		return bytecode.Nil, fmt.Errorf("milliseconds must not be negative, got %d", ms)
	}
	r.sleep(time.Duration(ms) * time.Millisecond)
	return bytecode.Nil, nil
}
