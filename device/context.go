// Package device describes the machine a training run executes on and
// collects its profiling counters. A Context is created per run and passed
// to the components that need it.
package device

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/cpuid/v2"

	"tnet/neuralnet"
)

// Feedforward block sizes chosen from the cache size stay within these bounds.
const (
	MinBlockSize = 256
	MaxBlockSize = 4096
)

// Counter is the accumulated time of one profiled operation.
type Counter struct {
	Calls int
	Total time.Duration
}

// Context carries the detected CPU capabilities and the profiling counters.
type Context struct {
	cpu     cpuid.CPUInfo
	threads int

	mu       sync.Mutex
	counters map[string]*Counter
}

type Option func(*Context)

// WithThreads overrides the detected worker count.
func WithThreads(n int) Option {
	return func(c *Context) { c.threads = n }
}

func withCPU(info cpuid.CPUInfo) Option {
	return func(c *Context) { c.cpu = info }
}

func New(opts ...Option) *Context {
	c := &Context{cpu: cpuid.CPU, counters: make(map[string]*Counter)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threads returns the number of workers to train with: the override if set,
// otherwise one per physical core.
func (c *Context) Threads() int {
	if c.threads > 0 {
		return c.threads
	}
	if c.cpu.PhysicalCores > 0 {
		return c.cpu.PhysicalCores
	}
	return max(runtime.NumCPU(), 1)
}

// BlockSize returns the number of rows of rowBytes each that fit the L2
// cache, for use as the Feedforward block size.
func (c *Context) BlockSize(rowBytes int) int {
	l2 := c.cpu.Cache.L2
	if l2 <= 0 || rowBytes <= 0 {
		return neuralnet.DefaultBlockSize
	}
	return min(max(l2/rowBytes, MinBlockSize), MaxBlockSize)
}

// Vectorized reports whether the CPU has the AVX2 and FMA3 extensions that
// the BLAS kernels use.
func (c *Context) Vectorized() bool {
	return c.cpu.Supports(cpuid.AVX2, cpuid.FMA3)
}

func (c *Context) String() string {
	var flags []string
	for _, f := range []struct {
		name string
		id   cpuid.FeatureID
	}{{"avx2", cpuid.AVX2}, {"fma3", cpuid.FMA3}, {"avx512f", cpuid.AVX512F}} {
		if c.cpu.Supports(f.id) {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("%s: %d physical / %d logical cores, L2 %d bytes, [%s]",
		c.cpu.BrandName, c.cpu.PhysicalCores, c.cpu.LogicalCores, c.cpu.Cache.L2,
		strings.Join(flags, " "))
}

func (c *Context) Profile(name string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctr, ok := c.counters[name]
	if !ok {
		ctr = &Counter{}
		c.counters[name] = ctr
	}
	ctr.Calls++
	ctr.Total += d
}

// Since profiles the time elapsed since start, as in
// defer ctx.Since("propagate", time.Now()).
func (c *Context) Since(name string, start time.Time) {
	c.Profile(name, time.Since(start))
}

func (c *Context) Counters() map[string]Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Counter, len(c.counters))
	for name, ctr := range c.counters {
		out[name] = *ctr
	}
	return out
}

// Report formats the counters, one line each, sorted by name.
func (c *Context) Report() string {
	counters := c.Counters()
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		ctr := counters[name]
		fmt.Fprintf(&sb, "%-16s %8d calls %12v\n", name, ctr.Calls, ctr.Total)
	}
	return sb.String()
}
