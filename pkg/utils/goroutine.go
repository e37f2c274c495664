// Package utils holds test support shared by the SDK packages.
package utils

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

// modulePrefix marks goroutines whose stacks pass through this SDK
const modulePrefix = "github.com/hwiorn/mcp-sdk-go/"

// GoroutineLeakDetector fails a test when goroutines started after Start
// are still running at Check. Check polls until the count settles back to
// the baseline, so a clean shutdown returns as soon as the last goroutine
// exits.
type GoroutineLeakDetector struct {
	t              testing.TB
	baseline       int
	allowedGrowth  int
	stabilizeDelay time.Duration
	timeout        time.Duration
	pollInterval   time.Duration
}

// NewGoroutineLeakDetector creates a detector reporting to t
func NewGoroutineLeakDetector(t testing.TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:              t,
		stabilizeDelay: 20 * time.Millisecond,
		timeout:        2 * time.Second,
		pollInterval:   10 * time.Millisecond,
	}
}

// Start records the baseline goroutine count
func (d *GoroutineLeakDetector) Start() {
	time.Sleep(d.stabilizeDelay)
	d.baseline = runtime.NumGoroutine()
}

// Check waits up to the timeout for the goroutine count to return within
// the allowed growth, then reports the stacks of the SDK goroutines still
// running.
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	deadline := time.Now().Add(d.timeout)
	time.Sleep(d.stabilizeDelay)
	for {
		leaked := runtime.NumGoroutine() - d.baseline
		if leaked <= d.allowedGrowth {
			return
		}
		if time.Now().After(deadline) {
			d.t.Errorf("goroutine leak: %d above baseline %d (allowed %d)", leaked, d.baseline, d.allowedGrowth)
			for _, stack := range moduleStacks() {
				d.t.Log(stack)
			}
			return
		}
		time.Sleep(d.pollInterval)
	}
}

// SetAllowedGrowth sets how many goroutines may outlive the test
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetStabilizeDelay sets the pause before taking the baseline and before
// the first check
func (d *GoroutineLeakDetector) SetStabilizeDelay(delay time.Duration) *GoroutineLeakDetector {
	d.stabilizeDelay = delay
	return d
}

// SetTimeout bounds how long Check waits for goroutines to exit
func (d *GoroutineLeakDetector) SetTimeout(timeout time.Duration) *GoroutineLeakDetector {
	d.timeout = timeout
	return d
}

// moduleStacks returns the stacks of goroutines running SDK code, except
// the detector's own
func moduleStacks() []string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	var stacks []string
	for _, stack := range strings.Split(string(buf), "\n\n") {
		if !strings.Contains(stack, modulePrefix) || strings.Contains(stack, "(*GoroutineLeakDetector)") {
			continue
		}
		stacks = append(stacks, stack)
	}
	return stacks
}
