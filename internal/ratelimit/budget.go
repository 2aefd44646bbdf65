package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// CallBudget caps how many times a call may be made per scope within a
// rolling window. The narrative builder uses it to bound language-model
// spend per report week.
type CallBudget struct {
	mu     sync.Mutex
	counts map[string]*windowCounter

	maxPerWindow int
	windowSize   time.Duration
	now          func() time.Time
}

type windowCounter struct {
	count     int
	windowEnd time.Time
}

// NewCallBudget creates a budget allowing maxPerWindow calls per (scope, call)
// within windowSize. A non-positive maxPerWindow disables the budget.
func NewCallBudget(maxPerWindow int, windowSize time.Duration) *CallBudget {
	return &CallBudget{
		counts:       make(map[string]*windowCounter),
		maxPerWindow: maxPerWindow,
		windowSize:   windowSize,
		now:          time.Now,
	}
}

func budgetKey(scope, call string) string {
	return scope + "|" + call
}

// Take checks and records one call for scope under a single lock, so
// concurrent or retried callers cannot overshoot the budget.
func (b *CallBudget) Take(scope, call string) error {
	if b == nil || b.maxPerWindow <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := budgetKey(scope, call)
	now := b.now()
	wc, ok := b.counts[key]
	if !ok || now.After(wc.windowEnd) {
		b.counts[key] = &windowCounter{count: 1, windowEnd: now.Add(b.windowSize)}
		return nil
	}
	if wc.count >= b.maxPerWindow {
		return fmt.Errorf("call budget exceeded: scope %s call %s (%d/%d in window)",
			scope, call, wc.count, b.maxPerWindow)
	}
	wc.count++
	return nil
}
