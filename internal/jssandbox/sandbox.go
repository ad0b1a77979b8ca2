// Package jssandbox implements the lightweight tier's DOM-less JS
// evaluator (spec §4.1): a single-threaded sandbox bound to a minimal DOM
// facade with a 2-second CPU budget. Uses github.com/dop251/goja, an
// out-of-pack dependency — no JS VM appears anywhere in the retrieved
// example corpus, so this package is named rather than grounded in the
// teacher's own code (see DESIGN.md).
package jssandbox

import (
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// ErrBudgetExceeded is returned when a script's CPU budget is exhausted.
var ErrBudgetExceeded = fmt.Errorf("jssandbox: script CPU budget exceeded")

// Sandbox evaluates inline <script> bodies against a goquery document via
// a minimal DOM facade. One Sandbox instance is not safe for concurrent
// use; callers construct one per evaluation the way the cascade does one
// fetch at a time.
type Sandbox struct {
	vm  *goja.Runtime
	dom *DOM
}

// New builds a Sandbox bound to doc. Mutations performed by evaluated
// scripts are applied directly to doc, so they are visible to the render
// step afterward (spec §4.1: "mutations retained in the parsed content").
func New(doc *goquery.Document) *Sandbox {
	vm := goja.New()
	dom := newDOM(doc)
	registerDOM(vm, dom)
	return &Sandbox{vm: vm, dom: dom}
}

// Run evaluates script under budget. Scripts that do not return within
// budget are interrupted and Run returns ErrBudgetExceeded; the teacher's
// pattern of "timer goroutine calls Interrupt on overrun" has no direct
// teacher precedent (goja is out-of-pack), so this mirrors goja's own
// documented usage instead.
func (s *Sandbox) Run(script string, budget time.Duration) error {
	done := make(chan struct{})
	timer := time.AfterFunc(budget, func() {
		s.vm.Interrupt(ErrBudgetExceeded)
	})
	defer timer.Stop()
	defer close(done)

	_, err := s.vm.RunString(script)
	if err != nil {
		if ie, ok := err.(*goja.InterruptedError); ok {
			if v, ok := ie.Value().(error); ok && v == ErrBudgetExceeded {
				return ErrBudgetExceeded
			}
			return ErrBudgetExceeded
		}
		return fmt.Errorf("jssandbox: script error: %w", err)
	}
	return nil
}
