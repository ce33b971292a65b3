package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	statusUpdateInterval = 500 * time.Millisecond
	clearLineSequence    = "\r\033[K"
)

// StatusLine redraws a single terminal line with live peripheral counters and elapsed time.
//
// Usage:
//
//	s := NewStatusLine(os.Stdout, "Advertising blimp", statusFn)
//	s.Start()
//	defer s.Stop()
//
// The caller must call Stop to terminate the internal goroutine. A StatusLine is
// single-use: Start may be called at most once, and after Stop it cannot be restarted.
type StatusLine struct {
	out       io.Writer
	prefix    string
	status    func() string
	interval  time.Duration
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{} // closed when goroutine exits
	started   atomic.Bool
}

// NewStatusLine creates a status line; status is polled on every redraw.
func NewStatusLine(out io.Writer, prefix string, status func() string) *StatusLine {
	return &StatusLine{
		out:      out,
		prefix:   prefix,
		status:   status,
		interval: statusUpdateInterval,
	}
}

// Start begins redrawing in a background goroutine.
// Panics if called more than once on the same StatusLine instance.
func (s *StatusLine) Start() {
	if !s.started.CompareAndSwap(false, true) {
		panic("StatusLine.Start called more than once")
	}

	s.done = make(chan struct{})
	s.stopChan = make(chan struct{})
	s.startTime = time.Now()
	ticker := time.NewTicker(s.interval)
	s.ticker.Store(ticker)

	s.print(0)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.print(int(time.Since(s.startTime).Seconds()))
			}
		}
	}()
}

func (s *StatusLine) print(seconds int) {
	fmt.Fprintf(s.out, "\r%s (%s, %ds)   ", s.prefix, s.status(), seconds)
}

// Stop stops redrawing and clears the line.
// Safe to call multiple times; only the first call has an effect.
func (s *StatusLine) Stop() {
	ticker := s.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped
	}

	ticker.Stop()
	close(s.stopChan)
	<-s.done

	fmt.Fprint(s.out, clearLineSequence)
}
