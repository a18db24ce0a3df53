package signalbus

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hellmai/lumenflow/internal/paths"
)

// throttleWindow is how often a generic wu:* command re-checks for unread
// signals (spec.md §4.13 "Signal middleware").
const throttleWindow = 30 * time.Second

// remotePullTimeout bounds how long the middleware waits on an optional
// remote-pull hook before giving up and proceeding with local signals only.
const remotePullTimeout = 200 * time.Millisecond

// highValueCommands get a signal summary printed at every entry; other
// wu:* commands get it at most once per throttleWindow per command name,
// and everything else is skipped (spec.md §4.13).
var highValueCommands = map[string]bool{
	"wu:claim":   true,
	"wu:create":  true,
	"wu:prep":    true,
	"wu:done":    true,
	"wu:status":  true,
	"wu:recover": true,
	"wu:release": true,
}

// RemotePullFunc fetches signals from a remote source (e.g. a shared
// memory service) before the middleware reads the local log.
type RemotePullFunc func(ctx context.Context) error

// Middleware prints a short unread-signal summary at the entry of
// high-value commands (spec.md §4.13). It is fail-open: any internal error
// is swallowed so a signal-bus problem never blocks a WU command. A
// generic wu:* command is throttled to once per throttleWindow per command
// name; an
// optional remote-pull hook is raced against a short timeout and protected
// by a circuit breaker so a flaky remote never stalls every invocation.
type Middleware struct {
	layout     paths.Layout
	remotePull RemotePullFunc

	mu      sync.Mutex
	lastRun map[string]time.Time
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewMiddleware builds a Middleware. remotePull may be nil, in which case
// only the local signal log is consulted.
func NewMiddleware(layout paths.Layout, remotePull RemotePullFunc) *Middleware {
	m := &Middleware{
		layout:     layout,
		remotePull: remotePull,
		lastRun:    make(map[string]time.Time),
	}
	m.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "signalbus-remote-pull",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return m
}

// Run executes the middleware for the given command name. It never
// returns an error: every failure path degrades to printing nothing.
func (m *Middleware) Run(w io.Writer, command string) {
	defer func() { _ = recover() }()

	if !highValueCommands[command] {
		if !strings.HasPrefix(command, "wu:") || !m.shouldRun(command) {
			return
		}
	}

	m.pullRemote()

	signals, err := LoadSignals(m.layout, Filters{UnreadOnly: true})
	if err != nil || len(signals) == 0 {
		return
	}
	fmt.Fprintf(w, "You have %d unread signal(s):\n", len(signals))
	for _, s := range signals {
		fmt.Fprintf(w, "  [%s] %s\n", s.ID, s.Message)
	}
}

func (m *Middleware) shouldRun(command string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if last, ok := m.lastRun[command]; ok && now.Sub(last) < throttleWindow {
		return false
	}
	m.lastRun[command] = now
	return true
}

func (m *Middleware) pullRemote() {
	if m.remotePull == nil {
		return
	}
	_, _ = m.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), remotePullTimeout)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- m.remotePull(ctx) }()
		select {
		case err := <-done:
			return struct{}{}, err
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		}
	})
}
