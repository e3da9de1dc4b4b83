// Package notify delivers operator alerts about position opens, closes and
// order failures to Telegram and Discord. Alerts can be filtered by event
// type and are throttled per event so a close that fails on every decision
// tick does not flood the channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Config controls filtering and throttling.
type Config struct {
	// Events lists the event types forwarded by Notify. Empty allows all.
	Events []string
	// MinInterval is the minimum spacing between two alerts of the same
	// event type. Zero disables throttling.
	MinInterval time.Duration
}

// Notifier fans an alert out to every Sender concurrently.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	every   time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewNotifier creates a Notifier over senders.
func NewNotifier(senders []Sender, cfg Config, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		every:    cfg.MinInterval,
		logger:   logger.With(slog.String("component", "notifier")),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Notify forwards an alert when event passes the filter and its throttle.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if !n.allow(event) {
		n.logger.DebugContext(ctx, "event throttled", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends to every sender, bypassing filter and throttle.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) allow(event string) bool {
	if n.every <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[event]
	if !ok {
		l = rate.NewLimiter(rate.Every(n.every), 1)
		n.limiters[event] = l
	}
	return l.Allow()
}

// dispatch delivers to all senders. One failing sender does not stop the
// others; their errors are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	p := pool.New().WithErrors().WithContext(ctx)
	for _, s := range n.senders {
		p.Go(func(ctx context.Context) error {
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return errors.Join(errors.New("notify: delivery failed"), err)
	}
	return nil
}
