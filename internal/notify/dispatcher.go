package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/hitobot/internal/store"
)

// Policy decides whether a reminder already delivered is sent again.
type Policy string

const (
	// RenotifyAlways sends every matching reminder on every sweep.
	RenotifyAlways Policy = "always"
	// RenotifyOnce skips recipients already notified for the same request,
	// milestone and planned date.
	RenotifyOnce Policy = "once"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RenotifyAlways:
		return RenotifyAlways, nil
	case RenotifyOnce:
		return RenotifyOnce, nil
	}
	return "", fmt.Errorf("unknown renotify policy %q", s)
}

// Recipient is an address on one delivery channel.
type Recipient struct {
	Channel string
	Address string
}

func (r Recipient) String() string { return r.Channel + ":" + r.Address }

// Sender delivers one HTML message. gateway.Messenger satisfies it.
type Sender interface {
	Send(chatID string, text string) error
}

// RecipientSource lists who receives the digest of a sweep.
type RecipientSource interface {
	Recipients(ctx context.Context) ([]Recipient, error)
}

// Log remembers delivered reminders for the once policy.
type Log interface {
	WasNotified(ctx context.Context, n store.Notification) (bool, error)
	RecordNotification(ctx context.Context, n store.Notification) error
}

// Report summarises one delivery run.
type Report struct {
	Recipients int
	Sent       int
	Failed     int
	Skipped    int
}

// DeliveryObserver is told about every message attempt.
type DeliveryObserver interface {
	ObserveDelivery(channel string, err error)
}

// Dispatcher fans a digest out to every recipient. A failing recipient is
// logged and counted; it never stops delivery to the others.
type Dispatcher struct {
	senders     map[string]Sender
	recipients  RecipientSource
	log         Log
	policy      Policy
	concurrency int
	logger      *zap.Logger
	observer    DeliveryObserver
}

type DispatcherOption func(*Dispatcher)

func WithPolicy(p Policy, log Log) DispatcherOption {
	return func(d *Dispatcher) {
		d.policy = p
		d.log = log
	}
}

func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithDispatchLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithDeliveryObserver(o DeliveryObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func NewDispatcher(senders map[string]Sender, recipients RecipientSource, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		senders:     senders,
		recipients:  recipients,
		policy:      RenotifyAlways,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends the digest. Only failing to resolve recipients is an error.
func (d *Dispatcher) Deliver(ctx context.Context, digest Digest) (Report, error) {
	if digest.Empty() {
		return Report{}, nil
	}
	recipients, err := d.recipients.Recipients(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("resolve recipients: %w", err)
	}

	var (
		mu  sync.Mutex
		rep = Report{Recipients: len(recipients)}
	)
	count := func(sent, failed, skipped int) {
		mu.Lock()
		rep.Sent += sent
		rep.Failed += failed
		rep.Skipped += skipped
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, rcpt := range recipients {
		rcpt := rcpt
		g.Go(func() error {
			sent, failed, skipped := d.deliverTo(gctx, rcpt, digest)
			count(sent, failed, skipped)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("Digest delivered",
		zap.String("target", digest.Target.String()),
		zap.Int("recipients", rep.Recipients),
		zap.Int("sent", rep.Sent),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

func (d *Dispatcher) deliverTo(ctx context.Context, rcpt Recipient, digest Digest) (sent, failed, skipped int) {
	sender, ok := d.senders[rcpt.Channel]
	if !ok {
		d.logger.Warn("No sender for channel", zap.String("recipient", rcpt.String()))
		return 0, 1, 0
	}

	for _, group := range digest.Groups {
		group, pending := d.unsent(ctx, rcpt, group)
		if len(group.Items) == 0 {
			skipped++
			continue
		}

		err := sender.Send(rcpt.Address, FormatGroup(digest, group))
		if d.observer != nil {
			d.observer.ObserveDelivery(rcpt.Channel, err)
		}
		if err != nil {
			failed++
			d.logger.Error("Notification failed",
				zap.String("recipient", rcpt.String()),
				zap.String("responsible", group.Responsible),
				zap.Error(err),
			)
			continue
		}
		sent++
		for _, n := range pending {
			if err := d.log.RecordNotification(ctx, n); err != nil {
				d.logger.Warn("Could not record notification", zap.Int64("request_id", n.RequestID), zap.Error(err))
			}
		}
	}
	return sent, failed, skipped
}

// unsent drops items the recipient already received under the once policy
// and returns the log entries to write after a successful send.
func (d *Dispatcher) unsent(ctx context.Context, rcpt Recipient, group Group) (Group, []store.Notification) {
	if d.policy != RenotifyOnce || d.log == nil {
		return group, nil
	}
	out := Group{Responsible: group.Responsible}
	var pending []store.Notification
	for _, it := range group.Items {
		n := store.Notification{
			RequestID: it.RequestID,
			Kind:      it.Kind.Key,
			Planned:   it.Planned.String(),
			Recipient: rcpt.String(),
		}
		seen, err := d.log.WasNotified(ctx, n)
		if err != nil {
			// An unreadable log falls back to sending.
			d.logger.Warn("Notification log unavailable", zap.Error(err))
		}
		if seen {
			continue
		}
		out.Items = append(out.Items, it)
		pending = append(pending, n)
	}
	return out, pending
}
