package milestone

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Observer receives engine outcomes, typically for metrics.
type Observer interface {
	ObserveCompletion(c Completion)
	ObserveReplan(r Replan)
}

type nopObserver struct{}

func (nopObserver) ObserveCompletion(Completion) {}
func (nopObserver) ObserveReplan(Replan)         {}

// Engine advances and reschedules requests. Operations on the same request
// are mutually exclusive; different requests run in parallel.
type Engine struct {
	catalog  *Catalog
	store    Store
	locks    *keyedMutex
	now      func() time.Time
	loc      *time.Location
	logger   *zap.Logger
	observer Observer
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

func NewEngine(cat *Catalog, store Store, opts ...Option) *Engine {
	e := &Engine{
		catalog:  cat,
		store:    store,
		locks:    newKeyedMutex(),
		now:      time.Now,
		loc:      time.Local,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

func (e *Engine) Location() *time.Location { return e.loc }

// Today is the current calendar day in the engine's zone.
func (e *Engine) Today() Date {
	return DateOf(e.now().In(e.loc))
}

// GetRequest reads a request through the store and aligns it with the catalog.
func (e *Engine) GetRequest(ctx context.Context, id int64) (*Request, error) {
	r, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Normalize(e.catalog)
	return r, nil
}

// ListActive returns the active requests matching f.
func (e *Engine) ListActive(ctx context.Context, f Filter) ([]*Request, error) {
	reqs, err := e.store.ListActiveRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, r := range reqs {
		r.Normalize(e.catalog)
	}
	return reqs, nil
}

// Balance counts on-time, upcoming and delayed requests among those matching f.
func (e *Engine) Balance(ctx context.Context, f Filter, leadDays int) (Balance, error) {
	reqs, err := e.ListActive(ctx, f)
	if err != nil {
		return Balance{}, err
	}
	return Tally(reqs, e.Today(), leadDays), nil
}

// CompleteCurrentMilestone stamps today's date on the request's current
// milestone and advances to the next planned one.
func (e *Engine) CompleteCurrentMilestone(ctx context.Context, id int64) (Completion, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	r, err := e.GetRequest(ctx, id)
	if err != nil {
		return Completion{}, err
	}
	c, u, err := planCompletion(e.catalog, r, e.Today())
	if err != nil {
		return Completion{}, err
	}
	if err := e.store.SaveUpdate(ctx, u); err != nil {
		return Completion{}, err
	}

	fields := []zap.Field{
		zap.Int64("request_id", id),
		zap.String("completed", c.Completed.Key),
	}
	if c.Next != nil {
		fields = append(fields, zap.String("next", c.Next.Key))
	}
	if c.Handoff != "" {
		fields = append(fields, zap.String("handoff", c.Handoff))
	}
	e.logger.Info("Milestone completed", fields...)
	e.observer.ObserveCompletion(c)
	return c, nil
}

// ReplanCurrentMilestone moves the request's current milestone to planned and
// cascades later milestones so planned dates stay strictly increasing. The
// replan and its cascade are written in one update.
func (e *Engine) ReplanCurrentMilestone(ctx context.Context, id int64, planned Date) (Replan, error) {
	if planned.IsZero() {
		return Replan{}, ErrInvalidDate
	}
	unlock := e.locks.Lock(id)
	defer unlock()

	r, err := e.GetRequest(ctx, id)
	if err != nil {
		return Replan{}, err
	}
	res, u, err := planReplan(e.catalog, r, planned)
	if err != nil {
		return Replan{}, err
	}
	if err := e.store.SaveUpdate(ctx, u); err != nil {
		return Replan{}, err
	}

	e.logger.Info("Milestone replanned",
		zap.Int64("request_id", id),
		zap.String("kind", res.Kind.Key),
		zap.String("previous", res.Previous.String()),
		zap.String("planned", res.Planned.String()),
		zap.Int("cascaded", len(res.Adjustments)),
	)
	e.observer.ObserveReplan(res)
	return res, nil
}
