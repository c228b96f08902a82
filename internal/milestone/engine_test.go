package milestone

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(day string) func() time.Time {
	d := MustParseDate(day)
	return func() time.Time { return d.Time(time.UTC).Add(10 * time.Hour) }
}

func newTestEngine(t *testing.T, today string, reqs ...*Request) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore(reqs...)
	e := NewEngine(DefaultCatalog(), store, WithClock(fixedClock(today)), WithLocation(time.UTC))
	return e, store
}

func keyAt(cat *Catalog, r *Request) string {
	pos := r.CurrentPosition()
	if pos < 0 {
		return ""
	}
	return cat.At(pos).Key
}

func TestCompleteSkipsUnplannedKinds(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 1, map[string]string{
		"inicio":             "2025-06-01",
		"notif_otorgamiento": "2025-07-01",
	})
	e, store := newTestEngine(t, "2025-06-01", req)

	c, err := e.CompleteCurrentMilestone(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "inicio", c.Completed.Key)
	require.NotNil(t, c.Next)
	assert.Equal(t, "notif_otorgamiento", c.Next.Key)

	stored := store.get(1)
	inicio, _ := cat.Lookup("inicio")
	assert.Equal(t, "2025-06-01", stored.Records[inicio.Position].Actual.String())
	assert.Equal(t, "notif_otorgamiento", keyAt(cat, stored))
}

func TestCompleteLastMilestoneFinishesRequest(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 7, map[string]string{"contrato": "2025-06-01"})
	e, store := newTestEngine(t, "2025-06-03", req)

	c, err := e.CompleteCurrentMilestone(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, c.Finished())
	assert.True(t, store.get(7).Completed())

	_, err = e.CompleteCurrentMilestone(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNoActiveMilestone)
	assert.Equal(t, 1, store.saves, "a finished request must not be written again")
}

func TestCompleteHandsOffResponsibility(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 3, map[string]string{
		"fecha_solicitud": "2025-05-01",
		"estrategia":      "2025-05-20",
	})
	e, store := newTestEngine(t, "2025-05-02", req)

	c, err := e.CompleteCurrentMilestone(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "GERENCIA DE CONTRATACIONES", c.Handoff)
	assert.Equal(t, "GERENCIA DE CONTRATACIONES", store.get(3).Responsible)
}

func TestCompleteUnknownRequest(t *testing.T) {
	e, _ := newTestEngine(t, "2025-01-01")
	_, err := e.CompleteCurrentMilestone(context.Background(), 99)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestCompleteNothingPlanned(t *testing.T) {
	cat := DefaultCatalog()
	e, _ := newTestEngine(t, "2025-01-01", newRequest(cat, 5, nil))
	_, err := e.CompleteCurrentMilestone(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNoActiveMilestone)
}

func TestCompleteAlwaysAdvancesForward(t *testing.T) {
	cat := DefaultCatalog()
	rng := rand.New(rand.NewSource(42))
	base := MustParseDate("2025-01-01")

	for i := 0; i < 200; i++ {
		req := &Request{ID: int64(i)}
		req.Normalize(cat)
		for p := range req.Records {
			if rng.Intn(3) > 0 {
				req.Records[p].Planned = base.AddDays(rng.Intn(60))
			}
		}
		e, _ := newTestEngine(t, "2025-03-01", req)

		prev := req.CurrentPosition()
		for prev >= 0 {
			c, err := e.CompleteCurrentMilestone(context.Background(), req.ID)
			require.NoError(t, err)
			require.Equal(t, prev, c.Completed.Position)
			if c.Next == nil {
				break
			}
			require.Greater(t, c.Next.Position, prev)
			prev = c.Next.Position
		}
		_, err := e.CompleteCurrentMilestone(context.Background(), req.ID)
		require.ErrorIs(t, err, ErrNoActiveMilestone)
	}
}

func TestReplanCascadesCollidingMilestone(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 2, map[string]string{
		"decision": "2025-06-10",
		"contrato": "2025-06-08",
	})
	e, store := newTestEngine(t, "2025-06-01", req)

	res, err := e.ReplanCurrentMilestone(context.Background(), 2, MustParseDate("2025-06-15"))
	require.NoError(t, err)

	assert.Equal(t, "decision", res.Kind.Key)
	assert.Equal(t, "2025-06-10", res.Previous.String())
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, "contrato", res.Adjustments[0].Kind.Key)
	assert.Equal(t, "2025-06-16", res.Adjustments[0].Planned.String())

	stored := store.get(2)
	contrato, _ := cat.Lookup("contrato")
	decision, _ := cat.Lookup("decision")
	assert.Equal(t, "2025-06-16", stored.Records[contrato.Position].Planned.String())
	assert.Equal(t, []Date{MustParseDate("2025-06-10")}, stored.Records[decision.Position].History)
	assert.Equal(t, 1, stored.Records[decision.Position].Postponements)
}

func TestReplanPushesEqualDateForward(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 4, map[string]string{
		"inicio":            "2025-03-01",
		"acta_otorgamiento": "2025-03-20",
	})
	e, store := newTestEngine(t, "2025-03-01", req)

	res, err := e.ReplanCurrentMilestone(context.Background(), 4, MustParseDate("2025-03-20"))
	require.NoError(t, err)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, "2025-03-21", res.Adjustments[0].Planned.String())

	acta, _ := cat.Lookup("acta_otorgamiento")
	assert.Equal(t, "2025-03-21", store.get(4).Records[acta.Position].Planned.String())
}

func TestReplanReferenceOnlyMovesOnAdjustment(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 8, map[string]string{
		"estrategia":         "2025-01-10",
		"inicio":             "2025-01-12", // pushed
		"decision":           "2025-02-01", // already after the reference, untouched
		"acta_otorgamiento":  "2025-01-14", // compared against 01-16, pushed to 01-17
		"notif_otorgamiento": "2025-01-17", // equal to reference, pushed to 01-18
	})
	e, _ := newTestEngine(t, "2025-01-01", req)

	res, err := e.ReplanCurrentMilestone(context.Background(), 8, MustParseDate("2025-01-15"))
	require.NoError(t, err)

	got := make([]string, 0, len(res.Adjustments))
	for _, a := range res.Adjustments {
		got = append(got, fmt.Sprintf("%s=%s", a.Kind.Key, a.Planned))
	}
	assert.Equal(t, []string{
		"inicio=2025-01-16",
		"acta_otorgamiento=2025-01-17",
		"notif_otorgamiento=2025-01-18",
	}, got)
}

func TestReplanWithoutCascade(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 9, map[string]string{
		"inicio":   "2025-03-01",
		"contrato": "2025-05-01",
	})
	e, _ := newTestEngine(t, "2025-03-01", req)

	res, err := e.ReplanCurrentMilestone(context.Background(), 9, MustParseDate("2025-02-01"))
	require.NoError(t, err)
	assert.Empty(t, res.Adjustments)
}

func TestReplanRejectsInvalidDateWithoutWriting(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 10, map[string]string{"inicio": "2025-03-01"})
	e, store := newTestEngine(t, "2025-03-01", req)

	_, err := e.ReplanCurrentMilestone(context.Background(), 10, Date{})
	assert.ErrorIs(t, err, ErrInvalidDate)
	assert.Zero(t, store.saves)
}

func TestReplanFinishedRequest(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 11, map[string]string{"inicio": "2025-03-01"})
	req.Records[3].Actual = MustParseDate("2025-03-01")
	e, _ := newTestEngine(t, "2025-03-02", req)

	_, err := e.ReplanCurrentMilestone(context.Background(), 11, MustParseDate("2025-04-01"))
	assert.ErrorIs(t, err, ErrNoActiveMilestone)
}

func TestReplanStoreFailureLeavesRequestUntouched(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 12, map[string]string{
		"inicio":   "2025-03-01",
		"decision": "2025-03-02",
	})
	e, store := newTestEngine(t, "2025-03-01", req)
	store.failNext = fmt.Errorf("save: %w", ErrStoreUnavailable)

	_, err := e.ReplanCurrentMilestone(context.Background(), 12, MustParseDate("2025-03-10"))
	require.True(t, errors.Is(err, ErrStoreUnavailable))

	stored := store.get(12)
	assert.Equal(t, "2025-03-01", stored.Records[3].Planned.String())
	assert.Equal(t, "2025-03-02", stored.Records[4].Planned.String())
	assert.Empty(t, stored.Records[3].History)
}

func TestReplanKeepsRemainingSequenceIncreasing(t *testing.T) {
	cat := DefaultCatalog()
	rng := rand.New(rand.NewSource(7))
	base := MustParseDate("2025-01-01")

	for i := 0; i < 300; i++ {
		// Ingested plans are in catalog order; the cascade keeps them that way.
		req := &Request{ID: int64(i)}
		req.Normalize(cat)
		next := base
		for p := range req.Records {
			next = next.AddDays(1 + rng.Intn(6))
			if rng.Intn(4) > 0 {
				req.Records[p].Planned = next
			}
		}
		cur := req.CurrentPosition()
		if cur < 0 {
			continue
		}
		e, store := newTestEngine(t, "2025-01-01", req)

		target := base.AddDays(rng.Intn(50))
		_, err := e.ReplanCurrentMilestone(context.Background(), req.ID, target)
		require.NoError(t, err)

		stored := store.get(req.ID)
		var last Date
		for p := cur; p < len(stored.Records); p++ {
			planned := stored.Records[p].Planned
			if planned.IsZero() {
				continue
			}
			if !last.IsZero() {
				require.True(t, last.Before(planned), "request %d: %s not before %s", i, last, planned)
			}
			last = planned
			rec := stored.Records[p]
			require.Equal(t, rec.Postponements, len(rec.History))
		}
		// Cascaded milestones never move earlier.
		for p := cur + 1; p < len(stored.Records); p++ {
			before := req.Records[p].Planned
			if before.IsZero() {
				continue
			}
			require.False(t, stored.Records[p].Planned.Before(before))
		}
	}
}

func TestConcurrentReplansAreSerialised(t *testing.T) {
	cat := DefaultCatalog()
	req := newRequest(cat, 20, map[string]string{
		"inicio":   "2025-01-01",
		"decision": "2025-01-02",
	})
	e, store := newTestEngine(t, "2025-01-01", req)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.ReplanCurrentMilestone(context.Background(), 20, MustParseDate("2025-02-01").AddDays(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec := store.get(20).Records[3]
	require.Equal(t, n, rec.Postponements)
	require.Len(t, rec.History, n)
	seen := make(map[Date]bool)
	for _, d := range rec.History {
		assert.False(t, seen[d], "history entry %s recorded twice", d)
		seen[d] = true
	}
	assert.Zero(t, e.locks.size())
}

func TestEngineBalance(t *testing.T) {
	cat := DefaultCatalog()
	e, _ := newTestEngine(t, "2025-01-10",
		newRequest(cat, 1, map[string]string{"inicio": "2025-01-05"}), // delayed
		newRequest(cat, 2, map[string]string{"inicio": "2025-01-10"}), // upcoming
		newRequest(cat, 3, map[string]string{"inicio": "2025-01-12"}), // upcoming
		newRequest(cat, 4, map[string]string{"inicio": "2025-02-01"}), // on time
		newRequest(cat, 5, nil),                                       // inactive
	)

	b, err := e.Balance(context.Background(), Filter{}, 3)
	require.NoError(t, err)
	assert.Equal(t, Balance{Total: 4, OnTime: 1, Upcoming: 2, Delayed: 1}, b)
}
