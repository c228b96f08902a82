package milestone

import (
	"context"
	"sync"
)

// memStore is an in-memory Store used by the engine tests.
type memStore struct {
	mu       sync.Mutex
	requests map[int64]*Request
	saves    int
	failNext error
}

func newMemStore(reqs ...*Request) *memStore {
	s := &memStore{requests: make(map[int64]*Request)}
	for _, r := range reqs {
		s.requests[r.ID] = cloneRequest(r)
	}
	return s
}

func (s *memStore) GetRequest(_ context.Context, id int64) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

func (s *memStore) ListActiveRequests(_ context.Context, f Filter) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if r.Active() && f.Match(r) {
			out = append(out, cloneRequest(r))
		}
	}
	return out, nil
}

func (s *memStore) SaveUpdate(_ context.Context, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	r, ok := s.requests[u.RequestID]
	if !ok {
		return ErrRequestNotFound
	}
	applyUpdate(u, r)
	s.saves++
	return nil
}

func (s *memStore) get(id int64) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRequest(s.requests[id])
}

// newRequest builds a request on the default catalog with the given planned
// dates keyed by milestone kind.
func newRequest(cat *Catalog, id int64, planned map[string]string) *Request {
	r := &Request{ID: id, Name: "Solicitud", Responsible: "GERENCIA A", Unit: "GERENCIA A"}
	r.Normalize(cat)
	for key, d := range planned {
		k, ok := cat.Lookup(key)
		if !ok {
			panic("unknown kind " + key)
		}
		r.Records[k.Position].Planned = MustParseDate(d)
	}
	return r
}

func cloneRequest(r *Request) *Request {
	out := *r
	out.Records = make([]Record, len(r.Records))
	for i, rec := range r.Records {
		rec.History = append([]Date(nil), rec.History...)
		out.Records[i] = rec
	}
	return &out
}

// applyUpdate mirrors an Update onto a request the way the SQLite store
// writes it.
func applyUpdate(u Update, r *Request) {
	for _, m := range u.Milestones {
		rec := &r.Records[m.Position]
		if m.HistoryAppend != nil {
			rec.History = append(rec.History, *m.HistoryAppend)
		}
		if m.IncrementPostponement {
			rec.Postponements++
		}
		if m.Planned != nil {
			rec.Planned = *m.Planned
		}
		if m.Actual != nil && rec.Actual.IsZero() {
			rec.Actual = *m.Actual
		}
	}
	if u.Responsible != nil {
		r.Responsible = *u.Responsible
	}
}
