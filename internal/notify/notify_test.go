package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/internal/store"
)

type staticSource []*milestone.Request

func (s staticSource) ListActiveRequests(_ context.Context, f milestone.Filter) ([]*milestone.Request, error) {
	var out []*milestone.Request
	for _, r := range s {
		if r.Active() && f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func request(cat *milestone.Catalog, id int64, responsible, key, planned string) *milestone.Request {
	r := &milestone.Request{ID: id, Name: fmt.Sprintf("Solicitud %d", id), Responsible: responsible}
	r.Normalize(cat)
	k, _ := cat.Lookup(key)
	r.Records[k.Position].Planned = milestone.MustParseDate(planned)
	return r
}

func TestSweepMatchesExactlyTodayPlusLead(t *testing.T) {
	cat := milestone.DefaultCatalog()
	src := staticSource{
		request(cat, 1, "GERENCIA A", "inicio", "2025-01-04"),
		request(cat, 2, "GERENCIA A", "inicio", "2025-01-05"),
	}
	d, err := NewSweeper(cat, src).Sweep(context.Background(), milestone.MustParseDate("2025-01-01"), 3)
	require.NoError(t, err)

	assert.Equal(t, "2025-01-04", d.Target.String())
	assert.Equal(t, 3, d.LeadDays)
	require.Len(t, d.Groups, 1)
	require.Len(t, d.Groups[0].Items, 1)
	assert.Equal(t, int64(1), d.Groups[0].Items[0].RequestID)
}

func TestSweepUsesCurrentMilestoneOnly(t *testing.T) {
	cat := milestone.DefaultCatalog()
	r := request(cat, 1, "GERENCIA A", "inicio", "2025-01-02")
	k, _ := cat.Lookup("contrato")
	r.Records[k.Position].Planned = milestone.MustParseDate("2025-01-05")

	d, err := NewSweeper(cat, staticSource{r}).Sweep(context.Background(), milestone.MustParseDate("2025-01-01"), 4)
	require.NoError(t, err)
	assert.True(t, d.Empty(), "a later milestone on the target date is not due yet")
}

func TestSweepGroupsAndOrders(t *testing.T) {
	cat := milestone.DefaultCatalog()
	src := staticSource{
		request(cat, 9, "GERENCIA B", "decision", "2025-01-01"),
		request(cat, 4, "", "inicio", "2025-01-01"),
		request(cat, 3, "GERENCIA B", "estrategia", "2025-01-01"),
		request(cat, 7, "GERENCIA A", "contrato", "2025-01-01"),
	}
	d, err := NewSweeper(cat, src).Sweep(context.Background(), milestone.MustParseDate("2025-01-01"), 0)
	require.NoError(t, err)

	require.Len(t, d.Groups, 3)
	assert.Equal(t, "GERENCIA A", d.Groups[0].Responsible)
	assert.Equal(t, "GERENCIA B", d.Groups[1].Responsible)
	assert.Equal(t, Unassigned, d.Groups[2].Responsible)
	assert.Equal(t, int64(3), d.Groups[1].Items[0].RequestID)
	assert.Equal(t, int64(9), d.Groups[1].Items[1].RequestID)
	assert.Equal(t, "decision", d.Groups[1].Items[1].Kind.Key)
	assert.Equal(t, 4, d.Len())
}

func TestSweepNegativeLeadIsZero(t *testing.T) {
	cat := milestone.DefaultCatalog()
	src := staticSource{request(cat, 1, "A", "inicio", "2025-01-01")}
	d, err := NewSweeper(cat, src).Sweep(context.Background(), milestone.MustParseDate("2025-01-01"), -3)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 0, d.LeadDays)
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[string]bool
	sent map[string][]string
}

func newFakeSender(failing ...string) *fakeSender {
	f := &fakeSender{fail: make(map[string]bool), sent: make(map[string][]string)}
	for _, id := range failing {
		f.fail[id] = true
	}
	return f
}

func (f *fakeSender) Send(chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return errors.New("chat not found")
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

type fixedRecipients []Recipient

func (f fixedRecipients) Recipients(context.Context) ([]Recipient, error) { return f, nil }

type memLog struct {
	mu   sync.Mutex
	seen map[store.Notification]bool
}

func (l *memLog) WasNotified(_ context.Context, n store.Notification) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[n], nil
}

func (l *memLog) RecordNotification(_ context.Context, n store.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[n] = true
	return nil
}

func sampleDigest(t *testing.T) Digest {
	cat := milestone.DefaultCatalog()
	src := staticSource{
		request(cat, 1, "GERENCIA A", "inicio", "2025-01-04"),
		request(cat, 2, "GERENCIA <B>", "decision", "2025-01-04"),
	}
	d, err := NewSweeper(cat, src).Sweep(context.Background(), milestone.MustParseDate("2025-01-01"), 3)
	require.NoError(t, err)
	return d
}

func TestDispatcherIsolatesFailingRecipients(t *testing.T) {
	tg := newFakeSender("200")
	rcpts := fixedRecipients{
		{Channel: "telegram", Address: "100"},
		{Channel: "telegram", Address: "200"},
		{Channel: "telegram", Address: "300"},
	}
	d := NewDispatcher(map[string]Sender{"telegram": tg}, rcpts)

	rep, err := d.Deliver(context.Background(), sampleDigest(t))
	require.NoError(t, err)
	assert.Equal(t, Report{Recipients: 3, Sent: 4, Failed: 2}, rep)
	assert.Len(t, tg.sent["100"], 2)
	assert.Len(t, tg.sent["300"], 2)
	assert.Empty(t, tg.sent["200"])
}

func TestDispatcherFormatsEscapedHTML(t *testing.T) {
	tg := newFakeSender()
	d := NewDispatcher(map[string]Sender{"telegram": tg}, fixedRecipients{{Channel: "telegram", Address: "1"}})

	_, err := d.Deliver(context.Background(), sampleDigest(t))
	require.NoError(t, err)
	require.Len(t, tg.sent["1"], 2)
	// "GERENCIA <B>" sorts first and loses its markup.
	msg := tg.sent["1"][0]
	assert.Contains(t, msg, "04/01/2025")
	assert.Contains(t, msg, "Decisión de Inicio")
	assert.False(t, strings.Contains(msg, "<B>"))
}

func TestDispatcherOncePolicy(t *testing.T) {
	tg := newFakeSender()
	log := &memLog{seen: make(map[store.Notification]bool)}
	rcpts := fixedRecipients{{Channel: "telegram", Address: "1"}}
	d := NewDispatcher(map[string]Sender{"telegram": tg}, rcpts, WithPolicy(RenotifyOnce, log))
	digest := sampleDigest(t)

	rep, err := d.Deliver(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Sent)

	rep, err = d.Deliver(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Sent)
	assert.Equal(t, 2, rep.Skipped)

	always := NewDispatcher(map[string]Sender{"telegram": tg}, rcpts)
	rep, err = always.Deliver(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Sent)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RenotifyAlways, p)
	p, err = ParsePolicy("ONCE")
	require.NoError(t, err)
	assert.Equal(t, RenotifyOnce, p)
	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}

type memSettings struct {
	mu   sync.Mutex
	lead int
	at   string
	last string
}

func (m *memSettings) LeadDays(context.Context, int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lead, nil
}

func (m *memSettings) NotificationTime(_ context.Context, def string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.at == "" {
		return def, nil
	}
	return m.at, nil
}

func (m *memSettings) LastSweep(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func (m *memSettings) SetLastSweep(_ context.Context, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = day
	return nil
}

type countingDeliverer struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (c *countingDeliverer) Deliver(ctx context.Context, d Digest) (Report, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.started != nil {
		close(c.started)
	}
	if c.block != nil {
		<-c.block
	}
	return Report{Sent: d.Len()}, nil
}

func TestSchedulerFiresOncePerDay(t *testing.T) {
	cat := milestone.DefaultCatalog()
	src := staticSource{request(cat, 1, "A", "inicio", "2025-01-03")}
	settings := &memSettings{lead: 2}
	deliverer := &countingDeliverer{}

	now := time.Date(2025, 1, 1, 7, 59, 0, 0, time.UTC)
	s := NewScheduler(NewSweeper(cat, src), deliverer, settings, time.UTC,
		WithSchedulerClock(func() time.Time { return now }))
	ctx := context.Background()

	s.Tick(ctx)
	assert.Equal(t, 0, deliverer.calls, "no time configured")

	settings.at = "08:00"
	s.Tick(ctx)
	assert.Equal(t, 0, deliverer.calls, "before the configured time")

	now = now.Add(time.Minute)
	s.Tick(ctx)
	s.Tick(ctx)
	assert.Equal(t, 1, deliverer.calls)
	assert.Equal(t, "2025-01-01", settings.last)

	now = now.Add(24 * time.Hour)
	s.Tick(ctx)
	assert.Equal(t, 1, deliverer.calls, "nothing due on the next day")
	assert.Equal(t, "2025-01-02", settings.last)
}

func TestSchedulerRunsDoNotOverlap(t *testing.T) {
	cat := milestone.DefaultCatalog()
	src := staticSource{request(cat, 1, "A", "inicio", "2025-01-01")}
	deliverer := &countingDeliverer{block: make(chan struct{}), started: make(chan struct{})}
	s := NewScheduler(NewSweeper(cat, src), deliverer, &memSettings{}, time.UTC,
		WithSchedulerClock(func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }))

	done := make(chan error, 1)
	go func() {
		_, _, err := s.RunOnce(context.Background())
		done <- err
	}()
	<-deliverer.started

	_, _, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(deliverer.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, deliverer.calls)
}

func TestDirectoryCombinesChannels(t *testing.T) {
	d := Directory{DiscordChannels: []string{"chan-1"}}
	rcpts, err := d.Recipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Recipient{{Channel: "discord", Address: "chan-1"}}, rcpts)
}
