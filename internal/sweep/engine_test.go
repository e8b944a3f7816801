package sweep

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reminders/internal/domain"
	"reminders/internal/store"
	"reminders/internal/worker"
)

var t0 = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

type fakeSink struct {
	mu   sync.Mutex
	sent []string
	fail func(text string) error
}

func (s *fakeSink) Send(ctx context.Context, text string) error {
	if s.fail != nil {
		if err := s.fail(text); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.sent...)
	sort.Strings(out)
	return out
}

type harness struct {
	store *store.SQLiteStore
	sink  *fakeSink
	pool  *worker.Pool
	eng   *Engine
}

func newHarness(t *testing.T, st store.Store, sink *fakeSink) *harness {
	t.Helper()
	sq, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sweep.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	if st == nil {
		st = sq
	}
	if sink == nil {
		sink = &fakeSink{}
	}
	pool := worker.NewPool(context.Background(), 4, time.Second)
	eng := New(st, sink, pool, Config{Window: 35 * time.Minute}, zerolog.Nop(), WithClock(func() time.Time { return t0 }))
	return &harness{store: sq, sink: sink, pool: pool, eng: eng}
}

func (h *harness) add(t *testing.T, text string, at time.Time, typ domain.Type) string {
	t.Helper()
	id, err := h.store.Insert(context.Background(), domain.Message{Text: text, ScheduledTime: at, Type: typ})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return id
}

func (h *harness) sweep(t *testing.T) Report {
	t.Helper()
	rep, err := h.eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	h.pool.Wait()
	return rep
}

func TestSweepEventFiresOnceAndIsRetired(t *testing.T) {
	h := newHarness(t, nil, nil)
	id := h.add(t, "Meeting //time//", t0.Add(10*time.Minute), domain.TypeEvent)

	rep := h.sweep(t)
	if rep.Due != 1 || rep.Retired != 1 || rep.Rescheduled != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	got := h.sink.texts()
	if len(got) != 1 || got[0] != "Meeting 10 min" {
		t.Fatalf("sink received %q", got)
	}
	if _, err := h.store.Get(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("event should be retired, got %v", err)
	}

	h.sweep(t)
	if n := len(h.sink.texts()); n != 1 {
		t.Fatalf("event dispatched %d times", n)
	}
}

func TestSweepTodoIsRescheduled(t *testing.T) {
	h := newHarness(t, nil, nil)
	id := h.add(t, "Buy milk", t0.Add(5*time.Minute), domain.TypeTodo)

	rep := h.sweep(t)
	if rep.Due != 1 || rep.Retired != 0 || rep.Rescheduled != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := h.sink.texts(); len(got) != 1 || got[0] != "Buy milk" {
		t.Fatalf("sink received %q", got)
	}
	m, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("todo should survive: %v", err)
	}
	if m.Text != "Buy milk" || m.Type != domain.TypeTodo {
		t.Fatalf("todo changed: %+v", m)
	}
	if want := t0.Add(72 * time.Hour); !m.ScheduledTime.Equal(want) {
		t.Fatalf("ScheduledTime = %v, want %v", m.ScheduledTime, want)
	}
}

func TestSweepTaskRetired(t *testing.T) {
	h := newHarness(t, nil, nil)
	id := h.add(t, "Submit report", t0.Add(35*time.Minute), domain.TypeTask)
	h.sweep(t)
	if _, err := h.store.Get(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("task at window end should be retired, got %v", err)
	}
}

func TestSweepLeavesLaterMessagesUntouched(t *testing.T) {
	h := newHarness(t, nil, nil)
	later := map[string]time.Time{
		h.add(t, "ev", t0.Add(35*time.Minute+time.Millisecond), domain.TypeEvent): t0.Add(35*time.Minute + time.Millisecond),
		h.add(t, "task", t0.Add(2*time.Hour), domain.TypeTask):                    t0.Add(2 * time.Hour),
		h.add(t, "todo", t0.Add(24*time.Hour), domain.TypeTodo):                   t0.Add(24 * time.Hour),
	}

	rep := h.sweep(t)
	if rep.Due != 0 || rep.Retired != 0 || rep.Rescheduled != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if n := len(h.sink.texts()); n != 0 {
		t.Fatalf("expected no dispatch, got %d", n)
	}
	for id, at := range later {
		m, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if !m.ScheduledTime.Equal(at) {
			t.Fatalf("message %s moved to %v", id, m.ScheduledTime)
		}
	}
}

func TestSweepOverdueMessages(t *testing.T) {
	h := newHarness(t, nil, nil)
	staleEvent := h.add(t, "missed", t0.Add(-time.Hour), domain.TypeEvent)
	staleTodo := h.add(t, "old todo", t0.Add(-time.Hour), domain.TypeTodo)

	rep := h.sweep(t)
	if rep.Due != 0 {
		t.Fatalf("overdue messages must not be selected: %+v", rep)
	}
	if n := len(h.sink.texts()); n != 0 {
		t.Fatalf("overdue messages must not be dispatched, got %d", n)
	}
	if _, err := h.store.Get(context.Background(), staleEvent); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("overdue event should be purged by retire, got %v", err)
	}
	m, err := h.store.Get(context.Background(), staleTodo)
	if err != nil {
		t.Fatalf("overdue todo should be kept: %v", err)
	}
	if !m.ScheduledTime.Equal(t0.Add(-time.Hour)) {
		t.Fatalf("overdue todo should not be rescheduled, got %v", m.ScheduledTime)
	}
}

func TestSweepEmptyWindow(t *testing.T) {
	h := newHarness(t, nil, nil)
	rep := h.sweep(t)
	if rep.Due != 0 || rep.Dispatched != 0 || rep.Retired != 0 || rep.Rescheduled != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if !rep.End.Equal(t0.Add(35 * time.Minute)) {
		t.Fatalf("window end = %v", rep.End)
	}
}

func TestSweepDispatchFailureIsIsolated(t *testing.T) {
	sink := &fakeSink{fail: func(text string) error {
		if strings.HasPrefix(text, "A") {
			return errors.New("chat not found")
		}
		if strings.HasPrefix(text, "P") {
			panic("sink bug")
		}
		return nil
	}}
	h := newHarness(t, nil, sink)
	a := h.add(t, "A event", t0.Add(time.Minute), domain.TypeEvent)
	p := h.add(t, "P todo", t0.Add(2*time.Minute), domain.TypeTodo)
	b := h.add(t, "B todo", t0.Add(3*time.Minute), domain.TypeTodo)

	rep := h.sweep(t)
	if rep.Due != 3 || rep.Retired != 1 || rep.Rescheduled != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := sink.texts(); len(got) != 1 || got[0] != "B todo" {
		t.Fatalf("sink received %q", got)
	}
	if _, err := h.store.Get(context.Background(), a); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed event should still be retired, got %v", err)
	}
	for _, id := range []string{p, b} {
		m, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if !m.ScheduledTime.Equal(t0.Add(72 * time.Hour)) {
			t.Fatalf("todo %s not rescheduled: %v", id, m.ScheduledTime)
		}
	}
}

type brokenStore struct {
	store.Store
	failFind, failDelete, failUpdate bool
	deleteCalled, updateCalled       bool
}

var errStore = errors.New("database is locked")

func (s *brokenStore) FindInWindow(ctx context.Context, start, end time.Time) ([]domain.Message, error) {
	if s.failFind {
		return nil, errStore
	}
	return s.Store.FindInWindow(ctx, start, end)
}

func (s *brokenStore) DeleteWhere(ctx context.Context, f store.Filter) (int, error) {
	s.deleteCalled = true
	if s.failDelete {
		return 0, errStore
	}
	return s.Store.DeleteWhere(ctx, f)
}

func (s *brokenStore) UpdateWhere(ctx context.Context, f store.Filter, p store.Patch) (int, error) {
	s.updateCalled = true
	if s.failUpdate {
		return 0, errStore
	}
	return s.Store.UpdateWhere(ctx, f, p)
}

func TestSweepSelectFailureAborts(t *testing.T) {
	bs := &brokenStore{failFind: true}
	h := newHarness(t, bs, nil)
	bs.Store = h.store
	h.add(t, "ev", t0.Add(time.Minute), domain.TypeEvent)

	_, err := h.eng.Sweep(context.Background())
	h.pool.Wait()
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if bs.deleteCalled || bs.updateCalled {
		t.Fatal("no mutation should follow a failed select")
	}
	if n := len(h.sink.texts()); n != 0 {
		t.Fatalf("expected no dispatch, got %d", n)
	}
}

func TestSweepRetireFailureStopsReschedule(t *testing.T) {
	bs := &brokenStore{failDelete: true}
	h := newHarness(t, bs, nil)
	bs.Store = h.store
	h.add(t, "ev", t0.Add(time.Minute), domain.TypeEvent)

	rep, err := h.eng.Sweep(context.Background())
	h.pool.Wait()
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if bs.updateCalled {
		t.Fatal("reschedule should not run after retire failed")
	}
	if rep.Due != 1 || len(h.sink.texts()) != 1 {
		t.Fatalf("dispatch should have happened before the failure: %+v", rep)
	}
}

func TestSweepRescheduleFailureKeepsRetired(t *testing.T) {
	bs := &brokenStore{failUpdate: true}
	h := newHarness(t, bs, nil)
	bs.Store = h.store
	ev := h.add(t, "ev", t0.Add(time.Minute), domain.TypeEvent)
	h.add(t, "todo", t0.Add(time.Minute), domain.TypeTodo)

	rep, err := h.eng.Sweep(context.Background())
	h.pool.Wait()
	if !errors.Is(err, errStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if rep.Retired != 1 {
		t.Fatalf("Retired = %d, want 1", rep.Retired)
	}
	if _, err := h.store.Get(context.Background(), ev); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("retired event must stay deleted, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	c := Config{}.withDefaults()
	if c.Window != DefaultWindow || c.Reschedule != DefaultReschedule || c.Placeholder != "//time//" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}
