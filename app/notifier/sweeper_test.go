package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/m3rciful/leakbot/app/domain"
	"github.com/m3rciful/leakbot/app/storage/memstore"
	"github.com/m3rciful/leakbot/core/metrics"
)

type sent struct {
	chatID int64
	text   string
}

// fakeNotifier records sends and fails the first failN of them (all when failN < 0).
type fakeNotifier struct {
	mu       sync.Mutex
	failN    int
	attempts int
	sent     []sent
}

func (n *fakeNotifier) SendText(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.failN < 0 || n.attempts <= n.failN {
		return errors.New("telegram: internal server error (500)")
	}
	n.sent = append(n.sent, sent{chatID: chatID, text: text})
	return nil
}

func (n *fakeNotifier) counts() (attempts, delivered int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts, len(n.sent)
}

// flakyStore wraps memstore with injectable listing and marking errors.
type flakyStore struct {
	*memstore.Store
	listErr error
	markErr error
	lists   atomic.Int32
}

func (s *flakyStore) ListSubscribers(ctx context.Context) (map[string]int64, error) {
	s.lists.Add(1)
	return s.Store.ListSubscribers(ctx)
}

func (s *flakyStore) ListLeaks(ctx context.Context) ([]domain.Leak, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListLeaks(ctx)
}

func (s *flakyStore) MarkLeakNotified(ctx context.Context, id string) error {
	if s.markErr != nil {
		return s.markErr
	}
	return s.Store.MarkLeakNotified(ctx, id)
}

func newFixture(t *testing.T, n *fakeNotifier, opts Options) (*Sweeper, *flakyStore, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	opts.Clock = clk
	if opts.RetryInitial == 0 {
		opts.RetryInitial = 10 * time.Second
		opts.RetryMax = time.Minute
	}
	store := &flakyStore{Store: memstore.New()}
	return New(store, n, opts), store, clk
}

func notified(t *testing.T, s *flakyStore, id string) bool {
	t.Helper()
	leaks, err := s.Store.ListLeaks(context.Background())
	if err != nil {
		t.Fatalf("list leaks: %v", err)
	}
	for _, l := range leaks {
		if l.ID == id {
			return l.Notified
		}
	}
	t.Fatalf("leak %s not found", id)
	return false
}

func TestSweepScenario(t *testing.T) {
	n := &fakeNotifier{}
	sw, store, _ := newFixture(t, n, Options{})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})

	res, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Sent != 1 || len(n.sent) != 1 || n.sent[0].chatID != 42 {
		t.Fatalf("res=%+v sent=%+v", res, n.sent)
	}
	want := "⚠️ Leak detected!\nEmail: bob@x.io\nSource: BreachDB\nDetails: no data"
	if n.sent[0].text != want {
		t.Fatalf("text = %q, want %q", n.sent[0].text, want)
	}
	if !notified(t, store, "l1") {
		t.Fatal("leak not marked notified")
	}

	res, err = sw.Sweep(ctx)
	if err != nil || res.Sent != 0 || len(n.sent) != 1 {
		t.Fatalf("second sweep res=%+v err=%v sent=%d", res, err, len(n.sent))
	}
}

func TestSweepSendsEachLeakOnce(t *testing.T) {
	n := &fakeNotifier{}
	sw, store, _ := newFixture(t, n, Options{})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	_ = store.CreateSubscriber(ctx, "amy@x.io", 7)
	info := "password hash"
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})
	store.AddLeak(domain.Leak{ID: "l2", Email: "amy@x.io", Source: "Paste", LeakInfo: &info})
	store.AddLeak(domain.Leak{ID: "l3", Email: "bob@x.io", Source: "Combo"})
	store.AddLeak(domain.Leak{ID: "l4", Email: "bob@x.io", Source: "Old", Notified: true})

	for i := 0; i < 5; i++ {
		if _, err := sw.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if len(n.sent) != 3 {
		t.Fatalf("sent %d notifications, want 3: %+v", len(n.sent), n.sent)
	}
	if n.sent[1].text != "⚠️ Leak detected!\nEmail: amy@x.io\nSource: Paste\nDetails: password hash" {
		t.Fatalf("leak_info not rendered: %q", n.sent[1].text)
	}
}

func TestSweepEventualDelivery(t *testing.T) {
	n := &fakeNotifier{}
	sw, store, _ := newFixture(t, n, Options{})
	ctx := context.Background()
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})

	res, err := sw.Sweep(ctx)
	if err != nil || res.Unmatched != 1 || len(n.sent) != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if notified(t, store, "l1") {
		t.Fatal("unmatched leak must stay pending")
	}

	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	res, err = sw.Sweep(ctx)
	if err != nil || res.Sent != 1 || !notified(t, store, "l1") {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestSweepBacksOffAfterFailedSend(t *testing.T) {
	n := &fakeNotifier{failN: 1}
	sw, store, clk := newFixture(t, n, Options{MaxAttempts: 5})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})

	res, _ := sw.Sweep(ctx)
	if res.Failed != 1 || notified(t, store, "l1") {
		t.Fatalf("first sweep res=%+v", res)
	}

	res, _ = sw.Sweep(ctx)
	if res.Deferred != 1 {
		t.Fatalf("sweep during backoff res=%+v", res)
	}
	if attempts, _ := n.counts(); attempts != 1 {
		t.Fatalf("attempts during backoff = %d, want 1", attempts)
	}

	clk.Advance(10 * time.Second)
	res, _ = sw.Sweep(ctx)
	if res.Sent != 1 || !notified(t, store, "l1") {
		t.Fatalf("sweep after backoff res=%+v", res)
	}
}

func TestSweepDeadLettersAfterMaxAttempts(t *testing.T) {
	n := &fakeNotifier{failN: -1}
	sw, store, clk := newFixture(t, n, Options{MaxAttempts: 2})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})

	_, _ = sw.Sweep(ctx)
	clk.Advance(10 * time.Second)
	res, _ := sw.Sweep(ctx)
	if res.Failed != 1 || res.DeadLettered != 1 {
		t.Fatalf("second sweep res=%+v", res)
	}

	clk.Advance(24 * time.Hour)
	res, _ = sw.Sweep(ctx)
	if res.Dead != 1 || res.DeadLettered != 0 || res.Failed != 0 {
		t.Fatalf("sweep after dead letter res=%+v", res)
	}
	if attempts, _ := n.counts(); attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if ids := sw.DeadLettered(); len(ids) != 1 || ids[0] != "l1" {
		t.Fatalf("dead letters = %v", ids)
	}
	if notified(t, store, "l1") {
		t.Fatal("dead-lettered leak must not be marked notified")
	}
}

func TestSweepUnlimitedAttempts(t *testing.T) {
	n := &fakeNotifier{failN: -1}
	sw, store, clk := newFixture(t, n, Options{RetryInitial: time.Second, RetryMax: time.Second})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})

	for i := 0; i < 20; i++ {
		_, _ = sw.Sweep(ctx)
		clk.Advance(2 * time.Second)
	}
	if attempts, _ := n.counts(); attempts != 20 {
		t.Fatalf("attempts = %d, want 20", attempts)
	}
	if len(sw.DeadLettered()) != 0 {
		t.Fatal("nothing is dead-lettered without a cap")
	}
}

func TestSweepStoreErrorSendsNothing(t *testing.T) {
	n := &fakeNotifier{}
	sw, store, _ := newFixture(t, n, Options{})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})
	store.listErr = errors.New("connection refused")

	if _, err := sw.Sweep(ctx); err == nil {
		t.Fatal("expected error")
	}
	if attempts, _ := n.counts(); attempts != 0 {
		t.Fatalf("sent %d notifications on a failed listing", attempts)
	}

	store.listErr = nil
	if res, err := sw.Sweep(ctx); err != nil || res.Sent != 1 {
		t.Fatalf("recovered sweep res=%+v err=%v", res, err)
	}
}

func TestSweepMarkFailureResends(t *testing.T) {
	n := &fakeNotifier{}
	sw, store, _ := newFixture(t, n, Options{})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})
	store.markErr = errors.New("disk full")

	res, _ := sw.Sweep(ctx)
	if res.Sent != 1 || res.MarkFailed != 1 {
		t.Fatalf("res=%+v", res)
	}
	store.markErr = nil
	res, _ = sw.Sweep(ctx)
	if res.Sent != 1 || !notified(t, store, "l1") {
		t.Fatalf("res=%+v", res)
	}
	if _, delivered := n.counts(); delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
}

func TestRunSweepsOnInterval(t *testing.T) {
	n := &fakeNotifier{}
	sw, store, clk := newFixture(t, n, Options{Interval: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(time.Minute, 5*time.Second, 1); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	if err := clk.WaitAdvance(0, 5*time.Second, 1); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := store.lists.Load(); got < 3 {
		t.Fatalf("sweeps = %d, want at least 3", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

// notificationCount reads leakbot_notifications_total{result} from the shared registry.
func notificationCount(t *testing.T, result string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "leakbot_notifications_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestDeadLetterCountedOnce(t *testing.T) {
	n := &fakeNotifier{failN: -1}
	sw, store, clk := newFixture(t, n, Options{MaxAttempts: 1})
	ctx := context.Background()
	_ = store.CreateSubscriber(ctx, "bob@x.io", 42)
	store.AddLeak(domain.Leak{ID: "l1", Email: "bob@x.io", Source: "BreachDB"})

	before := notificationCount(t, "dead_letter")
	var dead int
	for i := 0; i < 5; i++ {
		res, err := sw.Sweep(ctx)
		if err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		dead += res.DeadLettered
		clk.Advance(time.Hour)
	}
	if attempts, _ := n.counts(); attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if dead != 1 {
		t.Fatalf("DeadLettered summed over sweeps = %d, want 1", dead)
	}
	if got := notificationCount(t, "dead_letter") - before; got != 1 {
		t.Fatalf("dead_letter counter grew by %v, want 1", got)
	}
}
