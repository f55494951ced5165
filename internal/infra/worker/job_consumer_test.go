package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/repository"
)

// chanQueue hands out jobs from a channel and records how each was settled.
type chanQueue struct {
	jobs chan *model.Job

	mu        sync.Mutex
	acked     []string
	retried   []string
	dead      []string
	order     []string
	recovered int
	settled   chan string
}

func newChanQueue(jobs ...*model.Job) *chanQueue {
	q := &chanQueue{jobs: make(chan *model.Job, len(jobs)+1), settled: make(chan string, 16)}
	for _, j := range jobs {
		q.jobs <- j
	}
	return q
}

func (q *chanQueue) Enqueue(ctx context.Context, job *model.Job) error {
	q.jobs <- job
	return nil
}

func (q *chanQueue) Dequeue(ctx context.Context, wait time.Duration) (*model.Job, error) {
	select {
	case j := <-q.jobs:
		return j, nil
	case <-time.After(wait):
		return nil, domain.ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *chanQueue) record(list *[]string, job *model.Job, how string) {
	q.mu.Lock()
	*list = append(*list, job.ID)
	q.order = append(q.order, how+":"+job.ID)
	q.mu.Unlock()
	q.settled <- how + ":" + job.ID
}

func (q *chanQueue) Ack(ctx context.Context, job *model.Job) error {
	q.record(&q.acked, job, "ack")
	return nil
}
func (q *chanQueue) Retry(ctx context.Context, job *model.Job) error {
	q.record(&q.retried, job, "retry")
	return nil
}
func (q *chanQueue) DeadLetter(ctx context.Context, job *model.Job) error {
	q.record(&q.dead, job, "dead")
	return nil
}
func (q *chanQueue) RecoverInFlight(ctx context.Context) (int, error) {
	q.recovered++
	return 0, nil
}

type fakeProcessor struct {
	mu       sync.Mutex
	errs     map[string]error
	failed   []string
	deadline map[string]bool
}

func (f *fakeProcessor) Process(ctx context.Context, job *model.Job) (model.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deadline == nil {
		f.deadline = map[string]bool{}
	}
	_, has := ctx.Deadline()
	f.deadline[job.ID] = has
	if err := f.errs[job.ID]; err != nil {
		return model.Classification{}, err
	}
	return model.Classification{Label: model.LabelNormal, Scores: [3]float32{0.9, 0.05, 0.05}}, nil
}

func (f *fakeProcessor) NotifyFailure(ctx context.Context, job *model.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, job.ID)
}

type memRuns struct {
	mu   sync.Mutex
	runs []*model.JobRun
}

func (m *memRuns) Save(ctx context.Context, tx repository.Tx, run *model.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) ListRecentFailures(ctx context.Context, tx repository.Tx, limit int) ([]*model.JobRun, error) {
	return nil, nil
}

func (m *memRuns) byJob(id string) *model.JobRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.JobID == id {
			return r
		}
	}
	return nil
}

func runConsumer(t *testing.T, q *chanQueue, proc *fakeProcessor, runs *memRuns, maxAttempts, expectSettled int, tune ...func(*ConsumerOptions)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, nopLogger())
	pool.Start(ctx)
	opts := ConsumerOptions{
		PollWait:    20 * time.Millisecond,
		JobTimeout:  time.Second,
		MaxAttempts: maxAttempts,
	}
	for _, f := range tune {
		f(&opts)
	}
	c := NewJobConsumer(q, proc, runs, pool, opts, nopLogger())

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	for i := 0; i < expectSettled; i++ {
		select {
		case <-q.settled:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for settlement %d", i+1)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consumer: %v", err)
	}
	pool.Stop()
	c.Drain()
}

func TestJobConsumer_Outcomes(t *testing.T) {
	t.Run("should ack successful jobs and record the label", func(t *testing.T) {
		// --- Arrange ---
		q := newChanQueue(&model.Job{ID: "ok", RequesterID: "u1", ImageKey: "a.png"})
		proc := &fakeProcessor{}
		runs := &memRuns{}

		// --- Act ---
		runConsumer(t, q, proc, runs, 5, 1)

		// --- Assert ---
		if len(q.acked) != 1 || q.acked[0] != "ok" {
			t.Fatalf("expected ack, got %v", q.acked)
		}
		if q.recovered != 1 {
			t.Error("expected in-flight recovery at start")
		}
		r := runs.byJob("ok")
		if r == nil || r.Status != model.JobStatusCompleted || r.Label != model.LabelNormal || r.Attempts != 1 {
			t.Errorf("unexpected run %+v", r)
		}
		if !proc.deadline["ok"] {
			t.Error("expected a per-job deadline")
		}
	})

	t.Run("should retry transient failures below the attempt limit", func(t *testing.T) {
		q := newChanQueue(&model.Job{ID: "busy", RequesterID: "u1", ImageKey: "a.png", Attempts: 1})
		proc := &fakeProcessor{errs: map[string]error{"busy": domain.ErrModelNotReady}}
		runs := &memRuns{}

		runConsumer(t, q, proc, runs, 5, 1)

		if len(q.retried) != 1 {
			t.Fatalf("expected retry, got acked=%v dead=%v", q.acked, q.dead)
		}
		if len(proc.failed) != 0 {
			t.Error("did not expect a failure notice for a retried job")
		}
		if r := runs.byJob("busy"); r == nil || r.Status != model.JobStatusRetried || r.Attempts != 2 {
			t.Errorf("unexpected run %+v", r)
		}
	})

	t.Run("should dead-letter on the last attempt and tell the requester", func(t *testing.T) {
		q := newChanQueue(&model.Job{ID: "last", RequesterID: "u1", ImageKey: "a.png", Attempts: 4})
		proc := &fakeProcessor{errs: map[string]error{"last": errors.New("serving down")}}
		runs := &memRuns{}

		runConsumer(t, q, proc, runs, 5, 1)

		if len(q.dead) != 1 {
			t.Fatalf("expected dead letter, got retried=%v", q.retried)
		}
		if len(proc.failed) != 1 || proc.failed[0] != "last" {
			t.Errorf("expected failure notice, got %v", proc.failed)
		}
		if r := runs.byJob("last"); r == nil || r.Status != model.JobStatusDead || r.Error == "" {
			t.Errorf("unexpected run %+v", r)
		}
	})

	t.Run("should dead-letter permanent failures immediately", func(t *testing.T) {
		q := newChanQueue(&model.Job{ID: "gone", RequesterID: "u1", ImageKey: "missing.png"})
		proc := &fakeProcessor{errs: map[string]error{"gone": domain.ErrNotFound}}
		runs := &memRuns{}

		runConsumer(t, q, proc, runs, 5, 1)

		if len(q.dead) != 1 || len(q.retried) != 0 {
			t.Fatalf("expected immediate dead letter, got retried=%v dead=%v", q.retried, q.dead)
		}
	})
}

func TestJobConsumer_ModelWait(t *testing.T) {
	wait := func(o *ConsumerOptions) { o.ModelWait = time.Minute }

	t.Run("should keep retrying past the attempt limit while the model loads", func(t *testing.T) {
		// --- Arrange ---
		job := &model.Job{ID: "early", RequesterID: "u1", ImageKey: "a.png", Attempts: 4, EnqueuedAt: time.Now()}
		q := newChanQueue(job)
		proc := &fakeProcessor{errs: map[string]error{"early": fmt.Errorf("classify: %w", domain.ErrModelNotReady)}}

		// --- Act ---
		runConsumer(t, q, proc, &memRuns{}, 5, 1, wait)

		// --- Assert ---
		if len(q.retried) != 1 || len(q.dead) != 0 {
			t.Fatalf("expected retry, got retried=%v dead=%v", q.retried, q.dead)
		}
		if len(proc.failed) != 0 {
			t.Error("did not expect a failure notice while the model is loading")
		}
	})

	t.Run("should fall back to the attempt limit once the wait is over", func(t *testing.T) {
		job := &model.Job{ID: "stale", RequesterID: "u1", ImageKey: "a.png", Attempts: 4, EnqueuedAt: time.Now().Add(-2 * time.Minute)}
		q := newChanQueue(job)
		proc := &fakeProcessor{errs: map[string]error{"stale": domain.ErrModelNotReady}}

		runConsumer(t, q, proc, &memRuns{}, 5, 1, wait)

		if len(q.dead) != 1 {
			t.Fatalf("expected dead letter, got retried=%v", q.retried)
		}
		if len(proc.failed) != 1 {
			t.Errorf("expected failure notice, got %v", proc.failed)
		}
	})

	t.Run("should not extend other transient errors", func(t *testing.T) {
		job := &model.Job{ID: "down", RequesterID: "u1", ImageKey: "a.png", Attempts: 4, EnqueuedAt: time.Now()}
		q := newChanQueue(job)
		proc := &fakeProcessor{errs: map[string]error{"down": errors.New("serving down")}}

		runConsumer(t, q, proc, &memRuns{}, 5, 1, wait)

		if len(q.dead) != 1 {
			t.Fatalf("expected dead letter, got retried=%v", q.retried)
		}
	})
}

func TestJobConsumer_RetryWaitFreesWorker(t *testing.T) {
	// --- Arrange ---
	q := newChanQueue(
		&model.Job{ID: "later", RequesterID: "u1", ImageKey: "a.png"},
		&model.Job{ID: "next", RequesterID: "u2", ImageKey: "b.png"},
	)
	proc := &fakeProcessor{errs: map[string]error{"later": errors.New("serving down")}}

	// --- Act ---
	// one worker; the retry waits 300ms
	runConsumer(t, q, proc, &memRuns{}, 5, 2, func(o *ConsumerOptions) { o.RetryDelay = 300 * time.Millisecond })

	// --- Assert ---
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) != 2 || q.order[0] != "ack:next" || q.order[1] != "retry:later" {
		t.Fatalf("expected the next job to finish during the retry wait, got %v", q.order)
	}
}

func TestJobConsumer_ShutdownDuringRetryWaitLeavesJobInFlight(t *testing.T) {
	q := newChanQueue(&model.Job{ID: "slow", RequesterID: "u1", ImageKey: "a.png"})
	proc := &fakeProcessor{errs: map[string]error{"slow": errors.New("serving down")}}
	runs := &memRuns{}
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, nopLogger())
	pool.Start(ctx)
	c := NewJobConsumer(q, proc, runs, pool, ConsumerOptions{
		PollWait:    20 * time.Millisecond,
		MaxAttempts: 5,
		RetryDelay:  time.Hour,
	}, nopLogger())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for runs.byJob("slow") == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	pool.Stop()
	c.Drain()

	if r := runs.byJob("slow"); r == nil || r.Status != model.JobStatusRetried {
		t.Fatalf("expected a retried run, got %+v", r)
	}
	if len(q.retried) != 0 || len(q.dead) != 0 {
		t.Errorf("expected the job left unsettled, got retried=%v dead=%v", q.retried, q.dead)
	}
}

func TestJobConsumer_RetryDelay(t *testing.T) {
	c := &JobConsumer{opts: ConsumerOptions{RetryDelay: time.Second}}
	cases := map[int]time.Duration{0: time.Second, 1: 2 * time.Second, 3: 8 * time.Second, 10: 32 * time.Second}
	for attempts, want := range cases {
		if got := c.retryDelay(attempts); got != want {
			t.Errorf("attempts=%d: expected %s, got %s", attempts, want, got)
		}
	}
}
