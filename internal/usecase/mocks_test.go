package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"xray-inference/internal/domain"
	"xray-inference/internal/domain/model"
	"xray-inference/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// memLocker is a set-if-absent map shared by every guard under test,
// standing in for the store all workers coordinate through.
type memLocker struct {
	mu       sync.Mutex
	held     map[string]string // name -> token
	seq      int
	acquires int32
	releases int32
	// ctx.Err() and token seen by the most recent Release
	releaseCtxErr error
	releaseToken  string

	TryAcquireFunc func(ctx context.Context, name string) (string, error)
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]string{}} }

func (m *memLocker) TryAcquire(ctx context.Context, name string) (string, error) {
	atomic.AddInt32(&m.acquires, 1)
	if m.TryAcquireFunc != nil {
		return m.TryAcquireFunc(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[name] != "" {
		return "", nil
	}
	m.seq++
	token := fmt.Sprintf("tok-%d", m.seq)
	m.held[name] = token
	return token, nil
}

func (m *memLocker) Release(ctx context.Context, name, token string) error {
	atomic.AddInt32(&m.releases, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCtxErr = ctx.Err()
	m.releaseToken = token
	if token == "" || m.held[name] == token {
		delete(m.held, name)
	}
	return nil
}

func (m *memLocker) isHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[name] != ""
}

type fakeModel struct {
	scores []float32
	err    error
}

func (f *fakeModel) Anchors() (string, string) { return "input_1", "dense_3/Softmax" }
func (f *fakeModel) Predict(ctx context.Context, in adapter.Tensor) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type fakeLoader struct {
	calls int32
	delay time.Duration

	LoadFunc func(ctx context.Context) (adapter.Model, error)
}

func (f *fakeLoader) Load(ctx context.Context) (adapter.Model, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.LoadFunc != nil {
		return f.LoadFunc(ctx)
	}
	return &fakeModel{scores: []float32{0.1, 0.8, 0.1}}, nil
}

func (f *fakeLoader) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

type sentNotice struct {
	kind  string // "message" | "result"
	uid   string
	text  string
	label model.Label
}

// recNotifier records everything it is asked to send.
type recNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (r *recNotifier) Message(ctx context.Context, uid, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotice{kind: "message", uid: uid, text: text})
}

func (r *recNotifier) Result(ctx context.Context, uid, imageKey string, c model.Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotice{kind: "result", uid: uid, text: imageKey, label: c.Label})
}

func (r *recNotifier) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		if s.kind == "result" {
			out = append(out, "result:"+s.text)
			continue
		}
		out = append(out, s.text)
	}
	return out
}

func (r *recNotifier) count(text string) int {
	n := 0
	for _, t := range r.texts() {
		if t == text {
			n++
		}
	}
	return n
}

type memStore struct {
	objects map[string][]byte
}

func (m *memStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakePreparer struct {
	err error
}

func (f *fakePreparer) Prepare(r io.Reader) (adapter.Tensor, error) {
	if f.err != nil {
		return adapter.Tensor{}, f.err
	}
	if _, err := io.ReadAll(r); err != nil {
		return adapter.Tensor{}, err
	}
	return adapter.Tensor{Shape: []int{1, 2, 2, 3}, Data: make([]float32, 12)}, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []*model.Job

	EnqueueFunc func(ctx context.Context, job *model.Job) error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job *model.Job) error {
	if f.EnqueueFunc != nil {
		if err := f.EnqueueFunc(ctx, job); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, job)
	return nil
}
func (f *fakeQueue) Dequeue(ctx context.Context, wait time.Duration) (*model.Job, error) {
	return nil, domain.ErrQueueEmpty
}
func (f *fakeQueue) Ack(ctx context.Context, job *model.Job) error        { return nil }
func (f *fakeQueue) Retry(ctx context.Context, job *model.Job) error      { return nil }
func (f *fakeQueue) DeadLetter(ctx context.Context, job *model.Job) error { return nil }
func (f *fakeQueue) RecoverInFlight(ctx context.Context) (int, error)     { return 0, nil }
