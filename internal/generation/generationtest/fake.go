// Package generationtest provides a scriptable in-memory generation backend.
package generationtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/leandro-br-dev/charhub-sub004/internal/errors"
	"github.com/leandro-br-dev/charhub-sub004/internal/generation"
)

// Fake implements generation.Backend. Failures are keyed by request label,
// or by kind when the request carries no label.
type Fake struct {
	mu       sync.Mutex
	calls    []generation.Request
	failures map[string][]error
	always   map[string]error
	fields   map[string]string
	healthy  bool
	block    chan struct{}
	seq      int
}

var _ generation.Backend = (*Fake)(nil)

// New creates a healthy fake that succeeds on every call
func New() *Fake {
	return &Fake{
		failures: make(map[string][]error),
		always:   make(map[string]error),
		fields:   make(map[string]string),
		healthy:  true,
	}
}

// FailOnce makes the next call for key return err
func (f *Fake) FailOnce(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], err)
}

// FailAlways makes every call for key return err
func (f *Fake) FailAlways(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[key] = err
}

// Recover clears every scripted failure
func (f *Fake) Recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string][]error)
	f.always = make(map[string]error)
}

// SetFields sets the values returned by CompleteFields
func (f *Fake) SetFields(fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = fields
}

// SetHealthy sets the health check answer
func (f *Fake) SetHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

// Block makes calls wait until the returned release func is called or the
// caller's context ends
func (f *Fake) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.block = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.block == ch {
				f.block = nil
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Invoke records req and returns a deterministic artifact reference
func (f *Fake) Invoke(ctx context.Context, req generation.Request) (*generation.Artifact, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, apperrors.NewTransientBackendError("fake", ctx.Err())
		}
	}

	key := req.Label
	if key == "" {
		key = string(req.Kind)
	}
	if err := f.scriptedFailure(key); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.seq++
	ref := fmt.Sprintf("artifact://%s/%s/%d", req.Kind, key, f.seq)
	f.mu.Unlock()

	return &generation.Artifact{Ref: ref, ContentType: "image/png", Width: req.Width, Height: req.Height}, nil
}

// CompleteFields returns the configured field values for the missing keys
func (f *Fake) CompleteFields(ctx context.Context, req generation.FieldsRequest) (map[string]string, error) {
	if err := f.scriptedFailure("fields"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(req.Missing))
	for _, k := range req.Missing {
		if v, ok := f.fields[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// HealthCheck returns the configured health
func (f *Fake) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

// Calls returns a copy of every recorded Invoke request
func (f *Fake) Calls() []generation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]generation.Request(nil), f.calls...)
}

// CallCount returns how many Invoke calls carried the given label
func (f *Fake) CallCount(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Label == label {
			n++
		}
	}
	return n
}

func (f *Fake) scriptedFailure(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.always[key]; ok {
		return err
	}
	if queued := f.failures[key]; len(queued) > 0 {
		f.failures[key] = queued[1:]
		return queued[0]
	}
	return nil
}

// Transient returns a retryable backend error
func Transient(msg string) error {
	return apperrors.NewTransientBackendError("fake", errors.New(msg))
}

// Permanent returns a backend error that must not be retried
func Permanent(msg string) error {
	return apperrors.NewPermanentBackendError("fake", errors.New(msg))
}
