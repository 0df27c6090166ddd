package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"contract-backend/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	var calls atomic.Int32
	got, err := Do(context.Background(), "test.success", Policy{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Millisecond},
		func(context.Context) (string, error) {
			calls.Add(1)
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoAbortsImmediatelyOnPermanentError(t *testing.T) {
	const base = 200 * time.Millisecond
	var calls atomic.Int32
	schemaErr := &schema.ValidationError{Issues: []schema.FieldIssue{{Path: "clauses[0].riskScore", Reason: "must be an integer between 0 and 100"}}}

	started := time.Now()
	_, err := Do(context.Background(), "test.permanent", Policy{Timeout: time.Second, MaxRetries: 3, BaseDelay: base},
		func(context.Context) (int, error) {
			calls.Add(1)
			return 0, schemaErr
		})
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.ErrorIs(t, err, schemaErr)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, elapsed, base)
}

func TestDoExhaustsRetriesOnTimeout(t *testing.T) {
	const (
		timeout = 10 * time.Millisecond
		base    = 50 * time.Millisecond
	)
	var (
		mu     sync.Mutex
		starts []time.Time
	)

	_, err := Do(context.Background(), "test.timeout", Policy{Timeout: timeout, MaxRetries: 2, BaseDelay: base},
		func(ctx context.Context) (int, error) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			<-ctx.Done()
			return 0, ctx.Err()
		})

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, terr.Attempt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	first := starts[1].Sub(starts[0])
	second := starts[2].Sub(starts[1])
	assert.GreaterOrEqual(t, first, base)
	assert.GreaterOrEqual(t, second, 2*base)
	assert.Greater(t, second, first)
}

func TestDoTimeoutDoesNotWaitForHungCall(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	started := time.Now()
	_, err := Do(context.Background(), "test.hung", Policy{Timeout: 20 * time.Millisecond},
		func(context.Context) (int, error) {
			<-release
			return 1, nil
		})

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	got, err := Do(context.Background(), "test.transient", Policy{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("connection reset by peer")
			}
			return 7, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoStopsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	_, err := Do(ctx, "test.cancel", Policy{Timeout: time.Second, MaxRetries: 5, BaseDelay: 50 * time.Millisecond},
		func(context.Context) (int, error) {
			calls.Add(1)
			cancel()
			return 0, errors.New("upstream unavailable")
		})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCustomClassifier(t *testing.T) {
	sentinel := errors.New("stop")
	var calls atomic.Int32
	policy := Policy{
		MaxRetries: 3,
		Classify: func(err error) Decision {
			if errors.Is(err, sentinel) {
				return Abort
			}
			return Retry
		},
	}

	_, err := Do(context.Background(), "test.classify", policy, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackoffIsLinear(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 3*time.Second, p.Backoff(3))
}

func TestDefaultClassify(t *testing.T) {
	assert.Equal(t, Retry, DefaultClassify(&TimeoutError{Label: "x", Attempt: 1}))
	assert.Equal(t, Retry, DefaultClassify(errors.New("503 service unavailable")))
	assert.Equal(t, Abort, DefaultClassify(&schema.ValidationError{}))
	assert.Equal(t, Abort, DefaultClassify(context.Canceled))
}
