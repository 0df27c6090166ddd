package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"contract-backend/internal/analyses"
	"contract-backend/internal/queue"
	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/telemetry"
)

const (
	defaultPoolSize        = 4
	defaultShutdownTimeout = 30 * time.Second
	receiveBackoff         = time.Second
	// releaseGrace bounds the wait for cancelled jobs to hand their claims back.
	releaseGrace = 5 * time.Second
)

// Processor runs one analysis job.
type Processor interface {
	ProcessAnalysis(ctx context.Context, analysisID string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a payload that is not a valid job message.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	AnalysisID string
	RequestID  string
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process analysis"
	}
	return "process analysis: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}
	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	return msg, meta, nil
}

// HandleMessage parses a payload and processes the analysis it names.
func HandleMessage(ctx context.Context, processor Processor, body string) error {
	if processor == nil {
		return errors.New("analysis processor not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	ctx = telemetry.WithRequestID(ctx, msg.RequestID)
	if err := processor.ProcessAnalysis(ctx, msg.AnalysisID); err != nil {
		return ErrProcess{AnalysisID: msg.AnalysisID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}

// ShouldDelete reports whether a handled message must be removed from the
// queue. A message stays queued only when the analysis outcome was not
// recorded or the job was cancelled before finishing.
func ShouldDelete(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, analyses.ErrStatusNotPersisted), errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// Worker polls a queue and processes jobs with bounded concurrency.
type Worker struct {
	Consumer        queue.Consumer
	Processor       Processor
	PoolSize        int
	ShutdownTimeout time.Duration
}

// Run polls until ctx is cancelled, then waits for in-flight jobs up to the
// shutdown timeout. Jobs do not observe ctx; they are cancelled only when the
// drain times out, which leaves their messages queued for redelivery.
func (w *Worker) Run(ctx context.Context) error {
	if w.Consumer == nil || w.Processor == nil {
		return errors.New("worker requires a consumer and a processor")
	}
	poolSize := w.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var g errgroup.Group
	g.SetLimit(poolSize)

	telemetry.Info("worker.started", map[string]any{"pool_size": poolSize})
	for ctx.Err() == nil {
		deliveries, err := w.Consumer.Receive(ctx, poolSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err})
			sleep(ctx, receiveBackoff)
			continue
		}
		for _, d := range deliveries {
			metrics.IncWorkerReceived()
			// Unstarted deliveries reappear once their visibility timeout lapses.
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				w.handle(jobCtx, d)
				return nil
			})
		}
	}

	timeout := w.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	telemetry.Info("worker.draining", map[string]any{"timeout": timeout.String()})
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
	}

	telemetry.Warn("worker.drain_timeout", map[string]any{"timeout": timeout.String()})
	cancelJobs()
	select {
	case <-done:
	case <-time.After(releaseGrace):
	}
	return errors.New("shutdown timeout reached with jobs in flight")
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	err := HandleMessage(ctx, w.Processor, d.Body)
	meta := ComputeMeta(d.Body)
	fields := map[string]any{
		"message_id":  d.ID,
		"body_len":    meta.BodyLen,
		"body_sha256": meta.BodySHA,
	}
	var proc ErrProcess
	if errors.As(err, &proc) {
		fields["analysis_id"] = proc.AnalysisID
		fields["request_id"] = proc.RequestID
	}

	if err == nil {
		metrics.IncWorkerCompleted()
		telemetry.Info("worker.job_completed", fields)
	} else {
		metrics.IncWorkerFailed()
		fields["error"] = err
		telemetry.Error("worker.job_failed", fields)
	}

	if !ShouldDelete(err) {
		telemetry.Warn("worker.message_retained", fields)
		return
	}
	// Jobs cancelled at drain timeout still acknowledge finished work.
	if err := w.Consumer.Delete(context.WithoutCancel(ctx), d.ReceiptHandle); err != nil {
		fields["error"] = err
		telemetry.Error("worker.delete_failed", fields)
		return
	}
	metrics.IncWorkerDeleted()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
