package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	analysisStartedTotal   atomic.Uint64
	analysisCompletedTotal atomic.Uint64
	analysisFailedTotal    atomic.Uint64

	analysisDuration = newHistogram([]float64{1000, 5000, 10000, 30000, 60000, 120000, 300000})

	attemptsTotal = newCounterVec("label", "outcome")
	timeoutsTotal = newCounterVec("label")
	failuresTotal = newCounterVec("error_code")

	workerReceivedTotal  atomic.Uint64
	workerCompletedTotal atomic.Uint64
	workerFailedTotal    atomic.Uint64
	workerDeletedTotal   atomic.Uint64
)

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted() {
	analysisStartedTotal.Add(1)
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Add(1)
}

// IncAnalysisFailed increments the failed counter, labelled by persisted error code.
func IncAnalysisFailed(errorCode string) {
	analysisFailedTotal.Add(1)
	failuresTotal.Inc(errorCode)
}

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// IncAttempt counts one executor attempt. outcome is ok, retry, abort or exhausted.
func IncAttempt(label, outcome string) {
	attemptsTotal.Inc(label, outcome)
}

// IncTimeout counts one attempt that exceeded its deadline.
func IncTimeout(label string) {
	timeoutsTotal.Inc(label)
}

func IncWorkerReceived()  { workerReceivedTotal.Add(1) }
func IncWorkerCompleted() { workerCompletedTotal.Add(1) }
func IncWorkerFailed()    { workerFailedTotal.Add(1) }
func IncWorkerDeleted()   { workerDeletedTotal.Add(1) }

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_started_total", "Total analyses started", analysisStartedTotal.Load())
	writeCounter(&buf, "analysis_completed_total", "Total analyses completed", analysisCompletedTotal.Load())
	writeCounter(&buf, "analysis_failed_total", "Total analyses failed", analysisFailedTotal.Load())
	writeCounterVec(&buf, "analysis_failures_by_code_total", "Failed analyses by error code", failuresTotal)
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	writeCounterVec(&buf, "llm_attempts_total", "Provider call attempts by label and outcome", attemptsTotal)
	writeCounterVec(&buf, "llm_timeouts_total", "Provider call attempts that timed out", timeoutsTotal)
	writeCounter(&buf, "worker_jobs_received_total", "Queue messages received", workerReceivedTotal.Load())
	writeCounter(&buf, "worker_jobs_completed_total", "Queue messages processed", workerCompletedTotal.Load())
	writeCounter(&buf, "worker_jobs_failed_total", "Queue messages that failed processing", workerFailedTotal.Load())
	writeCounter(&buf, "worker_jobs_deleted_total", "Queue messages deleted", workerDeletedTotal.Load())
	return buf.String()
}

type counterVec struct {
	mu     sync.Mutex
	labels []string
	values map[string]uint64
	keys   map[string][]string
}

func newCounterVec(labels ...string) *counterVec {
	return &counterVec{
		labels: labels,
		values: make(map[string]uint64),
		keys:   make(map[string][]string),
	}
}

func (v *counterVec) Inc(labelValues ...string) {
	key := fmt.Sprint(labelValues)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.keys[key]; !ok {
		v.keys[key] = append([]string(nil), labelValues...)
	}
	v.values[key]++
}

func (v *counterVec) Value(labelValues ...string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.values[fmt.Sprint(labelValues)]
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeCounterVec(buf *bytes.Buffer, name, help string, v *counterVec) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.keys))
	for k := range v.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := v.keys[k]
		var labels bytes.Buffer
		for i, name := range v.labels {
			if i > 0 {
				labels.WriteByte(',')
			}
			fmt.Fprintf(&labels, "%s=%q", name, values[i])
		}
		fmt.Fprintf(buf, "%s{%s} %d\n", name, labels.String(), v.values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
