package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	sessionCreatedTotal    atomic.Uint64
	sessionCompletedTotal  atomic.Uint64
	sessionFailedTotal     atomic.Uint64
	sessionCancelledTotal  atomic.Uint64
	storeConflictRetried   atomic.Uint64
	agentRetriedTotal      atomic.Uint64
	chatMessagesTotal      atomic.Uint64
	feedbackSubmittedTotal atomic.Uint64

	reconcileJobsReceived      atomic.Uint64
	reconcileJobsCompleted     atomic.Uint64
	reconcileJobsPending       atomic.Uint64
	reconcileJobsFailed        atomic.Uint64
	reconcileJobsUnrecoverable atomic.Uint64

	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000})
)

// IncSessionCreated increments the created-sessions counter.
func IncSessionCreated() {
	sessionCreatedTotal.Add(1)
}

// IncSessionCompleted increments the completed-sessions counter.
func IncSessionCompleted() {
	sessionCompletedTotal.Add(1)
}

// IncSessionFailed increments the failed-sessions counter.
func IncSessionFailed() {
	sessionFailedTotal.Add(1)
}

// IncSessionCancelled increments the cancelled-sessions counter.
func IncSessionCancelled() {
	sessionCancelledTotal.Add(1)
}

// IncStoreConflictRetried counts optimistic-concurrency conflicts that
// triggered a re-read.
func IncStoreConflictRetried() {
	storeConflictRetried.Add(1)
}

// StoreConflictRetries returns the current conflict-retry count.
func StoreConflictRetries() uint64 {
	return storeConflictRetried.Load()
}

// IncAgentRetried counts transient agent errors that were retried.
func IncAgentRetried() {
	agentRetriedTotal.Add(1)
}

// IncChatMessage increments the appended-chat-messages counter.
func IncChatMessage() {
	chatMessagesTotal.Add(1)
}

// IncFeedbackSubmitted increments the feedback counter.
func IncFeedbackSubmitted() {
	feedbackSubmittedTotal.Add(1)
}

// IncReconcileJobsReceived counts reconcile messages picked up by the worker.
func IncReconcileJobsReceived() {
	reconcileJobsReceived.Add(1)
}

// IncReconcileJobsCompleted counts reconcile messages processed and deleted.
func IncReconcileJobsCompleted() {
	reconcileJobsCompleted.Add(1)
}

// IncReconcileJobsPending counts reconcile messages requeued because the
// agent has not finished yet.
func IncReconcileJobsPending() {
	reconcileJobsPending.Add(1)
}

// ReconcileJobsPending returns the current pending-requeue count.
func ReconcileJobsPending() uint64 {
	return reconcileJobsPending.Load()
}

// IncReconcileJobsFailed counts reconcile messages left for redelivery.
func IncReconcileJobsFailed() {
	reconcileJobsFailed.Add(1)
}

// ReconcileJobsFailed returns the current redelivery count.
func ReconcileJobsFailed() uint64 {
	return reconcileJobsFailed.Load()
}

// IncReconcileJobsUnrecoverable counts malformed messages deleted without processing.
func IncReconcileJobsUnrecoverable() {
	reconcileJobsUnrecoverable.Add(1)
}

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

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
	writeCounter(&buf, "session_created_total", "Total analysis sessions created", sessionCreatedTotal.Load())
	writeCounter(&buf, "session_completed_total", "Total analysis sessions completed", sessionCompletedTotal.Load())
	writeCounter(&buf, "session_failed_total", "Total analysis sessions failed", sessionFailedTotal.Load())
	writeCounter(&buf, "session_cancelled_total", "Total analysis sessions cancelled", sessionCancelledTotal.Load())
	writeCounter(&buf, "store_conflict_retries_total", "Total optimistic-concurrency conflicts retried", storeConflictRetried.Load())
	writeCounter(&buf, "agent_retries_total", "Total transient agent errors retried", agentRetriedTotal.Load())
	writeCounter(&buf, "chat_messages_total", "Total chat messages appended", chatMessagesTotal.Load())
	writeCounter(&buf, "feedback_submitted_total", "Total feedback records submitted", feedbackSubmittedTotal.Load())
	writeCounter(&buf, "reconcile_jobs_received_total", "Total reconcile messages received by the worker", reconcileJobsReceived.Load())
	writeCounter(&buf, "reconcile_jobs_completed_total", "Total reconcile messages processed successfully", reconcileJobsCompleted.Load())
	writeCounter(&buf, "reconcile_jobs_pending_total", "Total reconcile messages requeued while the agent was still running", reconcileJobsPending.Load())
	writeCounter(&buf, "reconcile_jobs_failed_total", "Total reconcile messages left for redelivery", reconcileJobsFailed.Load())
	writeCounter(&buf, "reconcile_jobs_unrecoverable_total", "Total malformed reconcile messages deleted", reconcileJobsUnrecoverable.Load())
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
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
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
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

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
