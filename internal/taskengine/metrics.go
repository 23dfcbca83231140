package taskengine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks worker-pool counters per spec.md §4.8: submitted,
// completed, failed, cancelled, total/avg/max/min execution time, active
// workers, queue depth. It also implements prometheus.Collector so the
// pool's state can be scraped directly, without a separate export loop.
type Metrics struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64

	mu         sync.Mutex
	totalExec  time.Duration
	maxExec    time.Duration
	minExec    time.Duration
	execCount  int64
	haveMinMax bool

	activeWorkers atomic.Int32
	queueDepthFn  func() int

	submittedDesc *prometheus.Desc
	completedDesc *prometheus.Desc
	failedDesc    *prometheus.Desc
	cancelledDesc *prometheus.Desc
	activeDesc    *prometheus.Desc
	queueDesc     *prometheus.Desc
	avgExecDesc   *prometheus.Desc
	maxExecDesc   *prometheus.Desc
	minExecDesc   *prometheus.Desc
}

// NewMetrics builds a Metrics recorder. queueDepth is polled at Collect
// time (Prometheus pull model) rather than pushed, since depth changes
// between scrapes anyway.
func NewMetrics(queueDepth func() int) *Metrics {
	return &Metrics{
		queueDepthFn:  queueDepth,
		submittedDesc: prometheus.NewDesc("wiseflow_taskengine_submitted_total", "Tasks submitted to the worker pool", nil, nil),
		completedDesc: prometheus.NewDesc("wiseflow_taskengine_completed_total", "Tasks completed successfully", nil, nil),
		failedDesc:    prometheus.NewDesc("wiseflow_taskengine_failed_total", "Tasks that exhausted retries", nil, nil),
		cancelledDesc: prometheus.NewDesc("wiseflow_taskengine_cancelled_total", "Tasks cancelled before execution", nil, nil),
		activeDesc:    prometheus.NewDesc("wiseflow_taskengine_active_workers", "Currently active workers", nil, nil),
		queueDesc:     prometheus.NewDesc("wiseflow_taskengine_queue_depth", "Pending tasks in the priority queue", nil, nil),
		avgExecDesc:   prometheus.NewDesc("wiseflow_taskengine_execution_seconds_avg", "Average task execution time", nil, nil),
		maxExecDesc:   prometheus.NewDesc("wiseflow_taskengine_execution_seconds_max", "Maximum task execution time", nil, nil),
		minExecDesc:   prometheus.NewDesc("wiseflow_taskengine_execution_seconds_min", "Minimum task execution time", nil, nil),
	}
}

func (m *Metrics) recordSubmitted() { m.submitted.Add(1) }
func (m *Metrics) recordCancelled() { m.cancelled.Add(1) }

func (m *Metrics) recordFinished(status string, execTime time.Duration) {
	switch status {
	case "completed":
		m.completed.Add(1)
	case "failed":
		m.failed.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalExec += execTime
	m.execCount++
	if !m.haveMinMax {
		m.maxExec, m.minExec = execTime, execTime
		m.haveMinMax = true
		return
	}
	if execTime > m.maxExec {
		m.maxExec = execTime
	}
	if execTime < m.minExec {
		m.minExec = execTime
	}
}

func (m *Metrics) addActiveWorker(delta int32) { m.activeWorkers.Add(delta) }

// Snapshot is a point-in-time read of every spec.md §4.8 metric.
type Snapshot struct {
	Submitted      int64
	Completed      int64
	Failed         int64
	Cancelled      int64
	TotalExecTime  time.Duration
	AvgExecTime    time.Duration
	MaxExecTime    time.Duration
	MinExecTime    time.Duration
	ActiveWorkers  int32
	QueueDepth     int
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	total, count, maxE, minE := m.totalExec, m.execCount, m.maxExec, m.minExec
	m.mu.Unlock()

	var avg time.Duration
	if count > 0 {
		avg = total / time.Duration(count)
	}

	depth := 0
	if m.queueDepthFn != nil {
		depth = m.queueDepthFn()
	}

	return Snapshot{
		Submitted:     m.submitted.Load(),
		Completed:     m.completed.Load(),
		Failed:        m.failed.Load(),
		Cancelled:     m.cancelled.Load(),
		TotalExecTime: total,
		AvgExecTime:   avg,
		MaxExecTime:   maxE,
		MinExecTime:   minE,
		ActiveWorkers: m.activeWorkers.Load(),
		QueueDepth:    depth,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.submittedDesc
	ch <- m.completedDesc
	ch <- m.failedDesc
	ch <- m.cancelledDesc
	ch <- m.activeDesc
	ch <- m.queueDesc
	ch <- m.avgExecDesc
	ch <- m.maxExecDesc
	ch <- m.minExecDesc
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	snap := m.Snapshot()
	ch <- prometheus.MustNewConstMetric(m.submittedDesc, prometheus.CounterValue, float64(snap.Submitted))
	ch <- prometheus.MustNewConstMetric(m.completedDesc, prometheus.CounterValue, float64(snap.Completed))
	ch <- prometheus.MustNewConstMetric(m.failedDesc, prometheus.CounterValue, float64(snap.Failed))
	ch <- prometheus.MustNewConstMetric(m.cancelledDesc, prometheus.CounterValue, float64(snap.Cancelled))
	ch <- prometheus.MustNewConstMetric(m.activeDesc, prometheus.GaugeValue, float64(snap.ActiveWorkers))
	ch <- prometheus.MustNewConstMetric(m.queueDesc, prometheus.GaugeValue, float64(snap.QueueDepth))
	ch <- prometheus.MustNewConstMetric(m.avgExecDesc, prometheus.GaugeValue, snap.AvgExecTime.Seconds())
	ch <- prometheus.MustNewConstMetric(m.maxExecDesc, prometheus.GaugeValue, snap.MaxExecTime.Seconds())
	ch <- prometheus.MustNewConstMetric(m.minExecDesc, prometheus.GaugeValue, snap.MinExecTime.Seconds())
}
