package incident

import "github.com/prometheus/client_golang/prometheus"

// RunHooks are callbacks the executor and orchestrator fire at run
// milestones. The zero value is a valid no-op.
type RunHooks struct {
	OnStage  func(stage string, duration float64, failed bool)
	OnRun    func(status Status, route Route, duration float64)
	OnDebit  func(ok bool)
	OnSubmit func(result string)
	OnBatch  func(total, processed, failed int, duration float64)
	OnSweep  func(pending int)
}

func (h RunHooks) stage(stage string, duration float64, failed bool) {
	if h.OnStage != nil {
		h.OnStage(stage, duration, failed)
	}
}

func (h RunHooks) run(status Status, route Route, duration float64) {
	if h.OnRun != nil {
		h.OnRun(status, route, duration)
	}
}

func (h RunHooks) debit(ok bool) {
	if h.OnDebit != nil {
		h.OnDebit(ok)
	}
}

func (h RunHooks) submit(result string) {
	if h.OnSubmit != nil {
		h.OnSubmit(result)
	}
}

func (h RunHooks) batch(total, processed, failed int, duration float64) {
	if h.OnBatch != nil {
		h.OnBatch(total, processed, failed, duration)
	}
}

func (h RunHooks) sweep(pending int) {
	if h.OnSweep != nil {
		h.OnSweep(pending)
	}
}

// Metrics holds Prometheus metrics for the incident pipeline.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	StageDuration  *prometheus.HistogramVec
	StageErrors    *prometheus.CounterVec
	RoutesTotal    *prometheus.CounterVec
	SubmitsTotal   *prometheus.CounterVec
	CreditDebits   *prometheus.CounterVec
	BatchesTotal   prometheus.Counter
	BatchItems     *prometheus.CounterVec
	BatchDuration  prometheus.Histogram
	PendingRedoRun prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_runs_total",
			Help: "Total pipeline runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_stage_errors_total",
			Help: "Total stage failures by stage name.",
		}, []string{"stage"}),
		RoutesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_routes_total",
			Help: "Total completed runs by route decision.",
		}, []string{"route"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_submits_total",
			Help: "Total incident submissions by result.",
		}, []string{"result"}),
		CreditDebits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_credit_debits_total",
			Help: "Total credit debit attempts by outcome.",
		}, []string{"outcome"}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_batches_total",
			Help: "Total batch runs.",
		}),
		BatchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_batch_items_total",
			Help: "Total batch items by outcome.",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_batch_duration_seconds",
			Help:    "Wall-clock duration of batch runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		PendingRedoRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_reprocess_sweeps_total",
			Help: "Total batch sweeps over pending_reprocess incidents.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StageDuration,
		m.StageErrors,
		m.RoutesTotal,
		m.SubmitsTotal,
		m.CreditDebits,
		m.BatchesTotal,
		m.BatchItems,
		m.BatchDuration,
		m.PendingRedoRun,
	)

	return m
}

// Hooks returns a RunHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() RunHooks {
	return RunHooks{
		OnStage: func(stage string, duration float64, failed bool) {
			m.StageDuration.WithLabelValues(stage).Observe(duration)
			if failed {
				m.StageErrors.WithLabelValues(stage).Inc()
			}
		},
		OnRun: func(status Status, route Route, duration float64) {
			m.RunsTotal.WithLabelValues(string(status)).Inc()
			m.RunDuration.WithLabelValues(string(status)).Observe(duration)
			if status == StatusCompleted {
				m.RoutesTotal.WithLabelValues(string(route)).Inc()
			}
		},
		OnDebit: func(ok bool) {
			outcome := "ok"
			if !ok {
				outcome = "declined"
			}
			m.CreditDebits.WithLabelValues(outcome).Inc()
		},
		OnSubmit: func(result string) {
			m.SubmitsTotal.WithLabelValues(result).Inc()
		},
		OnBatch: func(total, processed, failed int, duration float64) {
			m.BatchesTotal.Inc()
			m.BatchItems.WithLabelValues("processed").Add(float64(processed))
			m.BatchItems.WithLabelValues("failed").Add(float64(failed))
			m.BatchDuration.Observe(duration)
		},
		OnSweep: func(int) {
			m.PendingRedoRun.Inc()
		},
	}
}
