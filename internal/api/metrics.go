package api

import (
	"casequeue/internal/domain"
	"casequeue/internal/usecase"
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsTimeout = 10 * time.Second

// metrics exports the manager's status snapshot on every scrape.
type metrics struct {
	manager    *usecase.Manager
	tasks      *prometheus.Desc
	processing *prometheus.Desc
	resources  *prometheus.Desc
}

func newMetrics(m *usecase.Manager) *metrics {
	return &metrics{
		manager: m,
		tasks: prometheus.NewDesc(
			"casequeue_tasks",
			"Number of stored tasks by service type and status",
			[]string{"service_type", "status"}, nil,
		),
		processing: prometheus.NewDesc(
			"casequeue_processing",
			"Number of tasks currently executing by service type",
			[]string{"service_type"}, nil,
		),
		resources: prometheus.NewDesc(
			"casequeue_resource_percent",
			"Host resource utilisation used for admission",
			[]string{"resource"}, nil,
		),
	}
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.tasks
	ch <- m.processing
	ch <- m.resources
}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
	defer cancel()

	st, err := m.manager.Status(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(m.tasks, err)
		return
	}

	for svc, c := range st.QueueStats {
		for status, n := range map[domain.TaskStatus]int{
			domain.StatusPending:    c.Pending,
			domain.StatusProcessing: c.Processing,
			domain.StatusCompleted:  c.Completed,
			domain.StatusFailed:     c.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(m.tasks, prometheus.GaugeValue, float64(n), string(svc), string(status))
		}
	}
	for svc, n := range st.ProcessingCount {
		ch <- prometheus.MustNewConstMetric(m.processing, prometheus.GaugeValue, float64(n), string(svc))
	}
	ch <- prometheus.MustNewConstMetric(m.resources, prometheus.GaugeValue, st.ResourceUsage.CPUPercent, "cpu")
	ch <- prometheus.MustNewConstMetric(m.resources, prometheus.GaugeValue, st.ResourceUsage.MemoryPercent, "memory")
}
