// Package metrics exposes Prometheus metrics of the store, the persister and
// the admin API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/and161185/clinic-keeper/internal/storage"
)

const namespace = "clinickeeper"

// Metrics holds every collector on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	created  *prometheus.CounterVec
	deleted  *prometheus.CounterVec
	entities *prometheus.GaugeVec

	saves        *prometheus.CounterVec
	saveDuration prometheus.Histogram
	lastSave     prometheus.Gauge

	rpcs *prometheus.CounterVec
}

var _ storage.Observer = (*Metrics)(nil)

// New registers the collectors together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "entities_created_total",
			Help: "Entities created or loaded, per table.",
		}, []string{"table"}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "entities_deleted_total",
			Help: "Entities deleted, per table; cascaded deletes are labelled.",
		}, []string{"table", "cascaded"}),
		entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "entities",
			Help: "Entities per table at the last snapshot.",
		}, []string{"table"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "persister", Name: "saves_total",
			Help: "Snapshot saves by result.",
		}, []string{"result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "persister", Name: "save_duration_seconds",
			Help:    "Time spent encoding and storing a snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		lastSave: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "persister", Name: "last_save_timestamp_seconds",
			Help: "Unix time of the last successful save.",
		}),
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "admin", Name: "requests_total",
			Help: "Admin API calls by method and status code.",
		}, []string{"method", "code"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.created, m.deleted, m.entities, m.saves, m.saveDuration, m.lastSave, m.rpcs,
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// EntityCreated implements storage.Observer.
func (m *Metrics) EntityCreated(table string) { m.created.WithLabelValues(table).Inc() }

// EntityDeleted implements storage.Observer.
func (m *Metrics) EntityDeleted(table string, cascaded bool) {
	m.deleted.WithLabelValues(table, strconv.FormatBool(cascaded)).Inc()
}

// SetEntities records per-table entity counts.
func (m *Metrics) SetEntities(stats map[string]int) {
	for table, n := range stats {
		m.entities.WithLabelValues(table).Set(float64(n))
	}
}

// ObserveSave records one save attempt.
func (m *Metrics) ObserveSave(d time.Duration, at time.Time, err error) {
	if err != nil {
		m.saves.WithLabelValues("error").Inc()
		return
	}
	m.saves.WithLabelValues("ok").Inc()
	m.saveDuration.Observe(d.Seconds())
	m.lastSave.Set(float64(at.Unix()))
}

// ObserveRPC records one admin call.
func (m *Metrics) ObserveRPC(method, code string) { m.rpcs.WithLabelValues(method, code).Inc() }
