package main

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chhayvoinvy/promptexify-sub001/cleanup"
	"github.com/chhayvoinvy/promptexify-sub001/media"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

// serviceMetrics covers the pipeline and reaper; adapter-level metrics come
// from storage.PrometheusObserver.
type serviceMetrics struct {
	uploads  *prometheus.CounterVec
	warnings *prometheus.CounterVec
	reaped   *prometheus.CounterVec
}

func newServiceMetrics(reg prometheus.Registerer) (*serviceMetrics, error) {
	m := &serviceMetrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediastore",
			Name:      "uploads_total",
			Help:      "Uploads handled by the media pipeline, by outcome.",
		}, []string{"outcome"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediastore",
			Name:      "derivative_failures_total",
			Help:      "Derivative assets that could not be produced or stored.",
		}, []string{"asset"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediastore",
			Name:      "reaper_items_total",
			Help:      "Orphaned items handled by the reaper, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	var err error
	if m.uploads, err = storage.RegisterOrExisting(reg, m.uploads); err != nil {
		return nil, err
	}
	if m.warnings, err = storage.RegisterOrExisting(reg, m.warnings); err != nil {
		return nil, err
	}
	if m.reaped, err = storage.RegisterOrExisting(reg, m.reaped); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *serviceMetrics) recordUpload(res *media.UploadResult, err error) {
	if m == nil {
		return
	}
	var verr *media.ValidationError
	switch {
	case errors.As(err, &verr):
		m.uploads.WithLabelValues("rejected").Inc()
	case err != nil:
		m.uploads.WithLabelValues("failed").Inc()
	default:
		m.uploads.WithLabelValues("stored").Inc()
		for _, w := range res.Warnings {
			m.warnings.WithLabelValues(w.Asset).Inc()
		}
	}
}

func (m *serviceMetrics) recordOrphans(r cleanup.OrphanReport) {
	if m == nil || r.DryRun {
		return
	}
	m.reaped.WithLabelValues("media", "deleted").Add(float64(r.Deleted))
	m.reaped.WithLabelValues("media", "failed").Add(float64(r.Failed))
}

func (m *serviceMetrics) recordPreviews(r cleanup.PreviewReport) {
	if m == nil || r.DryRun {
		return
	}
	m.reaped.WithLabelValues("preview", "deleted").Add(float64(r.Deleted))
	m.reaped.WithLabelValues("preview", "failed").Add(float64(len(r.Errors)))
}
