package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

// Observer captures telemetry for adapter operations.
type Observer interface {
	RecordUpload(variant settings.Variant, duration time.Duration, sizeBytes int, err error)
	RecordDelete(variant settings.Variant, duration time.Duration, err error)
}

// PrometheusObserver exports adapter metrics to Prometheus.
type PrometheusObserver struct {
	duration    *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	uploadBytes *prometheus.CounterVec
	rejected    prometheus.Counter
}

// NewPrometheusObserver registers upload/delete metrics under namespace.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "mediastore_storage"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency for storage adapter operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"variant", "operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of storage adapter failures.",
		}, []string{"variant", "operation"}),
		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload size written to the backing store.",
		}, []string{"variant"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_deletes_total",
			Help:      "Deletes refused because the key is outside the media prefixes.",
		}),
	}
	var err error
	if o.duration, err = RegisterOrExisting(reg, o.duration); err != nil {
		return nil, err
	}
	if o.errors, err = RegisterOrExisting(reg, o.errors); err != nil {
		return nil, err
	}
	if o.uploadBytes, err = RegisterOrExisting(reg, o.uploadBytes); err != nil {
		return nil, err
	}
	if o.rejected, err = RegisterOrExisting(reg, o.rejected); err != nil {
		return nil, err
	}
	return o, nil
}

// RegisterOrExisting registers c. When an equal collector is already
// registered, that one is returned so observations reach the exported series.
func RegisterOrExisting[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register metric: %w", err)
}

func (o *PrometheusObserver) RecordUpload(variant settings.Variant, duration time.Duration, sizeBytes int, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(string(variant), "upload").Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues(string(variant), "upload").Inc()
		return
	}
	o.uploadBytes.WithLabelValues(string(variant)).Add(float64(sizeBytes))
}

func (o *PrometheusObserver) RecordDelete(variant settings.Variant, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(string(variant), "delete").Observe(duration.Seconds())
	switch {
	case errors.Is(err, ErrKeyNotAllowed):
		o.rejected.Inc()
	case err != nil:
		o.errors.WithLabelValues(string(variant), "delete").Inc()
	}
}

type instrumented struct {
	Adapter
	observer Observer
}

// Instrument reports every Upload and Delete on a to o.
func Instrument(a Adapter, o Observer) Adapter {
	if o == nil {
		return a
	}
	return &instrumented{Adapter: a, observer: o}
}

func (i *instrumented) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	start := time.Now()
	addr, err := i.Adapter.Upload(ctx, data, key, contentType)
	i.observer.RecordUpload(i.Variant(), time.Since(start), len(data), err)
	return addr, err
}

func (i *instrumented) Delete(ctx context.Context, target string) error {
	start := time.Now()
	err := i.Adapter.Delete(ctx, target)
	i.observer.RecordDelete(i.Variant(), time.Since(start), err)
	return err
}
