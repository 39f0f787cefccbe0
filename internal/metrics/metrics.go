// Package metrics holds the prometheus collectors for the document pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upload outcomes.
const (
	UploadReady    = "ready"
	UploadFailed   = "failed"
	UploadRejected = "rejected"
	UploadError    = "error"
)

// Download outcomes.
const (
	DownloadOK           = "ok"
	DownloadInvalidToken = "invalid_token"
	DownloadCorrupted    = "corrupted"
	DownloadError        = "error"
)

// Pipeline groups the pipeline counters. A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	uploads        *prometheus.CounterVec
	downloads      *prometheus.CounterVec
	storageRetries *prometheus.CounterVec
	tokensIssued   prometheus.Counter
	processing     prometheus.Histogram
}

// NewPipeline creates the collectors and registers them on reg.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_uploads_total",
			Help: "Document uploads by final status.",
		}, []string{"status"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_downloads_total",
			Help: "Token redemptions by result.",
		}, []string{"result"}),
		storageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docvault_storage_retries_total",
			Help: "Object store operations retried after a transient failure.",
		}, []string{"op"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docvault_download_tokens_issued_total",
			Help: "Download tokens minted.",
		}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docvault_processing_duration_seconds",
			Help:    "Time spent in post-upload processing.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{p.uploads, p.downloads, p.storageRetries, p.tokensIssued, p.processing} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) Upload(status string) {
	if p == nil {
		return
	}
	p.uploads.WithLabelValues(status).Inc()
}

func (p *Pipeline) Download(result string) {
	if p == nil {
		return
	}
	p.downloads.WithLabelValues(result).Inc()
}

// StorageRetry matches the storage.WithRetryHook signature.
func (p *Pipeline) StorageRetry(op string) {
	if p == nil {
		return
	}
	p.storageRetries.WithLabelValues(op).Inc()
}

func (p *Pipeline) TokenIssued() {
	if p == nil {
		return
	}
	p.tokensIssued.Inc()
}

func (p *Pipeline) ObserveProcessing(d time.Duration) {
	if p == nil {
		return
	}
	p.processing.Observe(d.Seconds())
}
