// Package metrics holds the Prometheus collectors of the annotation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline groups the collectors of one pipeline instance.
type Pipeline struct {
	Layers            prometheus.Counter
	Annotations       *prometheus.CounterVec
	SectionsDrawn     prometheus.Counter
	SectionsSkipped   prometheus.Counter
	StageErrors       *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	RasterizeDuration prometheus.Histogram
}

// NewPipeline registers the pipeline collectors on reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)
	return &Pipeline{
		Layers: factory.NewCounter(prometheus.CounterOpts{
			Name: "brainsharer_layers_processed_total",
			Help: "Number of annotation layers processed.",
		}),
		Annotations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brainsharer_annotations_parsed_total",
			Help: "Number of top-level annotations parsed, by kind.",
		}, []string{"kind"}),
		SectionsDrawn: factory.NewCounter(prometheus.CounterOpts{
			Name: "brainsharer_sections_rasterized_total",
			Help: "Number of sections filled into a volume.",
		}),
		SectionsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "brainsharer_sections_skipped_total",
			Help: "Number of sections left blank because they had too few points.",
		}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "brainsharer_stage_errors_total",
			Help: "Number of failed pipeline stages, by stage.",
		}, []string{"stage"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "brainsharer_stage_duration_seconds",
			Help: "Duration of pipeline stages.",
		}, []string{"stage"}),
		RasterizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "brainsharer_rasterize_duration_seconds",
			Help:    "Duration of rasterizing one structure.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// Observe records the outcome of one stage run.
func (p *Pipeline) Observe(stage string, err error, d time.Duration) {
	if p == nil {
		return
	}
	p.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		p.StageErrors.WithLabelValues(stage).Inc()
	}
}

// WriteTextfile dumps every metric gathered by g to path in the text
// exposition format, for collection by a node exporter.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
