// Package metrics holds the Prometheus collectors for the curation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for quarantine decisions
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeQuarantined = "quarantined"
)

// Op label values for relocated files
const (
	OpMove = "move"
	OpCopy = "copy"
)

// Reason label values for filter errors that are not detector failures
const (
	ReasonUnknownLabel = "unknown_label"
	ReasonUnreadable   = "unreadable"
)

// Curation groups the pipeline counters
type Curation struct {
	FilesExtracted      prometheus.Counter
	FilesMoved          *prometheus.CounterVec
	MoveFailures        prometheus.Counter
	DirsPruned          prometheus.Counter
	QuarantineDecisions *prometheus.CounterVec
	DetectorErrors      prometheus.Counter
	FilterErrors        *prometheus.CounterVec
}

// NewCuration creates the curation collectors and registers them on reg.
// A nil reg leaves the collectors unregistered.
func NewCuration(reg prometheus.Registerer) *Curation {
	f := promauto.With(reg)
	return &Curation{
		FilesExtracted: f.NewCounter(prometheus.CounterOpts{
			Name: "emom_files_extracted_total",
			Help: "Total number of image members extracted from archives",
		}),
		FilesMoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emom_files_moved_total",
			Help: "Total number of dataset files relocated",
		}, []string{"op"}),
		MoveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "emom_move_failures_total",
			Help: "Total number of per-file move or copy failures",
		}),
		DirsPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "emom_dirs_pruned_total",
			Help: "Total number of empty directories removed after a move",
		}),
		QuarantineDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emom_quarantine_decisions_total",
			Help: "Total number of quarantine filter decisions",
		}, []string{"outcome"}),
		DetectorErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "emom_detector_errors_total",
			Help: "Total number of images routed to quarantine because detection failed",
		}),
		FilterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emom_filter_errors_total",
			Help: "Total number of images routed to quarantine before detection could run",
		}, []string{"reason"}),
	}
}

// Discard returns unregistered collectors for callers that do not export metrics
func Discard() *Curation {
	return NewCuration(nil)
}
