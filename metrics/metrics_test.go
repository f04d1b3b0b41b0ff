package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCurationRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCuration(reg)

	m.FilesExtracted.Add(3)
	m.FilesMoved.WithLabelValues(OpMove).Inc()
	m.QuarantineDecisions.WithLabelValues(OutcomeQuarantined).Inc()
	m.FilterErrors.WithLabelValues(ReasonUnreadable).Inc()

	if got := testutil.ToFloat64(m.FilesExtracted); got != 3 {
		t.Errorf("Expected 3 extracted files, got %v", got)
	}

	count, err := testutil.GatherAndCount(reg,
		"emom_files_extracted_total",
		"emom_files_moved_total",
		"emom_quarantine_decisions_total",
		"emom_filter_errors_total",
	)
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected 4 series, got %d", count)
	}
}

func TestDiscardIsUnregistered(t *testing.T) {
	a := Discard()
	b := Discard()
	a.MoveFailures.Inc()
	if testutil.ToFloat64(b.MoveFailures) != 0 {
		t.Error("Discard collectors should be independent")
	}
}
