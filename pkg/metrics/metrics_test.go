package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestObserve checks that stage errors are counted per stage
func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)

	p.Observe("parse", nil, 10*time.Millisecond)
	p.Observe("rasterize", errors.New("boom"), time.Millisecond)
	p.Observe("rasterize", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(p.StageErrors.WithLabelValues("rasterize")); got != 2 {
		t.Errorf("Expected 2 rasterize errors, got %f", got)
	}
	if got := testutil.ToFloat64(p.StageErrors.WithLabelValues("parse")); got != 0 {
		t.Errorf("Expected 0 parse errors, got %f", got)
	}
	if n := testutil.CollectAndCount(p.StageDuration); n != 2 {
		t.Errorf("Expected 2 stage duration series, got %d", n)
	}

	var nilPipeline *Pipeline
	nilPipeline.Observe("parse", nil, time.Second)
}

// TestWriteTextfile checks the text exposition dump
func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)
	p.Layers.Inc()
	p.Annotations.WithLabelValues("volume").Add(3)

	path := filepath.Join(t.TempDir(), "brainsharer.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `brainsharer_annotations_parsed_total{kind="volume"} 3`) {
		t.Errorf("Expected annotation counter in output, got:\n%s", data)
	}
}
