package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rallycut/rallycut/internal/rally"
)

func sampleData() ([]rally.ActivitySample, []rally.Segment, *rally.RunStats) {
	var samples []rally.ActivitySample
	for i := 0; i < 300; i++ {
		t := float64(i) / 30.0
		samples = append(samples, rally.ActivitySample{
			Time:            t,
			HasBall:         t >= 2,
			IsProjectile:    t >= 3,
			RallyActive:     t >= 4.5,
			TrackConfidence: 0.8,
		})
	}
	segments := []rally.Segment{{Start: 2.5, End: 10}}
	stats := &rally.RunStats{
		Rallies: []rally.RallyRecord{{Start: 4.5, End: 10, QualityScore: 0.6, EstimatedContacts: 3}},
	}
	return samples, segments, stats
}

func TestWriteRendersAllCharts(t *testing.T) {
	samples, segments, stats := sampleData()

	var buf bytes.Buffer
	if err := Write(&buf, "match.mp4", samples, segments, stats); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Evidence timeline", "Kept segments", "Rally quality", "match.mp4"} {
		if !strings.Contains(out, want) {
			t.Errorf("Report missing %q", want)
		}
	}
}

func TestWriteEmptyRun(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, "empty.mp4", nil, nil, &rally.RunStats{})
	if err != nil {
		t.Fatalf("Write failed on empty run: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Expected non-empty report output")
	}
}
