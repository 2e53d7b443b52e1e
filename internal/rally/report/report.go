// Package report renders an HTML analysis report for one processed video:
// the per-frame evidence timeline, the kept segments, and per-rally quality.
package report

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/rallycut/rallycut/internal/rally"
)

// maxTimelinePoints bounds the rendered timeline payload; longer videos are
// downsampled by stride.
const maxTimelinePoints = 4000

// Write renders the full report to w.
func Write(w io.Writer, source string, samples []rally.ActivitySample, segments []rally.Segment, stats *rally.RunStats) error {
	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("Rally report: %s", source))
	page.AddCharts(
		timelineChart(source, samples),
		segmentChart(segments),
	)
	if len(stats.Rallies) > 0 {
		page.AddCharts(rallyQualityChart(stats.Rallies))
	}
	return page.Render(w)
}

// WriteFile renders the report to an HTML file.
func WriteFile(path, source string, samples []rally.ActivitySample, segments []rally.Segment, stats *rally.RunStats) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()
	if err := Write(f, source, samples, segments, stats); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// timelineChart plots track confidence with the per-frame projectile and
// rally-active signals overlaid as step lines.
func timelineChart(source string, samples []rally.ActivitySample) *charts.Line {
	stride := 1
	if len(samples) > maxTimelinePoints {
		stride = int(math.Ceil(float64(len(samples)) / float64(maxTimelinePoints)))
	}

	var times []string
	var confidence, projectile, active []opts.LineData
	for i := 0; i < len(samples); i += stride {
		s := samples[i]
		times = append(times, fmt.Sprintf("%.2f", s.Time))
		confidence = append(confidence, opts.LineData{Value: s.TrackConfidence})
		projectile = append(projectile, opts.LineData{Value: boolToInt(s.IsProjectile)})
		active = append(active, opts.LineData{Value: boolToInt(s.RallyActive)})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Evidence timeline",
			Subtitle: fmt.Sprintf("source=%s frames=%d stride=%d", source, len(samples), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "media time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "level", Min: 0, Max: 1.05}),
	)
	line.SetXAxis(times).
		AddSeries("track confidence", confidence).
		AddSeries("projectile", projectile).
		AddSeries("rally active", active)
	return line
}

// segmentChart shows every kept segment as a bar of its duration.
func segmentChart(segments []rally.Segment) *charts.Bar {
	var labels []string
	var durations []opts.BarData
	for _, s := range segments {
		labels = append(labels, fmt.Sprintf("%.1f-%.1fs", s.Start, s.End))
		durations = append(durations, opts.BarData{Value: s.Duration()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Kept segments",
			Subtitle: fmt.Sprintf("%d segments", len(segments)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "duration (s)"}),
	)
	bar.SetXAxis(labels).AddSeries("duration", durations)
	return bar
}

// rallyQualityChart shows the per-rally quality score breakdown.
func rallyQualityChart(rallies []rally.RallyRecord) *charts.Bar {
	var labels []string
	var quality, contacts []opts.BarData
	for i, r := range rallies {
		labels = append(labels, fmt.Sprintf("rally %d (%.1fs)", i+1, r.Duration()))
		quality = append(quality, opts.BarData{Value: r.QualityScore})
		contacts = append(contacts, opts.BarData{Value: r.EstimatedContacts})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Rally quality"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("quality score", quality).
		AddSeries("estimated contacts", contacts)
	return bar
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
