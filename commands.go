package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rallycut/rallycut/internal/config"
	"github.com/rallycut/rallycut/internal/monitoring"
	"github.com/rallycut/rallycut/internal/rally"
	"github.com/rallycut/rallycut/internal/rally/report"
	"github.com/rallycut/rallycut/internal/rally/store"
)

// analysisOutput is the JSON document written by the analyze command.
type analysisOutput struct {
	Source   string          `json:"source"`
	Duration float64         `json:"duration"`
	Segments []rally.Segment `json:"segments"`
	Stats    *rally.RunStats `json:"stats"`
}

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	detectionsPath := fs.String("detections", "", "Ball detection stream (JSONL, one detection per line)")
	source := fs.String("source", "", "Source label for the run (defaults to the detections filename)")
	duration := fs.Float64("duration", 0, "Media duration in seconds (default: last detection + 2s)")
	fps := fs.Float64("fps", 30, "Frame rate of the detection stream")
	preset := fs.String("preset", "default", "Tuning preset: default, conservative, aggressive, high-precision")
	configPath := fs.String("config", "", "Optional tuning overrides (JSON)")
	outPath := fs.String("out", "", "Write segments JSON to this file (default: stdout)")
	dbPath := fs.String("db", "", "Optionally persist the run to this SQLite database")
	reportPath := fs.String("report", "", "Optionally render an HTML report to this file")
	verbose := fs.Bool("verbose", false, "Log pipeline decisions")
	fs.Parse(args)

	if *detectionsPath == "" {
		log.Fatal("analyze: -detections is required")
	}
	if *fps <= 0 {
		log.Fatal("analyze: -fps must be positive")
	}
	if *source == "" {
		*source = *detectionsPath
	}
	if !*verbose {
		monitoring.SetLogger(nil)
	}

	cfg, err := buildConfig(*preset, *configPath, *verbose)
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}

	detections, err := loadDetections(*detectionsPath)
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}

	totalDuration := *duration
	if totalDuration <= 0 {
		for _, d := range detections {
			if d.Time > totalDuration {
				totalDuration = d.Time
			}
		}
		totalDuration += 2.0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	segments, stats, samples, err := analyze(ctx, cfg, detections, totalDuration, *fps)
	if err != nil {
		log.Fatalf("analyze: %v", err)
	}

	out := analysisOutput{
		Source:   *source,
		Duration: totalDuration,
		Segments: segments,
		Stats:    stats,
	}
	if err := writeJSON(*outPath, out); err != nil {
		log.Fatalf("analyze: %v", err)
	}

	if *dbPath != "" {
		if err := persistRun(*dbPath, *source, totalDuration, segments, stats); err != nil {
			log.Fatalf("analyze: %v", err)
		}
	}
	if *reportPath != "" {
		if err := report.WriteFile(*reportPath, *source, samples, segments, stats); err != nil {
			log.Fatalf("analyze: %v", err)
		}
		log.Printf("wrote report to %s", *reportPath)
	}
}

// analyze replays the detection stream through the pipeline on a fixed
// frame grid, so gaps in the stream still produce the empty frames the
// decider's timeouts depend on.
func analyze(ctx context.Context, cfg rally.ProcessorConfig, detections []rally.Detection, totalDuration, fps float64) ([]rally.Segment, *rally.RunStats, []rally.ActivitySample, error) {
	frameCount := int(math.Ceil(totalDuration * fps))
	frames := make(map[int][]rally.Detection, len(detections))
	for _, d := range detections {
		idx := int(math.Floor(d.Time*fps + 0.5))
		if idx < 0 || idx >= frameCount {
			continue
		}
		frames[idx] = append(frames[idx], d)
	}

	p := rally.NewProcessor(cfg)
	for i := 0; i < frameCount; i++ {
		if err := p.ProcessFrame(ctx, frames[i], float64(i)/fps); err != nil {
			return nil, nil, nil, err
		}
	}
	segments, stats := p.Finalize(totalDuration)
	return segments, stats, p.Samples(), nil
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database holding analysis runs")
	runID := fs.String("run", "", "Run ID (default: most recent run)")
	outPath := fs.String("out", "report.html", "Output HTML file")
	fs.Parse(args)

	if *dbPath == "" {
		log.Fatal("report: -db is required")
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("report: %v", err)
	}
	defer db.Close()
	rs := store.NewRunStore(db)

	id := *runID
	if id == "" {
		runs, err := rs.ListRuns(1)
		if err != nil {
			log.Fatalf("report: %v", err)
		}
		if len(runs) == 0 {
			log.Fatal("report: no runs in database")
		}
		id = runs[0].ID
	}

	run, err := rs.GetRun(id)
	if err != nil {
		log.Fatalf("report: failed to load run %s: %v", id, err)
	}

	stats := &rally.RunStats{
		FramesProcessed:  run.FramesProcessed,
		DetectionFrames:  run.DetectionFrames,
		TracksRetired:    run.TracksRetired,
		RallyCount:       run.RallyCount,
		Rallies:          run.Rallies,
		SegmentCount:     run.SegmentCount,
		TotalSegmentSec:  run.TotalSegmentSec,
		CoverageFraction: run.CoverageFraction,
	}
	if err := report.WriteFile(*outPath, run.Source, nil, run.Segments, stats); err != nil {
		log.Fatalf("report: %v", err)
	}
	log.Printf("wrote report for run %s to %s", id, *outPath)
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "", "SQLite database path")
	fs.Parse(args)

	if *dbPath == "" {
		log.Fatal("migrate: -db is required")
	}
	rest := fs.Args()
	if len(rest) < 1 {
		log.Fatal("migrate: action required (up, down, version)")
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer db.Close()

	switch rest[0] {
	case "up":
		if err := db.MigrateUp(); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Print("migrations applied")
	case "down":
		if err := db.MigrateDown(); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Print("rolled back one migration")
	case "version":
		version, dirty, err := db.MigrateVersion()
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		fmt.Printf("version: %d dirty: %v\n", version, dirty)
	default:
		log.Fatalf("migrate: unknown action %q (want up, down or version)", rest[0])
	}
}

// buildConfig resolves a preset and overlays an optional tuning file.
func buildConfig(preset, configPath string, verbose bool) (rally.ProcessorConfig, error) {
	var cfg rally.ProcessorConfig
	switch preset {
	case "default", "":
		cfg = rally.DefaultProcessorConfig()
	case "conservative":
		cfg = rally.ConservativeConfig()
	case "aggressive":
		cfg = rally.AggressiveConfig()
	case "high-precision":
		cfg = rally.HighPrecisionConfig()
	default:
		return cfg, fmt.Errorf("unknown preset %q", preset)
	}

	if configPath != "" {
		tuning, err := config.LoadTuningConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = tuning.Apply(cfg)
	}

	cfg.Verbose = verbose
	cfg.Decider.Verbose = verbose
	cfg.Segments.Verbose = verbose
	return cfg, nil
}

// loadDetections reads the JSONL detection stream. Blank lines and lines
// starting with '#' are skipped.
func loadDetections(path string) ([]rally.Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open detections file: %w", err)
	}
	defer f.Close()

	var detections []rally.Detection
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var d rally.Detection
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("bad detection at line %d: %w", lineNo, err)
		}
		detections = append(detections, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read detections: %w", err)
	}
	return detections, nil
}

func writeJSON(path string, v interface{}) error {
	var f *os.File
	if path == "" {
		f = os.Stdout
	} else {
		var err error
		f, err = os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

func persistRun(dbPath, source string, totalDuration float64, segments []rally.Segment, stats *rally.RunStats) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.MigrateUp(); err != nil {
		return err
	}

	run := store.NewRun(source, totalDuration, segments, stats)
	if err := store.NewRunStore(db).InsertRun(run); err != nil {
		return err
	}
	log.Printf("stored run %s (%d segments)", run.ID, len(segments))
	return nil
}
