package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rallycut/rallycut/internal/version"
)

// Main
func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "analyze":
		runAnalyze(args[1:])
	case "report":
		runReport(args[1:])
	case "migrate":
		runMigrate(args[1:])
	case "version":
		fmt.Printf("rallycut %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `rallycut - rally detection for sports footage

Usage:
  rallycut analyze -detections <file.jsonl> [options]
      Run the detection pipeline over a ball-detection stream and emit the
      kept segments as JSON.

  rallycut report -db <file.db> [-run <id>] -out <report.html>
      Render an HTML report for a stored analysis run.

  rallycut migrate -db <file.db> <up|down|version>
      Manage the analysis database schema.

  rallycut version
      Print build version information.

  rallycut help
      Show this help.

Run 'rallycut <command> -h' for command options.
`)
}
