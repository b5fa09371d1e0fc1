package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dj-oyu/lamp-monitor/internal/analytics"
	"github.com/dj-oyu/lamp-monitor/internal/episodelog"
	"github.com/dj-oyu/lamp-monitor/internal/logger"
)

func main() {
	logPath := flag.String("log", "data.csv", "Episode log (CSV)")
	mode := flag.String("mode", "normal", "Episodes to include (normal, debug, all)")
	xlsxPath := flag.String("xlsx", "", "Also write an XLSX report to this path")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, "console", os.Stderr)

	if *mode == "all" {
		*mode = ""
	} else if *mode != "normal" && *mode != "debug" {
		log.Fatalf("Invalid mode %q (normal, debug, all)", *mode)
	}

	recs, err := episodelog.ReadAll(*logPath)
	if err != nil {
		log.Fatalf("Failed to read episode log: %v", err)
	}
	logger.Info("Report", "Read %d records from %s", len(recs), *logPath)

	summary := analytics.Durations(recs, *mode)
	printSummary(os.Stdout, summary, *mode == "debug")

	if *xlsxPath != "" {
		if err := writeReport(*xlsxPath, recs, summary); err != nil {
			log.Fatalf("Failed to write XLSX: %v", err)
		}
		fmt.Printf("\nReport written to %s\n", *xlsxPath)
	}
}

func printSummary(w io.Writer, s analytics.Summary, debug bool) {
	label := s.Mode
	if label == "" {
		label = "all"
	}
	fmt.Fprintf(w, "Episode durations (%s mode)\n", label)
	if s.Count == 0 {
		fmt.Fprintln(w, "  no finished episodes")
		return
	}
	fmt.Fprintf(w, "  episodes: %d\n", s.Count)
	fmt.Fprintf(w, "  mean:     %s\n", analytics.FormatDuration(s.Mean, debug))
	fmt.Fprintf(w, "  min:      %s\n", analytics.FormatDuration(s.Min, debug))
	fmt.Fprintf(w, "  max:      %s\n", analytics.FormatDuration(s.Max, debug))
	fmt.Fprintf(w, "  stddev:   %s\n", analytics.FormatDuration(s.StdDev, debug))

	fmt.Fprintf(w, "\nLast %d episodes\n", len(s.Recent))
	for _, r := range s.Recent {
		fmt.Fprintf(w, "  %s  %s\n", r.Timestamp.Format(episodelog.TimeLayout), analytics.FormatDuration(r.Duration, debug))
	}
	fmt.Fprintf(w, "\nTrend: %s\n", s.TrendLabel())
}

func writeReport(path string, recs []episodelog.Record, s analytics.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := analytics.WriteXLSX(f, recs, s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
