package analysis

import (
	"fmt"
	"log"
)

// Progress represents the progress of a long-running analysis
type Progress struct {
	Stage     string // e.g. "load", "cluster", "persist"
	Processed int    // Number of units processed
	Total     int    // Total number of units to process
	Message   string // Optional progress message
}

// String renders the progress as the short text stored in status records
func (p Progress) String() string {
	s := p.Stage
	if p.Total > 0 {
		s = fmt.Sprintf("%s %d/%d", p.Stage, p.Processed, p.Total)
	}
	if p.Message != "" {
		s += ": " + p.Message
	}
	return s
}

// Reporter receives progress updates from an analysis
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a function to the Reporter interface
type ReporterFunc func(p Progress)

// Report calls f(p)
func (f ReporterFunc) Report(p Progress) {
	f(p)
}

// LogReporter logs progress with a component prefix
type LogReporter struct {
	Logger    *log.Logger
	Component string
}

// Report logs the progress
func (r LogReporter) Report(p Progress) {
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[%s] %s", r.Component, p)
}

// Discard is a Reporter that drops every update
var Discard Reporter = ReporterFunc(func(Progress) {})
