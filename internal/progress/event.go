package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunSealed   Stage = "RUN_SEALED"
	StageSitemapDone Stage = "SITEMAP_DONE"
	StageCrawlDone   Stage = "CRAWL_DONE"
	StageInspectDone Stage = "INSPECT_DONE"
	StageRecordWrite Stage = "RECORD_WRITE"
)

// Event captures a single milestone of audit progress.
type Event struct {
	// RunID identifies the audit run the event belongs to.
	RunID string
	// SiteID identifies the audited site.
	SiteID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// URL scopes per-URL events; empty for run-level milestones.
	URL string
	// Verdict carries the inspection verdict on INSPECT_DONE events.
	Verdict string
	// Status carries the terminal run status on RUN_SEALED events.
	Status string
	// Count carries a stage-specific tally (entries resolved, pages
	// crawled, records written).
	Count int64
	// Dur captures execution latency for the stage, where measured.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageSitemapDone, StageCrawlDone, StageRecordWrite:
	case StageRunSealed:
		if e.Status == "" {
			return errors.New("run sealed requires status")
		}
	case StageInspectDone:
		if e.URL == "" {
			return errors.New("inspect done requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
