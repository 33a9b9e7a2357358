// Package processor drives snatched jobs through location, filtering,
// extraction and import until each reaches a final state.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vmunix/bookarr/internal/archive"
	"github.com/vmunix/bookarr/internal/backend"
	"github.com/vmunix/bookarr/internal/calibre"
	"github.com/vmunix/bookarr/internal/catalog"
	"github.com/vmunix/bookarr/internal/filter"
	"github.com/vmunix/bookarr/internal/notify"
	"github.com/vmunix/bookarr/internal/organize"
)

// Library is one destination library layout.
type Library struct {
	Root   string
	Naming string // pattern, path segments separated by "/"
}

// KindRules bundles the acceptance rules for one content kind.
type KindRules struct {
	FileTypes []string
	Limits    filter.Limits
}

// Options tunes a processing pass.
type Options struct {
	ScanDirs        []string
	SkipExts        []string // extensions never considered for import; empty means the defaults
	MatchRatio      int
	Delay           time.Duration // wait after completion before import
	TaskAge         time.Duration // abort unfinished tasks older than this
	NotFoundGrace   time.Duration // tolerate tasks missing from the client this long
	KeepSeeding     bool
	SeedWait        time.Duration
	DelCompleted    bool
	DelFailed       bool
	DestinationCopy bool
	OneFormat       bool
	Libraries       map[catalog.Kind]Library
	Kinds           map[catalog.Kind]KindRules
}

// Request selects what a pass should look at.
type Request struct {
	JobID         int64  // process a single job, 0 for all outstanding
	StartDir      string // search this folder instead of the scan dirs
	IgnoreBackend bool   // skip client checks, trust what is on disk
}

// Summary reports what a pass did.
type Summary struct {
	Processed int
	Failed    int
	Aborted   int
	Seeding   int
	Skipped   int
}

// Processor owns the post-processing pass. One instance runs at most
// one pass at a time; concurrent calls get ErrAlreadyRunning.
type Processor struct {
	store     *catalog.Store
	backends  *backend.Registry
	resolver  *archive.Resolver
	organizer *organize.Organizer
	calibre   *calibre.Importer
	notifier  *notify.Notifier
	opts      Options
	log       *slog.Logger

	running atomic.Bool
	now     func() time.Time
}

// New creates a processor.
func New(store *catalog.Store, backends *backend.Registry, cal *calibre.Importer,
	notifier *notify.Notifier, opts Options, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewNotifier(notify.NewLogSink(log))
	}
	if cal == nil {
		cal = calibre.NewImporter("", "", log)
	}
	return &Processor{
		store:     store,
		backends:  backends,
		resolver:  archive.NewResolver(log),
		organizer: organize.NewOrganizer(log),
		calibre:   cal,
		notifier:  notifier,
		opts:      opts,
		log:       log.With("component", "processor"),
		now:       time.Now,
	}
}

// Run executes one processing pass over the outstanding jobs.
func (p *Processor) Run(ctx context.Context, req Request) (*Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	log := p.log.With("run_id", uuid.NewString()[:8])

	var jobs []*catalog.Job
	var err error
	if req.JobID != 0 {
		job, err := p.store.GetJob(req.JobID)
		if err != nil {
			return nil, err
		}
		if !job.State.Outstanding() {
			return nil, fmt.Errorf("job %d is %s: %w", job.ID, job.State, ErrNothingToDo)
		}
		jobs = []*catalog.Job{job}
	} else {
		jobs, err = p.store.ListJobs(catalog.JobFilter{
			States: []catalog.State{catalog.StateSnatched, catalog.StateSeeding, catalog.StateAborted},
		})
		if err != nil {
			return nil, err
		}
	}
	log.Info("processing pass started", "jobs", len(jobs))

	// Each scan root is listed once per pass.
	cache := newDirCache(p.opts.SkipExts)
	summary := &Summary{}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		p.processJob(ctx, log.With("job", job.ID, "title", job.Title), job, req, cache, summary)
	}

	// Targeted runs leave unclaimed downloads alone.
	if req.JobID == 0 {
		p.residualScan(ctx, log, req, cache, summary)
	}

	if len(jobs) == 0 && *summary == (Summary{}) {
		return summary, ErrNothingToDo
	}

	log.Info("processing pass finished",
		"processed", summary.Processed, "failed", summary.Failed,
		"aborted", summary.Aborted, "seeding", summary.Seeding, "skipped", summary.Skipped)
	return summary, nil
}

// roots returns the directories to search for payloads.
func (p *Processor) roots(req Request) []string {
	if req.StartDir != "" {
		return []string{req.StartDir}
	}
	return p.opts.ScanDirs
}

func (p *Processor) rules(kind catalog.Kind) KindRules {
	return p.opts.Kinds[kind]
}

func (p *Processor) library(kind catalog.Kind) Library {
	return p.opts.Libraries[kind]
}
