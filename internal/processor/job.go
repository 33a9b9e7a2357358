package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/vmunix/bookarr/internal/archive"
	"github.com/vmunix/bookarr/internal/backend"
	"github.com/vmunix/bookarr/internal/catalog"
	"github.com/vmunix/bookarr/internal/filter"
	"github.com/vmunix/bookarr/internal/match"
	"github.com/vmunix/bookarr/internal/organize"
)

// seedCompleteProgress is the floor under which a stalled task gets no
// extra grace before the age abort.
const seedCompleteProgress = 95

func (p *Processor) processJob(ctx context.Context, log *slog.Logger, job *catalog.Job,
	req Request, cache *dirCache, summary *Summary) {
	switch job.State {
	case catalog.StateSeeding:
		p.checkSeeding(ctx, log, job, summary)
	case catalog.StateAborted:
		p.finalizeAborted(ctx, log, job, summary)
	case catalog.StateSnatched:
		p.processSnatched(ctx, log, job, req, cache, summary)
	}
}

// client resolves the job's backend, or nil when the pass should work
// from the disk alone.
func (p *Processor) client(job *catalog.Job, req Request) backend.Backend {
	if req.IgnoreBackend || job.Backend == "" {
		return nil
	}
	b, err := p.backends.Get(job.Backend)
	if err != nil {
		return nil
	}
	return b
}

func (p *Processor) processSnatched(ctx context.Context, log *slog.Logger, job *catalog.Job,
	req Request, cache *dirCache, summary *Summary) {
	b := p.client(job, req)
	if b != nil && !p.checkClient(ctx, log, job, b, summary) {
		return
	}

	payload, ok := p.locate(ctx, log, job, b, req, cache)
	if !ok {
		if job.CompletedAt != nil && p.opts.TaskAge > 0 &&
			p.now().Sub(*job.CompletedAt) > p.opts.TaskAge {
			p.failJob(ctx, log, job, "completed download never appeared on disk", "", b)
			summary.Failed++
			return
		}
		log.Debug("payload not located yet")
		summary.Skipped++
		return
	}

	p.importPayload(ctx, log, job, payload, b, summary)
}

// checkClient runs the client-side checks on a snatched job: title
// refresh, payload filtering, progress and the abort timers. Returns
// false when the job is not ready for import.
func (p *Processor) checkClient(ctx context.Context, log *slog.Logger, job *catalog.Job,
	b backend.Backend, summary *Summary) bool {
	// Magnet tasks get their real name once metadata resolves.
	if job.Mode == catalog.ModeMagnet {
		if name, err := b.TaskName(ctx, job.TaskID); err == nil && name != "" && name != job.Title {
			log.Info("task renamed by client", "new_title", name)
			if err := p.store.SetJobTitle(job.ID, name); err != nil {
				log.Warn("title update failed", "error", err)
			} else {
				job.Title = name
			}
		}
	}

	// Reject bad payloads before wasting bandwidth on them.
	if files, err := b.Files(ctx, job.TaskID); err == nil {
		rules := p.rules(job.Kind)
		if reason := filter.Check(files, rules.FileTypes, rules.Limits); reason != "" {
			p.failJob(ctx, log, job, reason, "", b)
			summary.Failed++
			return false
		}
	} else if !errors.Is(err, backend.ErrNotSupported) {
		log.Debug("file listing unavailable", "error", err)
	}

	percent, finished, err := b.Progress(ctx, job.TaskID)
	switch {
	case errors.Is(err, backend.ErrTaskFailed):
		p.failJob(ctx, log, job, err.Error(), "", b)
		summary.Failed++
		return false
	case errors.Is(err, backend.ErrTaskNotFound):
		if p.now().Sub(job.SnatchedAt) > p.opts.NotFoundGrace {
			p.failJob(ctx, log, job, "task disappeared from download client", "", b)
			summary.Failed++
		} else {
			log.Debug("task not visible in client yet")
			summary.Skipped++
		}
		return false
	case err != nil:
		log.Warn("client unreachable, leaving job for next pass", "error", err)
		summary.Skipped++
		return false
	}

	if !finished {
		limit := p.opts.TaskAge
		if percent >= seedCompleteProgress {
			// Nearly done, give it one more hour.
			limit += time.Hour
		}
		if limit > 0 && p.now().Sub(job.SnatchedAt) > limit {
			p.abortJob(ctx, log, job, fmt.Sprintf("still at %d%% after %s", percent,
				p.now().Sub(job.SnatchedAt).Round(time.Minute)), b, summary)
			return false
		}
		log.Debug("still downloading", "percent", percent)
		summary.Skipped++
		return false
	}

	if job.CompletedAt == nil {
		now := p.now()
		if err := p.store.MarkCompleted(job.ID, now); err != nil {
			log.Warn("completion timestamp not recorded", "error", err)
		}
		job.CompletedAt = &now
	}
	if p.opts.Delay > 0 && p.now().Sub(*job.CompletedAt) < p.opts.Delay {
		log.Debug("waiting out import delay")
		summary.Skipped++
		return false
	}
	return true
}

// abortJob marks a stalled task aborted, clears it from the client and
// immediately finalizes the abort to failed.
func (p *Processor) abortJob(ctx context.Context, log *slog.Logger, job *catalog.Job,
	reason string, b backend.Backend, summary *Summary) {
	log.Warn("aborting stalled task", "reason", reason)
	if err := p.store.Transition(job, catalog.StateAborted, reason); err != nil {
		log.Error("abort transition failed", "error", err)
		return
	}
	if b != nil {
		if err := b.Delete(ctx, job.TaskID, true); err != nil {
			log.Warn("task removal failed", "error", err)
		}
	}
	summary.Aborted++
	p.finalizeAborted(ctx, log, job, summary)
}

// finalizeAborted moves an aborted job to failed and releases the book.
func (p *Processor) finalizeAborted(ctx context.Context, log *slog.Logger, job *catalog.Job, summary *Summary) {
	reason := job.LastResult
	if err := p.store.Transition(job, catalog.StateFailed, ""); err != nil {
		log.Error("failed transition failed", "error", err)
		return
	}
	if err := p.store.ResetBookWanted(job.BookID, job.Kind); err != nil {
		log.Warn("book reset failed", "error", err)
	}
	p.notifier.Failed(ctx, job.Title, reason)
	summary.Failed++
}

// checkSeeding resolves a seeding job once the seed goal is met or the
// client has let the task go.
func (p *Processor) checkSeeding(ctx context.Context, log *slog.Logger, job *catalog.Job, summary *Summary) {
	b, err := p.backends.Get(job.Backend)
	if err != nil {
		if terr := p.store.Transition(job, catalog.StateProcessed, "seed backend no longer configured"); terr != nil {
			log.Error("transition failed", "error", terr)
			return
		}
		summary.Processed++
		return
	}

	since := job.SnatchedAt
	if job.CompletedAt != nil {
		since = *job.CompletedAt
	}
	if p.opts.SeedWait > 0 && p.now().Sub(since) >= p.opts.SeedWait {
		if err := b.Delete(ctx, job.TaskID, p.opts.DelCompleted); err != nil {
			log.Warn("seed task removal failed", "error", err)
		}
		if err := p.store.Transition(job, catalog.StateProcessed, "seeding complete"); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		log.Info("seeding finished", "seed_wait", p.opts.SeedWait)
		summary.Processed++
		return
	}

	if _, _, err := b.Progress(ctx, job.TaskID); errors.Is(err, backend.ErrTaskNotFound) {
		if terr := p.store.Transition(job, catalog.StateProcessed, "removed from client"); terr != nil {
			log.Error("transition failed", "error", terr)
			return
		}
		summary.Processed++
		return
	}
	summary.Seeding++
}

// importPayload extracts, names and copies a located payload, then
// settles the job's final state.
func (p *Processor) importPayload(ctx context.Context, log *slog.Logger, job *catalog.Job,
	payload string, b backend.Backend, summary *Summary) {
	rules := p.rules(job.Kind)
	workDir, err := p.resolver.Resolve(payload, rules.FileTypes)
	if err != nil {
		// Broken archives are not fatal, the folder may still hold
		// usable files.
		log.Warn("archive extraction failed, importing as-is", "error", err)
		workDir = payload
	}

	// A folder can hold several unrelated books. Narrow to the one the
	// job is actually about before organizing.
	importDir := workDir
	if job.Kind == catalog.KindEbook {
		if chosen := p.pickEbook(log, workDir, job); chosen != "" {
			if sub, rerr := p.resolver.Resolve(chosen, rules.FileTypes); rerr == nil {
				importDir = sub
			} else {
				log.Warn("ebook isolation failed", "error", rerr)
			}
		}
	}

	destDir, base, err := p.destination(job)
	if err != nil {
		p.failJob(ctx, log, job, err.Error(), payload, b)
		summary.Failed++
		return
	}

	primary, err := p.organizer.Organize(organize.Request{
		Kind:      job.Kind,
		SourceDir: importDir,
		DestDir:   destDir,
		Root:      p.library(job.Kind).Root,
		BaseName:  base,
		FileTypes: rules.FileTypes,
		OneFormat: p.opts.OneFormat,
	})
	p.cleanupWorkDir(log, workDir, importDir)
	p.cleanupWorkDir(log, payload, workDir)
	if err != nil {
		p.failJob(ctx, log, job, err.Error(), payload, b)
		summary.Failed++
		return
	}

	if err := p.record(ctx, log, job, primary); err != nil {
		p.failJob(ctx, log, job, err.Error(), payload, b)
		summary.Failed++
		return
	}

	seeding := job.Mode.Torrentish() && p.opts.KeepSeeding && b != nil
	if seeding {
		if err := p.store.Transition(job, catalog.StateSeeding, "imported: "+primary); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		log.Info("imported, task left seeding", "primary", primary)
		summary.Seeding++
	} else {
		if err := p.store.Transition(job, catalog.StateProcessed, "imported: "+primary); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		log.Info("imported", "primary", primary)
		summary.Processed++
		p.cleanupPayload(ctx, log, job, payload, b)
	}
	p.notifier.Processed(ctx, job.Title, primary)
}

// pickEbook resolves a folder holding several distinct ebooks to the
// media file whose name best matches the job. Returns "" when there is
// nothing to choose between.
func (p *Processor) pickEbook(log *slog.Logger, dir string, job *catalog.Job) string {
	exts := make(map[string]bool)
	for _, t := range p.rules(job.Kind).FileTypes {
		exts["."+strings.ToLower(t)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	paths := make(map[string]string)
	var stems []string
	for _, e := range entries {
		if e.IsDir() || !exts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, seen := paths[stem]; !seen {
			paths[stem] = filepath.Join(dir, e.Name())
			stems = append(stems, stem)
		}
	}
	if len(stems) < 2 {
		return ""
	}

	best, ok := match.Best(job.Title, stems, 0)
	if !ok {
		return ""
	}
	log.Debug("multiple ebooks in payload", "picked", best.Name, "score", best.Score)
	return paths[best.Name]
}

// record updates the owning catalog record with the imported file.
func (p *Processor) record(ctx context.Context, log *slog.Logger, job *catalog.Job, primary string) error {
	switch job.Kind {
	case catalog.KindEbook, catalog.KindAudioBook:
		if err := p.store.SetBookFile(job.BookID, job.Kind, primary); err != nil {
			return fmt.Errorf("record book file: %w", err)
		}
		if job.Kind == catalog.KindEbook && p.calibre.Enabled() {
			if _, err := p.calibre.Add(ctx, primary); err != nil {
				// The file is in place either way.
				log.Warn("calibre import failed", "error", err)
			}
		}
	case catalog.KindMagazine, catalog.KindComic:
		title := p.seriesTitle(job)
		if _, err := p.store.GetMagazine(title); errors.Is(err, catalog.ErrNotFound) {
			if err := p.store.AddMagazine(&catalog.Magazine{Title: title}); err != nil {
				return fmt.Errorf("record series: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("record series: %w", err)
		}
		if err := p.store.RecordIssue(&catalog.Issue{
			Title:     title,
			IssueDate: p.issueDate(job),
			IssueFile: primary,
		}); err != nil {
			return fmt.Errorf("record issue: %w", err)
		}
	}
	return nil
}

// destination derives the library directory and file base name for a
// job from the configured naming pattern.
func (p *Processor) destination(job *catalog.Job) (string, string, error) {
	lib := p.library(job.Kind)
	if lib.Root == "" {
		return "", "", fmt.Errorf("no library configured for %s", job.Kind)
	}

	var data organize.NameData
	switch job.Kind {
	case catalog.KindEbook, catalog.KindAudioBook:
		book, err := p.store.GetBook(job.BookID)
		if err != nil {
			return "", "", fmt.Errorf("job owner %q: %w", job.BookID, err)
		}
		data = organize.NameData{Author: book.Author, Title: book.Title}
	case catalog.KindMagazine, catalog.KindComic:
		data = organize.NameData{Title: p.seriesTitle(job), IssueDate: p.issueDate(job)}
	}

	naming := lib.Naming
	if naming == "" {
		naming = defaultNaming[job.Kind]
	}
	expanded := organize.ExpandPattern(naming, data)
	segs := strings.Split(expanded, "/")
	base := segs[len(segs)-1]
	var destDir string
	if len(segs) == 1 {
		destDir = filepath.Join(lib.Root, segs[0])
	} else {
		destDir = filepath.Join(append([]string{lib.Root}, segs[:len(segs)-1]...)...)
	}
	return destDir, base, nil
}

var defaultNaming = map[catalog.Kind]string{
	catalog.KindEbook:     "$Author/$Title/$Author - $Title",
	catalog.KindAudioBook: "$Author/$Title",
	catalog.KindMagazine:  "$Title/$Title - $IssueDate",
	catalog.KindComic:     "$Title",
}

// seriesTitle is the magazine or comic series a job belongs to.
func (p *Processor) seriesTitle(job *catalog.Job) string {
	if job.BookID != "" && job.BookID != "unknown" {
		return job.BookID
	}
	return match.StripTag(job.Title)
}

var issueDatePattern = regexp.MustCompile(`\b(\d{4}-\d{2}(?:-\d{2})?)\b`)

// issueDate pulls an issue date out of the release title, falling back
// to the snatch date.
func (p *Processor) issueDate(job *catalog.Job) string {
	if m := issueDatePattern.FindString(job.Title); m != "" {
		return m
	}
	return job.SnatchedAt.Format("2006-01-02")
}

// failJob settles a job as failed: the payload is parked or deleted,
// the client task removed, and the owning book released for re-search.
func (p *Processor) failJob(ctx context.Context, log *slog.Logger, job *catalog.Job,
	reason, payload string, b backend.Backend) {
	log.Warn("job failed", "reason", reason)

	if payload != "" {
		if p.opts.DelFailed {
			if err := os.RemoveAll(payload); err != nil {
				log.Warn("payload removal failed", "error", err)
			}
		} else if err := os.Rename(payload, payload+".fail"); err != nil && !os.IsNotExist(err) {
			log.Warn("payload relocation failed", "error", err)
		}
	}
	if b != nil {
		if err := b.Delete(ctx, job.TaskID, p.opts.DelFailed); err != nil {
			log.Warn("task removal failed", "error", err)
		}
	}

	if err := p.store.Transition(job, catalog.StateFailed, reason); err != nil {
		log.Error("failed transition failed", "error", err)
		return
	}
	if err := p.store.ResetBookWanted(job.BookID, job.Kind); err != nil {
		log.Warn("book reset failed", "error", err)
	}
	p.notifier.Failed(ctx, job.Title, reason)
}

// cleanupWorkDir removes a temporary extraction directory. The matched
// payload itself is handled separately.
func (p *Processor) cleanupWorkDir(log *slog.Logger, payload, workDir string) {
	if workDir == payload || !strings.HasSuffix(workDir, archive.UnpackSuffix) {
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		log.Warn("work dir cleanup failed", "dir", workDir, "error", err)
	}
}

// cleanupPayload clears the source download after a successful import,
// when policy allows it.
func (p *Processor) cleanupPayload(ctx context.Context, log *slog.Logger, job *catalog.Job,
	payload string, b backend.Backend) {
	if p.opts.DelCompleted && b != nil {
		if err := b.Delete(ctx, job.TaskID, true); err != nil {
			log.Warn("task removal failed", "error", err)
		}
	}
	if p.opts.DestinationCopy && !p.opts.DelCompleted {
		// The library got a copy, the source stays put.
		return
	}
	for _, root := range p.opts.ScanDirs {
		if payload == filepath.Clean(root) {
			// Never delete a scan root itself.
			return
		}
	}
	if err := os.RemoveAll(payload); err != nil {
		log.Warn("payload cleanup failed", "error", err)
	}
}
