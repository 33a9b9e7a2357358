package processor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/vmunix/bookarr/internal/backend"
	"github.com/vmunix/bookarr/internal/catalog"
	"github.com/vmunix/bookarr/internal/match"
)

// defaultSkipExts mark entries that are not done downloading or are
// this program's own leavings, never import candidates.
var defaultSkipExts = []string{"fail", "part", "bts", "!ut", "torrent", "magnet", "nzb", "unpack"}

// dirCache memoizes directory listings so each root is read once per
// pass no matter how many jobs search it. Entries with a skip
// extension are dropped from the listings.
type dirCache struct {
	entries map[string][]string
	skip    map[string]bool
}

func newDirCache(skipExts []string) *dirCache {
	if len(skipExts) == 0 {
		skipExts = defaultSkipExts
	}
	skip := make(map[string]bool, len(skipExts))
	for _, e := range skipExts {
		skip["."+strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return &dirCache{entries: make(map[string][]string), skip: skip}
}

func (c *dirCache) skipped(name string) bool {
	return c.skip[strings.ToLower(filepath.Ext(name))]
}

func (c *dirCache) list(dir string) []string {
	if entries, ok := c.entries[dir]; ok {
		return entries
	}
	var names []string
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if c.skipped(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
	}
	c.entries[dir] = names
	return names
}

// locate finds the on-disk payload for a job: the save folder the
// client reports, or a fuzzy name match in the scan roots, descending
// one level into unmatched folders to catch obfuscated releases.
func (p *Processor) locate(ctx context.Context, log *slog.Logger, job *catalog.Job,
	b backend.Backend, req Request, cache *dirCache) (string, bool) {
	ratio := p.opts.MatchRatio

	if b != nil {
		if sf := p.saveFolder(ctx, log, job, b); sf != "" {
			// The save folder may be the payload itself or contain it.
			if match.TokenSetRatio(job.Title, filepath.Base(sf)) >= ratio {
				if _, err := os.Stat(sf); err == nil {
					return sf, true
				}
			}
			if payload, ok := p.searchDir(log, job, sf, cache); ok {
				return payload, true
			}
		}
	}

	for _, root := range p.roots(req) {
		if payload, ok := p.searchDir(log, job, root, cache); ok {
			return payload, true
		}
	}
	return "", false
}

func (p *Processor) searchDir(log *slog.Logger, job *catalog.Job, root string, cache *dirCache) (string, bool) {
	entries := cache.list(root)
	if best, ok := match.Best(job.Title, entries, p.opts.MatchRatio); ok {
		log.Debug("payload matched", "root", root, "entry", best.Name, "score", best.Score)
		return filepath.Join(root, best.Name), true
	}

	// Obfuscated releases hide the real name one level down.
	for _, entry := range entries {
		sub := filepath.Join(root, entry)
		info, err := os.Stat(sub)
		if err != nil || !info.IsDir() {
			continue
		}
		if best, ok := match.Best(job.Title, cache.list(sub), p.opts.MatchRatio); ok {
			log.Debug("payload matched in subfolder", "root", sub, "entry", best.Name, "score", best.Score)
			return filepath.Join(sub, best.Name), true
		}
	}
	return "", false
}

// saveFolder asks the client where it stored the task, retrying brief
// client hiccups instead of postponing the job a whole pass.
func (p *Processor) saveFolder(ctx context.Context, log *slog.Logger, job *catalog.Job, b backend.Backend) string {
	var sf string
	err := retry.Do(
		func() error {
			var err error
			sf, err = b.SaveFolder(ctx, job.TaskID)
			return err
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, backend.ErrClientUnavailable)
		}),
	)
	if err != nil {
		log.Debug("save folder unavailable", "error", err)
		return ""
	}
	return sf
}

var tagPattern = regexp.MustCompile(`LL\.\(([^)]+)\)`)

// residualScan imports tagged entries left in the scan roots that no
// job claims. Tagged downloads can land without a tracked job, for
// example after a database restore or a manual drop.
func (p *Processor) residualScan(ctx context.Context, log *slog.Logger, req Request,
	cache *dirCache, summary *Summary) {
	jobs, err := p.store.ListJobs(catalog.JobFilter{})
	if err != nil {
		log.Warn("job listing failed, skipping residual scan", "error", err)
		return
	}

	for _, root := range p.roots(req) {
		for _, name := range cache.list(root) {
			m := tagPattern.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			if claimedBy(jobs, name, p.opts.MatchRatio) {
				continue
			}
			p.importResidual(ctx, log, filepath.Join(root, name), name, m[1], summary)
		}
	}
}

// claimedBy reports whether any tracked job owns the entry.
func claimedBy(jobs []*catalog.Job, name string, ratio int) bool {
	for _, j := range jobs {
		if match.TokenSetRatio(j.Title, name) >= ratio {
			return true
		}
	}
	return false
}

// importResidual creates a job for an unclaimed tagged entry and runs
// it through the import path. The tag names the catalog owner, which
// decides the kind.
func (p *Processor) importResidual(ctx context.Context, log *slog.Logger,
	payload, name, ownerID string, summary *Summary) {
	var kind catalog.Kind
	if book, err := p.store.GetBook(ownerID); err == nil {
		kind = catalog.KindEbook
		if book.AudioStatus == catalog.BookSnatched && book.Status != catalog.BookSnatched {
			kind = catalog.KindAudioBook
		}
	} else if _, merr := p.store.GetMagazine(ownerID); merr == nil {
		kind = catalog.KindMagazine
	} else {
		log.Warn("unclaimed tagged download has no catalog owner", "entry", name, "owner", ownerID)
		return
	}

	job := &catalog.Job{
		BookID:     ownerID,
		Kind:       kind,
		Title:      match.StripTag(name),
		Mode:       catalog.ModeDirect,
		SnatchedAt: p.now(),
	}
	if err := p.store.AddJob(job); err != nil {
		log.Warn("residual job not recorded", "entry", name, "error", err)
		return
	}

	log.Info("importing unclaimed tagged download", "entry", name, "owner", ownerID, "kind", kind)
	p.importPayload(ctx, log.With("job", job.ID, "title", job.Title), job, payload, nil, summary)
}
