package processor

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	_ "modernc.org/sqlite"

	"github.com/vmunix/bookarr/internal/backend"
	"github.com/vmunix/bookarr/internal/backend/mocks"
	"github.com/vmunix/bookarr/internal/catalog"
	"github.com/vmunix/bookarr/internal/filter"
	"github.com/vmunix/bookarr/internal/migrations"
)

type fixture struct {
	p       *Processor
	store   *catalog.Store
	mock    *mocks.MockBackend
	scanDir string
	libRoot string
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	ctrl := gomock.NewController(t)
	mock := mocks.NewMockBackend(ctrl)
	mock.EXPECT().Name().Return("mock").AnyTimes()

	registry := backend.NewRegistry()
	registry.Register(mock)

	f := &fixture{
		store:   catalog.NewStore(db),
		mock:    mock,
		scanDir: t.TempDir(),
		libRoot: t.TempDir(),
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	opts := Options{
		ScanDirs:      []string{f.scanDir},
		MatchRatio:    85,
		TaskAge:       24 * time.Hour,
		NotFoundGrace: 5 * time.Minute,
		SeedWait:      48 * time.Hour,
		DelFailed:     false,
		Libraries: map[catalog.Kind]Library{
			catalog.KindEbook:     {Root: f.libRoot, Naming: "$Author/$Title/$Author - $Title"},
			catalog.KindAudioBook: {Root: f.libRoot},
			catalog.KindMagazine:  {Root: f.libRoot},
			catalog.KindComic:     {Root: f.libRoot},
		},
		Kinds: map[catalog.Kind]KindRules{
			catalog.KindEbook:     {FileTypes: []string{"epub", "mobi"}, Limits: filter.Limits{BannedExts: []string{"exe"}}},
			catalog.KindAudioBook: {FileTypes: []string{"mp3", "m4b"}},
			catalog.KindMagazine:  {FileTypes: []string{"pdf"}},
			catalog.KindComic:     {FileTypes: []string{"cbz"}},
		},
	}

	f.p = New(f.store, registry, nil, nil, opts, nil)
	f.p.now = func() time.Time { return f.now }
	return f
}

// addJob inserts a book and a snatched job for it.
func (f *fixture) addJob(t *testing.T, kind catalog.Kind, title string, mode catalog.Mode) *catalog.Job {
	t.Helper()
	if kind == catalog.KindEbook || kind == catalog.KindAudioBook {
		if err := f.store.AddBook(&catalog.Book{
			BookID: "book1", Author: "Jane Author", Title: "The Story",
			Status: catalog.BookSnatched, AudioStatus: catalog.BookSnatched,
		}); err != nil {
			t.Fatal(err)
		}
	}
	bookID := "book1"
	if kind == catalog.KindMagazine || kind == catalog.KindComic {
		bookID = "Linux Weekly"
	}
	j := &catalog.Job{
		BookID:     bookID,
		Kind:       kind,
		Title:      title,
		Backend:    "mock",
		TaskID:     "task1",
		Mode:       mode,
		SnatchedAt: f.now.Add(-time.Hour),
	}
	if err := f.store.AddJob(j); err != nil {
		t.Fatal(err)
	}
	return j
}

// payloadDir creates a payload folder in the scan dir.
func (f *fixture) payloadDir(t *testing.T, name string, files ...string) string {
	t.Helper()
	dir := filepath.Join(f.scanDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte("data for "+file), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func (f *fixture) jobState(t *testing.T, id int64) catalog.State {
	t.Helper()
	j, err := f.store.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j.State
}

func TestRunNothingToDo(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Run(context.Background(), Request{})
	if !errors.Is(err, ErrNothingToDo) {
		t.Errorf("expected ErrNothingToDo, got %v", err)
	}
}

func TestRunAlreadyRunning(t *testing.T) {
	f := newFixture(t)
	f.p.running.Store(true)
	_, err := f.p.Run(context.Background(), Request{})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestProcessEbook(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story LL.(abc)", catalog.ModeNZB)
	f.payloadDir(t, "Jane Author - The Story LL.(abc)", "book.epub", "cover.jpg")

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateProcessed {
		t.Errorf("state = %s, want processed", got)
	}

	want := filepath.Join(f.libRoot, "Jane Author", "The Story", "Jane Author - The Story.epub")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected imported file at %s: %v", want, err)
	}
	book, err := f.store.GetBook("book1")
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != catalog.BookHave || book.BookFile != want {
		t.Errorf("book = %+v", book)
	}
	// Move semantics: the source payload is cleared after import.
	if _, err := os.Stat(filepath.Join(f.scanDir, "Jane Author - The Story LL.(abc)")); !os.IsNotExist(err) {
		t.Error("payload should be removed after import")
	}
}

func TestDestinationCopyLeavesSource(t *testing.T) {
	f := newFixture(t)
	f.p.opts.DestinationCopy = true
	f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeNZB)
	payload := f.payloadDir(t, "Jane Author - The Story", "book.epub")

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	if _, err := os.Stat(filepath.Join(payload, "book.epub")); err != nil {
		t.Errorf("source payload should stay put: %v", err)
	}
}

func TestProcessTorrentKeepsSeeding(t *testing.T) {
	f := newFixture(t)
	f.p.opts.KeepSeeding = true
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)
	f.payloadDir(t, "Jane Author - The Story", "book.epub")

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Seeding != 1 {
		t.Errorf("Seeding = %d, want 1", summary.Seeding)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateSeeding {
		t.Errorf("state = %s, want seeding", got)
	}
	// The file is imported even while the task seeds on.
	book, err := f.store.GetBook("book1")
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != catalog.BookHave {
		t.Errorf("book status = %s, want have", book.Status)
	}
}

func TestSeedingCompletesAfterSeedWait(t *testing.T) {
	f := newFixture(t)
	f.p.opts.KeepSeeding = true
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)
	if err := f.store.Transition(job, catalog.StateSeeding, "imported"); err != nil {
		t.Fatal(err)
	}

	// Past the seed goal.
	f.now = f.now.Add(72 * time.Hour)
	f.mock.EXPECT().Delete(gomock.Any(), "task1", false).Return(nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateProcessed {
		t.Errorf("state = %s, want processed", got)
	}
}

func TestSeedingStillWaiting(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)
	if err := f.store.Transition(job, catalog.StateSeeding, "imported"); err != nil {
		t.Fatal(err)
	}
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Seeding != 1 {
		t.Errorf("Seeding = %d, want 1", summary.Seeding)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateSeeding {
		t.Errorf("state = %s, want seeding", got)
	}
}

func TestContentFilterFailsJob(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return([]backend.TaskFile{
		{Path: "setup.exe", Size: 1024},
	}, nil)
	f.mock.EXPECT().Delete(gomock.Any(), "task1", false).Return(nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	// The book goes back in the wanted pool for the next search.
	book, err := f.store.GetBook("book1")
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != catalog.BookWanted {
		t.Errorf("book status = %s, want wanted", book.Status)
	}
}

func TestStalledTaskAborts(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)

	// Snatched two days ago, still at 40%.
	f.now = f.now.Add(48 * time.Hour)
	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(40, false, nil)
	f.mock.EXPECT().Delete(gomock.Any(), "task1", true).Return(nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Aborted != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want aborted and finalized failed", summary)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
}

func TestNearlyDoneTaskGetsGrace(t *testing.T) {
	f := newFixture(t)
	f.p.opts.TaskAge = time.Hour
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)

	// Over task_age but at 97%, within the extra hour.
	f.now = f.now.Add(30 * time.Minute)
	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(97, false, nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateSnatched {
		t.Errorf("state = %s, want snatched", got)
	}
}

func TestVanishedTaskFailsAfterGrace(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrTaskNotFound)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(-1, false, backend.ErrTaskNotFound)
	f.mock.EXPECT().Delete(gomock.Any(), "task1", false).Return(nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
}

func TestVanishedTaskToleratedWithinGrace(t *testing.T) {
	f := newFixture(t)
	// Freshly snatched task not yet visible in the client.
	if err := f.store.AddBook(&catalog.Book{BookID: "book2", Author: "A", Title: "T", Status: catalog.BookSnatched}); err != nil {
		t.Fatal(err)
	}
	job := &catalog.Job{
		BookID: "book2", Kind: catalog.KindEbook, Title: "T", Backend: "mock",
		TaskID: "task2", Mode: catalog.ModeTorrent, SnatchedAt: f.now.Add(-time.Minute),
	}
	if err := f.store.AddJob(job); err != nil {
		t.Fatal(err)
	}
	f.mock.EXPECT().Files(gomock.Any(), "task2").Return(nil, backend.ErrTaskNotFound)
	f.mock.EXPECT().Progress(gomock.Any(), "task2").Return(-1, false, backend.ErrTaskNotFound)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateSnatched {
		t.Errorf("state = %s, want snatched", got)
	}
}

func TestImportDelayPostpones(t *testing.T) {
	f := newFixture(t)
	f.p.opts.Delay = time.Hour
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeNZB)

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}

	// Completion was recorded so the delay counts from now on.
	got, err := f.store.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be recorded")
	}
}

func TestMagnetTitleRefresh(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "magnet:?xt=urn:btih:abc", catalog.ModeMagnet)
	f.payloadDir(t, "Jane Author - The Story", "book.epub")

	f.mock.EXPECT().TaskName(gomock.Any(), "task1").Return("Jane Author - The Story", nil)
	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	got, err := f.store.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Jane Author - The Story" {
		t.Errorf("title = %q, want the client's resolved name", got.Title)
	}
}

func TestFailedImportParksPayload(t *testing.T) {
	f := newFixture(t)
	// No epub in the payload, so the organize step fails.
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeNZB)
	payload := f.payloadDir(t, "Jane Author - The Story", "readme.txt")

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)
	f.mock.EXPECT().Delete(gomock.Any(), "task1", false).Return(nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if _, err := os.Stat(payload + ".fail"); err != nil {
		t.Errorf("expected payload parked at .fail: %v", err)
	}
	if _, err := os.Stat(payload); !os.IsNotExist(err) {
		t.Error("original payload dir should be gone")
	}
}

func TestMagazineManualImport(t *testing.T) {
	f := newFixture(t)
	j := &catalog.Job{
		BookID:     "Linux Weekly",
		Kind:       catalog.KindMagazine,
		Title:      "Linux Weekly 2024-05-01",
		Mode:       catalog.ModeDirect,
		SnatchedAt: f.now.Add(-time.Hour),
	}
	if err := f.store.AddJob(j); err != nil {
		t.Fatal(err)
	}
	f.payloadDir(t, "Linux Weekly 2024-05-01", "issue.pdf")

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}

	mag, err := f.store.GetMagazine("Linux Weekly")
	if err != nil {
		t.Fatalf("GetMagazine: %v", err)
	}
	if mag.LatestIssue != "2024-05-01" {
		t.Errorf("LatestIssue = %q, want 2024-05-01", mag.LatestIssue)
	}
	// Issue file named from the pattern, marker written alongside.
	issueDir := filepath.Join(f.libRoot, "Linux Weekly")
	if _, err := os.Stat(filepath.Join(issueDir, "Linux Weekly - 2024-05-01.pdf")); err != nil {
		t.Errorf("expected issue file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(issueDir, ".ll_ignore")); err != nil {
		t.Errorf("expected ignore marker: %v", err)
	}
}

func TestCompletedButNeverOnDiskFails(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeNZB)
	// Finished a day and a half ago, payload never showed up.
	if err := f.store.MarkCompleted(job.ID, f.now.Add(-36*time.Hour)); err != nil {
		t.Fatal(err)
	}

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)
	f.mock.EXPECT().Delete(gomock.Any(), "task1", false).Return(nil)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	got, err := f.store.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != catalog.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
	if !strings.Contains(got.LastResult, "never appeared") {
		t.Errorf("LastResult = %q", got.LastResult)
	}
}

func TestResidualImportsTaggedOrphan(t *testing.T) {
	f := newFixture(t)
	// A tagged download with a catalog owner but no tracked job, as
	// left behind by a database restore.
	if err := f.store.AddBook(&catalog.Book{
		BookID: "book1", Author: "Jane Author", Title: "The Story",
		Status: catalog.BookSnatched,
	}); err != nil {
		t.Fatal(err)
	}
	f.payloadDir(t, "Jane Author - The Story LL.(book1)", "book.epub")

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}

	jobs, err := f.store.ListJobs(catalog.JobFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one residual job, got %d", len(jobs))
	}
	if jobs[0].State != catalog.StateProcessed || jobs[0].Mode != catalog.ModeDirect {
		t.Errorf("residual job = %+v", jobs[0])
	}
	book, err := f.store.GetBook("book1")
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != catalog.BookHave {
		t.Errorf("book status = %s, want have", book.Status)
	}
}

func TestResidualIgnoresUnknownOwner(t *testing.T) {
	f := newFixture(t)
	dir := f.payloadDir(t, "Mystery Drop LL.(nobody)", "book.epub")

	_, err := f.p.Run(context.Background(), Request{})
	if !errors.Is(err, ErrNothingToDo) {
		t.Errorf("expected ErrNothingToDo, got %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("unowned entry must be left alone: %v", err)
	}
}

func TestMultiEbookPayloadPicksMatch(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeNZB)
	dir := f.payloadDir(t, "Jane Author - The Story")

	// The unrelated book is bigger, so size ranking alone would pick it.
	other := strings.Repeat("unrelated content ", 64)
	if err := os.WriteFile(filepath.Join(dir, "Other Author - Completely Different.epub"), []byte(other), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Jane Author - The Story.epub"), []byte("the story"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)

	summary, err := f.p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}

	imported := filepath.Join(f.libRoot, "Jane Author", "The Story", "Jane Author - The Story.epub")
	data, err := os.ReadFile(imported)
	if err != nil {
		t.Fatalf("expected imported file: %v", err)
	}
	if string(data) != "the story" {
		t.Error("import picked the wrong book")
	}
}

func TestSingleJobRequest(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeNZB)
	f.payloadDir(t, "Jane Author - The Story", "book.epub")

	// A second outstanding job that must not be touched.
	other := &catalog.Job{
		BookID: "book1", Kind: catalog.KindEbook, Title: "Other Release",
		Backend: "mock", TaskID: "task9", Mode: catalog.ModeNZB, SnatchedAt: f.now,
	}
	if err := f.store.AddJob(other); err != nil {
		t.Fatal(err)
	}

	f.mock.EXPECT().Files(gomock.Any(), "task1").Return(nil, backend.ErrNotSupported)
	f.mock.EXPECT().Progress(gomock.Any(), "task1").Return(100, true, nil)
	f.mock.EXPECT().SaveFolder(gomock.Any(), "task1").Return("", backend.ErrTaskNotFound)

	summary, err := f.p.Run(context.Background(), Request{JobID: job.ID})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	if got := f.jobState(t, other.ID); got != catalog.StateSnatched {
		t.Errorf("untargeted job state = %s, want snatched", got)
	}
}

func TestIgnoreBackendImportsFromDisk(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeTorrent)
	f.payloadDir(t, "Jane Author - The Story", "book.epub")

	// No client expectations: the pass must not talk to the backend.
	summary, err := f.p.Run(context.Background(), Request{IgnoreBackend: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateProcessed {
		t.Errorf("state = %s, want processed", got)
	}
}

// A .part entry is still being written by the client; even a perfect
// name match must not be picked up.
func TestPartialDownloadNotImported(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeDirect)

	partial := filepath.Join(f.scanDir, "Jane Author - The Story.part")
	if err := os.WriteFile(partial, []byte("half a book"), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := f.p.Run(context.Background(), Request{IgnoreBackend: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateSnatched {
		t.Errorf("state = %s, want snatched", got)
	}
	if _, err := os.Stat(partial); err != nil {
		t.Errorf("partial download must stay put: %v", err)
	}
}

// Skip extensions from the options replace the defaults.
func TestSkipExtsConfigurable(t *testing.T) {
	cache := newDirCache([]string{"tmp"})
	if !cache.skipped("book.TMP") {
		t.Error("configured extension should be skipped")
	}
	if cache.skipped("book.part") {
		t.Error("defaults do not apply once overridden")
	}

	cache = newDirCache(nil)
	for _, name := range []string{"a.fail", "b.part", "c.!ut", "d.unpack", "e.nzb"} {
		if !cache.skipped(name) {
			t.Errorf("default skip list should cover %s", name)
		}
	}
	if cache.skipped("Author - Title.epub") {
		t.Error("media files are never skipped")
	}
}

func TestObfuscatedPayloadFoundOneLevelDown(t *testing.T) {
	f := newFixture(t)
	job := f.addJob(t, catalog.KindEbook, "Jane Author - The Story", catalog.ModeDirect)

	inner := filepath.Join(f.scanDir, "a9f3c2", "Jane Author - The Story")
	if err := os.MkdirAll(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inner, "book.epub"), []byte("book"), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := f.p.Run(context.Background(), Request{IgnoreBackend: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1: %+v", summary.Processed, summary)
	}
	if got := f.jobState(t, job.ID); got != catalog.StateProcessed {
		t.Errorf("state = %s, want processed", got)
	}
}
