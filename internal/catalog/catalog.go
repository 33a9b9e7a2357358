// Package catalog tracks acquisition jobs and the owning book, magazine
// and comic records they update on import.
package catalog

import (
	"time"
)

// Kind is the type of content a job fetches.
type Kind string

const (
	KindEbook     Kind = "ebook"
	KindAudioBook Kind = "audiobook"
	KindMagazine  Kind = "magazine"
	KindComic     Kind = "comic"
)

// State tracks where a job is in the post-processing pipeline.
type State string

const (
	StateSnatched  State = "snatched"
	StateSeeding   State = "seeding"
	StateAborted   State = "aborted"
	StateProcessed State = "processed"
	StateFailed    State = "failed"
)

// Mode is how the release was handed to the backend.
type Mode string

const (
	ModeTorrent Mode = "torrent"
	ModeMagnet  Mode = "magnet"
	ModeNZB     Mode = "nzb"
	ModeDirect  Mode = "direct"
)

// Torrentish reports whether the mode keeps seeding after completion.
func (m Mode) Torrentish() bool {
	return m == ModeTorrent || m == ModeMagnet
}

// Job is one acquisition unit tracked through the pipeline.
type Job struct {
	ID          int64
	BookID      string // owning catalog record, "unknown" for manual drops
	Kind        Kind
	Title       string
	Backend     string // backend registry key, "" for manual
	TaskID      string // backend-specific handle
	Mode        Mode
	State       State
	SnatchedAt  time.Time
	CompletedAt *time.Time
	LastResult  string
}

// BookStatus tracks the acquisition status of a book record.
type BookStatus string

const (
	BookWanted   BookStatus = "wanted"
	BookSnatched BookStatus = "snatched"
	BookHave     BookStatus = "have"
)

// Book is the owning record for ebook/audiobook jobs.
type Book struct {
	BookID      string
	Author      string
	Title       string
	Status      BookStatus // ebook acquisition status
	AudioStatus BookStatus
	BookFile    string // primary ebook file, set on import
	AudioFile   string // primary audiobook file, set on import
}

// Magazine is the owning record for magazine jobs, keyed by title.
type Magazine struct {
	Title        string
	LatestIssue  string
	LastAcquired *time.Time
}

// Issue is one acquired magazine issue.
type Issue struct {
	Title      string
	IssueDate  string
	IssueFile  string
	AcquiredAt *time.Time
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	ID      *int64
	State   *State
	States  []State
	Backend *string
}
