package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store persists jobs and catalog records.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = "id, book_id, kind, title, backend, task_id, mode, state, snatched_at, completed_at, last_result"

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	err := row.Scan(&j.ID, &j.BookID, &j.Kind, &j.Title, &j.Backend, &j.TaskID,
		&j.Mode, &j.State, &j.SnatchedAt, &j.CompletedAt, &j.LastResult)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// AddJob records a new job in state snatched.
// Idempotent: a job with the same backend task and title returns the
// existing record instead of creating a duplicate.
func (s *Store) AddJob(j *Job) error {
	if j.TaskID != "" {
		var existingID int64
		var snatchedAt time.Time
		err := s.db.QueryRow(`
			SELECT id, snatched_at FROM jobs
			WHERE backend = ? AND task_id = ? AND title = ?`,
			j.Backend, j.TaskID, j.Title,
		).Scan(&existingID, &snatchedAt)
		if err == nil {
			j.ID = existingID
			j.SnatchedAt = snatchedAt
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check existing job: %w", err)
		}
	}

	if j.State == "" {
		j.State = StateSnatched
	}
	if j.SnatchedAt.IsZero() {
		j.SnatchedAt = time.Now()
	}
	result, err := s.db.Exec(`
		INSERT INTO jobs (book_id, kind, title, backend, task_id, mode, state, snatched_at, completed_at, last_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.BookID, j.Kind, j.Title, j.Backend, j.TaskID, j.Mode, j.State, j.SnatchedAt, j.CompletedAt, j.LastResult,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	j.ID = id
	return nil
}

// GetJob retrieves a job by ID.
// Returns ErrNotFound if the job does not exist.
func (s *Store) GetJob(id int64) (*Job, error) {
	j, err := scanJob(s.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

// ListJobs returns jobs matching the specified filter in insertion order.
func (s *Store) ListJobs(f JobFilter) ([]*Job, error) {
	var conditions []string
	var args []any

	if f.ID != nil {
		conditions = append(conditions, "id = ?")
		args = append(args, *f.ID)
	}
	if f.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, *f.State)
	}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, st)
		}
		conditions = append(conditions, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Backend != nil {
		conditions = append(conditions, "backend = ?")
		args = append(args, *f.Backend)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.Query("SELECT "+jobColumns+" FROM jobs "+whereClause+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		results = append(results, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return results, nil
}

// Transition changes a job's state with validation. The result text
// replaces LastResult when non-empty.
func (s *Store) Transition(j *Job, to State, result string) error {
	if !j.State.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}

	var res sql.Result
	var err error
	if result != "" {
		res, err = s.db.Exec(`UPDATE jobs SET state = ?, last_result = ? WHERE id = ? AND state = ?`,
			to, result, j.ID, j.State)
	} else {
		res, err = s.db.Exec(`UPDATE jobs SET state = ? WHERE id = ? AND state = ?`,
			to, j.ID, j.State)
	}
	if err != nil {
		return fmt.Errorf("update job %d: %w", j.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// Row changed underneath us or was deleted.
		return fmt.Errorf("transition job %d: %w", j.ID, ErrNotFound)
	}

	j.State = to
	if result != "" {
		j.LastResult = result
	}
	return nil
}

// SetJobTitle updates the stored release title, used when a backend
// renames a task once magnet metadata resolves.
func (s *Store) SetJobTitle(id int64, title string) error {
	_, err := s.db.Exec("UPDATE jobs SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return fmt.Errorf("update job %d title: %w", id, err)
	}
	return nil
}

// MarkCompleted records when the backend first reported the task
// finished. Only the first observation is kept.
func (s *Store) MarkCompleted(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE jobs SET completed_at = ? WHERE id = ? AND completed_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("mark job %d completed: %w", id, err)
	}
	return nil
}

// GetBook retrieves a book record by ID.
func (s *Store) GetBook(bookID string) (*Book, error) {
	b := &Book{}
	err := s.db.QueryRow(`
		SELECT book_id, author, title, status, audio_status, book_file, audio_file
		FROM books WHERE book_id = ?`, bookID,
	).Scan(&b.BookID, &b.Author, &b.Title, &b.Status, &b.AudioStatus, &b.BookFile, &b.AudioFile)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get book %s: %w", bookID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", bookID, err)
	}
	return b, nil
}

// AddBook inserts or replaces a book record.
func (s *Store) AddBook(b *Book) error {
	if b.Status == "" {
		b.Status = BookWanted
	}
	if b.AudioStatus == "" {
		b.AudioStatus = BookWanted
	}
	_, err := s.db.Exec(`
		INSERT INTO books (book_id, author, title, status, audio_status, book_file, audio_file)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(book_id) DO UPDATE SET
			author = excluded.author, title = excluded.title`,
		b.BookID, b.Author, b.Title, b.Status, b.AudioStatus, b.BookFile, b.AudioFile,
	)
	if err != nil {
		return fmt.Errorf("add book: %w", err)
	}
	return nil
}

// ResetBookWanted puts a still-snatched book back in the wanted pool so
// the next search pass can try a different release. A book already
// marked "have" by another task is left alone.
func (s *Store) ResetBookWanted(bookID string, kind Kind) error {
	var query string
	switch kind {
	case KindEbook:
		query = `UPDATE books SET status = ? WHERE status = ? AND book_id = ?`
	case KindAudioBook:
		query = `UPDATE books SET audio_status = ? WHERE audio_status = ? AND book_id = ?`
	default:
		return nil
	}
	if _, err := s.db.Exec(query, BookWanted, BookSnatched, bookID); err != nil {
		return fmt.Errorf("reset book %s: %w", bookID, err)
	}
	return nil
}

// SetBookFile records the imported primary file and marks the book have.
func (s *Store) SetBookFile(bookID string, kind Kind, path string) error {
	var query string
	switch kind {
	case KindEbook:
		query = `UPDATE books SET book_file = ?, status = ? WHERE book_id = ?`
	case KindAudioBook:
		query = `UPDATE books SET audio_file = ?, audio_status = ? WHERE book_id = ?`
	default:
		return nil
	}
	res, err := s.db.Exec(query, path, BookHave, bookID)
	if err != nil {
		return fmt.Errorf("set book %s file: %w", bookID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set book %s file: %w", bookID, ErrNotFound)
	}
	return nil
}

// GetMagazine retrieves a magazine record by title.
func (s *Store) GetMagazine(title string) (*Magazine, error) {
	m := &Magazine{}
	err := s.db.QueryRow(`
		SELECT title, latest_issue, last_acquired FROM magazines WHERE title = ?`, title,
	).Scan(&m.Title, &m.LatestIssue, &m.LastAcquired)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get magazine %s: %w", title, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get magazine %s: %w", title, err)
	}
	return m, nil
}

// AddMagazine inserts a magazine record if absent.
func (s *Store) AddMagazine(m *Magazine) error {
	_, err := s.db.Exec(`
		INSERT INTO magazines (title, latest_issue, last_acquired)
		VALUES (?, ?, ?) ON CONFLICT(title) DO NOTHING`,
		m.Title, m.LatestIssue, m.LastAcquired,
	)
	if err != nil {
		return fmt.Errorf("add magazine: %w", err)
	}
	return nil
}

// RecordIssue upserts an acquired issue and advances the magazine's
// latest-issue pointer unless the issue arrived out of order.
func (s *Store) RecordIssue(iss *Issue) error {
	now := time.Now()
	if iss.AcquiredAt == nil {
		iss.AcquiredAt = &now
	}
	_, err := s.db.Exec(`
		INSERT INTO issues (title, issue_date, issue_file, acquired_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(title, issue_date) DO UPDATE SET
			issue_file = excluded.issue_file, acquired_at = excluded.acquired_at`,
		iss.Title, iss.IssueDate, iss.IssueFile, iss.AcquiredAt,
	)
	if err != nil {
		return fmt.Errorf("record issue: %w", err)
	}

	mag, err := s.GetMagazine(iss.Title)
	if err != nil {
		return err
	}
	older := mag.LatestIssue != "" && mag.LatestIssue > iss.IssueDate
	if older {
		_, err = s.db.Exec(`UPDATE magazines SET last_acquired = ? WHERE title = ?`, now, iss.Title)
	} else {
		_, err = s.db.Exec(`UPDATE magazines SET last_acquired = ?, latest_issue = ? WHERE title = ?`,
			now, iss.IssueDate, iss.Title)
	}
	if err != nil {
		return fmt.Errorf("update magazine %s: %w", iss.Title, err)
	}
	return nil
}
