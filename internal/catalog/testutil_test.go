package catalog

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/vmunix/bookarr/internal/migrations"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

// insertTestBook inserts a snatched book row so jobs have an owner.
func insertTestBook(t *testing.T, s *Store, bookID string) {
	t.Helper()
	err := s.AddBook(&Book{
		BookID:      bookID,
		Author:      "Test Author",
		Title:       "Test Book",
		Status:      BookSnatched,
		AudioStatus: BookSnatched,
	})
	if err != nil {
		t.Fatalf("insert test book: %v", err)
	}
}
