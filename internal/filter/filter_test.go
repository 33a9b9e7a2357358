package filter

import (
	"strings"
	"testing"

	"github.com/vmunix/bookarr/internal/backend"
)

func TestCheck(t *testing.T) {
	wanted := []string{"epub", "pdf"}
	limits := Limits{
		BannedExts:  []string{"exe", ".bat"},
		RejectWords: []string{"password", "keygen"},
		MinSize:     10 * 1024,
		MaxSize:     50 * 1024 * 1024,
	}

	tests := []struct {
		name       string
		files      []backend.TaskFile
		wantReason string // substring, "" means accepted
	}{
		{
			name: "clean payload",
			files: []backend.TaskFile{
				{Path: "Author - Title.epub", Size: 2 * 1024 * 1024},
				{Path: "cover.jpg", Size: 100 * 1024},
			},
		},
		{
			name: "banned extension",
			files: []backend.TaskFile{
				{Path: "book/setup.exe", Size: 1024 * 1024},
			},
			wantReason: "contains exe file",
		},
		{
			name: "banned extension with dot in config",
			files: []backend.TaskFile{
				{Path: "run.BAT", Size: 1024 * 1024},
			},
			wantReason: "contains bat file",
		},
		{
			name: "rejected word",
			files: []backend.TaskFile{
				{Path: "book/PASSWORD.txt", Size: 1024 * 1024},
			},
			wantReason: `rejected word "password"`,
		},
		{
			name: "rejected word in parent folder",
			files: []backend.TaskFile{
				{Path: "keygen pack/book.epub", Size: 1024 * 1024},
			},
			wantReason: `rejected word "keygen"`,
		},
		{
			name: "too large",
			files: []backend.TaskFile{
				{Path: "huge.pdf", Size: 200 * 1024 * 1024},
			},
			wantReason: "too large",
		},
		{
			name: "too small",
			files: []backend.TaskFile{
				{Path: "stub.epub", Size: 512},
			},
			wantReason: "too small",
		},
		{
			name: "small companion does not trip the size floor",
			files: []backend.TaskFile{
				{Path: "book.epub", Size: 5 * 1024 * 1024},
				{Path: "info.nfo", Size: 2048},
			},
		},
		{
			name: "extension beats word when both apply",
			files: []backend.TaskFile{
				{Path: "keygen.exe", Size: 1024 * 1024},
			},
			wantReason: "contains exe file",
		},
		{
			name: "empty payload accepted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := Check(tt.files, wanted, limits)
			if tt.wantReason == "" {
				if reason != "" {
					t.Errorf("Check rejected clean payload: %q", reason)
				}
				return
			}
			if !strings.Contains(reason, tt.wantReason) {
				t.Errorf("Check = %q, want substring %q", reason, tt.wantReason)
			}
		})
	}
}

func TestCheckNoLimits(t *testing.T) {
	files := []backend.TaskFile{
		{Path: "anything.exe", Size: 1},
	}
	if reason := Check(files, nil, Limits{}); reason != "" {
		t.Errorf("empty limits should accept everything, got %q", reason)
	}
}

// A reject word must not match inside a longer word: banning "rar" may
// not reject "library.epub".
func TestCheckWordNeedsWholeToken(t *testing.T) {
	files := []backend.TaskFile{
		{Path: "library.epub", Size: 1024 * 1024},
	}
	limits := Limits{RejectWords: []string{"rar"}}
	if reason := Check(files, []string{"epub"}, limits); reason != "" {
		t.Errorf("substring must not match, got %q", reason)
	}

	files = []backend.TaskFile{{Path: "book.rar.epub", Size: 1024 * 1024}}
	if reason := Check(files, []string{"epub"}, limits); reason == "" {
		t.Error("whole token should match")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"1024", 1024, false},
		{"10K", 10 * 1024, false},
		{"50m", 50 * 1024 * 1024, false},
		{"1.5G", 1610612736, false},
		{"2 M", 2 * 1024 * 1024, false},
		{"abc", 0, true},
		{"-5M", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
