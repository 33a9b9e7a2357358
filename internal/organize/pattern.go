package organize

import "strings"

// NameData feeds the destination naming patterns.
type NameData struct {
	Author    string
	Title     string
	IssueDate string
}

// ExpandPattern fills a naming pattern such as "$Author - $Title".
// Each substituted value is sanitized individually so pattern
// punctuation survives but values cannot smuggle separators in.
func ExpandPattern(pattern string, data NameData) string {
	r := strings.NewReplacer(
		"$Author", SanitizeFilename(data.Author),
		"$Title", SanitizeFilename(data.Title),
		"$IssueDate", SanitizeFilename(data.IssueDate),
	)
	return strings.TrimSpace(r.Replace(pattern))
}
