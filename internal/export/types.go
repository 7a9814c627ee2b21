// Package export renders an issue and its activity feed as a shareable report.
package export

import (
	"errors"
	"strings"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts html, pdf and docx case-insensitively.
func ParseFormat(raw string) (Format, bool) {
	switch Format(lowerASCII(raw)) {
	case FormatHTML:
		return FormatHTML, true
	case FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	}
	return "", false
}

// Report is everything printed for one issue.
type Report struct {
	IssueID      string
	Title        string
	Body         string
	Status       string
	Priority     string
	Archived     bool
	ProjectName  string
	ReporterName string
	AssigneeName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Entries      []Entry
}

// Entry is one line of the activity section.
type Entry struct {
	Kind      string // "comment", "attachment", "event"
	Author    string
	Text      string
	Reply     bool
	CreatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

const maxFilenameLen = 50

// reportFilename turns an issue title into a download name. ASCII letters,
// digits and '_' are kept; every other run of characters becomes one '-'.
func reportFilename(title, ext string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range title {
		keep := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_'
		if !keep {
			pendingDash = b.Len() > 0
			continue
		}
		if pendingDash {
			if b.Len()+1 >= maxFilenameLen {
				break
			}
			b.WriteByte('-')
			pendingDash = false
		}
		if b.Len() >= maxFilenameLen {
			break
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" {
		name = "issue"
	}
	return name + "." + ext
}
