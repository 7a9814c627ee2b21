package export

import (
	"context"
	"fmt"
	"time"
)

type renderFunc func(ctx context.Context, html string, report Report) (*Result, error)

// Service renders issue reports. PDF needs a chrome or chromium binary and
// DOCX needs pandoc on PATH; HTML always works.
type Service struct {
	pdf  renderFunc
	docx renderFunc
}

type options struct {
	chromePath string
	paper      Paper
	timeout    time.Duration
}

type Option func(*options)

// WithChromePath pins the browser binary instead of searching PATH.
func WithChromePath(path string) Option {
	return func(o *options) { o.chromePath = path }
}

func WithPaper(paper Paper) Option {
	return func(o *options) { o.paper = paper }
}

// WithPrintTimeout bounds one PDF print, browser start included.
func WithPrintTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func NewService(opts ...Option) *Service {
	o := options{paper: PaperLetter, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	printer := newChromePrinter(o.chromePath, o.paper, o.timeout)
	return &Service{pdf: printer.render, docx: exportDOCX}
}

// Export renders report in the requested format.
func (s *Service) Export(ctx context.Context, report Report, format Format) (*Result, error) {
	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: reportFilename(report.Title, "html"),
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, report)
	case FormatDOCX:
		return s.docx(ctx, html, report)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
