package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Paper is a printable page size in inches.
type Paper struct {
	Name   string
	Width  float64
	Height float64
}

var (
	PaperLetter = Paper{Name: "letter", Width: 8.5, Height: 11}
	PaperA4     = Paper{Name: "a4", Width: 8.27, Height: 11.69}
)

// ParsePaper accepts letter and a4; anything else is letter.
func ParsePaper(raw string) Paper {
	if lowerASCII(strings.TrimSpace(raw)) == PaperA4.Name {
		return PaperA4
	}
	return PaperLetter
}

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

// chromePrinter prints rendered reports through a headless Chrome.
type chromePrinter struct {
	execPath string
	paper    Paper
	timeout  time.Duration
	lookPath func(string) (string, error)
}

func (p *chromePrinter) binary() (string, error) {
	if p.execPath != "" {
		if _, err := p.lookPath(p.execPath); err != nil {
			return "", fmt.Errorf("%w: %s not found", ErrPDFDependencyMissing, p.execPath)
		}
		return p.execPath, nil
	}
	for _, name := range chromeBinaries {
		if path, err := p.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chrome or chromium binary on PATH", ErrPDFDependencyMissing)
}

func (p *chromePrinter) render(ctx context.Context, doc string, report Report) (*Result, error) {
	bin, err := p.binary()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(bin),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var data []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL(doc)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = p.printParams(report).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print %s to pdf: %w", report.IssueID, err)
	}

	return &Result{
		Data:     data,
		Filename: reportFilename(report.Title, "pdf"),
		MimeType: "application/pdf",
	}, nil
}

func (p *chromePrinter) printParams(report Report) *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(p.paper.Width).
		WithPaperHeight(p.paper.Height).
		WithMarginTop(0.6).
		WithMarginBottom(0.75).
		WithMarginLeft(0.6).
		WithMarginRight(0.6).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate("<span></span>").
		WithFooterTemplate(footerTemplate(report))
}

// footerTemplate prints the issue reference and page counter on every page.
// Chrome fills the pageNumber and totalPages spans itself.
func footerTemplate(report Report) string {
	ref := html.EscapeString(report.IssueID)
	if report.ProjectName != "" {
		ref = html.EscapeString(report.ProjectName) + " / " + ref
	}
	return `<div style="font-size:8px;width:100%;padding:0 0.6in;display:flex;justify-content:space-between;color:#666">` +
		`<span>` + ref + `</span>` +
		`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span>` +
		`</div>`
}

func dataURL(doc string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
}

func newChromePrinter(execPath string, paper Paper, timeout time.Duration) *chromePrinter {
	if paper.Width <= 0 || paper.Height <= 0 {
		paper = PaperLetter
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &chromePrinter{execPath: strings.TrimSpace(execPath), paper: paper, timeout: timeout, lookPath: exec.LookPath}
}
