package fetch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// MinContentLength is the extracted text length below which a page is assumed to
// be rendered client-side.
const MinContentLength = 200

// ShouldUseBrowser reports whether extracted text is too short to be the real page.
func ShouldUseBrowser(extractedText string) bool {
	return len(strings.TrimSpace(extractedText)) < MinContentLength
}

// Renderer returns the HTML of a page after scripts have run.
type Renderer func(ctx context.Context, url string) (string, error)

// ChromeRenderer renders pages in headless Chrome. Chrome or Chromium must be installed.
func ChromeRenderer(timeout time.Duration, logger *slog.Logger) Renderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, url string) (string, error) {
		logger.Debug("rendering page in browser", "url", url)

		allocCtx, cancel := chromedp.NewExecAllocator(ctx,
			append(chromedp.DefaultExecAllocatorOptions[:],
				chromedp.Flag("headless", true),
				chromedp.Flag("disable-gpu", true),
				chromedp.Flag("no-sandbox", true),
				chromedp.Flag("disable-dev-shm-usage", true),
			)...,
		)
		defer cancel()
		browserCtx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()
		browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
		defer cancel()

		var html string
		err := chromedp.Run(browserCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body"),
			// job boards fill their listings after load
			chromedp.Sleep(2*time.Second),
			chromedp.OuterHTML("html", &html),
		)
		if err != nil {
			return "", &Error{URL: url, Message: "browser rendering failed", Cause: err}
		}
		logger.Debug("rendered page", "url", url, "bytes", len(html))
		return html, nil
	}
}

// Fetcher fetches pages, falling back to a browser for script-rendered pages and
// optionally caching results.
type Fetcher struct {
	opts   *Options
	render Renderer
	cache  PageCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewFetcher creates a Fetcher without browser fallback or cache.
func NewFetcher(opts *Options, logger *slog.Logger) *Fetcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{opts: opts, logger: logger}
}

// WithBrowser enables the browser fallback.
func (f *Fetcher) WithBrowser(r Renderer) *Fetcher {
	f.render = r
	return f
}

// WithCache stores fetched pages for ttl.
func (f *Fetcher) WithCache(c PageCache, ttl time.Duration) *Fetcher {
	f.cache = c
	f.ttl = ttl
	return f
}

// Fetch returns a page's HTML. textSelectors decide what counts as content when
// judging whether the browser fallback is needed.
func (f *Fetcher) Fetch(ctx context.Context, url string, textSelectors []string) (*Page, error) {
	if f.cache != nil {
		if html, ok := f.cache.Get(ctx, url); ok {
			return &Page{URL: url, HTML: html, StatusCode: 200, FromCache: true}, nil
		}
	}

	page, err := URL(ctx, url, f.opts)
	if err != nil {
		return nil, err
	}

	if f.render != nil {
		text, _ := ExtractMainText(page.HTML, textSelectors)
		if ShouldUseBrowser(text) {
			html, err := f.render(ctx, url)
			if err != nil {
				f.logger.Warn("browser fallback failed, using static HTML", "url", url, "error", err)
			} else {
				page.HTML = html
				page.Rendered = true
			}
		}
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, url, page.HTML, f.ttl); err != nil {
			f.logger.Warn("failed to cache page", "url", url, "error", err)
		}
	}
	return page, nil
}
