// Package discovery finds job postings on external boards and feeds them to the pipeline.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/jobhunter/internal/fetch"
	"github.com/jonathan/jobhunter/internal/types"
)

// Source yields postings from one place.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]types.JobPosting, error)
}

// detailConcurrency bounds concurrent detail page fetches per source.
const detailConcurrency = 4

// HTMLSource scrapes a board's listing page with CSS selectors.
type HTMLSource struct {
	name         string
	url          string
	company      string
	selectors    fetch.ListingSelectors
	fetchDetails bool
	fetcher      *fetch.Fetcher
	logger       *slog.Logger
}

// NewHTMLSource creates a listing scraper. When fetchDetails is set each posting's
// page is fetched too, for its description and requirements.
func NewHTMLSource(name, listingURL, company string, selectors fetch.ListingSelectors, fetchDetails bool, fetcher *fetch.Fetcher, logger *slog.Logger) (*HTMLSource, error) {
	if !selectors.Valid() {
		return nil, fmt.Errorf("source %s: listing selectors need item and title", name)
	}
	if fetcher == nil {
		fetcher = fetch.NewFetcher(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTMLSource{
		name:         name,
		url:          listingURL,
		company:      company,
		selectors:    selectors,
		fetchDetails: fetchDetails,
		fetcher:      fetcher,
		logger:       logger,
	}, nil
}

// Name implements Source.
func (s *HTMLSource) Name() string { return s.name }

// Fetch implements Source.
func (s *HTMLSource) Fetch(ctx context.Context) ([]types.JobPosting, error) {
	page, err := s.fetcher.Fetch(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := fetch.Document(page.HTML)
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(s.url)

	var postings []types.JobPosting
	doc.Find(s.selectors.Item).Each(func(_ int, item *goquery.Selection) {
		if p, ok := s.parseItem(item, base); ok {
			postings = append(postings, p)
		}
	})
	s.logger.Debug("listing parsed", "source", s.name, "postings", len(postings), "rendered", page.Rendered)

	if s.fetchDetails {
		s.addDetails(ctx, postings)
	}
	return postings, nil
}

func (s *HTMLSource) parseItem(item *goquery.Selection, base *url.URL) (types.JobPosting, bool) {
	titleSel := item.Find(s.selectors.Title).First()
	title := collapse(titleSel.Text())
	if title == "" {
		return types.JobPosting{}, false
	}

	linkSel := titleSel
	if s.selectors.Link != "" {
		linkSel = item.Find(s.selectors.Link).First()
	}
	href, ok := linkSel.Attr("href")
	if !ok {
		href, _ = linkSel.Find("a").First().Attr("href")
	}
	link := resolve(base, href)

	company := s.company
	if s.selectors.Company != "" {
		if c := collapse(item.Find(s.selectors.Company).First().Text()); c != "" {
			company = c
		}
	}
	location := ""
	if s.selectors.Location != "" {
		location = collapse(item.Find(s.selectors.Location).First().Text())
	}
	description := ""
	if s.selectors.Description != "" {
		description = collapse(item.Find(s.selectors.Description).First().Text())
	}

	key := link
	if key == "" {
		key = s.url + "#" + title
	}
	return types.JobPosting{
		ID:          postingID(key),
		Title:       title,
		Company:     company,
		Location:    location,
		Remote:      strings.Contains(strings.ToLower(location), "remote"),
		Description: description,
		URL:         link,
		Source:      s.name,
	}, true
}

// addDetails fills description and requirements from each posting's own page.
// A failed detail fetch leaves the listing data in place.
func (s *HTMLSource) addDetails(ctx context.Context, postings []types.JobPosting) {
	var g errgroup.Group
	g.SetLimit(detailConcurrency)
	for i := range postings {
		if postings[i].URL == "" {
			continue
		}
		g.Go(func() error {
			p := &postings[i]
			platform := fetch.DetectPlatform(p.URL)
			page, err := s.fetcher.Fetch(ctx, p.URL, fetch.PlatformContentSelectors(platform))
			if err != nil {
				s.logger.Warn("posting detail fetch failed", "source", s.name, "url", p.URL, "error", err)
				return nil
			}
			desc, reqs, err := parseDetail(page.HTML, platform)
			if err != nil {
				s.logger.Warn("posting detail parse failed", "source", s.name, "url", p.URL, "error", err)
				return nil
			}
			p.Description = desc
			p.Requirements = reqs
			return nil
		})
	}
	_ = g.Wait()
}

// parseDetail returns the main text of a posting page and its bullet points as requirements.
func parseDetail(html string, platform fetch.Platform) (string, []string, error) {
	doc, err := fetch.Document(html)
	if err != nil {
		return "", nil, err
	}
	doc.Find(strings.Join(fetch.PlatformNoiseSelectors(platform), ", ")).Remove()

	var content *goquery.Selection
	for _, sel := range fetch.PlatformContentSelectors(platform) {
		if found := doc.Find(sel); found.Length() > 0 {
			content = found.First()
			break
		}
	}
	if content == nil {
		content = doc.Find("body")
	}

	var reqs []string
	content.Find("li").Each(func(_ int, li *goquery.Selection) {
		if text := collapse(li.Text()); text != "" {
			reqs = append(reqs, text)
		}
	})
	return fetch.SelectionText(content, nil), reqs, nil
}

// FileSource reads postings from a JSON array on disk.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name implements Source.
func (s *FileSource) Name() string { return "file:" + s.path }

// Fetch implements Source.
func (s *FileSource) Fetch(_ context.Context) ([]types.JobPosting, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read postings file: %w", err)
	}
	var postings []types.JobPosting
	if err := json.Unmarshal(data, &postings); err != nil {
		return nil, fmt.Errorf("failed to parse postings file %s: %w", s.path, err)
	}
	for i := range postings {
		if postings[i].Source == "" {
			postings[i].Source = s.Name()
		}
		if postings[i].ID == "" && postings[i].URL != "" {
			postings[i].ID = postingID(postings[i].URL)
		}
	}
	return postings, nil
}

// postingID derives a stable id so the same posting found twice is a duplicate.
func postingID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
