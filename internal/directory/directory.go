// Package directory resolves the list of dispatch centers from the public
// directory page, either live over HTTP or from a captured copy on disk.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/fetcher"
	"github.com/sells-group/wildfire-cli/internal/model"
)

// DiscoveryError reports a directory page whose center table could not be
// found at all. A table with no usable rows is not an error.
type DiscoveryError struct {
	Source string
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("directory: %s: %s", e.Source, e.Reason)
}

// Resolver turns the directory page into dispatch centers.
type Resolver struct {
	fetcher fetcher.Fetcher
	url     string
	clock   clockwork.Clock
	log     *zap.Logger
}

// NewResolver creates a Resolver reading directoryURL through f.
func NewResolver(f fetcher.Fetcher, directoryURL string, clk clockwork.Clock, log *zap.Logger) *Resolver {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Resolver{
		fetcher: f,
		url:     directoryURL,
		clock:   clk,
		log:     log.With(zap.String("component", "directory")),
	}
}

// Resolve downloads and parses the live directory page.
func (r *Resolver) Resolve(ctx context.Context) ([]model.DispatchCenter, error) {
	body, err := r.fetcher.Download(ctx, r.url)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: fetch %s", r.url)
	}
	defer body.Close() //nolint:errcheck

	return r.parse(body, r.url, r.url)
}

// ResolveFile parses a directory page saved at path. Relative links resolve
// against the configured directory URL.
func (r *Resolver) ResolveFile(path string) ([]model.DispatchCenter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "directory: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return r.parse(f, path, r.url)
}

func (r *Resolver) parse(body io.Reader, source, base string) ([]model.DispatchCenter, error) {
	centers, skipped, err := Parse(body, base, r.clock.Now().UTC())
	if err != nil {
		var de *DiscoveryError
		if errors.As(err, &de) {
			de.Source = source
		}
		return nil, err
	}
	for _, s := range skipped {
		r.log.Debug("skipping directory row", zap.Int("row", s.Row), zap.String("reason", s.Reason))
	}
	if len(centers) == 0 {
		r.log.Warn("directory table has no usable rows", zap.String("source", source))
	}
	r.log.Info("resolved dispatch centers",
		zap.String("source", source),
		zap.Int("centers", len(centers)),
		zap.Int("skipped", len(skipped)),
	)
	return centers, nil
}

// SkippedRow describes a table row that did not yield a center.
type SkippedRow struct {
	Row    int
	Reason string
}

// Parse extracts centers from a directory page. Each data row contributes a
// center when it has at least three cells and a link in the third: the first
// cell is the name, the second the status, and the link text and target are
// the center code and source URL.
func Parse(body io.Reader, baseURL string, now time.Time) ([]model.DispatchCenter, []SkippedRow, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "directory: parse html")
	}

	table := findTable(doc)
	if table == nil {
		return nil, nil, &DiscoveryError{Reason: "no center table found"}
	}

	base, _ := url.Parse(baseURL)

	var centers []model.DispatchCenter
	var skipped []SkippedRow
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.ChildrenFiltered("td,th")
		if cells.Length() < 3 {
			skipped = append(skipped, SkippedRow{Row: i, Reason: "fewer than 3 cells"})
			return
		}
		link := cells.Eq(2).Find("a").First()
		href, ok := link.Attr("href")
		code := strings.TrimSpace(link.Text())
		if link.Length() == 0 || !ok || code == "" {
			skipped = append(skipped, SkippedRow{Row: i, Reason: "no center link"})
			return
		}
		centers = append(centers, model.NewDispatchCenter(
			code,
			strings.TrimSpace(cells.Eq(0).Text()),
			strings.TrimSpace(cells.Eq(1).Text()),
			resolveHref(base, strings.TrimSpace(href)),
			now,
		))
	})
	return centers, skipped, nil
}

// findTable prefers the bordered directory table and otherwise takes the first
// table whose rows carry links in a third cell.
func findTable(doc *goquery.Document) *goquery.Selection {
	if t := doc.Find(`table[border="1"]`).First(); t.Length() > 0 {
		return t
	}
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if t.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.ChildrenFiltered("td").Eq(2).Find("a").Length() > 0
		}).Length() > 0 {
			found = t
			return false
		}
		return true
	})
	return found
}

func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil || ref.IsAbs() {
		return href
	}
	return base.ResolveReference(ref).String()
}
