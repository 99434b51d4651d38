// Package extract turns gazette page snapshots into Document records.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"diariodigest/internal/fetch"
	"diariodigest/internal/logger"
	"diariodigest/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
)

// ExtractionError means the snapshot had neither document rows nor the
// no-content marker.
type ExtractionError struct {
	URL    string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.URL, e.Reason)
}

var verPDF = regexp.MustCompile(`(?i)ver\s+pdf.*$`)

const normalizeFlags = purell.FlagsSafe | purell.FlagRemoveDotSegments | purell.FlagRemoveDuplicateSlashes | purell.FlagRemoveFragment

// CanonicalURL normalizes an absolute URL for comparison and dedup.
func CanonicalURL(raw string) string {
	out, err := purell.NormalizeURLString(strings.TrimSpace(raw), normalizeFlags)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return out
}

type Extractor struct {
	NoContentMarker string
	SummaryMarkers  []string
	Lookback        int
}

func New(marker string, summaryMarkers []string) *Extractor {
	return &Extractor{NoContentMarker: marker, SummaryMarkers: summaryMarkers, Lookback: DefaultLookback}
}

// block is one row or free-standing heading in document order.
type block struct {
	sel  *goquery.Selection
	cand Candidate
	href string // PDF link of a document row
}

// Extract parses snap with no page-level default section.
func (x *Extractor) Extract(snap *fetch.Snapshot, base string) ([]models.Document, error) {
	return x.ExtractPage(snap, base, models.Unclassified)
}

// ExtractPage parses snap. def is applied to rows the heuristic leaves
// UNCLASSIFIED, but only when the page has no recognised heading at all.
func (x *Extractor) ExtractPage(snap *fetch.Snapshot, base string, def models.Section) ([]models.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, &ExtractionError{URL: snap.URL, Reason: err.Error()}
	}
	baseURL := x.resolveBase(doc, snap, base)
	blocks := collectBlocks(doc)

	hasHeadings := false
	for _, b := range blocks {
		if _, ok := headingSection(b.cand); ok && !b.cand.Document {
			hasHeadings = true
			break
		}
	}

	docs := []models.Document{}
	rows := 0
	for i, b := range blocks {
		if !b.cand.Document {
			continue
		}
		title, ok := rowTitle(b.sel)
		if !ok {
			logger.Debug("extract: skipping row without title cell", map[string]interface{}{"url": snap.URL, "href": b.href})
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(b.href))
		if err != nil {
			continue
		}
		rows++
		pdfURL := CanonicalURL(baseURL.ResolveReference(ref).String())
		if x.isSummary(pdfURL) {
			continue
		}

		section := ClassifySection(SectionContext{Preceding: preceding(blocks, i), Lookback: x.Lookback})
		if section == models.Unclassified && def != models.Unclassified && !hasHeadings {
			section = def
		}
		docs = append(docs, models.Document{Title: title, Section: section, PDFURL: pdfURL})
	}

	if rows == 0 && !snap.NoContent && !hasMarker(snap.HTML, x.NoContentMarker) {
		return nil, &ExtractionError{URL: snap.URL, Reason: "no document rows and no no-content marker"}
	}
	return docs, nil
}

func hasMarker(html, marker string) bool {
	return marker != "" && strings.Contains(Normalize(html), Normalize(marker))
}

func (x *Extractor) isSummary(pdfURL string) bool {
	u, err := url.Parse(pdfURL)
	path := strings.ToLower(pdfURL)
	if err == nil {
		path = strings.ToLower(u.Path)
	}
	for _, m := range x.SummaryMarkers {
		if m != "" && strings.Contains(path, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// resolveBase picks the URL relative links resolve against: a <base href>
// if present, else base, else the snapshot's final URL.
func (x *Extractor) resolveBase(doc *goquery.Document, snap *fetch.Snapshot, base string) *url.URL {
	root := base
	if root == "" {
		root = snap.FinalURL
	}
	if root == "" {
		root = snap.URL
	}
	u, err := url.Parse(root)
	if err != nil {
		u = &url.URL{}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := url.Parse(href); err == nil {
			u = u.ResolveReference(b)
		}
	}
	return u
}

// collectBlocks flattens leaf table rows and free-standing headings in
// document order. Container rows of layout tables are left out.
func collectBlocks(doc *goquery.Document) []block {
	var out []block
	doc.Find("tr, h1, h2, h3, h4, b, strong").Each(func(_ int, s *goquery.Selection) {
		if s.Is("tr") {
			if s.Find("tr").Length() > 0 {
				return
			}
			out = append(out, rowBlock(s))
			return
		}
		if tr := s.Closest("tr"); tr.Length() > 0 && tr.Find("tr").Length() == 0 {
			return
		}
		out = append(out, block{sel: s, cand: Candidate{Text: collapse(s.Text()), Emphasis: true}})
	})
	return out
}

func pdfLink(s *goquery.Selection) (string, bool) {
	var href string
	s.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		l := strings.ToLower(h)
		if strings.HasSuffix(l, ".pdf") || strings.Contains(l, ".pdf?") || strings.Contains(l, ".pdf#") {
			href = h
			return false
		}
		return true
	})
	return href, href != ""
}

func rowBlock(tr *goquery.Selection) block {
	cells := tr.ChildrenFiltered("td, th")
	c := Candidate{Text: collapse(tr.Text())}

	cells.EachWithBreak(func(_ int, td *goquery.Selection) bool {
		c.BGColor = bgcolor(td)
		return c.BGColor == ""
	})
	if c.BGColor == "" {
		c.BGColor = bgcolor(tr)
	}
	if _, ok := cells.Attr("colspan"); ok && cells.Length() == 1 {
		c.Colspan = true
	}
	if cells.Filter("th").Length() > 0 {
		c.Emphasis = true
	} else if em := collapse(tr.Find("b, strong").Text()); em != "" && em == c.Text {
		c.Emphasis = true
	}

	href, ok := pdfLink(tr)
	c.Document = ok
	return block{sel: tr, cand: c, href: href}
}

func bgcolor(s *goquery.Selection) string {
	if v, ok := s.Attr("bgcolor"); ok {
		return strings.ToLower(strings.TrimSpace(v))
	}
	style, _ := s.Attr("style")
	style = strings.ToLower(style)
	if i := strings.Index(style, "background-color:"); i >= 0 {
		v := strings.TrimSpace(style[i+len("background-color:"):])
		if j := strings.IndexAny(v, "; "); j >= 0 {
			v = v[:j]
		}
		return v
	}
	return ""
}

// rowTitle returns the first non-empty cell without the PDF link, falling
// back to the link cell's text. Rows with fewer than two cells are skipped.
func rowTitle(tr *goquery.Selection) (string, bool) {
	cells := tr.ChildrenFiltered("td")
	if cells.Length() < 2 {
		return "", false
	}
	var title, fallback string
	cells.EachWithBreak(func(_ int, td *goquery.Selection) bool {
		text := collapse(verPDF.ReplaceAllString(collapse(td.Text()), ""))
		if _, has := pdfLink(td); has {
			if fallback == "" {
				fallback = text
			}
			return true
		}
		if text != "" {
			title = text
			return false
		}
		return true
	})
	if title == "" {
		title = fallback
	}
	return title, title != ""
}

// preceding returns the candidates before index i, nearest first.
func preceding(blocks []block, i int) []Candidate {
	out := make([]Candidate, 0, i)
	for j := i - 1; j >= 0; j-- {
		out = append(out, blocks[j].cand)
	}
	return out
}
