package digest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"diariodigest/internal/extract"
	"diariodigest/internal/logger"
	"diariodigest/internal/models"

	"github.com/ledongthuc/pdf"
)

var (
	reDollar         = regexp.MustCompile(`(?i)D[ÓO]LAR\s*EE\.?UU\.?\s*\*?\s*([\d\.,]+)`)
	reDollarObserved = regexp.MustCompile(`(?i)D[ÓO]LAR OBSERVADO[\s\*]*:?\s*\$?([\d\.,]+)`)
	reEuro           = regexp.MustCompile(`(?i)EURO\s*([\d\.,]+)`)
)

// IsCurrencyCertificate reports whether title is the Banco Central notice
// publishing the reference exchange rates.
func IsCurrencyCertificate(title string) bool {
	t := extract.Normalize(title)
	return strings.Contains(t, "TIPOS DE CAMBIO") && strings.Contains(t, "PARIDADES DE MONEDAS")
}

// ParseCurrency pulls the dollar and euro rates out of the certificate
// text. It returns nil when neither is found.
func ParseCurrency(text string) *models.CurrencyValues {
	var v models.CurrencyValues
	m := reDollar.FindStringSubmatch(text)
	if m == nil {
		m = reDollarObserved.FindStringSubmatch(text)
	}
	if m != nil {
		v.USD = decimal(m[1])
	}
	if m := reEuro.FindStringSubmatch(text); m != nil {
		v.EUR = decimal(m[1])
	}
	if v.USD == "" && v.EUR == "" {
		return nil
	}
	return &v
}

// decimal turns "1.234,56" into "1234.56".
func decimal(s string) string {
	s = strings.TrimRight(s, ".,")
	s = strings.ReplaceAll(s, ".", "")
	return strings.Replace(s, ",", ".", 1)
}

// PDFText concatenates the plain text of every page, skipping pages that
// cannot be read.
func PDFText(data []byte) (string, error) {
	return PDFPages(data, 0)
}

// PDFPages is PDFText limited to the first maxPages pages; 0 reads them all.
func PDFPages(data []byte, maxPages int) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	last := r.NumPage()
	if maxPages > 0 && maxPages < last {
		last = maxPages
	}
	var b strings.Builder
	for i := 1; i <= last; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString(" ")
	}
	return b.String(), nil
}

// Downloader fetches a binary document. fetch.HTTPStrategy implements it.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// CurrencyReader extracts reference rates from the certificate published
// in an edition.
type CurrencyReader struct {
	Downloader Downloader
	// Text converts the downloaded bytes. Defaults to PDFText.
	Text func([]byte) (string, error)
}

// Read returns nil, nil when docs carry no certificate.
func (c *CurrencyReader) Read(ctx context.Context, docs []models.Document) (*models.CurrencyValues, error) {
	var target *models.Document
	for i := range docs {
		if IsCurrencyCertificate(docs[i].Title) {
			target = &docs[i]
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	data, err := c.Downloader.Download(ctx, target.PDFURL)
	if err != nil {
		return nil, fmt.Errorf("currency certificate: %w", err)
	}
	toText := c.Text
	if toText == nil {
		toText = PDFText
	}
	text, err := toText(data)
	if err != nil {
		return nil, fmt.Errorf("currency certificate: %w", err)
	}
	v := ParseCurrency(text)
	if v == nil {
		logger.Warn("digest: no rates in currency certificate", map[string]interface{}{"pdf_url": target.PDFURL})
	}
	return v, nil
}
