package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"diariodigest/internal/edition"
	"diariodigest/internal/logger"
	"diariodigest/internal/models"

	"github.com/flytam/filenamify"
	"github.com/jung-kurt/gofpdf"
)

// fileName is the per-date file stem, with the recipient appended when set.
func fileName(dg models.Digest, ext string) string {
	name := "digest-" + dg.Date
	if dg.Recipient != "" {
		name += "-" + safeName(dg.Recipient)
	}
	return name + ext
}

func safeName(s string) string {
	name, err := filenamify.Filenamify(s, filenamify.Options{Replacement: "_"})
	if err != nil {
		name = s
	}
	return strings.NewReplacer("@", "_", " ", "_").Replace(name)
}

// writeFile writes data next to path and renames it into place.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// JSONSink writes one indented JSON file per date into Dir.
type JSONSink struct {
	Dir string
}

func (s JSONSink) Deliver(ctx context.Context, dg models.Digest) error {
	data, err := json.MarshalIndent(dg, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.Dir, fileName(dg, ".json"))
	if err := writeFile(path, append(data, '\n')); err != nil {
		return fmt.Errorf("json sink: %w", err)
	}
	logger.Info("digest: written", map[string]interface{}{"path": path, "documents": len(dg.Documents)})
	return nil
}

var (
	cNavy   = [3]int{20, 45, 90}
	cInk75  = [3]int{64, 64, 64}
	cInk50  = [3]int{107, 107, 107}
	cInk15  = [3]int{217, 217, 217}
	cAmber  = [3]int{154, 123, 46}
	cGreen  = [3]int{42, 107, 69}
	cWhite  = [3]int{255, 255, 255}
	cNoteBg = [3]int{250, 244, 230}
)

const (
	pageW    = 210.0
	marginL  = 18.0
	marginR  = 18.0
	contentW = pageW - marginL - marginR
)

func setFill(pdf *gofpdf.Fpdf, c [3]int) { pdf.SetFillColor(c[0], c[1], c[2]) }
func setText(pdf *gofpdf.Fpdf, c [3]int) { pdf.SetTextColor(c[0], c[1], c[2]) }
func setDraw(pdf *gofpdf.Fpdf, c [3]int) { pdf.SetDrawColor(c[0], c[1], c[2]) }

// PDFSink renders a printable A4 report per date into Dir.
type PDFSink struct {
	Dir string
}

func (s PDFSink) Deliver(ctx context.Context, dg models.Digest) error {
	path := filepath.Join(s.Dir, fileName(dg, ".pdf"))
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("pdf sink: %w", err)
	}
	pdf := Render(dg)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("pdf sink: %w", err)
	}
	logger.Info("digest: pdf written", map[string]interface{}{"path": path})
	return nil
}

// Render lays out the digest. Callers own the returned document.
func Render(dg models.Digest) *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginL, 15, marginR)
	pdf.SetAutoPageBreak(true, 20)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-14)
		setDraw(pdf, cInk15)
		pdf.SetLineWidth(0.3)
		pdf.Line(marginL, pdf.GetY(), pageW-marginR, pdf.GetY())
		pdf.SetY(-11)
		pdf.SetFont("Helvetica", "", 7)
		setText(pdf, cInk50)
		pdf.CellFormat(contentW/2, 6, tr("Diario Oficial "+dg.Date), "", 0, "L", false, 0, "")
		pdf.CellFormat(contentW/2, 6, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()

	// Header band
	setFill(pdf, cNavy)
	pdf.Rect(0, 0, pageW, 38, "F")
	pdf.SetXY(marginL, 12)
	pdf.SetFont("Helvetica", "B", 22)
	setText(pdf, cWhite)
	pdf.CellFormat(contentW, 10, tr("Resumen Diario Oficial"), "", 1, "L", false, 0, "")
	pdf.SetX(marginL)
	pdf.SetFont("Helvetica", "", 10)
	sub := "Fecha " + dg.Date
	if dg.EditionID != "" {
		sub += "  ·  Edición " + dg.EditionID
	}
	if dg.Confidence == string(edition.Low) {
		sub += " (estimada)"
	}
	pdf.CellFormat(contentW, 6, tr(sub), "", 1, "L", false, 0, "")
	pdf.SetY(46)

	if dg.Note != "" {
		setFill(pdf, cNoteBg)
		setText(pdf, cAmber)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(contentW, 6, tr(dg.Note), "", "L", true)
		pdf.Ln(4)
	}

	if dg.Currency != nil {
		pdf.SetFont("Helvetica", "B", 8)
		setText(pdf, cInk50)
		pdf.CellFormat(contentW, 5, tr("VALORES DE REFERENCIA"), "", 1, "L", false, 0, "")
		pdf.SetFont("Courier", "B", 11)
		setText(pdf, cGreen)
		if dg.Currency.USD != "" {
			pdf.CellFormat(contentW/2, 7, tr("USD $"+dg.Currency.USD), "", 0, "L", false, 0, "")
		}
		if dg.Currency.EUR != "" {
			pdf.CellFormat(contentW/2, 7, tr("EUR $"+dg.Currency.EUR), "", 0, "L", false, 0, "")
		}
		pdf.Ln(10)
	}

	var section models.Section
	for _, d := range dg.Documents {
		if d.Section != section || section == "" {
			section = d.Section
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "B", 8)
			setText(pdf, cNavy)
			pdf.CellFormat(contentW, 6, tr(strings.ToUpper(section.Label())), "B", 1, "L", false, 0, "")
			pdf.Ln(2)
		}
		pdf.SetFont("Helvetica", "B", 9.5)
		setText(pdf, cInk75)
		pdf.MultiCell(contentW, 5, tr(d.Title), "", "L", false)
		if d.Annotation.Summary != "" {
			pdf.SetFont("Helvetica", "", 8.5)
			setText(pdf, cInk50)
			pdf.MultiCell(contentW, 4.5, tr(d.Annotation.Summary), "", "L", false)
		}
		pdf.SetFont("Helvetica", "U", 7.5)
		setText(pdf, cNavy)
		pdf.CellFormat(contentW, 5, truncURL(d.PDFURL, 95), "", 1, "L", false, 0, d.PDFURL)
		pdf.Ln(2)
	}
	return pdf
}

func truncURL(url string, max int) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "www.")
	if len(url) > max {
		return url[:max-3] + "..."
	}
	return url
}
