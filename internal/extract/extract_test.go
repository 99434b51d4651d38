package extract

import (
	"errors"
	"testing"

	"diariodigest/internal/fetch"
	"diariodigest/internal/models"
)

const pageURL = "https://www.diariooficial.interior.gob.cl/edicionelectronica/index.php?date=21-07-2025&edition=44204"

var summaryMarkers = []string{"/sumarios/", "sumario"}

const editionPage = `<html><body>
<table width="100%"><tr><td>
<table>
<tr><td colspan="2" bgcolor="#E0E0E0">NORMAS GENERALES</td></tr>
<tr><td colspan="2" bgcolor="#E0E0E0"><b>PODER EJECUTIVO</b></td></tr>
<tr><td colspan="2"><b>Ministerio de Hacienda</b></td></tr>
<tr class="content">
  <td>  LEY NÚM. 21.700
      MODIFICA EL CÓDIGO TRIBUTARIO </td>
  <td><a href="/publicaciones/2025/07/21/44204/01/2678901.pdf">Ver PDF (120 KB)</a></td>
</tr>
<tr class="content">
  <td>Sumario de la edición</td>
  <td><a href="/publicaciones/2025/07/21/sumarios/44204.pdf">Ver PDF</a></td>
</tr>
<tr><td colspan="2" bgcolor="#e0e0e0">Normas  Particulares</td></tr>
<tr class="content">
  <td>Resolución exenta 45, de 2025</td>
  <td><a href="../publicaciones/2025/07/21/44204/01/2678950.pdf">Ver PDF</a></td>
</tr>
<tr class="content"><td></td></tr>
<tr class="content"><td><a href="/publicaciones/2025/07/21/44204/01/orphan.pdf">Ver PDF</a></td></tr>
<tr><td colspan="2" bgcolor="#E0E0E0">PUBLICACIONES JUDICIALES</td></tr>
<tr class="content">
  <td>Notificación judicial</td>
  <td><a href="/publicaciones/2025/07/21/44204/01/2678999.pdf">Ver PDF</a></td>
</tr>
</table>
</td></tr></table>
</body></html>`

func snapshot(html string) *fetch.Snapshot {
	return &fetch.Snapshot{URL: pageURL, FinalURL: pageURL, HTML: html, Strategy: fetch.StrategyHTTP}
}

func TestExtract_EditionPage(t *testing.T) {
	x := New("No existen publicaciones", summaryMarkers)
	docs, err := x.Extract(snapshot(editionPage), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents: %+v", len(docs), docs)
	}

	want := []struct {
		title   string
		section models.Section
		url     string
	}{
		{"LEY NÚM. 21.700 MODIFICA EL CÓDIGO TRIBUTARIO", models.GeneralNorms,
			"https://www.diariooficial.interior.gob.cl/publicaciones/2025/07/21/44204/01/2678901.pdf"},
		{"Resolución exenta 45, de 2025", models.ParticularNorms,
			"https://www.diariooficial.interior.gob.cl/publicaciones/2025/07/21/44204/01/2678950.pdf"},
		{"Notificación judicial", models.Unclassified,
			"https://www.diariooficial.interior.gob.cl/publicaciones/2025/07/21/44204/01/2678999.pdf"},
	}
	for i, w := range want {
		if docs[i].Title != w.title || docs[i].Section != w.section || docs[i].PDFURL != w.url {
			t.Errorf("doc %d = %+v, want %+v", i, docs[i], w)
		}
	}
}

func TestExtract_NoContentMarker(t *testing.T) {
	x := New("No existen publicaciones", summaryMarkers)
	page := `<html><body><p>No existen publicaciones en esta edición en la fecha seleccionada</p></body></html>`
	docs, err := x.Extract(snapshot(page), "")
	if err != nil {
		t.Fatalf("marker page should not fail: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("got %d documents", len(docs))
	}
}

func TestExtract_MalformedPage(t *testing.T) {
	x := New("No existen publicaciones", summaryMarkers)
	_, err := x.Extract(snapshot(`<html><body><h1>Servicio no disponible</h1></body></html>`), "")
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExtractionError", err)
	}
}

func TestExtract_PageDefaultSection(t *testing.T) {
	x := New("No existen publicaciones", summaryMarkers)
	page := `<table>
<tr class="content"><td>Aviso de la Superintendencia</td><td><a href="/avisos/1.pdf">Ver PDF</a></td></tr>
</table>`
	docs, err := x.ExtractPage(snapshot(page), "", models.FeaturedNotices)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Section != models.FeaturedNotices {
		t.Errorf("docs = %+v", docs)
	}

	docs, _ = x.Extract(snapshot(page), "")
	if docs[0].Section != models.Unclassified {
		t.Errorf("without a default the row is %s", docs[0].Section)
	}
}

func TestExtract_DefaultIgnoredWhenPageHasHeadings(t *testing.T) {
	x := New("No existen publicaciones", summaryMarkers)
	page := `<table>
<tr><td bgcolor="#E0E0E0">NORMAS GENERALES</td></tr>
<tr><td>a</td></tr><tr><td>b</td></tr><tr><td>c</td></tr>
</table>
<table>
<tr class="content"><td>Aviso</td><td><a href="/avisos/1.pdf">Ver PDF</a></td></tr>
</table>`
	x.Lookback = 2
	docs, _ := x.ExtractPage(snapshot(page), "", models.FeaturedNotices)
	if len(docs) != 1 || docs[0].Section != models.Unclassified {
		t.Errorf("docs = %+v", docs)
	}
}

func TestExtract_BaseHref(t *testing.T) {
	x := New("", summaryMarkers)
	page := `<html><head><base href="https://cdn.example.cl/docs/"></head><body><table>
<tr><td>Decreto</td><td><a href="d1.pdf">ver pdf</a></td></tr></table></body></html>`
	docs, err := x.Extract(snapshot(page), "")
	if err != nil {
		t.Fatal(err)
	}
	if docs[0].PDFURL != "https://cdn.example.cl/docs/d1.pdf" {
		t.Errorf("PDFURL = %s", docs[0].PDFURL)
	}
}

func TestCanonicalURL(t *testing.T) {
	got := CanonicalURL(" HTTPS://WWW.DiarioOficial.interior.gob.cl:443/publicaciones//2025/./07/x.pdf#page=2 ")
	want := "https://www.diariooficial.interior.gob.cl/publicaciones/2025/07/x.pdf"
	if got != want {
		t.Errorf("CanonicalURL = %s, want %s", got, want)
	}
}
