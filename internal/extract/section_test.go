package extract

import (
	"testing"

	"diariodigest/internal/models"
)

func filler(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{Text: "texto"}
	}
	return out
}

func TestClassifySection_HeadingAnyCase(t *testing.T) {
	for _, text := range []string{"NORMAS PARTICULARES", "normas particulares", "Normas   Particulares"} {
		ctx := SectionContext{Preceding: []Candidate{{Text: text, BGColor: "#E0E0E0"}}}
		if got := ClassifySection(ctx); got != models.ParticularNorms {
			t.Errorf("%q classified as %s", text, got)
		}
	}
}

func TestClassifySection_NoHeading(t *testing.T) {
	if got := ClassifySection(SectionContext{Preceding: filler(5)}); got != models.Unclassified {
		t.Errorf("got %s, want UNCLASSIFIED", got)
	}
	if got := ClassifySection(SectionContext{}); got != models.Unclassified {
		t.Errorf("empty context got %s", got)
	}
}

func TestClassifySection_Lookback(t *testing.T) {
	heading := Candidate{Text: "NORMAS GENERALES", BGColor: "#e0e0e0"}
	far := append(filler(12), heading)

	if got := ClassifySection(SectionContext{Preceding: far, Lookback: 12}); got != models.Unclassified {
		t.Errorf("heading beyond lookback found: %s", got)
	}
	if got := ClassifySection(SectionContext{Preceding: far, Lookback: 13}); got != models.GeneralNorms {
		t.Errorf("heading within lookback missed: %s", got)
	}
}

func TestClassifySection_DocumentRowsAreFree(t *testing.T) {
	var preceding []Candidate
	for i := 0; i < 40; i++ {
		preceding = append(preceding, Candidate{Text: "DECRETO", Document: true})
	}
	preceding = append(preceding, Candidate{Text: "AVISOS DESTACADOS", Emphasis: true})
	if got := ClassifySection(SectionContext{Preceding: preceding}); got != models.FeaturedNotices {
		t.Errorf("got %s", got)
	}
}

func TestClassifySection_PlainTextIsNotHeading(t *testing.T) {
	ctx := SectionContext{Preceding: []Candidate{{Text: "NORMAS GENERALES"}}}
	if got := ClassifySection(ctx); got != models.Unclassified {
		t.Errorf("unstyled text treated as heading: %s", got)
	}
}

func TestClassifySection_UntrackedHeadingStops(t *testing.T) {
	ctx := SectionContext{Preceding: []Candidate{
		{Text: "Publicaciones Judiciales", BGColor: "#E0E0E0"},
		{Text: "NORMAS GENERALES", BGColor: "#E0E0E0"},
	}}
	if got := ClassifySection(ctx); got != models.Unclassified {
		t.Errorf("got %s", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Resolución  Exenta":   "RESOLUCION EXENTA",
		" normas\nparticulares": "NORMAS PARTICULARES",
		"DÓLAR EE.UU.":         "DOLAR EE.UU.",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
