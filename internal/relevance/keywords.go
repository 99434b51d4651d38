// Package relevance grades extracted documents and, when a language model
// is configured, attaches a short plain-language summary.
package relevance

import (
	"context"
	"strings"
	"unicode"

	"diariodigest/internal/extract"
	"diariodigest/internal/models"
)

// Annotator attaches an Annotation to every document, in order.
type Annotator interface {
	Annotate(ctx context.Context, docs []models.Document) ([]models.AnnotatedDocument, error)
}

const SourceKeywords = "keywords"

// Keyword lists are matched as whole words against Normalize'd titles, so
// accents and case never matter.
var (
	strongKeywords = []string{
		"LEY", "DECRETO CON FUERZA DE LEY", "REFORMA CONSTITUCIONAL", "MODIFICACION DE LEY",
	}
	relevantKeywords = []string{
		"DECRETO SUPREMO", "RESOLUCION GENERAL", "REGLAMENTO", "POLITICA NACIONAL",
		"BENEFICIO NACIONAL", "OBLIGACION GENERAL", "DERECHO GENERAL",
	}
	excludedKeywords = []string{
		"DESIGNACION", "NOMBRAMIENTO", "RENUNCIA", "ACEPTA", "CAMBIO DE PERSONA", "AUTORIZA",
		"PERMISO", "CONCESION", "RECTIFICACION", "MUNICIPALIDAD", "LOCALIDAD", "SECTOR",
		"NOTARIO", "OFICIAL DEL REGISTRO CIVIL", "EXTRACTO", "INDIVIDUAL", "PERSONAL",
		"PARTICULAR", "APLICA A", "APLICA EN", "DIRECTOR REGIONAL", "SECRETARIA REGIONAL",
		"ZONA", "FUNCIONARIO", "FUNCIONARIA",
	}
	// High-rank offices override the exclusions.
	exceptionKeywords = []string{
		"MINISTRO DEL INTERIOR", "MINISTRO DE HACIENDA", "PRESIDENTE DE LA REPUBLICA",
		"VICEPRESIDENTE DE LA REPUBLICA", "DIRECTOR NACIONAL", "SUBSECRETARIO DEL INTERIOR",
		"SUBSECRETARIA DEL INTERIOR",
	}
	tenderKeywords = []string{
		"LICITACION", "LICITACION PUBLICA", "CONCURSO PUBLICO", "BASES DE LICITACION",
	}
)

// KeywordClassifier is the rule-based grader. It never fails and never
// produces a summary.
type KeywordClassifier struct{}

// Classify grades a single title.
func (KeywordClassifier) Classify(title string) models.Annotation {
	text := " " + words(title) + " "
	a := models.Annotation{Score: models.ScoreLow, Source: SourceKeywords}

	switch {
	case containsAny(text, tenderKeywords), containsAny(text, exceptionKeywords):
		a.Relevant, a.Score = true, models.ScoreHigh
	case containsAny(text, excludedKeywords):
	case containsAny(text, strongKeywords):
		a.Relevant, a.Score = true, models.ScoreHigh
	case containsAny(text, relevantKeywords):
		a.Relevant, a.Score = true, models.ScoreMedium
	}
	return a
}

func (k KeywordClassifier) Annotate(ctx context.Context, docs []models.Document) ([]models.AnnotatedDocument, error) {
	out := make([]models.AnnotatedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.AnnotatedDocument{Document: d, Annotation: k.Classify(d.Title)})
	}
	return out, nil
}

// words is the normalized title with punctuation turned into spaces.
func words(title string) string {
	f := strings.FieldsFunc(extract.Normalize(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(f, " ")
}

// containsAny reports whether padded text holds any keyword as whole words.
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, " "+kw+" ") {
			return true
		}
	}
	return false
}
