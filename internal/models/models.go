package models

import "time"

// Section is the editorial bucket a document was published under.
type Section string

const (
	GeneralNorms    Section = "GENERAL_NORMS"
	ParticularNorms Section = "PARTICULAR_NORMS"
	FeaturedNotices Section = "FEATURED_NOTICES"
	Unclassified    Section = "UNCLASSIFIED"
)

// ParseSection maps a configured name to a Section, UNCLASSIFIED when unknown.
func ParseSection(s string) Section {
	switch Section(s) {
	case GeneralNorms, ParticularNorms, FeaturedNotices:
		return Section(s)
	}
	return Unclassified
}

// Label is the Spanish heading used in digests.
func (s Section) Label() string {
	switch s {
	case GeneralNorms:
		return "Normas Generales"
	case ParticularNorms:
		return "Normas Particulares"
	case FeaturedNotices:
		return "Avisos Destacados"
	default:
		return "Sin clasificar"
	}
}

type Document struct {
	Title           string  `json:"title"`
	Section         Section `json:"section"`
	PDFURL          string  `json:"pdf_url"`
	PublicationDate string  `json:"publication_date"`
	EditionID       string  `json:"edition_id"`
}

type EditionCacheEntry struct {
	Date        string `json:"date"`
	EditionID   string `json:"edition_id"`
	Provisional bool   `json:"provisional,omitempty"`
}

// RelevanceScore is the coarse relevance grade returned by annotators.
type RelevanceScore string

const (
	ScoreLow    RelevanceScore = "Low"
	ScoreMedium RelevanceScore = "Medium"
	ScoreHigh   RelevanceScore = "High"
)

type Annotation struct {
	Relevant bool           `json:"relevant"`
	Score    RelevanceScore `json:"relevance_score"`
	Summary  string         `json:"summary"`
	Source   string         `json:"source"` // "llm" or "keywords"
}

type AnnotatedDocument struct {
	Document
	Annotation Annotation `json:"annotation"`
}

// CurrencyValues holds the Banco Central reference rates published in the edition.
type CurrencyValues struct {
	USD string `json:"usd,omitempty"`
	EUR string `json:"eur,omitempty"`
}

// SectionFailure records a sub-page that could not be fetched or parsed.
type SectionFailure struct {
	Page  string `json:"page"`
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Digest is the payload handed to notification sinks.
type Digest struct {
	Date        string              `json:"date"`
	Recipient   string              `json:"recipient,omitempty"`
	EditionID   string              `json:"edition_id,omitempty"`
	Confidence  string              `json:"confidence,omitempty"`
	Documents   []AnnotatedDocument `json:"documents"`
	Currency    *CurrencyValues     `json:"currency_reference_values,omitempty"`
	Failures    []SectionFailure    `json:"failures,omitempty"`
	Note        string              `json:"note,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
}
