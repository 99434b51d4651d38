// Package digest assembles the per-date payload handed to notification
// sinks and ships it to them.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"diariodigest/internal/edition"
	"diariodigest/internal/models"
	"diariodigest/internal/pipeline"
)

// NoteUnavailable is the note carried by a digest for which no publication
// could be retrieved.
const NoteUnavailable = "no publications could be retrieved"

const (
	noteEmptyEdition = "the edition carries no publications"
	noteNoneRelevant = "no relevant publications in this edition"
)

var now = time.Now

// Build assembles the digest for d from the documents to be shown, usually
// the relevant subset of res.Documents. res is nil when the date failed as
// a whole; annotated may then be nil too.
func Build(d edition.Date, res *pipeline.Result, annotated []models.AnnotatedDocument, currency *models.CurrencyValues) models.Digest {
	dg := models.Digest{
		Date:        d.String(),
		Documents:   annotated,
		Currency:    currency,
		GeneratedAt: now().UTC(),
	}
	if dg.Documents == nil {
		dg.Documents = []models.AnnotatedDocument{}
	}
	if res == nil {
		dg.Note = NoteUnavailable
		return dg
	}

	dg.EditionID = res.EditionID
	dg.Confidence = string(res.Resolution.Confidence)
	dg.Failures = res.Failures

	switch {
	case len(dg.Documents) == 0 && len(res.Failures) > 0:
		dg.Note = fmt.Sprintf("%s (failed: %s)", NoteUnavailable, failedPages(res.Failures))
	case len(dg.Documents) == 0 && len(res.Documents) > 0:
		dg.Note = noteNoneRelevant
	case len(dg.Documents) == 0:
		dg.Note = noteEmptyEdition
	case len(res.Failures) > 0:
		dg.Note = fmt.Sprintf("partial edition, some sections could not be retrieved: %s", failedPages(res.Failures))
	}
	if res.Resolution.Confidence == edition.Low && dg.Note == "" {
		dg.Note = "edition number estimated"
	}
	return dg
}

func failedPages(fs []models.SectionFailure) string {
	names := make([]string, 0, len(fs))
	for _, f := range fs {
		names = append(names, f.Page)
	}
	return strings.Join(names, ", ")
}

// Relevant keeps the documents annotated as relevant, in order.
func Relevant(docs []models.AnnotatedDocument) []models.AnnotatedDocument {
	out := make([]models.AnnotatedDocument, 0, len(docs))
	for _, d := range docs {
		if d.Annotation.Relevant {
			out = append(out, d)
		}
	}
	return out
}

// Sink receives finished digests.
type Sink interface {
	Deliver(ctx context.Context, dg models.Digest) error
}

// Multi delivers to every sink and returns the first error.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, dg models.Digest) error {
	var first error
	for _, s := range m {
		if err := s.Deliver(ctx, dg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
