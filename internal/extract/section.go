package extract

import (
	"strings"

	"diariodigest/internal/models"
)

// DefaultLookback is how many non-document elements ClassifySection walks
// back through before giving up.
const DefaultLookback = 12

// headerColors are the cell backgrounds the gazette uses for headings.
var headerColors = map[string]bool{
	"#e0e0e0": true,
	"#c0c0c0": true,
	"#d3d3d3": true,
	"#cccccc": true,
	"#dddddd": true,
	"#eeeeee": true,
}

// vocabulary maps normalized heading text to a section. Headings of
// sections this service does not track map to UNCLASSIFIED, which stops the
// walk so their rows are not attributed to an earlier heading.
var vocabulary = []struct {
	text    string
	section models.Section
}{
	{"NORMAS GENERALES", models.GeneralNorms},
	{"NORMAS PARTICULARES", models.ParticularNorms},
	{"AVISOS DESTACADOS", models.FeaturedNotices},
	{"PUBLICACIONES JUDICIALES", models.Unclassified},
	{"EMPRESAS Y COOPERATIVAS", models.Unclassified},
	{"CONCURSOS PUBLICOS", models.Unclassified},
	{"EXTRACTOS", models.Unclassified},
}

// Candidate is one element preceding a document row, as seen by the
// heuristic. Rows are flattened with their cells' attributes.
type Candidate struct {
	Text     string
	BGColor  string
	Colspan  bool
	Emphasis bool // h1-h4, th, b or strong carries the text
	Document bool // the element is itself a document row
}

// SectionContext is everything ClassifySection may look at.
type SectionContext struct {
	// Preceding is ordered nearest first.
	Preceding []Candidate
	Lookback  int
}

// headingSection reports the section a candidate heads, if it is a
// recognised heading at all.
func headingSection(c Candidate) (models.Section, bool) {
	if !(headerColors[strings.ToLower(c.BGColor)] || c.Emphasis || c.Colspan) {
		return "", false
	}
	text := Normalize(c.Text)
	if len(text) > 80 {
		return "", false
	}
	for _, v := range vocabulary {
		if text == v.text || strings.HasPrefix(text, v.text+" ") {
			return v.section, true
		}
	}
	return "", false
}

// ClassifySection walks back from a document row to the nearest recognised
// heading. Document rows are passed over for free; every other element
// uses up one step of the lookback. UNCLASSIFIED when nothing is found.
func ClassifySection(ctx SectionContext) models.Section {
	lookback := ctx.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	steps := 0
	for _, c := range ctx.Preceding {
		if c.Document {
			continue
		}
		steps++
		if steps > lookback {
			break
		}
		if sec, ok := headingSection(c); ok {
			return sec
		}
	}
	return models.Unclassified
}
