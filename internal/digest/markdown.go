package digest

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"diariodigest/internal/logger"
	"diariodigest/internal/models"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

// frontmatter is the YAML header of a Markdown digest.
type frontmatter struct {
	Date       string `yaml:"date"`
	Edition    string `yaml:"edition,omitempty"`
	Confidence string `yaml:"confidence,omitempty"`
	Recipient  string `yaml:"recipient,omitempty"`
	Documents  int    `yaml:"documents"`
	Note       string `yaml:"note,omitempty"`
}

// MarkdownSink writes each digest as Markdown with a YAML frontmatter, plus
// the HTML body rendered from it. The HTML is what a mail collaborator
// wraps in its own template.
type MarkdownSink struct {
	Dir string
}

func (s MarkdownSink) Deliver(ctx context.Context, dg models.Digest) error {
	md, err := Markdown(dg)
	if err != nil {
		return err
	}
	body, err := HTML(md)
	if err != nil {
		return err
	}
	mdPath := filepath.Join(s.Dir, fileName(dg, ".md"))
	if err := writeFile(mdPath, md); err != nil {
		return fmt.Errorf("writing markdown digest: %w", err)
	}
	if err := writeFile(filepath.Join(s.Dir, fileName(dg, ".html")), body); err != nil {
		return fmt.Errorf("writing html digest: %w", err)
	}
	logger.Info("digest: markdown written", map[string]interface{}{"path": mdPath, "documents": len(dg.Documents)})
	return nil
}

// Markdown renders dg with its frontmatter, documents grouped by section in
// first-seen order.
func Markdown(dg models.Digest) ([]byte, error) {
	head, err := yaml.Marshal(frontmatter{
		Date:       dg.Date,
		Edition:    dg.EditionID,
		Confidence: dg.Confidence,
		Recipient:  dg.Recipient,
		Documents:  len(dg.Documents),
		Note:       dg.Note,
	})
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# Diario Oficial %s", dg.Date)
	if dg.EditionID != "" {
		fmt.Fprintf(&b, ", edición %s", dg.EditionID)
	}
	b.WriteString("\n\n")
	if dg.Note != "" {
		fmt.Fprintf(&b, "> %s\n\n", mdEscape(dg.Note))
	}
	if c := dg.Currency; c != nil {
		b.WriteString("**Tipos de cambio:**")
		if c.USD != "" {
			fmt.Fprintf(&b, " USD %s", c.USD)
		}
		if c.EUR != "" {
			fmt.Fprintf(&b, " EUR %s", c.EUR)
		}
		b.WriteString("\n\n")
	}

	var order []models.Section
	groups := map[models.Section][]models.AnnotatedDocument{}
	for _, d := range dg.Documents {
		if _, ok := groups[d.Section]; !ok {
			order = append(order, d.Section)
		}
		groups[d.Section] = append(groups[d.Section], d)
	}
	for _, sec := range order {
		fmt.Fprintf(&b, "## %s\n\n", sec.Label())
		for _, d := range groups[sec] {
			fmt.Fprintf(&b, "- [%s](%s)", mdEscape(d.Title), d.PDFURL)
			if d.Annotation.Score != "" {
				fmt.Fprintf(&b, " *(%s)*", d.Annotation.Score)
			}
			if d.Annotation.Summary != "" {
				fmt.Fprintf(&b, "\n  %s", mdEscape(d.Annotation.Summary))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.Bytes(), nil
}

// HTML converts a Markdown digest to HTML, dropping the frontmatter.
func HTML(md []byte) ([]byte, error) {
	content := string(md)
	if strings.HasPrefix(content, "---\n") {
		if parts := strings.SplitN(content, "---", 3); len(parts) == 3 {
			content = parts[2]
		}
	}
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(strings.TrimSpace(content)), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, `[`, `\[`, `]`, `\]`, `*`, `\*`, `_`, `\_`, "`", "\\`", `<`, `&lt;`,
)

func mdEscape(s string) string { return mdEscaper.Replace(s) }
