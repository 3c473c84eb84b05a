package report

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"exambuilder-server/models"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders a paper summary: totals, marks per topic and the parts taken from
// each question.
func Markdown(p models.GeneratedPaper) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Paper %s\n\n", p.PublicID)
	fmt.Fprintf(&b, "- Exam: %s\n", p.ExamCode)
	fmt.Fprintf(&b, "- Total: %d / %d marks (tolerance %d)\n", p.TotalMarks, p.TargetMarks, p.Tolerance)
	fmt.Fprintf(&b, "- Within tolerance: %s\n", yesNo(p.WithinTolerance))
	fmt.Fprintf(&b, "- Part mode: %s\n", p.PartMode)
	fmt.Fprintf(&b, "- Seed: %d\n", p.Seed)
	if p.KeywordMode {
		b.WriteString("- Selected by keyword\n")
	}

	if len(p.MarksPerTopic) > 0 {
		b.WriteString("\n## Topics\n\n| Topic | Marks | Parts |\n|---|---:|---:|\n")
		topics := make([]string, 0, len(p.MarksPerTopic))
		for t := range p.MarksPerTopic {
			topics = append(topics, t)
		}
		slices.Sort(topics)
		for _, t := range topics {
			name := t
			if name == "" {
				name = "(untagged)"
			}
			fmt.Fprintf(&b, "| %s | %d | %d |\n", escape(name), p.MarksPerTopic[t], p.PartsPerTopic[t])
		}
	}

	b.WriteString("\n## Questions\n\n| # | Question | Source | Marks | Parts |\n|---:|---|---|---:|---|\n")
	for _, q := range p.Questions {
		parts := "all"
		if !q.IsFullQuestion {
			parts = strings.Join(q.IncludedParts, ", ")
		}
		fmt.Fprintf(&b, "| %d | %s | %d paper %d variant %d | %d / %d | %s |\n",
			q.Order, escape(q.QuestionID), q.Year, q.Paper, q.Variant, q.Marks, q.QuestionMarks, escape(parts))
	}

	if len(p.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range p.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

// HTML converts the Markdown summary.
func HTML(p models.GeneratedPaper) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(p)), &buf); err != nil {
		return "", fmt.Errorf("failed to render paper %s: %w", p.PublicID, err)
	}
	return buf.String(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
