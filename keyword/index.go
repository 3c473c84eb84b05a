package keyword

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"exambuilder-server/models"
)

// maxWorkers bounds concurrent keyword scans.
const maxWorkers = 4

type entry struct {
	questionID string
	rootText   string
	partTexts  map[string]string
	leafLabels []string
}

// Index is an in-memory keyword index over question text. It is read-only after
// NewIndex and safe for concurrent searches.
type Index struct {
	entries []entry
}

// NewIndex indexes root text and per-part text of each question.
func NewIndex(questions []*models.Question) *Index {
	idx := &Index{entries: make([]entry, 0, len(questions))}
	for _, q := range questions {
		if q == nil || q.Root == nil {
			continue
		}
		idx.entries = append(idx.entries, entry{
			questionID: q.ID,
			rootText:   q.RootText,
			partTexts:  q.ChildText,
			leafLabels: q.LeafLabels(),
		})
	}
	return idx
}

// Len is the number of indexed questions.
func (idx *Index) Len() int { return len(idx.entries) }

// Result holds the hits of one Search call.
type Result struct {
	// KeywordHits maps each keyword as given to the question ids it matched.
	KeywordHits map[string][]string
	labels      map[string][]string
}

// Matches maps question id to the matched part labels, sorted.
func (r Result) Matches() map[string][]string {
	out := make(map[string][]string, len(r.labels))
	for qid, labels := range r.labels {
		out[qid] = slices.Clone(labels)
	}
	return out
}

// QuestionIDs lists every question matched by at least one keyword.
func (r Result) QuestionIDs() []string {
	ids := make([]string, 0, len(r.labels))
	for qid := range r.labels {
		ids = append(ids, qid)
	}
	slices.Sort(ids)
	return ids
}

type term struct {
	raw     string
	needle  string
	pattern *regexp.Regexp // set for quoted keywords
}

func parseTerm(kw string) (term, bool) {
	raw := strings.TrimSpace(kw)
	if raw == "" {
		return term{}, false
	}
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		inner := raw[1 : len(raw)-1]
		if strings.TrimSpace(inner) == "" {
			return term{}, false
		}
		return term{raw: kw, pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(inner) + `\b`)}, true
	}
	return term{raw: kw, needle: normalize(raw)}, true
}

// normalize lower-cases and strips all whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func (t term) match(text string) bool {
	if t.pattern != nil {
		return t.pattern.MatchString(text)
	}
	return strings.Contains(normalize(text), t.needle)
}

// Search matches keywords against the index. Plain keywords match as substrings
// ignoring case and spacing; "quoted" keywords match whole words. A hit in a
// question's root text matches every leaf of the question.
func (idx *Index) Search(ctx context.Context, keywords []string) (Result, error) {
	var terms []term
	for _, kw := range keywords {
		if t, ok := parseTerm(kw); ok {
			terms = append(terms, t)
		}
	}
	perTerm := make([]map[string][]string, len(terms))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i, t := range terms {
		g.Go(func() error {
			hits := make(map[string][]string)
			for _, e := range idx.entries {
				if err := ctx.Err(); err != nil {
					return err
				}
				if labels := e.match(t); len(labels) > 0 {
					hits[e.questionID] = labels
				}
			}
			perTerm[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		KeywordHits: make(map[string][]string, len(terms)),
		labels:      make(map[string][]string),
	}
	for i, t := range terms {
		ids := make([]string, 0, len(perTerm[i]))
		for qid, labels := range perTerm[i] {
			ids = append(ids, qid)
			res.labels[qid] = append(res.labels[qid], labels...)
		}
		slices.Sort(ids)
		res.KeywordHits[t.raw] = ids
	}
	for qid, labels := range res.labels {
		slices.Sort(labels)
		res.labels[qid] = slices.Compact(labels)
	}
	return res, nil
}

func (e entry) match(t term) []string {
	var labels []string
	for label, text := range e.partTexts {
		if t.match(text) {
			labels = append(labels, label)
		}
	}
	if e.rootText != "" && t.match(e.rootText) {
		labels = append(labels, e.leafLabels...)
	}
	return labels
}
