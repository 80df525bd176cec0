package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/geniehealth/dyk/internal/database"
)

const summaryListLimit = 5

// Markdown renders the run summary stored with each pipeline run and
// shown in the web UI.
func Markdown(doc *Document) string {
	gm := doc.GenerationMetadata
	dm := doc.DeduplicationMetadata

	var b strings.Builder
	fmt.Fprintf(&b, "# Pipeline run: %s\n\n", gm.Market)
	fmt.Fprintf(&b, "Generated %s with %s.\n\n", gm.GeneratedAt, strings.Join(gm.Models, ", "))

	b.WriteString("## Funnel\n\n")
	b.WriteString("| Stage | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Insights generated | %d |\n", dm.TotalInsights)
	fmt.Fprintf(&b, "| Unique after dedup | %d (%.1f%% removed) |\n", dm.UniqueInsights, dm.ReductionPct)
	fmt.Fprintf(&b, "| Creative variations | %d |\n", len(doc.Insights))
	fmt.Fprintf(&b, "| Passed evaluation | %d |\n", PassCount(doc.Insights))

	cm := doc.CreativeMetadata
	em := doc.EvaluationMetadata
	b.WriteString("\n## Stage stats\n\n")
	b.WriteString("| Stage | Calls | OK | Failed | Duration |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| Generation | %d | %d | %d | %.1fs |\n", gm.TotalCalls, gm.SuccessfulCalls, gm.FailedCalls, gm.DurationSeconds)
	fmt.Fprintf(&b, "| Deduplication | - | - | - | %.1fs |\n", dm.DurationSeconds)
	fmt.Fprintf(&b, "| Creative | %d | %d | %d | %.1fs |\n", cm.TotalCalls, cm.SuccessfulCalls, cm.FailedCalls, cm.DurationSeconds)
	fmt.Fprintf(&b, "| Evaluation | %d | %d | %d | %.1fs |\n", em.TotalCalls, em.SuccessfulCalls, em.FailedCalls, em.DurationSeconds)

	if worst := worstOffenders(doc, summaryListLimit); len(worst) > 0 {
		b.WriteString("\n## Most duplicated insights\n\n")
		b.WriteString(strings.Join(worst, "\n"))
		b.WriteString("\n")
	}

	if top := topPassing(doc.Insights, summaryListLimit); len(top) > 0 {
		b.WriteString("\n## Top passing variations\n\n")
		b.WriteString(strings.Join(top, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}

// PassCount counts variations whose evaluation passed.
func PassCount(variations []database.Variation) int {
	count := 0
	for i := range variations {
		e := variations[i].Evaluation
		if e != nil && e.Pass != nil && *e.Pass {
			count++
		}
	}
	return count
}

func worstOffenders(doc *Document, limit int) []string {
	if doc.DeduplicationAnalytics == nil {
		return nil
	}
	var lines []string
	for _, w := range doc.DeduplicationAnalytics.WorstInsights {
		if w.DuplicateCount == 0 || len(lines) == limit {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. \"%s\" (%d near-duplicates, %s / %s)",
			len(lines)+1, w.Hook, w.DuplicateCount, w.Cohort, w.Model))
	}
	return lines
}

func topPassing(variations []database.Variation, limit int) []string {
	type scored struct {
		v     *database.Variation
		score float64
	}
	var passing []scored
	for i := range variations {
		e := variations[i].Evaluation
		if e == nil || e.Pass == nil || !*e.Pass || e.OverallScore == nil {
			continue
		}
		passing = append(passing, scored{&variations[i], *e.OverallScore})
	}
	sort.SliceStable(passing, func(i, j int) bool { return passing[i].score > passing[j].score })
	if len(passing) > limit {
		passing = passing[:limit]
	}

	lines := make([]string, len(passing))
	for i, s := range passing {
		lines[i] = fmt.Sprintf("%d. \"%s\" (%.1f, %s)", i+1, s.v.Hook, s.score, s.v.Cohort.Name)
	}
	return lines
}
