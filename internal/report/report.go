// Package report renders a ranking run for operators: a fixed-width table of
// the ordered guides and the equivalent SQL update statement.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/astrokiran/guiderank/internal/ranking"
)

// tableWidth is the width of the rule lines around the table.
const tableWidth = 85

// nameWidth is the column width of the guide name.
const nameWidth = 20

// WriteTable writes results in rank order as a fixed-width table followed by
// the guide count.
func WriteTable(w io.Writer, results []ranking.RankingResult) error {
	rule := strings.Repeat("=", tableWidth)

	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "%-5s %-*s %6s %9s %8s %8s %8s\n",
		"Rank", nameWidth, "Guide", "Score", "Consults", "Repeat%", "Avg OV", "Active")
	b.WriteString(rule + "\n")

	for i, r := range results {
		agg := r.Aggregate
		aov := "₹0"
		if agg.AvgOrderValue > 0 {
			aov = fmt.Sprintf("₹%.0f", agg.AvgOrderValue)
		}
		fmt.Fprintf(&b, "%-5d %-*s %6.2f %9d %7.0f%% %8s %8s\n",
			i+1,
			nameWidth, displayName(agg),
			r.Score,
			agg.CompletedConsultations,
			r.Components.Repeat*100,
			aov,
			strconv.FormatInt(agg.DaysActive30d, 10)+"d",
		)
	}

	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "\nTotal: %d guides\n", len(results))

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteSQL writes a single UPDATE statement that sets every guide's ranking
// score, annotated with the weights used and each guide's name.
// A nil weights pointer annotates with the defaults.
func WriteSQL(w io.Writer, results []ranking.RankingResult, weights *ranking.Weights) error {
	if weights == nil {
		weights = ranking.DefaultWeights()
	}

	var b strings.Builder
	b.WriteString("-- SQL Update Statement\n")
	fmt.Fprintf(&b, "-- 9-factor algorithm: %s\n", weightSummary(weights))
	b.WriteString("-- Activity multiplier penalty: <5d=0.5x, 5-10d=0.75x, 10-15d=0.9x, 15+d=1.0x\n\n")

	if len(results) == 0 {
		b.WriteString("-- no guides ranked; nothing to update\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("UPDATE guide.guide_profile SET ranking_score = CASE id\n")
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = strconv.FormatInt(r.GuideID, 10)
		fmt.Fprintf(&b, "    WHEN %d THEN %.2f  -- %s\n", r.GuideID, r.Score, singleLine(r.Aggregate.Name))
	}
	b.WriteString("END\n")
	fmt.Fprintf(&b, "WHERE id IN (%s);\n", strings.Join(ids, ", "))

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes results as an indented JSON array.
func WriteJSON(w io.Writer, results []ranking.RankingResult) error {
	if results == nil {
		results = []ranking.RankingResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func weightSummary(w *ranking.Weights) string {
	parts := []struct {
		name  string
		value float64
	}{
		{"Repeat", w.Repeat},
		{"AOV", w.AOV},
		{"Volume", w.Volume},
		{"Activity", w.Activity},
		{"Rating", w.Rating},
		{"Response", w.Response},
		{"Consistency", w.Consistency},
		{"Reliability", w.Reliability},
		{"Experience", w.Experience},
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = fmt.Sprintf("%s=%s%%", p.name, strconv.FormatFloat(ranking.Round(p.value*100, 2), 'f', -1, 64))
	}
	return strings.Join(out, ", ")
}

// displayName returns the guide name, or its id when the name is blank,
// truncated to the name column.
func displayName(agg ranking.GuideAggregate) string {
	name := strings.TrimSpace(singleLine(agg.Name))
	if name == "" {
		name = "#" + strconv.FormatInt(agg.GuideID, 10)
	}
	if runes := []rune(name); len(runes) > nameWidth {
		name = string(runes[:nameWidth-1]) + "…"
	}
	return name
}

// singleLine keeps a name on one table row or SQL comment line.
func singleLine(name string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(name)
}
