// Package vote builds a consensus table from repeated extractions of the
// same page. Rows are aligned by position, each column takes the most
// frequent value across samples, and per-column agreement ratios expose
// how stable the extraction was.
package vote

import (
	"errors"
	"fmt"

	"tableocr/pkg/models"
)

// MinSamples is the smallest sample count a majority can be formed from.
// Two samples cannot outvote each other.
const MinSamples = 3

// ErrTooFewSamples is returned when fewer than MinSamples extractions are
// offered for voting.
var ErrTooFewSamples = errors.New("majority voting requires at least 3 samples")

// Result is the consensus for one page.
type Result struct {
	Rows []models.TableRow

	// Agreement maps each column to the mean modal proportion across
	// rows, in (0,1]. 1.0 means every sample agreed on every row.
	Agreement map[string]float64
}

// Consensus votes across samples of one page. Samples need not have equal
// row counts: a row index only some samples produced is decided among the
// samples that have it.
func Consensus(samples [][]models.TableRow, columns []string) (*Result, error) {
	if len(samples) < MinSamples {
		return nil, fmt.Errorf("%w, got %d", ErrTooFewSamples, len(samples))
	}

	maxRows := 0
	for _, s := range samples {
		if len(s) > maxRows {
			maxRows = len(s)
		}
	}

	rows := make([]models.TableRow, 0, maxRows)
	sums := make(map[string]float64, len(columns))
	counts := make(map[string]int, len(columns))

	for idx := 0; idx < maxRows; idx++ {
		var group []models.TableRow
		for _, s := range samples {
			if idx < len(s) {
				group = append(group, s[idx])
			}
		}

		row := make(models.TableRow, len(columns))
		for _, col := range columns {
			value, agreement := modalValue(group, col)
			row[col] = value
			sums[col] += agreement
			counts[col]++
		}
		rows = append(rows, row)
	}

	agreement := make(map[string]float64, len(columns))
	for _, col := range columns {
		if counts[col] > 0 {
			agreement[col] = sums[col] / float64(counts[col])
		}
	}

	return &Result{Rows: rows, Agreement: agreement}, nil
}

// modalValue returns the most frequent value of col within the group and
// the proportion of the group that voted for it. Ties resolve to the
// value encountered first, which keeps the result deterministic.
func modalValue(group []models.TableRow, col string) (any, float64) {
	if len(group) == 0 {
		return nil, 0
	}

	counts := make(map[string]int, len(group))
	firstSeen := make(map[string]int, len(group))
	values := make(map[string]any, len(group))

	for i, row := range group {
		v := row[col]
		k := canonicalKey(v)
		if _, seen := counts[k]; !seen {
			firstSeen[k] = i
			values[k] = v
		}
		counts[k]++
	}

	var bestKey string
	bestCount := -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && firstSeen[k] < firstSeen[bestKey]) {
			bestKey = k
			bestCount = c
		}
	}

	return values[bestKey], float64(bestCount) / float64(len(group))
}

// canonicalKey renders a cell value into a comparison key. The type tag
// keeps int64(1900), float64(1900) and "1900" from colliding.
func canonicalKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}
