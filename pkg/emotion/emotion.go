// Package emotion holds the score types shared by the voice and expression
// streams, along with ranking and formatting helpers.
package emotion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Score is a single label/score pair as reported by the remote models.
type Score struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Ranked is the UI-facing form of a score: label plus a fixed
// two-decimal string.
type Ranked struct {
	Emotion string `json:"emotion"`
	Score   string `json:"score"`
}

// Scores is a label→score mapping that remembers document order.
// Ranking ties are broken by that order.
type Scores []Score

// UnmarshalJSON decodes a JSON object of numeric scores, keeping key order.
func (s *Scores) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("emotion scores: expected object, got %v", tok)
	}

	out := make(Scores, 0, 48)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("emotion scores: unexpected key %v", tok)
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("emotion scores: %q: %w", name, err)
		}
		out = append(out, Score{Name: name, Score: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}

// Top returns the n highest scores in descending order. Equal scores keep
// their input order. The input slice is not modified.
func Top(scores []Score, n int) []Score {
	if n <= 0 || len(scores) == 0 {
		return nil
	}

	sorted := make([]Score, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Round rounds v to two decimal places, halves rounding up.
func Round(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// Format renders v rounded half-up with exactly two decimals.
func Format(v float64) string {
	return fmt.Sprintf("%.2f", Round(v))
}

// Rank picks the top n scores and formats them for display.
func Rank(scores []Score, n int) []Ranked {
	top := Top(scores, n)
	out := make([]Ranked, 0, len(top))
	for _, s := range top {
		out = append(out, Ranked{Emotion: s.Name, Score: Format(s.Score)})
	}
	return out
}
