package director

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ScoreSource tags how an Evaluation was obtained.
type ScoreSource string

// Score sources, from most to least trusted.
const (
	SourceOK       ScoreSource = "ok"
	SourceFallback ScoreSource = "fallback"
	SourceDefault  ScoreSource = "default"
)

// Evaluation is a parsed reviewer response.
type Evaluation struct {
	Score    int
	Critique string
	Source   ScoreSource
}

var (
	fencedJSON    = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	scoreField    = regexp.MustCompile(`"?score"?\s*[:：]\s*"?(-?\d+)`)
	critiqueField = regexp.MustCompile(`(?s)"?critique"?\s*[:：]\s*["']?(.+?)["']?\s*[,}]`)
)

const noCritique = "no critique provided"

// Clamp bounds a score to [0,100].
func Clamp(score int) int {
	return max(0, min(100, score))
}

// ParseEvaluation extracts a score and critique from reviewer text.
//
// It first decodes strict JSON (a fenced ```json block, or the whole text).
// If that fails it pulls score and critique out with regular expressions.
// If no score can be found it returns DefaultScore with a diagnostic
// critique. The score is always clamped to [0,100].
func ParseEvaluation(text string) Evaluation {
	if ev, ok := parseStrict(text); ok {
		return ev
	}

	if m := scoreField.FindStringSubmatch(text); m != nil {
		if score, err := strconv.Atoi(m[1]); err == nil {
			critique := truncate(strings.TrimSpace(text), 500)
			if c := critiqueField.FindStringSubmatch(text); c != nil {
				critique = strings.TrimSpace(c[1])
			}
			return Evaluation{Score: Clamp(score), Critique: critique, Source: SourceFallback}
		}
	}

	return Evaluation{
		Score:    DefaultScore,
		Critique: "could not parse evaluation: " + truncate(strings.TrimSpace(text), 200),
		Source:   SourceDefault,
	}
}

func parseStrict(text string) (Evaluation, bool) {
	body := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		body = m[1]
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Evaluation{}, false
	}

	score, ok := scoreValue(raw["score"])
	if !ok {
		return Evaluation{}, false
	}

	critique := noCritique
	if c, ok := raw["critique"].(string); ok && strings.TrimSpace(c) != "" {
		critique = strings.TrimSpace(c)
	}
	return Evaluation{Score: Clamp(score), Critique: critique, Source: SourceOK}, true
}

// scoreValue accepts a JSON number or a numeric string.
func scoreValue(v any) (int, bool) {
	switch s := v.(type) {
	case float64:
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return 0, false
		}
		return int(max(-1, min(101, s))), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}
	return 0, false
}
