// Package scoring estimates the quality of an analysis result as a value
// in [0,1]. The heuristic is deliberately simple: it rewards results that
// exist, rewards structured results over scalars, and shifts on the
// sentiment of textual user feedback.
package scoring

import (
	"reflect"
	"strings"
)

var (
	positiveKeywords = []string{"good", "great", "excellent", "perfect"}
	negativeKeywords = []string{"bad", "wrong", "error", "failed"}
)

// Score computes a success score for a produced result, optionally adjusted
// by user feedback. A nil result means the execution bound nothing. Pure
// function of its inputs; always returns a value in [0,1].
func Score(result any, feedback string) float64 {
	score := 0.5

	if result != nil {
		score += 0.3
		if isNonEmptyStructure(result) {
			score += 0.2
		}
	}

	if feedback != "" {
		lower := strings.ToLower(feedback)
		if containsAny(lower, positiveKeywords) {
			score += 0.3
		} else if containsAny(lower, negativeKeywords) {
			score -= 0.3
		}
	}

	return clamp(score, 0.0, 1.0)
}

// isNonEmptyStructure reports whether v is a map, slice or array holding at
// least one element. Scalars and empty containers do not qualify.
func isNonEmptyStructure(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	default:
		return false
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
