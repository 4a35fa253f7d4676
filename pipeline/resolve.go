// Package pipeline implements the single-flight execution loop and
// semantic goal resolution (spec §4.4, component C4). DOM candidate
// extraction (including shadow-root recursion) is the driver's job
// (driver.Driver.CollectCandidates); the scoring algorithm itself is
// ordinary, fully testable Go code here, independent of any browser.
package pipeline

import (
	"strings"
	"time"

	"github.com/starlighthub/sentinel-hub/driver"
)

const (
	scoreExact           = 100
	scoreSubstring       = 95
	scoreReverseContains = 90
	scoreAllWordsPresent = 85
	scorePrimaryWordMatch = 70
	scorePartialMin      = 50
	scorePartialMax      = 80
	scorePrimaryTagBonus = 10
	scoreTerminal        = 110
	shortLabelRuneLimit  = 24
)

var primaryTags = map[string]bool{"BUTTON": true, "INPUT": true, "A": true, "SELECT": true}

func normalizeGoal(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func words(s string) []string {
	return strings.Fields(s)
}

func wordSet(ws []string) map[string]bool {
	m := make(map[string]bool, len(ws))
	for _, w := range ws {
		m[w] = true
	}
	return m
}

// scoreText implements spec §4.4.1 step 3's scoring ladder for a single
// candidate text against the normalized goal.
func scoreText(goal, text string) int {
	g := normalizeGoal(goal)
	t := normalizeGoal(text)
	if g == "" || t == "" {
		return 0
	}
	if t == g {
		return scoreExact
	}
	if strings.Contains(t, g) {
		return scoreSubstring
	}
	if len([]rune(t)) <= shortLabelRuneLimit && strings.Contains(g, t) {
		return scoreReverseContains
	}

	gWords := words(g)
	tSet := wordSet(words(t))
	if len(gWords) == 0 {
		return 0
	}

	allPresent := true
	common := 0
	for _, w := range gWords {
		if tSet[w] {
			common++
		} else {
			allPresent = false
		}
	}
	if allPresent {
		return scoreAllWordsPresent
	}
	if tSet[gWords[0]] {
		return scorePrimaryWordMatch
	}
	if common == 0 {
		return 0
	}
	frac := float64(common) / float64(len(gWords))
	return scorePartialMin + int(frac*float64(scorePartialMax-scorePartialMin))
}

// candidateTexts returns every text a candidate can be scored against
// (spec §4.4.1 step 2's enumerated attribute/text sources — the driver
// has already flattened these into TextVector plus the exact visible
// text field).
func candidateTexts(c driver.Candidate) []string {
	texts := make([]string, 0, len(c.TextVector)+1)
	texts = append(texts, c.TextVector...)
	if c.ExactVisibleText != "" {
		texts = append(texts, c.ExactVisibleText)
	}
	return texts
}

// ScoreCandidate scores a single candidate against goal, applying the
// primary-tag bonus and the terminal exact-visible-text override (spec
// §4.4.1 step 3).
func ScoreCandidate(goal string, c driver.Candidate) int {
	best := 0
	for _, text := range candidateTexts(c) {
		if s := scoreText(goal, text); s > best {
			best = s
		}
	}
	if best == 0 {
		return 0
	}
	if primaryTags[c.Tag] {
		best += scorePrimaryTagBonus
		if c.ExactVisibleText != "" && normalizeGoal(c.ExactVisibleText) == normalizeGoal(goal) {
			best = scoreTerminal
		}
	}
	return best
}

// pickSelector chooses among a candidate's available selector forms,
// preferring #id, falling back to a text-predicate selector for short
// anchor/button labels, and always honoring a shadow-piercing form when
// the candidate lives inside a shadow root (spec §4.4.1 step 4).
func pickSelector(c driver.Candidate) string {
	if c.InShadowRoot && c.TextPredicateSelector != "" {
		return c.TextPredicateSelector
	}
	if strings.HasPrefix(c.Selector, "#") {
		return c.Selector
	}
	if c.TextPredicateSelector != "" && (c.Tag == "A" || c.Tag == "BUTTON") &&
		len([]rune(c.ExactVisibleText)) <= shortLabelRuneLimit {
		return c.TextPredicateSelector
	}
	return c.Selector
}

func bestCandidate(goal string, candidates []driver.Candidate, labelBonus, parentBonus int) (driver.Candidate, int) {
	var best driver.Candidate
	bestScore := 0
	for _, c := range candidates {
		s := ScoreCandidate(goal, c)
		if s == 0 {
			continue
		}
		if c.HasLabelFor {
			s += labelBonus
		}
		if c.ParentText != "" {
			s += parentBonus
		}
		if s > bestScore {
			bestScore = s
			best = c
		}
	}
	return best, bestScore
}

// ResolveGeneral implements the click/hover/scroll resolver (spec
// §4.4.1 "General").
func ResolveGeneral(goal string, candidates []driver.Candidate) (string, bool) {
	c, score := bestCandidate(goal, candidates, 0, 0)
	if score == 0 {
		return "", false
	}
	return pickSelector(c), true
}

const formLabelBonus = 15
const formParentBonus = 5

// ResolveFormInput implements the two-stage fill/press/upload resolver
// (spec §4.4.1 "Form-input resolver"): a fast path for goals mentioning
// "search" over well-known search-like inputs, then the general
// label/placeholder/name/id/class scoring pass.
func ResolveFormInput(goal string, candidates []driver.Candidate) (string, bool) {
	if strings.Contains(normalizeGoal(goal), "search") {
		if sel, ok := fastPathSearch(candidates); ok {
			return sel, true
		}
	}
	c, score := bestCandidate(goal, candidates, formLabelBonus, formParentBonus)
	if score == 0 {
		return "", false
	}
	return pickSelector(c), true
}

func fastPathSearch(candidates []driver.Candidate) (string, bool) {
	for _, c := range candidates {
		for _, text := range candidateTexts(c) {
			if normalizeGoal(text) == "search" {
				return pickSelector(c), true
			}
		}
	}
	return "", false
}

// ResolveFormInputWithDeadline wraps ResolveFormInput in the 10-second
// wall-clock race spec §4.4.1 mandates; a timeout resolves to a miss.
func ResolveFormInputWithDeadline(goal string, candidates []driver.Candidate, timeout time.Duration) (string, bool) {
	type result struct {
		selector string
		found    bool
	}
	out := make(chan result, 1)
	go func() {
		sel, ok := ResolveFormInput(goal, candidates)
		out <- result{sel, ok}
	}()
	select {
	case r := <-out:
		return r.selector, r.found
	case <-time.After(timeout):
		return "", false
	}
}

// ResolveSelect implements the `select` specialized resolver, scoring by
// associated label / aria-label / name (spec §4.4.1 "Specialized
// resolvers").
func ResolveSelect(goal string, candidates []driver.Candidate) (string, bool) {
	c, score := bestCandidate(goal, candidates, formLabelBonus, formParentBonus)
	if score == 0 {
		return "", false
	}
	return pickSelector(c), true
}

// ResolveCheckbox implements the `check`/`uncheck` specialized resolver,
// scoring by wrapping-label text / <label for> text / aria-label.
func ResolveCheckbox(goal string, candidates []driver.Candidate) (string, bool) {
	c, score := bestCandidate(goal, candidates, formLabelBonus, formParentBonus)
	if score == 0 {
		return "", false
	}
	return pickSelector(c), true
}
