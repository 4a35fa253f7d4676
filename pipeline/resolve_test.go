package pipeline

import (
	"testing"
	"time"

	"github.com/starlighthub/sentinel-hub/driver"
)

func TestScoreTextLadder(t *testing.T) {
	cases := []struct {
		goal, text string
		want       int
	}{
		{"checkout", "checkout", scoreExact},
		{"checkout", "proceed to checkout now", scoreSubstring},
		{"add to cart", "cart", scoreReverseContains},
		{"shopping cart link", "cart shopping link extra", scoreAllWordsPresent},
		{"buy now please", "buy tickets", scorePrimaryWordMatch},
		{"totally unrelated text", "completely different", 0},
	}
	for _, tc := range cases {
		got := scoreText(tc.goal, tc.text)
		if got != tc.want {
			t.Errorf("scoreText(%q, %q) = %d, want %d", tc.goal, tc.text, got, tc.want)
		}
	}
}

func TestScoreCandidatePrimaryTagBonusAndTerminal(t *testing.T) {
	c := driver.Candidate{
		Tag:              "BUTTON",
		ExactVisibleText: "Checkout",
		TextVector:       []string{"Checkout"},
	}
	if got := ScoreCandidate("checkout", c); got != scoreTerminal {
		t.Fatalf("ScoreCandidate = %d, want terminal %d", got, scoreTerminal)
	}

	nonPrimary := driver.Candidate{Tag: "DIV", TextVector: []string{"checkout"}}
	if got := ScoreCandidate("checkout", nonPrimary); got != scoreExact {
		t.Fatalf("ScoreCandidate(non-primary) = %d, want %d (no bonus, no terminal)", got, scoreExact)
	}
}

func TestResolveGeneralPicksHighestScoringCandidate(t *testing.T) {
	candidates := []driver.Candidate{
		{Tag: "DIV", TextVector: []string{"unrelated"}, Selector: ".noise"},
		{Tag: "BUTTON", TextVector: []string{"Add to cart"}, ExactVisibleText: "Add to cart", Selector: "#add-cart"},
	}
	sel, ok := ResolveGeneral("add to cart", candidates)
	if !ok || sel != "#add-cart" {
		t.Fatalf("ResolveGeneral = %q, %v, want #add-cart, true", sel, ok)
	}
}

func TestResolveGeneralMissReturnsFalse(t *testing.T) {
	candidates := []driver.Candidate{{Tag: "DIV", TextVector: []string{"nothing close"}}}
	_, ok := ResolveGeneral("completely unrelated goal text", candidates)
	if ok {
		t.Fatal("expected a miss for an unrelated goal")
	}
}

func TestPickSelectorPrefersIDOverClassSelector(t *testing.T) {
	c := driver.Candidate{Selector: "#unique-id", TextPredicateSelector: "text=Buy"}
	if got := pickSelector(c); got != "#unique-id" {
		t.Fatalf("pickSelector = %q, want #unique-id", got)
	}
}

func TestPickSelectorUsesShadowPiercingFormInsideShadowRoot(t *testing.T) {
	c := driver.Candidate{
		Selector:              ".some-class",
		TextPredicateSelector: "shadow>>text=Buy",
		InShadowRoot:          true,
	}
	if got := pickSelector(c); got != "shadow>>text=Buy" {
		t.Fatalf("pickSelector = %q, want the shadow-piercing form", got)
	}
}

func TestResolveFormInputFastPathForSearchGoal(t *testing.T) {
	candidates := []driver.Candidate{
		{Tag: "INPUT", TextVector: []string{"search"}, Selector: "#q"},
		{Tag: "INPUT", TextVector: []string{"username"}, Selector: "#user"},
	}
	sel, ok := ResolveFormInput("search the site", candidates)
	if !ok || sel != "#q" {
		t.Fatalf("ResolveFormInput fast path = %q, %v, want #q, true", sel, ok)
	}
}

func TestResolveFormInputAppliesLabelBonus(t *testing.T) {
	withoutLabel := driver.Candidate{Tag: "INPUT", TextVector: []string{"email"}, Selector: "#a"}
	withLabel := driver.Candidate{Tag: "INPUT", TextVector: []string{"email"}, Selector: "#b", HasLabelFor: true}

	sel, ok := ResolveFormInput("email", []driver.Candidate{withoutLabel, withLabel})
	if !ok || sel != "#b" {
		t.Fatalf("ResolveFormInput = %q, %v, want #b (label bonus should win a tie)", sel, ok)
	}
}

func TestResolveFormInputWithDeadlineTimesOutToMiss(t *testing.T) {
	_, ok := ResolveFormInputWithDeadline("anything", nil, time.Millisecond)
	if ok {
		t.Fatal("empty candidate list should miss, not hang")
	}
}

func TestResolveSelectAndCheckboxUseLabelScoring(t *testing.T) {
	candidates := []driver.Candidate{
		{Tag: "SELECT", TextVector: []string{"country"}, Selector: "#country", HasLabelFor: true},
	}
	if sel, ok := ResolveSelect("country", candidates); !ok || sel != "#country" {
		t.Fatalf("ResolveSelect = %q, %v", sel, ok)
	}

	checkCandidates := []driver.Candidate{
		{Tag: "INPUT", TextVector: []string{"accept terms"}, Selector: "#terms", ParentText: "I accept terms"},
	}
	if sel, ok := ResolveCheckbox("accept terms", checkCandidates); !ok || sel != "#terms" {
		t.Fatalf("ResolveCheckbox = %q, %v", sel, ok)
	}
}
