// Package driver defines the contract for the browser driver backend named
// as an external collaborator in spec §2/§6. No production implementation
// (chromium/firefox/webkit/stealth) lives in this module — those are
// peripheral, out-of-scope per the spec — but the interface is specified
// precisely enough for the pipeline (C4) to drive it and for tests to
// supply a Fake.
package driver

import "context"

// CandidateKind selects which family of interactive elements the driver
// should collect for semantic resolution (spec §4.4.1).
type CandidateKind int

const (
	// KindGeneral covers click/hover/scroll targets: buttons, links, ARIA
	// roles, click-handler attributes, button/cart/menu class patterns,
	// data-action/data-testid attributes.
	KindGeneral CandidateKind = iota
	// KindFormInput covers fill/press/upload targets: input, textarea,
	// select, button, a[role=button], [role=searchbox].
	KindFormInput
	// KindSelect covers the select(selector, value) resolver.
	KindSelect
	// KindCheckbox covers check/uncheck resolvers.
	KindCheckbox
)

// Candidate is one interactive element extracted from the live page,
// pre-packaged with everything the hub's resolver (pipeline/resolve.go)
// needs to score it against a semantic goal without touching the DOM
// itself. Extraction, including shadow-DOM recursion, is the driver's job;
// scoring is the hub's.
type Candidate struct {
	// Selector is a CSS (or shadow-piercing) selector that uniquely
	// addresses this element, already computed by the driver, preferring
	// #id when unique.
	Selector string
	// TextPredicateSelector is set instead of/alongside Selector for
	// anchors/buttons with short visible text, where a text-predicate
	// selector is preferred over a brittle structural one.
	TextPredicateSelector string
	// Tag is the element's upper-cased tag name (BUTTON, INPUT, A, ...).
	Tag string
	// TextVector holds every extracted text signal: visible text, input
	// value, aria-label, title, alt, placeholder, data-tooltip, parent's
	// aria-label/title, screen-reader-only text, SVG title/use-href, and
	// class-name tokens already converted from snake/kebab/camel case to
	// spaced words.
	TextVector []string
	// ExactVisibleText is the element's literal visible text, used for
	// the terminal exact-match scoring rule restricted to primary tags.
	ExactVisibleText string
	// Primary is true for BUTTON, INPUT, A, SELECT tags.
	Primary bool
	// InShadowRoot is true if the candidate was found while recursing
	// into a shadow root.
	InShadowRoot bool
	// HasLabelFor is true if a <label for=id> targets this element
	// (form-input / select / checkbox resolvers only).
	HasLabelFor bool
	// ParentText is the concatenated text of the immediate parent,
	// contributing a smaller bonus than a direct label match.
	ParentText string
}

// PageContext is the accessibility/visible-text bundle attached to a
// pre_check broadcast for interested agents (spec §4.3).
type PageContext struct {
	VisibleText    string
	AccessibilitySnapshot string
	URL            string
}

// Rect is an axis-aligned bounding box in page coordinates, used for the
// pre-check's optional targetRect overlap analysis.
type Rect struct {
	X, Y, Width, Height float64
}

// Driver is the contract the execution pipeline (C4) drives against.
// Method names mirror spec §2's enumerated primitives.
type Driver interface {
	Goto(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector, key string) error
	Type(ctx context.Context, selector, text string) error
	// Scroll scrolls selector into view; an empty selector falls back to
	// the bottom of the page (spec §4.4).
	Scroll(ctx context.Context, selector string) error
	Select(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	Check(ctx context.Context, selector string) error
	Uncheck(ctx context.Context, selector string) error
	Upload(ctx context.Context, selector string, files []string) error

	// Screenshot captures a throttled, quality-limited JPEG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Evaluate runs an in-page script, used by hijack-mode actions such
	// as hiding modals/overlays.
	Evaluate(ctx context.Context, script string) (string, error)

	// PageContext extracts the page's visible text and accessibility
	// snapshot for a pre-check broadcast.
	PageContext(ctx context.Context) (PageContext, error)
	// TargetRect computes the bounding rectangle of selector, if present,
	// for the pre-check's overlap analysis.
	TargetRect(ctx context.Context, selector string) (Rect, bool, error)

	// CollectCandidates gathers interactive elements of the given kind
	// for semantic resolution, already recursed into shadow roots per
	// the configured max depth.
	CollectCandidates(ctx context.Context, kind CandidateKind, shadowEnabled bool, maxDepth int) ([]Candidate, error)
}
