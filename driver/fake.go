package driver

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Driver used by hub tests. It never touches a real
// browser; callers script its behavior and candidate lists directly.
type Fake struct {
	mu sync.Mutex

	Calls []string

	Candidates map[CandidateKind][]Candidate

	// FailNext causes the next recorded action or Evaluate call to return
	// this error once, then clears itself — used to exercise the pipeline's
	// single-retry path (spec §4.4 step 8). Screenshot is recorded but
	// never consumes it.
	FailNext error

	ScreenshotBytes []byte
	Ctx             PageContext
}

// NewFake returns an empty Fake driver.
func NewFake() *Fake {
	return &Fake{Candidates: make(map[CandidateKind][]Candidate)}
}

func (f *Fake) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	return nil
}

func (f *Fake) Goto(_ context.Context, url string) error {
	return f.record(fmt.Sprintf("goto(%s)", url))
}

func (f *Fake) Click(_ context.Context, selector string) error {
	return f.record(fmt.Sprintf("click(%s)", selector))
}

func (f *Fake) Fill(_ context.Context, selector, text string) error {
	return f.record(fmt.Sprintf("fill(%s,%s)", selector, text))
}

func (f *Fake) Press(_ context.Context, selector, key string) error {
	return f.record(fmt.Sprintf("press(%s,%s)", selector, key))
}

func (f *Fake) Type(_ context.Context, selector, text string) error {
	return f.record(fmt.Sprintf("type(%s,%s)", selector, text))
}

func (f *Fake) Scroll(_ context.Context, selector string) error {
	if selector == "" {
		return f.record("scroll(bottom)")
	}
	return f.record(fmt.Sprintf("scroll(%s)", selector))
}

func (f *Fake) Select(_ context.Context, selector, value string) error {
	return f.record(fmt.Sprintf("select(%s,%s)", selector, value))
}

func (f *Fake) Hover(_ context.Context, selector string) error {
	return f.record(fmt.Sprintf("hover(%s)", selector))
}

func (f *Fake) Check(_ context.Context, selector string) error {
	return f.record(fmt.Sprintf("check(%s)", selector))
}

func (f *Fake) Uncheck(_ context.Context, selector string) error {
	return f.record(fmt.Sprintf("uncheck(%s)", selector))
}

func (f *Fake) Upload(_ context.Context, selector string, files []string) error {
	return f.record(fmt.Sprintf("upload(%s,%v)", selector, files))
}

func (f *Fake) Screenshot(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "screenshot()")
	return f.ScreenshotBytes, nil
}

func (f *Fake) Evaluate(_ context.Context, script string) (string, error) {
	if err := f.record(fmt.Sprintf("evaluate(%s)", script)); err != nil {
		return "", err
	}
	return "", nil
}

func (f *Fake) PageContext(_ context.Context) (PageContext, error) {
	return f.Ctx, nil
}

func (f *Fake) TargetRect(_ context.Context, selector string) (Rect, bool, error) {
	return Rect{}, false, nil
}

func (f *Fake) CollectCandidates(_ context.Context, kind CandidateKind, _ bool, _ int) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Candidates[kind], nil
}
