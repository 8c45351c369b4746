package temporal

import (
	"fmt"
	"time"

	"github.com/agenthands/crosscheck/internal/core/model"
)

const dateLayout = "2006-01-02"

// Window is a half-open validity interval [From, To). A nil To is open-ended.
type Window struct {
	From time.Time
	To   *time.Time
}

func NewWindow(from, to *time.Time) (Window, bool) {
	if from == nil {
		return Window{}, false
	}
	return Window{From: from.UTC(), To: utcPtr(to)}, true
}

func (w Window) end() time.Time {
	if w.To == nil {
		return time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	return *w.To
}

// Overlaps reports whether two windows share any instant. Windows that only
// touch at a boundary do not overlap.
func Overlaps(a, b Window) bool {
	return a.From.Before(b.end()) && b.From.Before(a.end())
}

func (w Window) Range() model.DateRange {
	r := model.DateRange{From: w.From.Format(dateLayout)}
	if w.To != nil {
		to := w.To.Format(dateLayout)
		r.To = &to
	}
	return r
}

func (w Window) describe() string {
	if w.To == nil {
		return w.From.Format(dateLayout) + "–present"
	}
	return w.From.Format(dateLayout) + " to " + w.To.Format(dateLayout)
}

// Annotation renders both windows for reviewers.
func Annotation(a, b Window) string {
	return fmt.Sprintf("Source A valid %s; Source B valid %s", a.describe(), b.describe())
}

// Shift describes two sources whose validity windows do not overlap.
type Shift struct {
	SourceA    Window
	SourceB    Window
	Annotation string
}

// DetectShift returns a Shift when both windows have a start and they do not
// overlap. Dates are compared at day precision.
func DetectShift(fromA, toA, fromB, toB *time.Time) (*Shift, bool) {
	a, okA := NewWindow(truncateDay(fromA), truncateDay(toA))
	b, okB := NewWindow(truncateDay(fromB), truncateDay(toB))
	if !okA || !okB || Overlaps(a, b) {
		return nil, false
	}
	return &Shift{SourceA: a, SourceB: b, Annotation: Annotation(a, b)}, true
}

func truncateDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
