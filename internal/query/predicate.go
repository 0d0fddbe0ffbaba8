package query

import (
	"fmt"
	"time"
)

// Window is the lookback shared by every statement of one invocation.
type Window struct {
	Months int
	Days   int
	AsOf   time.Time
}

// From returns the inclusive lower bound.
func (w Window) From() time.Time {
	return w.AsOf.AddDate(0, -w.Months, -w.Days)
}

// To returns the exclusive upper bound.
func (w Window) To() time.Time {
	return w.AsOf
}

// Capped returns the window narrowed to at most days before AsOf.
func (w Window) Capped(days int) Window {
	capped := Window{Days: days, AsOf: w.AsOf}
	if capped.From().Before(w.From()) {
		return w
	}
	return capped
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.From().Format(time.RFC3339), w.To().Format(time.RFC3339))
}

// Filter is an extra predicate term. '?' markers in Expr bind Args in order.
type Filter struct {
	Expr string
	Args []any
}

// Predicate is the WHERE clause shared by every phase of a report query.
// Building both phases from one Predicate value keeps them from drifting.
type Predicate struct {
	TimeColumn string
	Window     Window
	Filters    []Filter
}

// Write appends the predicate body (without the WHERE keyword).
func (p Predicate) Write(b *Builder) {
	b.Write(p.TimeColumn, " >= ").Bind(p.Window.From())
	b.Write(" AND ", p.TimeColumn, " < ").Bind(p.Window.To())
	for _, f := range p.Filters {
		b.Write(" AND (")
		b.Fragment(f.Expr, f.Args...)
		b.Write(")")
	}
}

// With returns a copy of p with extra filters appended.
func (p Predicate) With(filters ...Filter) Predicate {
	out := p
	out.Filters = append(append([]Filter(nil), p.Filters...), filters...)
	return out
}
