package scenario

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Failure is one accumulated probe failure
type Failure struct {
	Probe string
	Err   error
}

// Accumulator collects failures until the scenario epilogue
type Accumulator struct {
	failures []Failure
}

// Add records a failure
func (a *Accumulator) Add(probe string, err error) {
	a.failures = append(a.failures, Failure{Probe: probe, Err: err})
}

// Len returns the number of recorded failures
func (a *Accumulator) Len() int {
	return len(a.failures)
}

// Failures returns the recorded failures in order
func (a *Accumulator) Failures() []Failure {
	return append([]Failure(nil), a.failures...)
}

// Reset drops every recorded failure
func (a *Accumulator) Reset() {
	a.failures = nil
}

// Render formats the failures as one report. Colour codes are added only
// when colour is true.
func (a *Accumulator) Render(colour bool) string {
	header := color.New(color.FgRed, color.Bold)
	name := color.New(color.FgYellow)
	if colour {
		header.EnableColor()
		name.EnableColor()
	} else {
		header.DisableColor()
		name.DisableColor()
	}

	var b strings.Builder
	b.WriteString(header.Sprintf("%d probe(s) failed:", len(a.failures)))
	for i, f := range a.failures {
		msg := strings.ReplaceAll(f.Err.Error(), "\n", "\n      ")
		fmt.Fprintf(&b, "\n  %d. %s\n      %s", i+1, name.Sprint(f.Probe), msg)
	}
	return b.String()
}
