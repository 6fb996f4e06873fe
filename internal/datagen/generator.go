// Package datagen produces sample values for form fields. Every factory that
// takes a length returns a value whose rendered rune count equals it.
package datagen

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/QTest-hq/formprobe/pkg/form"
)

// ErrLengthTooShort is returned when a structured value cannot fit the requested length
var ErrLengthTooShort = errors.New("requested length too short")

// ErrNoValue is returned for fields whose values must come from existing rows
var ErrNoValue = errors.New("no generated value for field kind")

const (
	letters      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
	punctuation  = "-_.,!?()"
	chunkSize    = 512
	defaultRange = 1000
)

// Generator produces field values
type Generator struct {
	rnd      *rand.Rand
	now      func() time.Time
	filesDir string
}

// Option configures a Generator
type Option func(*Generator)

// WithSeed makes the generator deterministic
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rnd = rand.New(rand.NewSource(seed))
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithFilesDir sets the directory searched for default files (test.<ext>)
func WithFilesDir(dir string) Option {
	return func(g *Generator) {
		g.filesDir = dir
	}
}

// New creates a generator seeded from the clock unless WithSeed is given
func New(opts ...Option) *Generator {
	g := &Generator{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// String returns length random printable runes. Words-only strings use
// letters, digits and underscores.
func (g *Generator) String(length int, wordsOnly bool) string {
	if length <= 0 {
		return ""
	}
	alphabet := letters + digits
	if wordsOnly {
		alphabet += "_"
	}
	var b strings.Builder
	b.Grow(length)
	for remaining := length; remaining > 0; remaining -= chunkSize {
		n := min(remaining, chunkSize)
		for i := 0; i < n; i++ {
			pos := length - remaining + i
			if !wordsOnly && pos > 0 && pos < length-1 && g.rnd.Intn(8) == 0 {
				b.WriteByte(punctuation[g.rnd.Intn(len(punctuation))])
				continue
			}
			b.WriteByte(alphabet[g.rnd.Intn(len(alphabet))])
		}
	}
	return b.String()
}

// Digits returns length decimal digits without a leading zero
func (g *Generator) Digits(length int) string {
	if length <= 0 {
		return ""
	}
	b := make([]byte, length)
	b[0] = digits[1+g.rnd.Intn(9)]
	for i := 1; i < length; i++ {
		b[i] = digits[g.rnd.Intn(10)]
	}
	return string(b)
}

// Digit draws from the field range: int64 for int fields, float64 otherwise
func (g *Generator) Digit(f form.Field) any {
	lo, hi := bounds(f.Range)
	if f.Kind == form.KindInt {
		ilo, ihi := int64(math.Ceil(lo)), int64(math.Floor(hi))
		if ihi < ilo {
			return ilo
		}
		return ilo + g.rnd.Int63n(ihi-ilo+1)
	}
	v := lo + g.rnd.Float64()*(hi-lo)
	v = math.Round(v*100) / 100
	return math.Min(math.Max(v, lo), hi)
}

func bounds(r form.Range) (float64, float64) {
	switch {
	case r.HasMin && r.HasMax:
		return r.Min, r.Max
	case r.HasMin:
		return r.Min, r.Min + defaultRange
	case r.HasMax:
		return r.Max - defaultRange, r.Max
	}
	return 0, defaultRange
}

// Choice samples one value
func (g *Generator) Choice(values []any) any {
	if len(values) == 0 {
		return form.Empty
	}
	return values[g.rnd.Intn(len(values))]
}

// Multiselect samples a non-empty subset, preserving declaration order
func (g *Generator) Multiselect(values []any) []any {
	if len(values) == 0 {
		return nil
	}
	n := 1 + g.rnd.Intn(len(values))
	picked := g.rnd.Perm(len(values))[:n]
	chosen := make(map[int]bool, n)
	for _, idx := range picked {
		chosen[idx] = true
	}
	out := make([]any, 0, n)
	for i, v := range values {
		if chosen[i] {
			out = append(out, v)
		}
	}
	return out
}

// Date returns today in the layout
func (g *Generator) Date(layout string) string {
	if layout == "" {
		layout = form.DefaultDateFormat
	}
	return g.now().Format(layout)
}

// DateTime returns now in the layout
func (g *Generator) DateTime(layout string) string {
	if layout == "" {
		layout = form.DefaultDateTimeFormat
	}
	return g.now().Format(layout)
}

// Now returns the generator clock
func (g *Generator) Now() time.Time {
	return g.now()
}

// Intn exposes the generator's source for callers that need extra randomness
func (g *Generator) Intn(n int) int {
	return g.rnd.Intn(n)
}

// Value produces a value for the field. A positive length is honoured for
// text fields; otherwise a length inside the field bounds is chosen.
func (g *Generator) Value(f form.Field, length int, layouts ...string) (any, error) {
	layout := ""
	if len(layouts) > 0 {
		layout = layouts[0]
	}
	switch f.Kind {
	case form.KindString:
		return g.String(textLength(f, length, 10), false), nil
	case form.KindEmail:
		return g.Email(textLength(f, length, 20), false)
	case form.KindInt, form.KindFloat:
		return g.Digit(f), nil
	case form.KindDate:
		return g.Date(layout), nil
	case form.KindDateTime:
		return g.DateTime(layout), nil
	case form.KindChoice:
		return g.Choice(f.Values), nil
	case form.KindMultiselect:
		return g.Multiselect(f.Values), nil
	case form.KindBool:
		return true, nil
	case form.KindFile:
		return g.File(SpecFor(f.File, ""))
	}
	return nil, fmt.Errorf("%w: %s (%s)", ErrNoValue, f.Name, f.Kind)
}

func textLength(f form.Field, length, fallback int) int {
	if length > 0 {
		return length
	}
	n := fallback
	if f.MaxLength > 0 && n > f.MaxLength {
		n = f.MaxLength
	}
	if f.MinLength > 0 && n < f.MinLength {
		n = f.MinLength
	}
	return n
}
