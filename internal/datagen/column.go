package datagen

import (
	"fmt"
	"strings"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
)

// ForColumn generates a plausible value for a persisted column, matching the
// column name first and falling back to its kind. Used to build fixtures.
func (g *Generator) ForColumn(col target.FieldSchema) any {
	if len(col.Choices) > 0 {
		return g.Choice(col.Choices)
	}
	name := strings.ToLower(col.Name)
	limit := col.MaxLength

	switch col.Kind {
	case target.FieldString:
		switch {
		case strings.Contains(name, "email"):
			if v, err := g.Email(fit(20, limit), true); err == nil {
				return v
			}
		case strings.Contains(name, "url") || strings.Contains(name, "link"):
			if v, err := g.URL(fit(24, limit)); err == nil {
				return v
			}
		case strings.Contains(name, "phone"):
			return g.clip(fmt.Sprintf("+1%s", g.Digits(10)), limit)
		case strings.Contains(name, "slug") || strings.Contains(name, "code"):
			return g.clip(strings.ToLower(g.String(fit(12, limit), true)), limit)
		case strings.Contains(name, "first_name"):
			return g.clip(g.pick(firstNames), limit)
		case strings.Contains(name, "last_name"):
			return g.clip(g.pick(lastNames), limit)
		case strings.Contains(name, "name") || strings.Contains(name, "title"):
			return g.clip(g.Sentence(3), limit)
		case strings.Contains(name, "description") || strings.Contains(name, "text") || strings.Contains(name, "comment"):
			return g.clip(g.Sentence(12), limit)
		case strings.Contains(name, "city"):
			return g.clip(g.pick(cities), limit)
		}
		return g.clip(g.String(fit(16, limit), false), limit)
	case target.FieldInt:
		return g.Digit(fieldFromColumn(col, true))
	case target.FieldFloat, target.FieldDecimal:
		return g.Digit(fieldFromColumn(col, false))
	case target.FieldBool:
		return g.rnd.Intn(2) == 1
	case target.FieldDate:
		return g.Date("")
	case target.FieldDateTime:
		return g.DateTime("2006-01-02 15:04:05")
	}
	return nil
}

// Sentence joins n words from the corpus, or from source when given
func (g *Generator) Sentence(n int, source ...string) string {
	pool := words
	if len(source) > 0 {
		pool = source
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = pool[g.rnd.Intn(len(pool))]
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

func (g *Generator) pick(items []string) string {
	return items[g.rnd.Intn(len(items))]
}

func (g *Generator) clip(s string, limit int) string {
	if limit > 0 {
		r := []rune(s)
		if len(r) > limit {
			return string(r[:limit])
		}
	}
	return s
}

func fieldFromColumn(col target.FieldSchema, isInt bool) form.Field {
	f := form.Field{Name: col.Name, Kind: form.KindFloat}
	if isInt {
		f.Kind = form.KindInt
	}
	if col.Min != nil {
		f.Range.Min, f.Range.HasMin = *col.Min, true
	}
	if col.Max != nil {
		f.Range.Max, f.Range.HasMax = *col.Max, true
	}
	return f
}

func fit(n, limit int) int {
	if limit > 0 && limit < n {
		return limit
	}
	return n
}

var firstNames = []string{
	"James", "Mary", "John", "Patricia", "Robert", "Jennifer", "Michael", "Linda",
	"Olga", "Ivan", "Emma", "Noah", "Sofia", "Liam", "Anna", "Pavel",
}

var lastNames = []string{
	"Smith", "Johnson", "Brown", "Garcia", "Miller", "Davis", "Petrov", "Ivanova",
	"Wilson", "Taylor", "Moore", "Martin", "Lee", "Perez", "White", "Sokolov",
}

var cities = []string{
	"Boston", "Denver", "Austin", "Seattle", "Portland", "Lisbon", "Riga", "Tallinn",
	"Porto", "Kraków", "Vilnius", "Gdańsk",
}

var words = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"sed", "do", "eiusmod", "tempor", "incididunt", "labore", "dolore", "magna",
	"aliqua", "enim", "minim", "veniam", "quis", "nostrud", "exercitation", "ullamco",
}
