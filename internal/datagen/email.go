package datagen

import (
	"fmt"
	"strings"
)

const (
	// RFC 5322 atom characters beyond letters and digits
	atomSpecials = "!#$%&'*+/=?^_`{|}~-"

	maxLocalLength  = 64
	maxLabelLength  = 62
	tldLength       = 2
	minDomainLength = 4 // x.yy
	minEmailLength  = 1 + 1 + minDomainLength
	urlScheme       = "http://"
)

// Email returns local@[sub.]domain.tld with exactly length runes. Simple
// addresses keep the local part to letters and digits.
func (g *Generator) Email(length int, simple bool) (string, error) {
	if length < minEmailLength {
		return "", fmt.Errorf("%w: email needs %d characters, got %d", ErrLengthTooShort, minEmailLength, length)
	}
	rest := length - 1
	local := max(1, rest/3)
	local = min(local, maxLocalLength)
	return g.localPart(local, simple) + "@" + g.domain(rest-local), nil
}

// Domain returns a host name of exactly length runes
func (g *Generator) Domain(length int) (string, error) {
	if length < minDomainLength {
		return "", fmt.Errorf("%w: domain needs %d characters, got %d", ErrLengthTooShort, minDomainLength, length)
	}
	return g.domain(length), nil
}

// URL returns an http URL of exactly length runes
func (g *Generator) URL(length int) (string, error) {
	if length < len(urlScheme)+minDomainLength {
		return "", fmt.Errorf("%w: url needs %d characters, got %d", ErrLengthTooShort, len(urlScheme)+minDomainLength, length)
	}
	return urlScheme + g.domain(length-len(urlScheme)), nil
}

func (g *Generator) localPart(length int, simple bool) string {
	alphabet := letters + digits
	if !simple {
		alphabet += atomSpecials
	}
	b := make([]byte, length)
	for i := range b {
		// first and last characters stay alphanumeric
		if i == 0 || i == length-1 {
			b[i] = (letters + digits)[g.rnd.Intn(len(letters)+len(digits))]
			continue
		}
		if !simple && b[i-1] != '.' && i < length-2 && g.rnd.Intn(10) == 0 {
			b[i] = '.'
			continue
		}
		b[i] = alphabet[g.rnd.Intn(len(alphabet))]
	}
	return string(b)
}

// domain splits length-3 characters into dot-separated labels of at most
// maxLabelLength, using at least two labels when there is room.
func (g *Generator) domain(length int) string {
	body := length - tldLength - 1
	labels := (body + maxLabelLength + 1) / (maxLabelLength + 1)
	if labels < 2 && body >= 3 {
		labels = 2
	}
	labels = max(labels, 1)
	chars := body - (labels - 1)
	parts := make([]string, 0, labels+1)
	for i := 0; i < labels; i++ {
		n := chars / labels
		if i < chars%labels {
			n++
		}
		parts = append(parts, g.label(n))
	}
	parts = append(parts, g.lower(tldLength))
	return strings.Join(parts, ".")
}

func (g *Generator) label(length int) string {
	const alnum = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, length)
	for i := range b {
		if i == 0 {
			b[i] = alnum[g.rnd.Intn(26)]
			continue
		}
		b[i] = alnum[g.rnd.Intn(len(alnum))]
	}
	return string(b)
}

func (g *Generator) lower(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[g.rnd.Intn(26)]
	}
	return string(b)
}
