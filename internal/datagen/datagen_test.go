package datagen

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "golang.org/x/image/bmp"
)

func TestString_LengthExact(t *testing.T) {
	gen := New(WithSeed(1))

	for _, n := range []int{1, 2, 3, 119, 120, 121, 511, 512, 513, 4000} {
		for _, wordsOnly := range []bool{false, true} {
			s := gen.String(n, wordsOnly)
			if got := utf8.RuneCountInString(s); got != n {
				t.Errorf("String(%d, %v) length = %d, want %d", n, wordsOnly, got, n)
			}
			if strings.TrimSpace(s) != s {
				t.Errorf("String(%d) has surrounding whitespace: %q", n, s)
			}
		}
	}
}

func TestString_Zero(t *testing.T) {
	gen := New(WithSeed(1))
	if s := gen.String(0, false); s != "" {
		t.Errorf("String(0) = %q, want empty", s)
	}
}

func TestEmail_LengthExact(t *testing.T) {
	gen := New(WithSeed(7))

	for n := minEmailLength; n <= 400; n++ {
		for _, simple := range []bool{false, true} {
			email, err := gen.Email(n, simple)
			require.NoError(t, err)
			if len(email) != n {
				t.Fatalf("Email(%d) length = %d (%q)", n, len(email), email)
			}
			assertEmailShape(t, email, simple)
		}
	}
}

func assertEmailShape(t *testing.T, email string, simple bool) {
	t.Helper()
	local, domain, ok := strings.Cut(email, "@")
	require.True(t, ok, "missing @ in %q", email)
	assert.LessOrEqual(t, len(local), maxLocalLength)
	assert.False(t, strings.HasPrefix(local, ".") || strings.HasSuffix(local, "."), "dot at local edge: %q", email)
	assert.NotContains(t, email, "..")
	if simple {
		assert.Regexp(t, `^[A-Za-z0-9]+$`, local)
	}
	labels := strings.Split(domain, ".")
	assert.GreaterOrEqual(t, len(labels), 2)
	for _, l := range labels {
		assert.NotEmpty(t, l, "empty label in %q", domain)
		assert.LessOrEqual(t, len(l), maxLabelLength)
	}
}

func TestEmail_TooShort(t *testing.T) {
	gen := New(WithSeed(1))
	_, err := gen.Email(5, false)
	if !errors.Is(err, ErrLengthTooShort) {
		t.Errorf("Email(5) error = %v, want ErrLengthTooShort", err)
	}
}

func TestDomainAndURL(t *testing.T) {
	gen := New(WithSeed(3))

	for _, n := range []int{4, 5, 6, 65, 66, 126, 127, 128, 253} {
		d, err := gen.Domain(n)
		require.NoError(t, err)
		assert.Len(t, d, n)
	}

	u, err := gen.URL(40)
	require.NoError(t, err)
	assert.Len(t, u, 40)
	assert.True(t, strings.HasPrefix(u, "http://"))

	_, err = gen.URL(10)
	assert.ErrorIs(t, err, ErrLengthTooShort)
}

func TestDigit(t *testing.T) {
	gen := New(WithSeed(11))

	tests := []struct {
		name  string
		field form.Field
	}{
		{"int bounded", form.Field{Kind: form.KindInt, Range: form.Range{Min: -5, Max: 5, HasMin: true, HasMax: true}}},
		{"float bounded", form.Field{Kind: form.KindFloat, Range: form.Range{Min: 0.5, Max: 0.75, HasMin: true, HasMax: true}}},
		{"int single point", form.Field{Kind: form.KindInt, Range: form.Range{Min: 3, Max: 3, HasMin: true, HasMax: true}}},
		{"min only", form.Field{Kind: form.KindInt, Range: form.Range{Min: 10, HasMin: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				v := gen.Digit(tt.field)
				var f float64
				switch n := v.(type) {
				case int64:
					if tt.field.Kind != form.KindInt {
						t.Fatalf("got int64 for float field")
					}
					f = float64(n)
				case float64:
					if tt.field.Kind != form.KindFloat {
						t.Fatalf("got float64 for int field")
					}
					f = n
				default:
					t.Fatalf("unexpected type %T", v)
				}
				lo, hi := bounds(tt.field.Range)
				if f < lo || f > hi {
					t.Fatalf("Digit() = %v outside [%v, %v]", f, lo, hi)
				}
			}
		})
	}
}

func TestChoiceAndMultiselect(t *testing.T) {
	gen := New(WithSeed(5))
	values := []any{"a", "b", "c"}

	for i := 0; i < 50; i++ {
		assert.Contains(t, values, gen.Choice(values))

		subset := gen.Multiselect(values)
		assert.NotEmpty(t, subset)
		for _, v := range subset {
			assert.Contains(t, values, v)
		}
	}
	assert.Equal(t, form.Empty, gen.Choice(nil))
}

func TestDateAndDateTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	gen := New(WithClock(func() time.Time { return now }))

	if got := gen.Date(""); got != "2025-03-10" {
		t.Errorf("Date() = %s, want 2025-03-10", got)
	}
	if got := gen.DateTime(""); got != "2025-03-10 09:00" {
		t.Errorf("DateTime() = %s, want 2025-03-10 09:00", got)
	}
	if got := gen.Date("02.01.2006"); got != "10.03.2025" {
		t.Errorf("Date(custom) = %s, want 10.03.2025", got)
	}
}

func TestImage_Dimensions(t *testing.T) {
	gen := New(WithSeed(9))

	for _, ext := range []string{"jpg", "png", "gif", "bmp"} {
		t.Run(ext, func(t *testing.T) {
			data, err := gen.Image(ext, 199, 200, 0)
			require.NoError(t, err)
			cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 199, cfg.Width)
			assert.Equal(t, 200, cfg.Height)
		})
	}
}

func TestImage_PaddedToSize(t *testing.T) {
	gen := New(WithSeed(9))

	for _, ext := range []string{"jpeg", "png", "gif", "bmp", "svg"} {
		data, err := gen.Image(ext, 20, 20, 5000)
		require.NoError(t, err)
		assert.Len(t, data, 5000, ext)
	}

	data, err := gen.Image("jpg", 20, 20, 5000)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err, "padding must keep the image decodable")
	assert.Equal(t, 20, cfg.Width)
}

func TestImage_Unsupported(t *testing.T) {
	gen := New()
	_, err := gen.Image("tiff", 1, 1, 0)
	assert.Error(t, err)
}

func TestFile(t *testing.T) {
	gen := New(WithSeed(2))

	f, err := gen.File(FileSpec{Ext: "pdf", Size: 1025})
	require.NoError(t, err)
	assert.Equal(t, int64(1025), f.Size())
	assert.Equal(t, "pdf", f.Ext())
	assert.Equal(t, "application/pdf", f.ContentType)

	empty, err := gen.File(FileSpec{Ext: "txt", Empty: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Size())

	img, err := gen.File(FileSpec{Ext: "png", Width: 30, Height: 40})
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Content))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Width)
	assert.Equal(t, 40, cfg.Height)
}

func TestFile_DefaultFileReused(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.doc"), []byte("default payload"), 0o644))
	gen := New(WithFilesDir(dir))

	f, err := gen.File(FileSpec{Ext: "doc"})
	require.NoError(t, err)
	assert.Equal(t, "default payload", string(f.Content))

	sized, err := gen.File(FileSpec{Ext: "doc", Size: 3})
	require.NoError(t, err)
	assert.Len(t, sized.Content, 3)
}

func TestSpecFor(t *testing.T) {
	spec := SpecFor(form.FileParams{Extensions: []string{"jpg"}, MinWidth: 200, MaxHeight: 5}, "")
	assert.Equal(t, "jpg", spec.Ext)
	assert.Equal(t, 200, spec.Width)
	assert.Equal(t, 5, spec.Height)

	plain := SpecFor(form.FileParams{}, "")
	assert.Equal(t, "", plain.Ext)
	assert.Zero(t, plain.Width)
}

func TestValue(t *testing.T) {
	gen := New(WithSeed(4))

	v, err := gen.Value(form.Field{Name: "char", Kind: form.KindString, MaxLength: 5}, 0)
	require.NoError(t, err)
	assert.Len(t, v, 5)

	v, err = gen.Value(form.Field{Name: "char", Kind: form.KindString}, 120)
	require.NoError(t, err)
	assert.Equal(t, 120, utf8.RuneCountInString(v.(string)))

	v, err = gen.Value(form.Field{Name: "mail", Kind: form.KindEmail, MaxLength: 30}, 30)
	require.NoError(t, err)
	assert.Len(t, v, 30)

	_, err = gen.Value(form.Field{Name: "owner", Kind: form.KindForeign}, 0)
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestForColumn(t *testing.T) {
	gen := New(WithSeed(8))
	lo, hi := 1.0, 9.0

	tests := []struct {
		col   target.FieldSchema
		check func(t *testing.T, v any)
	}{
		{target.FieldSchema{Name: "email", Kind: target.FieldString, MaxLength: 254}, func(t *testing.T, v any) {
			assert.Contains(t, v, "@")
		}},
		{target.FieldSchema{Name: "title", Kind: target.FieldString, MaxLength: 4}, func(t *testing.T, v any) {
			assert.LessOrEqual(t, utf8.RuneCountInString(v.(string)), 4)
		}},
		{target.FieldSchema{Name: "qty", Kind: target.FieldInt, Min: &lo, Max: &hi}, func(t *testing.T, v any) {
			n := v.(int64)
			assert.True(t, n >= 1 && n <= 9)
		}},
		{target.FieldSchema{Name: "state", Kind: target.FieldString, Choices: []any{"new", "old"}}, func(t *testing.T, v any) {
			assert.Contains(t, []any{"new", "old"}, v)
		}},
		{target.FieldSchema{Name: "owner", Kind: target.FieldRelated}, func(t *testing.T, v any) {
			assert.Nil(t, v)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.col.Name, func(t *testing.T) {
			tt.check(t, gen.ForColumn(tt.col))
		})
	}
}
