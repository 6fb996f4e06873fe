package compare

import (
	"errors"
	"testing"
	"time"

	"github.com/QTest-hq/formprobe/pkg/form"
	"github.com/QTest-hq/formprobe/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectFields_Equal(t *testing.T) {
	rec := target.Record{
		PK: 7,
		Values: map[string]any{
			"char":     "hello",
			"count":    int64(3),
			"price":    "9.50",
			"active":   true,
			"created":  time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			"start":    time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
			"photo":    "uploads/photo_Ab3dE9x.jpg",
			"owner_id": 4,
			"tags":     []any{"b", "a"},
		},
	}
	params := form.Params{
		"char":      "hello",
		"count":     3,
		"price":     9.5,
		"active":    "on",
		"created":   "2025-03-10",
		"start_0":   "2025-03-10",
		"start_1":   "09:00",
		"photo":     &form.File{Name: "photo.jpg"},
		"owner_id":  "4",
		"tags":      []any{"a", "b"},
		"password2": "ignored",
	}

	assert.NoError(t, ObjectFields(rec, params, Options{}))
}

func TestObjectFields_Mismatch(t *testing.T) {
	rec := target.Record{PK: 1, Values: map[string]any{"char": "abc", "count": 2, "flag": false}}
	err := ObjectFields(rec, form.Params{"char": "abd", "count": "2", "flag": true}, Options{})
	require.Error(t, err)

	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	require.Len(t, mm.Mismatches, 2)
	assert.Equal(t, "char", mm.Mismatches[0].Field)
	assert.Equal(t, "abd", mm.Mismatches[0].Want)
	assert.Equal(t, "abc", mm.Mismatches[0].Got)
	assert.Equal(t, "flag", mm.Mismatches[1].Field)
	assert.Contains(t, err.Error(), `char: form "abd" != object "abc"`)
}

func TestObjectFields_NumericText(t *testing.T) {
	rec := target.Record{PK: 1, Values: map[string]any{"code": "007", "count": "7.0", "total": "12"}}

	err := ObjectFields(rec, form.Params{"code": "7", "count": "7", "total": 12}, Options{})
	var mm *MismatchError
	require.True(t, errors.As(err, &mm))
	require.Len(t, mm.Mismatches, 2)
	assert.Equal(t, "code", mm.Mismatches[0].Field)
	assert.Equal(t, "count", mm.Mismatches[1].Field)

	err = ObjectFields(rec, form.Params{"code": "7", "count": "7", "total": 12}, Options{Digital: []string{"count"}})
	require.True(t, errors.As(err, &mm))
	require.Len(t, mm.Mismatches, 1)
	assert.Equal(t, "code", mm.Mismatches[0].Field)

	assert.NoError(t, ObjectFields(rec, form.Params{"code": "007", "count": "7"}, Options{Digital: []string{"count"}}))
}

func TestObjectFields_ExcludeAndOtherValues(t *testing.T) {
	rec := target.Record{PK: 1, Values: map[string]any{"slug": "hello-world", "secret": "hash"}}
	params := form.Params{"slug": "Hello World", "secret": "plain"}
	opts := Options{
		Exclude:     []string{"secret"},
		OtherValues: form.Params{"slug": "hello-world"},
	}
	assert.NoError(t, ObjectFields(rec, params, opts))
	assert.Equal(t, "Hello World", params["slug"], "params untouched")
}

func TestObjectFields_Related(t *testing.T) {
	rec := target.Record{
		PK:     1,
		Values: map[string]any{},
		Related: map[string][]target.Record{
			"groups": {{PK: 2}, {PK: 5}},
			"items": {
				{PK: 11, Values: map[string]any{"name": "second"}},
				{PK: 10, Values: map[string]any{"name": "first"}},
			},
		},
	}

	assert.NoError(t, ObjectFields(rec, form.Params{"groups": []any{"5", "2"}}, Options{}))
	assert.NoError(t, ObjectFields(rec, form.Params{"groups": 2}, Options{}))
	assert.Error(t, ObjectFields(rec, form.Params{"groups": 3}, Options{}))

	rows := form.Params{"items-0-name": "first", "items-1-name": "second"}
	assert.NoError(t, ObjectFields(rec, rows, Options{}))

	err := ObjectFields(rec, form.Params{"items-0-name": "first", "items-2-name": "third"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items-2: row was not saved")

	err = ObjectFields(rec, form.Params{"items-1-name": "other"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items-1-name")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "photo.jpg", FileName("media/2025/photo_Ab3dE9x.jpg"))
	assert.Equal(t, "photo.jpg", FileName("photo.jpg"))
	assert.Equal(t, "report", FileName(`C:\docs\report_1234567`))
}

func TestObjectFields_Files(t *testing.T) {
	rec := target.Record{PK: 1, Values: map[string]any{
		"doc":   "files/my_picture.pdf",
		"scans": []any{"files/a_x1y2z3w.png", "files/b.png"},
	}}
	params := form.Params{
		"doc":   &form.File{Name: "my_picture.pdf"},
		"scans": []*form.File{{Name: "b.png"}, {Name: "a.png"}},
	}
	assert.NoError(t, ObjectFields(rec, params, Options{}))

	params["scans"] = []*form.File{{Name: "b.png"}}
	assert.Error(t, ObjectFields(rec, params, Options{}))
}
