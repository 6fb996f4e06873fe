// Package messages maps message kinds to the error text a form is expected
// to render, with per-field and project-wide overrides.
package messages

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/QTest-hq/formprobe/pkg/form"
)

var (
	// ErrUnknownKind is returned when no template exists for a kind
	ErrUnknownKind = errors.New("unknown message-kind")
	// ErrMissingLocal is returned when a template needs a local the caller did not capture
	ErrMissingLocal = errors.New("missing template local")
)

// Kind names an expected error
type Kind string

const (
	Required             Kind = "required"
	WithoutRequired      Kind = "without_required"
	MaxLength            Kind = "max_length"
	MaxLengthFile        Kind = "max_length_file"
	MaxLengthDigital     Kind = "max_length_digital"
	MinLength            Kind = "min_length"
	MinLengthDigital     Kind = "min_length_digital"
	WrongValue           Kind = "wrong_value"
	WrongValueChoice     Kind = "wrong_value_choice"
	WrongValueInt        Kind = "wrong_value_int"
	WrongValueDigital    Kind = "wrong_value_digital"
	WrongValueEmail      Kind = "wrong_value_email"
	Unique               Kind = "unique"
	EmptyFile            Kind = "empty_file"
	MaxCountFile         Kind = "max_count_file"
	MaxSizeFile          Kind = "max_size_file"
	MaxSumSizeFile       Kind = "max_sum_size_file"
	WrongExtension       Kind = "wrong_extension"
	MinDimensions        Kind = "min_dimensions"
	MaxDimensions        Kind = "max_dimensions"
	OneOf                Kind = "one_of"
	WithNull             Kind = "with_null"
	WrongPasswordRepeat  Kind = "wrong_password_repeat"
	WrongPasswordSimilar Kind = "wrong_password_similar"
	PasswordTooShort     Kind = "password_too_short"
	PasswordTooLong      Kind = "password_too_long"
	WrongOldPassword     Kind = "wrong_old_password"
	InactiveUser         Kind = "inactive_user"
	WrongCaptcha         Kind = "wrong_captcha"
	UserNotExists        Kind = "user_not_exists"
	WrongLogin           Kind = "wrong_login"
	WrongInterval        Kind = "wrong_interval"
	MaxBlockCount        Kind = "max_block_count"
	DeleteNotExists      Kind = "delete_not_exists"
	RecoveryNotExists    Kind = "recovery_not_exists"
	NotExist             Kind = "not_exist"
)

// Locals are the values captured at the probe call site
type Locals map[string]any

type entry struct {
	text   string
	locals []string
}

var defaults = map[Kind]entry{
	Required:             {"This field is required.", nil},
	WithoutRequired:      {"This field is required.", nil},
	MaxLength:            {"Ensure this value has at most {{.length}} characters (it has {{.current_length}}).", []string{"length", "current_length"}},
	MaxLengthFile:        {"Ensure this filename has at most {{.length}} characters (it has {{.current_length}}).", []string{"length", "current_length"}},
	MaxLengthDigital:     {"Ensure this value is less than or equal to {{.max_value}}.", []string{"max_value"}},
	MinLength:            {"Ensure this value has at least {{.length}} characters (it has {{.current_length}}).", []string{"length", "current_length"}},
	MinLengthDigital:     {"Ensure this value is greater than or equal to {{.min_value}}.", []string{"min_value"}},
	WrongValue:           {"Select a valid choice. That choice is not one of the available choices.", nil},
	WrongValueChoice:     {"Select a valid choice. {{.value}} is not one of the available choices.", []string{"value"}},
	WrongValueInt:        {"Enter a whole number.", nil},
	WrongValueDigital:    {"Enter a number.", nil},
	WrongValueEmail:      {"Enter a valid email address.", nil},
	Unique:               {"{{.verbose_obj}} with this {{.verbose_field}} already exists.", []string{"verbose_obj", "verbose_field"}},
	EmptyFile:            {"The submitted file is empty.", nil},
	MaxCountFile:         {"You can upload a maximum of {{.length}} files.", []string{"length"}},
	MaxSizeFile:          {"Ensure the size of {{.filename}} is at most {{.max_size}} bytes.", []string{"filename", "max_size"}},
	MaxSumSizeFile:       {"Ensure the total size of the files is at most {{.max_size}} bytes.", []string{"max_size"}},
	WrongExtension:       {"Unsupported file extension for {{.filename}}.", []string{"filename"}},
	MinDimensions:        {"Minimum image size is {{.min_width}}x{{.min_height}}.", []string{"min_width", "min_height"}},
	MaxDimensions:        {"Maximum image size is {{.max_width}}x{{.max_height}}.", []string{"max_width", "max_height"}},
	OneOf:                {"Fill only one of the fields {{.group}}.", []string{"group"}},
	WithNull:             {"Null characters are not allowed.", nil},
	WrongPasswordRepeat:  {"The two password fields didn't match.", nil},
	WrongPasswordSimilar: {"The password is too similar to the {{.verbose_field}}.", []string{"verbose_field"}},
	PasswordTooShort:     {"This password is too short. It must contain at least {{.length}} characters.", []string{"length"}},
	PasswordTooLong:      {"This password is too long. It must contain at most {{.length}} characters.", []string{"length"}},
	WrongOldPassword:     {"Your old password was entered incorrectly. Please enter it again.", nil},
	InactiveUser:         {"This account is inactive.", nil},
	WrongCaptcha:         {"Invalid CAPTCHA.", nil},
	UserNotExists:        {"User with this email does not exist.", nil},
	WrongLogin:           {"Please enter a correct username and password.", nil},
	WrongInterval:        {"{{.verbose_field}} must be later than {{.start_field}}.", []string{"verbose_field", "start_field"}},
	MaxBlockCount:        {"Please submit {{.length}} or fewer forms.", []string{"length"}},
	DeleteNotExists:      {"{{.verbose_obj}} does not exist.", []string{"verbose_obj"}},
	RecoveryNotExists:    {"{{.verbose_obj}} cannot be restored because it does not exist.", []string{"verbose_obj"}},
	NotExist:             {"Object does not exist.", nil},
}

// Kinds returns every built-in kind in sorted order
func Kinds() []Kind {
	out := make([]Kind, 0, len(defaults))
	for k := range defaults {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Catalogue resolves expected error messages
type Catalogue struct {
	custom      map[string]map[string][]string
	project     map[string]string
	nonFieldKey string
}

// New creates a catalogue. custom holds per-field overrides
// (field -> kind -> templates), project the project-wide templates.
func New(custom map[string]map[string][]string, project map[string]string, nonFieldKey string) *Catalogue {
	if nonFieldKey == "" {
		nonFieldKey = form.DefaultNonFieldKey
	}
	return &Catalogue{custom: custom, project: project, nonFieldKey: nonFieldKey}
}

// NonFieldKey returns the key non-field errors are reported under
func (c *Catalogue) NonFieldKey() string {
	return c.nonFieldKey
}

// Templates returns the unrendered templates for kind and field
func (c *Catalogue) Templates(kind Kind, field string) ([]string, error) {
	if byKind, ok := c.custom[field]; ok {
		if tpls, ok := byKind[string(kind)]; ok && len(tpls) > 0 {
			return tpls, nil
		}
	}
	if tpl, ok := c.project[string(kind)]; ok && tpl != "" {
		return []string{tpl}, nil
	}
	if e, ok := defaults[kind]; ok {
		return []string{e.text}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Resolve renders the expected errors for kind on field. An empty field
// reports under the non-field key.
func (c *Catalogue) Resolve(kind Kind, field string, locals Locals) (map[string][]string, error) {
	msgs, err := c.Messages(kind, field, locals)
	if err != nil {
		return nil, err
	}
	if field == "" {
		field = c.nonFieldKey
	}
	return map[string][]string{field: msgs}, nil
}

// Messages renders the expected messages without keying them
func (c *Catalogue) Messages(kind Kind, field string, locals Locals) ([]string, error) {
	tpls, err := c.Templates(kind, field)
	if err != nil {
		return nil, err
	}
	if e, ok := defaults[kind]; ok {
		var missing []string
		for _, name := range e.locals {
			if _, ok := locals[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s needs %s", ErrMissingLocal, kind, strings.Join(missing, ", "))
		}
	}
	out := make([]string, 0, len(tpls))
	for _, tpl := range tpls {
		msg, err := render(tpl, locals)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s for %q: %w", kind, field, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func render(tpl string, locals Locals) (string, error) {
	if !strings.Contains(tpl, "{{") {
		return tpl, nil
	}
	t, err := template.New("message").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any(locals)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingLocal, err)
	}
	return buf.String(), nil
}
