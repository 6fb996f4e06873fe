// Package target declares the collaborators the harness drives: the HTTP
// client that reaches the application, the entity (query manager) behind the
// form, the response inspector, the mail outbox, CAPTCHA solvers, the user
// directory and the failed-login blacklist. The harness depends only on these
// contracts; internal/client, internal/store, internal/inspect, internal/mail
// and internal/auth provide implementations.
package target

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/QTest-hq/formprobe/pkg/form"
)

// ErrNotFound indicates a missing row, table or account
var ErrNotFound = errors.New("not found")

// Response is a captured answer of the application
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string   // final URL after redirects
	Redirects  []string // every redirect target, in order
}

// Redirected reports whether the answer came through or is a redirect
func (r *Response) Redirected() bool {
	return len(r.Redirects) > 0
}

// Client submits forms and fetches pages, keeping cookies between calls.
// Params holding *form.File values are uploaded as multipart parts.
type Client interface {
	Get(ctx context.Context, url string, headers http.Header) (*Response, error)
	Post(ctx context.Context, url string, params form.Params, follow bool, headers http.Header) (*Response, error)
}

// FormInfo is one form or formset found in a response
type FormInfo struct {
	Prefix   string
	Formset  bool
	Rows     int // formset rows, from TOTAL_FORMS
	Fields   []string
	Hidden   []string
	Disabled []string
}

// Snapshot is what an inspector reads from a response
type Snapshot struct {
	AllFields      []string
	VisibleFields  []string
	HiddenFields   []string
	DisabledFields []string
	Errors         map[string][]string
	Messages       []string
	Forms          []FormInfo
	Objects        []string // primary keys listed on the page
}

// HasErrors reports whether any key carries a message
func (s *Snapshot) HasErrors() bool {
	for _, msgs := range s.Errors {
		if len(msgs) > 0 {
			return true
		}
	}
	return false
}

// Inspector extracts forms, errors and messages from a response
type Inspector interface {
	Inspect(resp *Response) (*Snapshot, error)
}

// FieldKind is the storage class of an entity column
type FieldKind string

const (
	FieldString   FieldKind = "string"
	FieldInt      FieldKind = "int"
	FieldFloat    FieldKind = "float"
	FieldDecimal  FieldKind = "decimal"
	FieldBool     FieldKind = "bool"
	FieldDate     FieldKind = "date"
	FieldDateTime FieldKind = "datetime"
	FieldRelated  FieldKind = "related"
	FieldFile     FieldKind = "file"
	FieldImage    FieldKind = "image"
	FieldChoice   FieldKind = "choice"
)

// FieldSchema describes one persistent field of an entity
type FieldSchema struct {
	Name      string    `json:"name" yaml:"name"`
	Kind      FieldKind `json:"kind" yaml:"kind"`
	MaxLength int       `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Min       *float64  `json:"min,omitempty" yaml:"min,omitempty"` // min value validator
	Max       *float64  `json:"max,omitempty" yaml:"max,omitempty"` // max value validator
	Choices   []any     `json:"choices,omitempty" yaml:"choices,omitempty"`
	Target    string    `json:"target,omitempty" yaml:"target,omitempty"` // related entity
	Required  bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Unique    bool      `json:"unique,omitempty" yaml:"unique,omitempty"`
	PK        bool      `json:"pk,omitempty" yaml:"pk,omitempty"`
}

// Record is one stored row. Related holds the rows of related collections
// (many-to-many targets or inline blocks) keyed by field or formset prefix.
type Record struct {
	PK      any
	Values  map[string]any
	Related map[string][]Record
}

// Savepoint is a nested transaction marker
type Savepoint interface {
	Rollback(ctx context.Context) error
	Release(ctx context.Context) error
}

// Entity is the query manager of the model behind a form
type Entity interface {
	Name() string
	Count(ctx context.Context) (int, error)
	PKs(ctx context.Context) ([]any, error)
	Filter(ctx context.Context, where map[string]any) ([]Record, error)
	Exclude(ctx context.Context, pks []any) ([]Record, error)
	Get(ctx context.Context, pk any) (Record, error)
	First(ctx context.Context) (Record, error)
	Update(ctx context.Context, pk any, values map[string]any) error
	Delete(ctx context.Context, pk any) error
	Fields(ctx context.Context) ([]FieldSchema, error)
	Savepoint(ctx context.Context) (Savepoint, error)
}

// Mail is one captured message
type Mail struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Outbox exposes the messages the application sent
type Outbox interface {
	Messages(ctx context.Context) ([]Mail, error)
	Reset(ctx context.Context) error
}

// CaptchaSolver returns the {prefix_0: key, prefix_1: response} pair valid
// for the next POST of the form rendered in resp
type CaptchaSolver interface {
	Solve(ctx context.Context, resp *Response, prefix string) (map[string]string, error)
}

// Users is the account directory the password flows inspect and adjust
type Users interface {
	CheckPassword(ctx context.Context, username, password string) (bool, error)
	SetPassword(ctx context.Context, username, password string) error
	SetActive(ctx context.Context, username string, active bool) error
	// ExpireResetCodes backdates the reset codes of username by age
	ExpireResetCodes(ctx context.Context, username string, age time.Duration) error
}

// Blacklist is the failed-login record of client hosts
type Blacklist interface {
	Attempts(ctx context.Context, host string) (int, error)
	Clear(ctx context.Context, host string) error
}
