package form

import "time"

// Declaration is the sparse description a test author writes for one form.
// Attributes at the top level apply to both the add and the edit form;
// the Add and Edit sections override them per form.
type Declaration struct {
	Name        string `yaml:"name"`
	VerboseName string `yaml:"verbose_name,omitempty"`

	URLAdd      string `yaml:"url_add,omitempty"`
	URLEdit     string `yaml:"url_edit,omitempty"` // {pk} is replaced with the object key
	URLDelete   string `yaml:"url_delete,omitempty"`
	URLRemove   string `yaml:"url_remove,omitempty"`
	URLList     string `yaml:"url_list,omitempty"`
	URLRedirect string `yaml:"url_redirect,omitempty"`

	FormDecl `yaml:",inline"`
	Add      FormDecl `yaml:"add,omitempty"`
	Edit     FormDecl `yaml:"edit,omitempty"`

	ChoiceFieldsValues   map[string][]any               `yaml:"choice_fields_values,omitempty"`
	MinValues            map[string]float64             `yaml:"min_values,omitempty"`
	MaxValues            map[string]float64             `yaml:"max_values,omitempty"`
	MaxFieldsLength      map[string]int                 `yaml:"max_fields_length,omitempty"`
	MinFieldsLength      map[string]int                 `yaml:"min_fields_length,omitempty"`
	UniqueWithCase       []string                       `yaml:"unique_with_case,omitempty"`
	DateFields           []string                       `yaml:"date_fields,omitempty"`
	DateTimeFields       []string                       `yaml:"datetime_fields,omitempty"`
	Intervals            []Interval                     `yaml:"intervals,omitempty"`
	MaxBlocks            map[string]int                 `yaml:"max_blocks,omitempty"`
	OtherValuesForCheck  Params                         `yaml:"other_values_for_check,omitempty"`
	CustomErrorMessages  map[string]map[string][]string `yaml:"custom_error_messages,omitempty"`
	FieldVerboseNames    map[string]string              `yaml:"field_verbose_names,omitempty"`
	Languages            []string                       `yaml:"languages,omitempty"`
	DateInputFormats     []string                       `yaml:"date_input_formats,omitempty"`
	DateTimeInputFormats []string                       `yaml:"datetime_input_formats,omitempty"`

	NullCheck   NullCheck     `yaml:"null_check,omitempty"`
	Captcha     CaptchaConfig `yaml:"captcha,omitempty"`
	Auth        AuthDecl      `yaml:"auth,omitempty"`
	List        ListDecl      `yaml:"list,omitempty"`
	RemoveField string        `yaml:"remove_field,omitempty"` // soft-delete flag column
	NonFieldKey string        `yaml:"non_field_key,omitempty"`
}

// FormDecl holds the attributes that may differ between the add and edit forms
type FormDecl struct {
	AllFields                    []string              `yaml:"all_fields,omitempty"`
	DefaultParams                Params                `yaml:"default_params,omitempty"`
	RequiredFields               []string              `yaml:"required_fields,omitempty"`
	RequiredRelatedFields        [][]string            `yaml:"required_related_fields,omitempty"`
	HiddenFields                 []string              `yaml:"hidden_fields,omitempty"`
	DisabledFields               []string              `yaml:"disabled_fields,omitempty"`
	ChoiceFields                 []string              `yaml:"choice_fields,omitempty"`
	ChoiceFieldsWithValueInError []string              `yaml:"choice_fields_with_value_in_error,omitempty"`
	MultiselectFields            []string              `yaml:"multiselect_fields,omitempty"`
	DigitalFields                []string              `yaml:"digital_fields,omitempty"`
	IntFields                    []string              `yaml:"int_fields,omitempty"`
	EmailFields                  []string              `yaml:"email_fields,omitempty"`
	FileFieldsParams             map[string]FileParams `yaml:"file_fields_params,omitempty"`
	UniqueFields                 [][]string            `yaml:"unique_fields,omitempty"`
	OneOfFields                  [][]string            `yaml:"one_of_fields,omitempty"`
	RequiredIf                   []Dependency          `yaml:"required_if,omitempty"`
	ExcludeFromCheck             []string              `yaml:"exclude_from_check,omitempty"`
}

// Interval is an ordered pair of temporal fields
type Interval struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Op    string `yaml:"op"` // ">" or ">="
}

// Strict reports whether the end must be strictly later than the start
func (i Interval) Strict() bool {
	return i.Op != ">="
}

// Dependency makes Dependents required once every lead is filled
type Dependency struct {
	Leads      []string `yaml:"leads"`
	Dependents []string `yaml:"dependents"`
}

// NullMode selects how null bytes in submitted values are checked
type NullMode string

const (
	NullOff    NullMode = ""
	NullReject NullMode = "reject" // the form must answer with_null
	NullAccept NullMode = "accept" // the form must save the value with the null bytes stripped
)

// NullCheck configures null-byte probes for strings and file names
type NullCheck struct {
	Str  NullMode `yaml:"str,omitempty"`
	File NullMode `yaml:"file,omitempty"`
}

// Captcha providers
const (
	CaptchaNone   = "none"
	CaptchaSimple = "simple"
	CaptchaSuper  = "super"
)

// CaptchaConfig describes the CAPTCHA guarding a form
type CaptchaConfig struct {
	Provider                 string `yaml:"provider,omitempty"` // none, simple or super
	FieldPrefix              string `yaml:"field_prefix,omitempty"`
	RetriesBeforeEnforcement int    `yaml:"retries_before_enforcement,omitempty"`
}

// Enabled reports whether a CAPTCHA provider is configured
func (c CaptchaConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != CaptchaNone
}

// Prefix returns the CAPTCHA field prefix, defaulting to "captcha"
func (c CaptchaConfig) Prefix() string {
	if c.FieldPrefix == "" {
		return "captcha"
	}
	return c.FieldPrefix
}

// AuthDecl configures the login, password change and password reset flows
type AuthDecl struct {
	LoginURL     string `yaml:"login_url,omitempty"`
	LogoutURL    string `yaml:"logout_url,omitempty"`
	ProtectedURL string `yaml:"protected_url,omitempty"`

	UsernameField string `yaml:"username_field,omitempty"`
	PasswordField string `yaml:"password_field,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	Email         string `yaml:"email,omitempty"`
	LoginRetries  int    `yaml:"login_retries,omitempty"`
	ClientHost    string `yaml:"client_host,omitempty"`

	ChangePasswordURL     string            `yaml:"change_password_url,omitempty"`
	OldPasswordField      string            `yaml:"old_password_field,omitempty"`
	NewPasswordField      string            `yaml:"new_password_field,omitempty"`
	RepeatPasswordField   string            `yaml:"repeat_password_field,omitempty"`
	CheckOldPassword      bool              `yaml:"check_old_password,omitempty"`
	PasswordMinLength     int               `yaml:"password_min_length,omitempty"`
	PasswordMaxLength     int               `yaml:"password_max_length,omitempty"`
	PasswordSimilarFields map[string]string `yaml:"password_similar_fields,omitempty"`

	ResetURL         string `yaml:"reset_url,omitempty"`
	EmailField       string `yaml:"email_field,omitempty"`
	ResetLinkPattern string `yaml:"reset_link_pattern,omitempty"`
	CodeLifeDays     int    `yaml:"code_lifedays,omitempty"`
	NoLeak           bool   `yaml:"no_leak,omitempty"` // unknown emails get the success response
}

// LoginRetries returns the failures after which the login form requires a
// CAPTCHA: auth.login_retries, else captcha.retries_before_enforcement.
func (d *Declaration) LoginRetries() int {
	if d.Auth.LoginRetries > 0 {
		return d.Auth.LoginRetries
	}
	return d.Captcha.RetriesBeforeEnforcement
}

// HidesAccounts reports whether the reset form must not reveal whether an
// account exists. It only applies to forms without a CAPTCHA.
func (d *Declaration) HidesAccounts() bool {
	return d.Auth.NoLeak && !d.Captcha.Enabled()
}

// Auth field names rendered by common frameworks
const (
	DefaultUsernameField = "username"
	DefaultPasswordField = "password"
	DefaultOldField      = "old_password"
	DefaultNewField      = "new_password1"
	DefaultRepeatField   = "new_password2"
	DefaultEmailField    = "email"
	DefaultCodeLifeDays  = 3
)

// WithDefaults returns a copy with every empty field name set to its default
func (a AuthDecl) WithDefaults() AuthDecl {
	or := func(v *string, fallback string) {
		if *v == "" {
			*v = fallback
		}
	}
	or(&a.UsernameField, DefaultUsernameField)
	or(&a.PasswordField, DefaultPasswordField)
	or(&a.OldPasswordField, DefaultOldField)
	or(&a.NewPasswordField, DefaultNewField)
	or(&a.RepeatPasswordField, DefaultRepeatField)
	or(&a.EmailField, DefaultEmailField)
	if a.CodeLifeDays <= 0 {
		a.CodeLifeDays = DefaultCodeLifeDays
	}
	return a
}

// CodeLifetime is how long a password reset link stays valid
func (a AuthDecl) CodeLifetime() time.Duration {
	days := a.CodeLifeDays
	if days <= 0 {
		days = DefaultCodeLifeDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// ListDecl configures the list-filter flow
type ListDecl struct {
	Filters map[string][]any `yaml:"filters,omitempty"`
}
