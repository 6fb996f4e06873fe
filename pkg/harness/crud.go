package harness

import (
	"fmt"
	"testing"

	"github.com/QTest-hq/formprobe/internal/probe"
	"github.com/QTest-hq/formprobe/internal/scenario"
	"github.com/QTest-hq/formprobe/pkg/form"
)

// Flow names, also the second segment of case labels
const (
	FlowAddPositive            = "add_positive"
	FlowAddNegative            = "add_negative"
	FlowEditPositive           = "edit_positive"
	FlowEditNegative           = "edit_negative"
	FlowDeletePositive         = "delete_positive"
	FlowDeleteNegative         = "delete_negative"
	FlowRemovePositive         = "remove_positive"
	FlowRemoveNegative         = "remove_negative"
	FlowListPositive           = "list_positive"
	FlowListNegative           = "list_negative"
	FlowLoginPositive          = "login_positive"
	FlowLoginNegative          = "login_negative"
	FlowChangePasswordPositive = "change_password_positive"
	FlowChangePasswordNegative = "change_password_negative"
	FlowResetPasswordPositive  = "reset_password_positive"
	FlowResetPasswordNegative  = "reset_password_negative"
)

// build returns the probes of one family
type build func(g *probe.Generator) []probe.Probe

// probeCase runs the probes of one family that have the given profile
func probeCase(flow, name string, mode form.Mode, profile probe.Profile, families []build, gates ...Gate) Case {
	return Case{
		Name:  name,
		Gates: append(formGates(mode), gates...),
		Run: func(t *testing.T, h *Harness) {
			s, g := h.formScenario(t, flow, mode)
			defer s.Finish()
			for _, family := range families {
				for _, p := range family(g) {
					if p.Profile == profile {
						s.Run(t.Context(), p)
					}
				}
			}
		},
	}
}

func formGates(mode form.Mode) []Gate {
	if mode == form.ModeEdit {
		return []Gate{WithObj(), With("url_edit")}
	}
	return []Gate{With("url_add")}
}

// formScenario opens a scenario on the add or edit form. Rows the case
// keeps are rolled back when the test ends.
func (h *Harness) formScenario(t *testing.T, flow string, mode form.Mode) (*scenario.Scenario, *probe.Generator) {
	t.Helper()
	url := h.Suite.Decl.URLAdd
	var pk any
	if mode == form.ModeEdit {
		pk = h.mustObject(t)
		url = objectURL(h.Suite.Decl.URLEdit, pk)
	}
	if h.Suite.Entity != nil {
		t.Cleanup(h.savepoint(t))
	}
	g := probe.New(h.Model, mode, h.Data)
	g.Object = pk
	return h.scenario(t, flow, mode, url, pk), g
}

// defaultsProbe submits the form defaults unchanged
func defaultsProbe(g *probe.Generator) []probe.Probe {
	p := probe.Probe{
		Name:    "default params",
		Family:  probe.FamilyCustom,
		Profile: probe.Positive,
	}
	if g.Mode == form.ModeAdd {
		p.Policy = probe.DeletePrevious
	}
	return []probe.Probe{p}
}

func fileFamily(check probe.FileCheck) build {
	return func(g *probe.Generator) []probe.Probe { return g.FilesOf(check) }
}

func formCases(mode form.Mode, positive, negative string) (Flow, Flow) {
	pos := func(name string, families []build, gates ...Gate) Case {
		return probeCase(positive, name, mode, probe.Positive, families, gates...)
	}
	neg := func(name string, families []build, gates ...Gate) Case {
		return probeCase(negative, name, mode, probe.Negative, families, gates...)
	}
	fam := func(fs ...build) []build { return fs }
	g := func(f func(*probe.Generator) []probe.Probe) build { return f }

	positives := Flow{Name: positive, Cases: []Case{
		pos("default_params", fam(defaultsProbe)),
		pos("required", fam(g((*probe.Generator).Required))),
		pos("all_fields_max", fam(g((*probe.Generator).AllFieldsMax)), withMaxLength(mode)),
		pos("min_length", fam(g((*probe.Generator).MinLength)), withMinLength(mode)),
		pos("digital_range", fam(g((*probe.Generator).DigitalRange)), withDigital(mode)),
		pos("unique_case_different", fam(g((*probe.Generator).UniqueCaseDifferent)), With("unique_with_case"), withEntity),
		pos("disabled_ignored", fam(g((*probe.Generator).DisabledIgnored)), withDisabled(mode), withEntity),
		pos("one_of", fam(g((*probe.Generator).OneOf)), withOneOf(mode)),
		pos("file_count", fam(fileFamily(probe.FileCount)), WithFilesParams("max_count")),
		pos("file_size", fam(fileFamily(probe.FileSize), fileFamily(probe.FileSum)), WithAnyFilesParams("one_max_size", "sum_max_size")),
		pos("file_extensions", fam(fileFamily(probe.FileExtensions)), WithFilesParams("extensions")),
		pos("file_dimensions", fam(fileFamily(probe.FileDimensions)), WithAnyFilesParams("min_width", "max_width", "min_height", "max_height")),
		pos("null_byte", fam(g((*probe.Generator).NullByte)), With("null_check")),
		pos("interval", fam(g((*probe.Generator).Interval)), With("intervals")),
		pos("required_if", fam(g((*probe.Generator).RequiredIf)), With(suffixed("required_if", mode))),
		pos("max_blocks", fam(g((*probe.Generator).MaxBlocks)), With("max_blocks")),
	}}

	negatives := Flow{Name: negative, Cases: []Case{
		neg("required", fam(g((*probe.Generator).Required))),
		neg("max_length", fam(g((*probe.Generator).MaxLength)), withMaxLength(mode)),
		neg("min_length", fam(g((*probe.Generator).MinLength)), withMinLength(mode)),
		neg("wrong_choice", fam(g((*probe.Generator).WrongChoice))),
		neg("unique", fam(g((*probe.Generator).UniqueDuplicate)), withUnique(mode), withEntity),
		neg("digital_range", fam(g((*probe.Generator).DigitalRange)), withDigital(mode)),
		neg("wrong_email", fam(g((*probe.Generator).WrongEmail))),
		neg("one_of", fam(g((*probe.Generator).OneOf)), withOneOf(mode)),
		neg("file_empty", fam(fileFamily(probe.FileEmpty)), withFiles),
		neg("file_count", fam(fileFamily(probe.FileCount)), WithFilesParams("max_count")),
		neg("file_size", fam(fileFamily(probe.FileSize)), WithFilesParams("one_max_size")),
		neg("file_sum_size", fam(fileFamily(probe.FileSum)), WithFilesParams("sum_max_size")),
		neg("file_extensions", fam(fileFamily(probe.FileExtensions)), WithAnyFilesParams("extensions", "wrong_extensions")),
		neg("file_dimensions", fam(fileFamily(probe.FileDimensions)), WithAnyFilesParams("min_width", "max_width", "min_height", "max_height")),
		neg("null_byte", fam(g((*probe.Generator).NullByte)), With("null_check")),
		neg("interval", fam(g((*probe.Generator).Interval)), With("intervals")),
		neg("required_if", fam(g((*probe.Generator).RequiredIf)), With(suffixed("required_if", mode))),
		neg("max_blocks", fam(g((*probe.Generator).MaxBlocks)), With("max_blocks")),
	}}
	return positives, negatives
}

// suffixed names the per-form variant of a form attribute
func suffixed(attr string, mode form.Mode) string {
	return fmt.Sprintf("%s_%s", attr, mode)
}

// AddPositive, AddNegative, EditPositive and EditNegative probe the entity forms
var (
	AddPositive, AddNegative   = formCases(form.ModeAdd, FlowAddPositive, FlowAddNegative)
	EditPositive, EditNegative = formCases(form.ModeEdit, FlowEditPositive, FlowEditNegative)
)
