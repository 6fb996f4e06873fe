package probe

import (
	"fmt"
	"strings"

	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
)

const wrongExtension = "qwe"

// fileSpec returns a valid upload spec for the field with a fixed name,
// so messages can reference the file name before it is generated
func (g *Generator) fileSpec(f form.Field) datagen.FileSpec {
	spec := datagen.SpecFor(f.File, "")
	if spec.Ext == "" {
		spec.Ext = "txt"
	}
	spec.Name = "test_" + strings.ToLower(g.Data.String(6, true))
	return spec
}

func fileName(spec datagen.FileSpec) string {
	return spec.Name + "." + strings.ToLower(strings.TrimPrefix(spec.Ext, "."))
}

func (g *Generator) fileSetter(name string, spec datagen.FileSpec) func(form.Params) error {
	return func(p form.Params) error {
		file, err := g.Data.File(spec)
		if err != nil {
			return fmt.Errorf("failed to build file for %s: %w", name, err)
		}
		g.set(p, name, file)
		return nil
	}
}

func (g *Generator) filesSetter(name string, specs []datagen.FileSpec) func(form.Params) error {
	return func(p form.Params) error {
		files := make([]*form.File, 0, len(specs))
		for _, spec := range specs {
			file, err := g.Data.File(spec)
			if err != nil {
				return fmt.Errorf("failed to build file for %s: %w", name, err)
			}
			files = append(files, file)
		}
		g.set(p, name, files)
		return nil
	}
}

// FileCheck names one group of upload probes
type FileCheck string

const (
	FileEmpty      FileCheck = "empty"
	FileCount      FileCheck = "count"
	FileSize       FileCheck = "size"
	FileSum        FileCheck = "sum"
	FileExtensions FileCheck = "extensions"
	FileDimensions FileCheck = "dimensions"
)

// FileChecks lists the upload probe groups in the order Files runs them
var FileChecks = []FileCheck{FileEmpty, FileCount, FileSize, FileSum, FileExtensions, FileDimensions}

// Files probes count, size, sum, emptiness, extensions and image
// dimensions of every upload field.
func (g *Generator) Files() []Probe {
	var out []Probe
	for _, f := range g.visible(form.KindFile) {
		for _, check := range FileChecks {
			out = append(out, g.fileProbes(f, check)...)
		}
	}
	return out
}

// FilesOf returns one group of upload probes for every file field
func (g *Generator) FilesOf(check FileCheck) []Probe {
	var out []Probe
	for _, f := range g.visible(form.KindFile) {
		out = append(out, g.fileProbes(f, check)...)
	}
	return out
}

func (g *Generator) fileProbes(f form.Field, check FileCheck) []Probe {
	switch check {
	case FileEmpty:
		return g.fileEmpty(f)
	case FileCount:
		return g.fileCount(f)
	case FileSize:
		return g.fileSize(f)
	case FileSum:
		return g.fileSum(f)
	case FileExtensions:
		return g.fileExtensions(f)
	case FileDimensions:
		return g.fileDimensions(f)
	}
	return nil
}

func (g *Generator) fileEmpty(f form.Field) []Probe {
	spec := g.fileSpec(f)
	spec.Empty = true
	return []Probe{g.negative(FamilyFiles, f.Name, f.Name+" empty file", g.fileSetter(f.Name, spec),
		Expect{Kind: messages.EmptyFile, Field: f.Name, Locals: g.locals(f.Name, "filename", fileName(spec))})}
}

func (g *Generator) fileCount(f form.Field) []Probe {
	limit := f.File.MaxCount
	if limit <= 1 {
		return nil
	}
	specs := func(n int) []datagen.FileSpec {
		out := make([]datagen.FileSpec, n)
		for i := range out {
			out[i] = g.fileSpec(f)
		}
		return out
	}
	return []Probe{
		g.positive(FamilyFiles, f.Name, fmt.Sprintf("%s with %d files", f.Name, limit), g.filesSetter(f.Name, specs(limit))),
		g.negative(FamilyFiles, f.Name, fmt.Sprintf("%s with %d files", f.Name, limit+1), g.filesSetter(f.Name, specs(limit+1)),
			Expect{Kind: messages.MaxCountFile, Field: f.Name, Locals: g.locals(f.Name, "length", limit)}),
	}
}

func (g *Generator) fileSize(f form.Field) []Probe {
	limit := f.File.OneMaxSize
	if limit <= 0 {
		return nil
	}
	atMax := g.fileSpec(f)
	atMax.Size = limit
	over := g.fileSpec(f)
	over.Size = limit + 1
	return []Probe{
		g.positive(FamilyFiles, f.Name, fmt.Sprintf("%s of %d bytes", f.Name, limit), g.fileSetter(f.Name, atMax)),
		g.negative(FamilyFiles, f.Name, fmt.Sprintf("%s of %d bytes", f.Name, limit+1), g.fileSetter(f.Name, over),
			Expect{Kind: messages.MaxSizeFile, Field: f.Name, Locals: g.locals(f.Name, "filename", fileName(over), "max_size", limit)}),
	}
}

// fileSum spreads total bytes over as many files as the field accepts
func (g *Generator) fileSum(f form.Field) []Probe {
	p := f.File
	if p.SumMaxSize <= 0 {
		return nil
	}
	n := int64(max(p.MaxCount, 1))
	spread := func(total int64) ([]datagen.FileSpec, bool) {
		count := min(n, total)
		base, extra := total/count, total%count
		if p.OneMaxSize > 0 && base+min(extra, 1) > p.OneMaxSize {
			return nil, false
		}
		specs := make([]datagen.FileSpec, count)
		for i := range specs {
			specs[i] = g.fileSpec(f)
			specs[i].Size = base
			if int64(i) < extra {
				specs[i].Size++
			}
		}
		return specs, true
	}

	var out []Probe
	if specs, ok := spread(p.SumMaxSize); ok && len(specs) > 1 {
		out = append(out, g.positive(FamilyFiles, f.Name, fmt.Sprintf("%s files totalling %d bytes", f.Name, p.SumMaxSize),
			g.filesSetter(f.Name, specs)))
	}
	if specs, ok := spread(p.SumMaxSize + 1); ok {
		out = append(out, g.negative(FamilyFiles, f.Name, fmt.Sprintf("%s files totalling %d bytes", f.Name, p.SumMaxSize+1),
			g.filesSetter(f.Name, specs),
			Expect{Kind: messages.MaxSumSizeFile, Field: f.Name, Locals: g.locals(f.Name, "max_size", p.SumMaxSize)}))
	}
	return out
}

func (g *Generator) fileExtensions(f form.Field) []Probe {
	p := f.File
	var out []Probe
	for _, ext := range p.Extensions {
		spec := g.fileSpec(f)
		spec.Ext = ext
		if datagen.IsImage(ext) {
			base := datagen.SpecFor(p, ext)
			spec.Width, spec.Height = base.Width, base.Height
		}
		out = append(out, g.positive(FamilyFiles, f.Name, fmt.Sprintf("%s with extension %s", f.Name, ext), g.fileSetter(f.Name, spec)))
	}

	wrong := p.WrongExtensions
	if len(wrong) == 0 && len(p.Extensions) > 0 {
		wrong = []string{wrongExtension}
	}
	for _, ext := range wrong {
		spec := g.fileSpec(f)
		spec.Ext = ext
		out = append(out, g.negative(FamilyFiles, f.Name, fmt.Sprintf("%s with extension %s", f.Name, ext), g.fileSetter(f.Name, spec),
			Expect{Kind: messages.WrongExtension, Field: f.Name, Locals: g.locals(f.Name, "filename", fileName(spec))}))
	}
	return out
}

// fileDimensions submits images exactly at each declared bound and one
// pixel beyond it
func (g *Generator) fileDimensions(f form.Field) []Probe {
	p := f.File
	if !p.HasDimensions() {
		return nil
	}
	ext := "jpg"
	for _, e := range p.Extensions {
		if datagen.IsImage(e) && e != "svg" {
			ext = e
			break
		}
	}
	base := datagen.SpecFor(p, ext)
	image := func(w, h int) datagen.FileSpec {
		spec := g.fileSpec(f)
		spec.Ext, spec.Width, spec.Height = ext, w, h
		return spec
	}
	minLocals := g.locals(f.Name, "min_width", p.MinWidth, "min_height", p.MinHeight)
	maxLocals := g.locals(f.Name, "max_width", p.MaxWidth, "max_height", p.MaxHeight)

	type bound struct {
		label      string
		okW, okH   int
		badW, badH int
		kind       messages.Kind
		locals     messages.Locals
		declared   bool
	}
	bounds := []bound{
		{"min width", p.MinWidth, base.Height, p.MinWidth - 1, base.Height, messages.MinDimensions, minLocals, p.MinWidth > 0},
		{"min height", base.Width, p.MinHeight, base.Width, p.MinHeight - 1, messages.MinDimensions, minLocals, p.MinHeight > 0},
		{"max width", p.MaxWidth, base.Height, p.MaxWidth + 1, base.Height, messages.MaxDimensions, maxLocals, p.MaxWidth > 0},
		{"max height", base.Width, p.MaxHeight, base.Width, p.MaxHeight + 1, messages.MaxDimensions, maxLocals, p.MaxHeight > 0},
	}

	var out []Probe
	for _, b := range bounds {
		if !b.declared {
			continue
		}
		out = append(out, g.positive(FamilyFiles, f.Name, fmt.Sprintf("%s image %dx%d at %s", f.Name, b.okW, b.okH, b.label),
			g.fileSetter(f.Name, image(b.okW, b.okH))))
		if b.badW < 1 || b.badH < 1 {
			continue
		}
		out = append(out, g.negative(FamilyFiles, f.Name, fmt.Sprintf("%s image %dx%d beyond %s", f.Name, b.badW, b.badH, b.label),
			g.fileSetter(f.Name, image(b.badW, b.badH)),
			Expect{Kind: b.kind, Field: f.Name, Locals: b.locals}))
	}
	return out
}

// NullByte injects a null character into strings and file names according
// to the model's null check modes
func (g *Generator) NullByte() []Probe {
	check := g.Model.NullCheck
	var out []Probe
	if check.Str != form.NullOff {
		for _, f := range g.visible(form.KindString) {
			// the stripped value keeps at least MinLength runes
			n := max(5, f.MinLength+1)
			if f.MaxLength > 0 && n > f.MaxLength {
				continue
			}
			clean := g.Data.String(n-1, true)
			value := clean[:2] + "\x00" + clean[2:]
			name := f.Name + " with null byte"
			if check.Str == form.NullReject {
				out = append(out, g.negative(FamilyNullByte, f.Name, name, g.setter(f.Name, value),
					Expect{Kind: messages.WithNull, Field: f.Name, Locals: g.locals(f.Name, "value", value)}))
				continue
			}
			probe := g.positive(FamilyNullByte, f.Name, name, g.setter(f.Name, value))
			probe.Other = form.Params{f.Name: clean}
			out = append(out, probe)
		}
	}
	if check.File != form.NullOff {
		for _, f := range g.visible(form.KindFile) {
			spec := g.fileSpec(f)
			clean := fileName(spec)
			spec.Name = spec.Name[:2] + "\x00" + spec.Name[2:]
			name := f.Name + " file name with null byte"
			if check.File == form.NullReject {
				out = append(out, g.negative(FamilyNullByte, f.Name, name, g.fileSetter(f.Name, spec),
					Expect{Kind: messages.WithNull, Field: f.Name, Locals: g.locals(f.Name, "filename", fileName(spec))}))
				continue
			}
			probe := g.positive(FamilyNullByte, f.Name, name, g.fileSetter(f.Name, spec))
			probe.Other = form.Params{f.Name: &form.File{Name: clean}}
			out = append(out, probe)
		}
	}
	return out
}
