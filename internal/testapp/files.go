package testapp

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime/multipart"
	"path"
	"strings"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"

	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/pkg/form"
)

// file validates the uploads of one file field
func (c *cleaner) file(f form.Field) {
	headers := c.sub.files[f.Name]
	if len(headers) == 0 {
		if c.current != nil {
			if v, ok := c.current.Values[f.Name]; ok && v != nil {
				c.clean[f.Name] = v
				c.filled.Add(f.Name)
				return
			}
		}
		c.missing(f)
		return
	}
	c.filled.Add(f.Name)

	p := f.File
	multiple := p.MaxCount > 1
	if multiple && len(headers) > p.MaxCount {
		c.add(f.Name, messages.MaxCountFile, "length", p.MaxCount)
		return
	}
	if !multiple {
		headers = headers[len(headers)-1:]
	}

	var (
		names []any
		total int64
	)
	for _, h := range headers {
		name, ok := c.stripNull(f, h.Filename, c.s.model.NullCheck.File, "filename")
		if !ok {
			return
		}
		if h.Size == 0 {
			c.add(f.Name, messages.EmptyFile, "filename", name)
			return
		}
		if !c.checkFile(f, h, name) {
			return
		}
		total += h.Size
		names = append(names, name)
	}
	if p.SumMaxSize > 0 && total > p.SumMaxSize {
		c.add(f.Name, messages.MaxSumSizeFile, "max_size", p.SumMaxSize)
		return
	}
	if multiple {
		c.clean[f.Name] = names
		return
	}
	c.clean[f.Name] = names[0]
}

// checkFile applies the per-file limits in the order a form library reports them
func (c *cleaner) checkFile(f form.Field, h *multipart.FileHeader, name string) bool {
	p := f.File
	if n := utf8.RuneCountInString(name); f.MaxLength > 0 && n > f.MaxLength {
		c.add(f.Name, messages.MaxLengthFile, "length", f.MaxLength, "current_length", n)
		return false
	}
	if p.OneMaxSize > 0 && h.Size > p.OneMaxSize {
		c.add(f.Name, messages.MaxSizeFile, "filename", name, "max_size", p.OneMaxSize)
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if len(p.Extensions) > 0 && !extensionAllowed(p.Extensions, ext) {
		c.add(f.Name, messages.WrongExtension, "filename", name)
		return false
	}
	if !p.HasDimensions() || !datagen.IsImage(ext) || ext == "svg" {
		return true
	}

	file, err := h.Open()
	if err != nil {
		c.add(f.Name, messages.WrongExtension, "filename", name)
		return false
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		c.add(f.Name, messages.WrongExtension, "filename", name)
		return false
	}
	switch {
	case (p.MinWidth > 0 && cfg.Width < p.MinWidth) || (p.MinHeight > 0 && cfg.Height < p.MinHeight):
		c.add(f.Name, messages.MinDimensions, "min_width", p.MinWidth, "min_height", p.MinHeight)
		return false
	case (p.MaxWidth > 0 && cfg.Width > p.MaxWidth) || (p.MaxHeight > 0 && cfg.Height > p.MaxHeight):
		c.add(f.Name, messages.MaxDimensions, "max_width", p.MaxWidth, "max_height", p.MaxHeight)
		return false
	}
	return true
}

func extensionAllowed(allowed []string, ext string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}
