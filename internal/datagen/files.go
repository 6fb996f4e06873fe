package datagen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/QTest-hq/formprobe/pkg/form"
	"golang.org/x/image/bmp"
)

// ImageExtensions lists the extensions synthesised as images
var ImageExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "svg"}

const (
	defaultExt        = "txt"
	defaultImageSide  = 10
	defaultFileLength = 64
)

// FileSpec describes a file to synthesise
type FileSpec struct {
	Name   string // base name without extension; random when empty
	Ext    string
	Size   int64 // exact byte size; 0 leaves the size to the generator
	Empty  bool  // zero bytes
	Width  int
	Height int
}

// SpecFor derives a valid upload spec from a file policy: the first allowed
// extension and, for images, the smallest allowed dimensions.
func SpecFor(p form.FileParams, ext string) FileSpec {
	if ext == "" && len(p.Extensions) > 0 {
		ext = p.Extensions[0]
	}
	spec := FileSpec{Ext: ext}
	if IsImage(ext) {
		spec.Width = max(p.MinWidth, defaultImageSide)
		spec.Height = max(p.MinHeight, defaultImageSide)
		if p.MaxWidth > 0 {
			spec.Width = min(spec.Width, p.MaxWidth)
		}
		if p.MaxHeight > 0 {
			spec.Height = min(spec.Height, p.MaxHeight)
		}
	}
	return spec
}

// IsImage reports whether ext is synthesised as an image
func IsImage(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range ImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// File synthesises an upload. A default file test.<ext> in the files
// directory is reused when the spec leaves the size open.
func (g *Generator) File(spec FileSpec) (*form.File, error) {
	ext := strings.ToLower(strings.TrimPrefix(spec.Ext, "."))
	if ext == "" {
		ext = defaultExt
	}
	name := spec.Name
	if name == "" {
		name = "test_" + g.label(8)
	}
	f := &form.File{
		Name:        name + "." + ext,
		ContentType: contentType(ext),
	}
	switch {
	case spec.Empty:
		f.Content = []byte{}
	case IsImage(ext):
		content, err := g.Image(ext, spec.Width, spec.Height, spec.Size)
		if err != nil {
			return nil, err
		}
		f.Content = content
	case spec.Size == 0 && g.defaultFile(ext) != nil:
		f.Content = g.defaultFile(ext)
	default:
		size := spec.Size
		if size == 0 {
			size = defaultFileLength
		}
		f.Content = g.bytes(size)
	}
	return f, nil
}

func (g *Generator) defaultFile(ext string) []byte {
	if g.filesDir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(g.filesDir, "test."+ext))
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

func (g *Generator) bytes(size int64) []byte {
	b := make([]byte, size)
	for i := range b {
		// printable payload keeps text-sniffing servers happy
		b[i] = (letters + digits)[g.rnd.Intn(len(letters)+len(digits))]
	}
	return b
}

// Image encodes a width x height image. When size exceeds the encoded
// length the payload is padded to exactly size bytes; decoders stop at the
// format trailer so the padding does not alter the picture.
func (g *Generator) Image(ext string, width, height int, size int64) ([]byte, error) {
	if width <= 0 {
		width = defaultImageSide
	}
	if height <= 0 {
		height = defaultImageSide
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))

	var buf bytes.Buffer
	pad := byte(0)
	if ext == "svg" {
		fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`+
			`<rect width="%d" height="%d" fill="#%06x"/></svg>`, width, height, width, height, g.rnd.Intn(0xffffff))
		pad = ' '
	} else {
		img := g.picture(width, height)
		var err error
		switch ext {
		case "jpg", "jpeg":
			err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
		case "png":
			err = png.Encode(&buf, img)
		case "gif":
			err = gif.Encode(&buf, img, nil)
		case "bmp":
			err = bmp.Encode(&buf, img)
		default:
			return nil, fmt.Errorf("unsupported image extension %q", ext)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s image: %w", ext, err)
		}
	}
	for int64(buf.Len()) < size {
		buf.WriteByte(pad)
	}
	return buf.Bytes(), nil
}

func (g *Generator) picture(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := color.RGBA{R: uint8(g.rnd.Intn(256)), G: uint8(g.rnd.Intn(256)), B: uint8(g.rnd.Intn(256)), A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, base)
		}
	}
	return img
}

func contentType(ext string) string {
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
