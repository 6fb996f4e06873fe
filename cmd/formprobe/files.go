package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/formprobe/internal/datagen"
)

// sampleExtensions are written besides the image extensions
var sampleExtensions = []string{"txt", "csv", "pdf", "doc", "zip"}

func filesCmd(a *app) *cobra.Command {
	var (
		dir  string
		show bool
	)

	cmd := &cobra.Command{
		Use:   "prepare-files",
		Short: "Write the default upload files",
		Long: `Writes test.<ext> for common document and image extensions. File probes
upload these when a policy leaves the size open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.FilesDir
			}
			written, err := prepareFiles(a.generator(), dir)
			if err != nil {
				return err
			}
			if show {
				listFiles(cmd.OutOrStdout(), written)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Prepared %d file(s) in: %s\n", len(written), dir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Target directory (FORMPROBE_FILES_DIR when empty)")
	cmd.Flags().BoolVar(&show, "show", false, "List the written files")

	return cmd
}

type sampleFile struct {
	path string
	size int64
}

func prepareFiles(g *datagen.Generator, dir string) ([]sampleFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	exts := append(append([]string(nil), sampleExtensions...), datagen.ImageExtensions...)
	out := make([]sampleFile, 0, len(exts))
	for _, ext := range exts {
		f, err := g.File(datagen.FileSpec{Name: "test", Ext: ext})
		if err != nil {
			return out, err
		}
		path := filepath.Join(dir, f.Name)
		if err := os.WriteFile(path, f.Content, 0644); err != nil {
			return out, fmt.Errorf("failed to write %s: %w", path, err)
		}
		out = append(out, sampleFile{path: path, size: f.Size()})
	}
	return out, nil
}

func listFiles(w io.Writer, files []sampleFile) {
	for _, f := range files {
		fmt.Fprintf(w, "  %-40s %8d bytes\n", f.path, f.size)
	}
}
