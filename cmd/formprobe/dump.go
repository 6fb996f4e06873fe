package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/formprobe/internal/config"
	"github.com/QTest-hq/formprobe/internal/store"
)

func dumpCmd(a *app) *cobra.Command {
	var (
		outputFile string
		pk         string
	)

	cmd := &cobra.Command{
		Use:   "udumpdata <table>",
		Short: "Dump the rows of a table as a fixture",
		Long: `Dumps every row of a table. A .yaml or .yml output file gets a fixture
suites can load; anything else gets indented JSON with unicode kept readable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			table := args[0]

			conn, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			recs, err := store.NewSQL(conn.SQL(), table, pk).Filter(ctx, nil)
			if err != nil {
				return err
			}
			fx := &config.Fixture{Table: table, Rows: make([]map[string]any, len(recs))}
			for i, r := range recs {
				fx.Rows[i] = r.Values
			}

			if outputFile == "" {
				return writeJSON(cmd.OutOrStdout(), fx)
			}
			if err := saveDump(outputFile, fx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dumped %d row(s) of %s to: %s\n", len(fx.Rows), table, outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "Output file (stdout when empty)")
	cmd.Flags().StringVar(&pk, "pk", "id", "Primary key column rows are ordered by")

	return cmd
}

// isYAML reports whether path names a YAML file
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func saveDump(path string, fx *config.Fixture) error {
	if isYAML(path) {
		return config.SaveFixture(path, fx)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return writeJSON(f, fx)
}

func writeJSON(w io.Writer, fx *config.Fixture) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fx); err != nil {
		return fmt.Errorf("failed to encode %s rows: %w", fx.Table, err)
	}
	return nil
}
