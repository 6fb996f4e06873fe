package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/formprobe/internal/config"
	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/store"
	"github.com/QTest-hq/formprobe/pkg/target"
)

const sentenceWords = 8

func fixtureCmd(a *app) *cobra.Command {
	var (
		outputFile string
		textSource string
		count      int
	)

	cmd := &cobra.Command{
		Use:   "generate-model-fixture <table>",
		Short: "Generate fixture rows for a table",
		Long: `Introspects a table and writes count rows of plausible values to a YAML
fixture. Key columns are left to the database. Unbounded text columns
draw their words from the text source when one is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			table := args[0]

			var words []string
			if textSource != "" {
				data, err := os.ReadFile(textSource)
				if err != nil {
					return fmt.Errorf("failed to read text source: %w", err)
				}
				if words = strings.Fields(string(data)); len(words) == 0 {
					return fmt.Errorf("text source %s has no words", textSource)
				}
			}

			conn, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			cols, err := store.Introspect(ctx, conn.SQL(), table)
			if err != nil {
				return err
			}

			fx := &config.Fixture{Table: table, Rows: fixtureRows(a.generator(), cols, words, count)}
			if err := config.SaveFixture(outputFile, fx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d row(s) for %s to: %s\n", count, table, outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "Output fixture file (required)")
	cmd.Flags().StringVarP(&textSource, "text", "r", "", "Text file supplying words for text columns")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of rows to generate")
	cmd.MarkFlagRequired("file")

	return cmd
}

// fixtureRows generates n rows for cols, skipping keys and columns the
// generator has no value for
func fixtureRows(g *datagen.Generator, cols []target.FieldSchema, words []string, n int) []map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(cols))
		for _, col := range cols {
			if col.PK {
				continue
			}
			var v any
			if len(words) > 0 && col.Kind == target.FieldString && col.MaxLength == 0 {
				v = g.Sentence(sentenceWords, words...)
			} else {
				v = g.ForColumn(col)
			}
			if v != nil {
				row[col.Name] = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// generator returns a value generator honouring the configured seed
func (a *app) generator(opts ...datagen.Option) *datagen.Generator {
	if a.cfg.Seed != 0 {
		opts = append(opts, datagen.WithSeed(a.cfg.Seed))
	}
	return datagen.New(opts...)
}
