package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/QTest-hq/formprobe/internal/client"
	"github.com/QTest-hq/formprobe/internal/config"
	"github.com/QTest-hq/formprobe/internal/labels"
	"github.com/QTest-hq/formprobe/pkg/harness"
)

func labelsCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "labels <label>...",
		Short: "Print the go test -run expression for labels",
		Long: `Converts glob labels such as product.*.max_length into the expression
'go test -run' needs to select the matching cases.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, l := range args {
				if _, err := labels.Compile(l); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), labels.RunPattern(root, args))
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Test function the suites run under")

	return cmd
}

func planCmd(a *app) *cobra.Command {
	var (
		suiteFile string
		only      string
		skipped   bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the cases a suite file activates",
		Long: `Evaluates the gates of every selected case against the declarations of
a suite file without contacting the application. Cases needing a
database, an outbox or a blacklist show as skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if suiteFile == "" {
				suiteFile = a.cfg.SuiteFile
			}
			file, err := config.LoadSuiteFile(suiteFile)
			if err != nil {
				return err
			}
			if err := file.Validate(); err != nil {
				return err
			}

			base := a.cfg.BaseURL
			if file.BaseURL != "" {
				base = file.BaseURL
			}

			w := cmd.OutOrStdout()
			for _, sc := range file.Suites {
				if only != "" && sc.Name() != only {
					continue
				}
				s, flows, err := harness.FromConfig(file, sc)
				if err != nil {
					return err
				}
				if s.Client, err = client.New(base); err != nil {
					return err
				}
				planned, err := harness.Check(cmd.Context(), s, flows...)
				if err != nil {
					return fmt.Errorf("suite %s: %w", sc.Name(), err)
				}
				printPlan(w, sc.Name(), planned, skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&suiteFile, "config", "c", "", "Suite file (FORMPROBE_SUITE_FILE when empty)")
	cmd.Flags().StringVarP(&only, "suite", "s", "", "Only plan the named suite")
	cmd.Flags().BoolVar(&skipped, "skipped", true, "Also list skipped cases with the reason")

	return cmd
}

func printPlan(w io.Writer, name string, planned []harness.Planned, skipped bool) {
	run := color.New(color.FgGreen)
	skip := color.New(color.FgYellow)

	active := 0
	for _, p := range planned {
		if p.Skip == "" {
			active++
		}
	}
	fmt.Fprintf(w, "%s: %d of %d case(s) active\n", name, active, len(planned))
	for _, p := range planned {
		switch {
		case p.Skip == "":
			run.Fprintf(w, "  run   %s\n", p.ID)
		case skipped:
			skip.Fprintf(w, "  skip  %s (%s)\n", p.ID, p.Skip)
		}
	}
}
