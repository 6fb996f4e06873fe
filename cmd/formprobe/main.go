package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/QTest-hq/formprobe/internal/config"
	"github.com/QTest-hq/formprobe/internal/db"
)

var version = "dev"

// app carries the configuration every subcommand reads. Flags override
// FORMPROBE_* variables, which override the defaults of config.Load.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("FORMPROBE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "formprobe",
		Short: "formprobe - declarative form testing",
		Long: `formprobe probes the forms of a web application from a declaration of
their fields and constraints. These commands prepare fixtures and files
for the suites and show which cases a suite file activates.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("database-url", "", "database of the application under test")
	flags.String("base-url", "", "address of the application under test")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("files-dir", "", "directory of the sample upload files")
	flags.Int64("seed", 0, "seed for generated values, random when 0")
	flags.Bool("no-colour", false, "disable coloured output")
	if err := a.v.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(dumpCmd(a))
	rootCmd.AddCommand(fixtureCmd(a))
	rootCmd.AddCommand(filesCmd(a))
	rootCmd.AddCommand(passwordCmd(a))
	rootCmd.AddCommand(labelsCmd())
	rootCmd.AddCommand(planCmd(a))

	return rootCmd
}

// load reads the environment, applies flag overrides and sets up logging
func (a *app) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if s := a.v.GetString("database-url"); s != "" {
		cfg.DatabaseURL = s
	}
	if s := a.v.GetString("base-url"); s != "" {
		cfg.BaseURL = s
	}
	if s := a.v.GetString("log-level"); s != "" {
		cfg.LogLevel = s
	}
	if s := a.v.GetString("files-dir"); s != "" {
		cfg.FilesDir = s
	}
	if n := a.v.GetInt64("seed"); n != 0 {
		cfg.Seed = n
	}
	if a.v.GetBool("no-colour") {
		cfg.Colour = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !cfg.Colour})
	a.cfg = cfg
	return nil
}

// connect opens the database named by the configuration
func (a *app) connect(ctx context.Context) (*db.DB, error) {
	conn, err := db.New(ctx, a.cfg.DatabaseURL, db.Options{MaxConns: 2})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", maskConnectionString(a.cfg.DatabaseURL), err)
	}
	return conn, nil
}

// maskConnectionString hides the password of a connection URL
func maskConnectionString(s string) string {
	scheme := strings.Index(s, "://")
	at := strings.LastIndex(s, "@")
	if scheme < 0 || at < scheme {
		return s
	}
	creds := s[scheme+3 : at]
	colon := strings.Index(creds, ":")
	if colon < 0 {
		return s
	}
	return s[:scheme+3] + creds[:colon] + ":****" + s[at:]
}
