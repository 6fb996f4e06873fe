package harness

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/formprobe/internal/auth"
	"github.com/QTest-hq/formprobe/internal/client"
	"github.com/QTest-hq/formprobe/internal/config"
	"github.com/QTest-hq/formprobe/internal/datagen"
	"github.com/QTest-hq/formprobe/internal/db"
	"github.com/QTest-hq/formprobe/internal/inspect"
	"github.com/QTest-hq/formprobe/internal/labels"
	"github.com/QTest-hq/formprobe/internal/mail"
	"github.com/QTest-hq/formprobe/internal/messages"
	"github.com/QTest-hq/formprobe/internal/store"
)

// FromConfig builds the suite sc of a suite file and the flows it runs.
// Only the declaration side is filled; Env.Bind attaches the collaborators.
func FromConfig(file *config.SuiteFile, sc config.SuiteConfig) (*Suite, []Flow, error) {
	decl := sc.Form
	if decl.NonFieldKey == "" {
		decl.NonFieldKey = file.NonFieldKey
	}

	sel, err := labels.New(file.Include, file.Exclude)
	if err != nil {
		return nil, nil, fmt.Errorf("suite %s: %w", sc.Name(), err)
	}

	s := &Suite{
		Decl:      decl,
		Labels:    sel,
		Catalogue: messages.New(decl.CustomErrorMessages, file.ErrorMessages, decl.NonFieldKey),
	}
	if len(sc.Gates) > 0 {
		s.Gates = []Gate{With(sc.Gates...)}
	}

	var flows []Flow
	for _, name := range sc.Flows {
		f, ok := FlowByName(name)
		if !ok {
			return nil, nil, fmt.Errorf("suite %s: unknown flow %q", sc.Name(), name)
		}
		flows = append(flows, f)
	}
	if len(flows) == 0 {
		flows = Flows
	}
	return s, flows, nil
}

// Env holds the connections suites built from configuration share. Rows
// are read and rolled back through one database session; a nil Redis or
// NATS connection keeps the blacklist or outbox in memory.
type Env struct {
	Config  *config.Config
	DB      *db.DB
	Session *db.Session
	Redis   *redis.Client
	NATS    *nats.Conn
}

// Connect opens the connections cfg names. DatabaseURL is required, Redis
// and NATS only when their URLs are set.
func Connect(ctx context.Context, cfg *config.Config) (*Env, error) {
	e := &Env{Config: cfg}

	conn, err := db.New(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return nil, err
	}
	e.DB = conn
	if e.Session, err = conn.Begin(ctx); err != nil {
		e.Close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("invalid FORMPROBE_REDIS_URL: %w", err)
		}
		e.Redis = redis.NewClient(opts)
		if err := e.Redis.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	if cfg.NATSURL != "" {
		if e.NATS, err = mail.Connect(cfg.NATSURL, "formprobe"); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// Close rolls back the session and closes every connection
func (e *Env) Close() {
	if e.Session != nil {
		if err := e.Session.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session")
		}
	}
	if e.DB != nil {
		e.DB.Close()
	}
	if e.Redis != nil {
		e.Redis.Close()
	}
	if e.NATS != nil {
		e.NATS.Close()
	}
}

// Bind attaches the collaborators of sc to s: the HTTP client, the entity
// over sc's table, the user directory, the blacklist, the outbox and the
// CAPTCHA solver. Fixtures named by sc are loaded into the session first.
func (e *Env) Bind(ctx context.Context, s *Suite, file *config.SuiteFile, sc config.SuiteConfig) error {
	cfg := e.Config
	base := cfg.BaseURL
	if file.BaseURL != "" {
		base = file.BaseURL
	}
	c, err := client.New(base, client.WithTimeout(cfg.Timeout))
	if err != nil {
		return err
	}
	s.Client = c
	s.Inspector = inspect.NewHTML(s.Decl.NonFieldKey)
	s.Colour = cfg.Colour

	opts := []datagen.Option{datagen.WithFilesDir(cfg.FilesDir)}
	if cfg.Seed != 0 {
		opts = append(opts, datagen.WithSeed(cfg.Seed))
	}
	s.Data = datagen.New(opts...)

	if err := e.loadFixtures(ctx, sc.Fixtures); err != nil {
		return err
	}
	if sc.Table != "" {
		s.Entity = store.NewSQL(e.Session, sc.Table, sc.PK)
	}
	s.Users = auth.NewSQLUsers(e.Session, sc.UserTable, sc.ResetTable, cfg.PasswordCost)

	if e.Redis != nil {
		s.Blacklist = auth.NewRedisBlacklist(e.Redis, "", 0)
	}
	if e.NATS != nil {
		outbox, err := mail.NewNATS(ctx, e.NATS, cfg.MailStream, cfg.MailSubject)
		if err != nil {
			return err
		}
		s.Outbox = outbox
	}

	var tokens client.TokenSource
	if cfg.Captcha.TokenURL != "" {
		tokens = client.EndpointTokens(c, cfg.Captcha.TokenURL)
	}
	provider := s.Decl.Captcha.Provider
	if provider == "" {
		provider = cfg.Captcha.Provider
	}
	if s.Captcha, err = client.Solver(provider, tokens, cfg.Captcha.TokenTTL); err != nil {
		return fmt.Errorf("suite %s: %w", sc.Name(), err)
	}
	return nil
}

func (e *Env) loadFixtures(ctx context.Context, paths []string) error {
	for _, path := range paths {
		fx, err := config.LoadFixture(path)
		if err != nil {
			return err
		}
		n, err := store.NewSQL(e.Session, fx.Table, "").Load(ctx, fx.Rows)
		if err != nil {
			return fmt.Errorf("fixture %s: %w", path, err)
		}
		log.Debug().Str("fixture", path).Str("table", fx.Table).Int("rows", n).Msg("loaded fixture")
	}
	return nil
}
