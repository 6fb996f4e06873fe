package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/formprobe/pkg/target"
)

// Stream defaults
const (
	DefaultStream  = "FORMPROBE_MAIL"
	DefaultSubject = "formprobe.mail"
)

// Connect opens a NATS connection that keeps reconnecting in the background
func Connect(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info().Str("url", url).Msg("connected to NATS")
	return nc, nil
}

// NATS is an outbox kept in a JetStream stream. The application publishes
// every outgoing message as JSON on the subject; the harness reads the
// stream back and purges it between probes.
type NATS struct {
	js      jetstream.JetStream
	stream  jetstream.Stream
	subject string
}

// NewNATS creates or updates the stream named stream capturing subject
func NewNATS(ctx context.Context, nc *nats.Conn, stream, subject string) (*NATS, error) {
	if stream == "" {
		stream = DefaultStream
	}
	if subject == "" {
		subject = DefaultSubject
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Subjects:    []string{subject},
		Storage:     jetstream.MemoryStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     10000,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
		Description: "formprobe captured mail",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", stream, err)
	}

	log.Debug().Str("stream", stream).Str("subject", subject).Msg("mail stream ready")
	return &NATS{js: js, stream: s, subject: subject}, nil
}

// Send publishes m to the outbox subject
func (o *NATS) Send(ctx context.Context, m target.Mail) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mail: %w", err)
	}
	if _, err := o.js.Publish(ctx, o.subject, data); err != nil {
		return fmt.Errorf("failed to publish mail to %s: %w", o.subject, err)
	}
	return nil
}

// Messages reads every stored message in publish order
func (o *NATS) Messages(ctx context.Context) ([]target.Mail, error) {
	info, err := o.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream info: %w", err)
	}
	if info.State.Msgs == 0 {
		return nil, nil
	}

	out := make([]target.Mail, 0, info.State.Msgs)
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq; seq++ {
		raw, err := o.stream.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read mail %d: %w", seq, err)
		}
		var m target.Mail
		if err := json.Unmarshal(raw.Data, &m); err != nil {
			return nil, fmt.Errorf("mail %d is not valid JSON: %w", seq, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Reset purges the stream
func (o *NATS) Reset(ctx context.Context) error {
	if err := o.stream.Purge(ctx); err != nil {
		return fmt.Errorf("failed to purge mail stream: %w", err)
	}
	return nil
}
