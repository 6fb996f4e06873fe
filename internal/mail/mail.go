// Package mail captures the messages the application under test sends, so
// password reset and notification flows can be asserted on.
package mail

import (
	"context"
	"sync"

	"github.com/QTest-hq/formprobe/pkg/target"
)

// Sender delivers a message into an outbox
type Sender interface {
	Send(ctx context.Context, m target.Mail) error
}

// Memory is an in-process outbox
type Memory struct {
	mu   sync.Mutex
	mail []target.Mail
}

// NewMemory creates an empty outbox
func NewMemory() *Memory {
	return &Memory{}
}

func (o *Memory) Send(_ context.Context, m target.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m.To = append([]string(nil), m.To...)
	o.mail = append(o.mail, m)
	return nil
}

func (o *Memory) Messages(context.Context) ([]target.Mail, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]target.Mail(nil), o.mail...), nil
}

func (o *Memory) Reset(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mail = nil
	return nil
}
