package testapp

import (
	"sync"

	"github.com/google/uuid"

	"github.com/QTest-hq/formprobe/internal/client"
	"github.com/QTest-hq/formprobe/internal/messages"
)

// challenge is a test-mode CAPTCHA: the page reveals the answer
type challenge struct {
	Key    string `json:"key"`
	Answer string `json:"answer"`
}

// challenges holds issued CAPTCHA keys until they are answered once
type challenges struct {
	mu      sync.Mutex
	pending map[string]string
}

func newChallenges() *challenges {
	return &challenges{pending: make(map[string]string)}
}

func (c *challenges) issue() *challenge {
	ch := &challenge{Key: uuid.NewString(), Answer: client.DefaultPassphrase}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[ch.Key] = ch.Answer
	return ch
}

// verify consumes key and reports whether answer solves it
func (c *challenges) verify(key, answer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	want, ok := c.pending[key]
	if !ok {
		return false
	}
	delete(c.pending, key)
	return answer == want
}

// captchaFields adds the CAPTCHA inputs to a rendered form and a fresh
// challenge to the page
func (s *Server) captchaFields(p *page, fc *formContext) {
	prefix := s.decl.Captcha.Prefix()
	fc.Fields = append(fc.Fields, prefix+"_1")
	fc.Hidden = append(fc.Hidden, prefix+"_0")
	p.Captcha = s.captchas.issue()
}

// checkCaptcha validates the submitted challenge, reporting under the prefix
func (s *Server) checkCaptcha(sub *submission, errs *formErrors) {
	prefix := s.decl.Captcha.Prefix()
	if !s.captchas.verify(sub.get(prefix+"_0"), sub.get(prefix+"_1")) {
		errs.add(prefix, messages.WrongCaptcha, messages.Locals{"verbose_field": s.model.VerboseField(prefix)})
	}
}

// guarded reports whether the entity forms require a CAPTCHA
func (s *Server) guarded() bool {
	return s.decl.Captcha.Enabled()
}
