package ipa

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/swarmdns/internal/logger"
)

// Session keeps a Kerberos ticket for the service principal.
//
// No expiry is tracked: callers refresh before every mutating call and on a
// fixed interval, and a stale ticket only makes the next command fail.
type Session struct {
	runner    Runner
	principal string
	password  string
	log       logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastAuth time.Time
}

// NewSession creates a session for username@REALM.
func NewSession(runner Runner, username, realm, password string, log logger.Logger) *Session {
	return &Session{
		runner:    runner,
		principal: fmt.Sprintf("%s@%s", username, strings.ToUpper(realm)),
		password:  password,
		log:       log,
		now:       time.Now,
	}
}

// Principal returns the Kerberos principal in use.
func (s *Session) Principal() string { return s.principal }

// EnsureAuthenticated runs kinit. The password goes through stdin.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.runner.Run(ctx, s.password+"\n", "kinit", s.principal)
	if !res.OK() {
		s.log.Error("failed to authenticate to freeipa",
			logger.String("principal", s.principal),
			logger.String("output", res.Message()))
		return fmt.Errorf("kinit %s: %s", s.principal, res.Message())
	}

	s.lastAuth = s.now()
	s.log.Debug("authenticated to freeipa", logger.String("principal", s.principal))
	return nil
}

// LastAuthenticated returns the time of the last successful kinit.
func (s *Session) LastAuthenticated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}
