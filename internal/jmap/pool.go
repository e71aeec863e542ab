package jmap

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/mailsched/mailsched/internal/observability"
)

// ErrNoCredentials is returned when a user has no relay token.
var ErrNoCredentials = errors.New("jmap: no relay credentials for user")

// Pool hands out one Client per user. Users without their own token share
// DefaultToken when it is set.
type Pool struct {
	BaseURL      string
	DefaultToken string
	Tokens       map[string]string
	HTTPClient   *http.Client
	Logger       observability.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// ForUser returns the cached client for user, creating it on first use.
func (p *Pool) ForUser(user string) (*Client, error) {
	user = strings.TrimSpace(user)
	if p.BaseURL == "" {
		return nil, errors.New("jmap: relay url is not configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[user]; ok {
		return c, nil
	}

	token := p.Tokens[user]
	if token == "" {
		token = p.DefaultToken
	}
	if token == "" {
		return nil, fmt.Errorf("%w %q", ErrNoCredentials, user)
	}

	c := NewClient(p.BaseURL, token, p.HTTPClient)
	c.Logger = p.Logger
	if p.clients == nil {
		p.clients = make(map[string]*Client)
	}
	p.clients[user] = c
	return c, nil
}
