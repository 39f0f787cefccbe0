// Package token issues and redeems single-use download tokens.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTTL is the validity window of a download token.
const DefaultTTL = 5 * time.Minute

const tokenBytes = 32

var (
	// ErrInvalidToken covers unknown, expired, already used and mismatched tokens alike.
	ErrInvalidToken = errors.New("invalid or expired download token")
	// ErrStore is returned when the backing store itself fails.
	ErrStore = errors.New("token store unavailable")
)

// Token is a freshly issued download authorization.
type Token struct {
	Value      string
	DocumentID string
	OwnerID    string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Grant is what a successful validation yields.
type Grant struct {
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Broker mints tokens and consumes them exactly once.
type Broker struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
	log    logrus.FieldLogger
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithRandom overrides the entropy source.
func WithRandom(r io.Reader) Option {
	return func(b *Broker) { b.random = r }
}

// WithLogger sets the logger used for validation failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Broker) { b.log = log }
}

// NewBroker creates a Broker. A non-positive ttl falls back to DefaultTTL.
func NewBroker(store Store, ttl time.Duration, opts ...Option) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b := &Broker{store: store, ttl: ttl, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		b.log = l
	}
	return b
}

// TTL returns the validity window.
func (b *Broker) TTL() time.Duration { return b.ttl }

// Issue creates a token bound to documentID and stores it for the validity window.
func (b *Broker) Issue(ctx context.Context, documentID, ownerID string) (Token, error) {
	raw := make([]byte, tokenBytes)
	if _, err := io.ReadFull(b.random, raw); err != nil {
		return Token{}, fmt.Errorf("generate token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)

	now := b.now()
	payload, err := json.Marshal(Grant{DocumentID: documentID, OwnerID: ownerID, IssuedAt: now})
	if err != nil {
		return Token{}, fmt.Errorf("encode grant: %w", err)
	}
	if err := b.store.Put(ctx, key(documentID, value), payload, b.ttl); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	return Token{
		Value:      value,
		DocumentID: documentID,
		OwnerID:    ownerID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(b.ttl),
	}, nil
}

// Validate consumes value for documentID. It succeeds at most once per issued token.
func (b *Broker) Validate(ctx context.Context, documentID, value string) (Grant, error) {
	if documentID == "" || value == "" {
		return Grant{}, ErrInvalidToken
	}

	payload, err := b.store.Take(ctx, key(documentID, value))
	if errors.Is(err, ErrNotFound) {
		b.log.WithField("document_id", documentID).Info("download token rejected")
		return Grant{}, ErrInvalidToken
	}
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	var g Grant
	if err := json.Unmarshal(payload, &g); err != nil {
		b.log.WithField("document_id", documentID).WithError(err).Warn("undecodable token payload")
		return Grant{}, ErrInvalidToken
	}
	if g.DocumentID != documentID {
		b.log.WithField("document_id", documentID).Warn("token bound to another document")
		return Grant{}, ErrInvalidToken
	}
	// Stores with coarse TTL granularity may hand back an entry slightly past its window.
	if !b.now().Before(g.IssuedAt.Add(b.ttl)) {
		return Grant{}, ErrInvalidToken
	}
	return g, nil
}

func key(documentID, value string) string {
	return "dl:" + documentID + ":" + value
}
