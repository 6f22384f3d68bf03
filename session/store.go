// Package session owns the authoritative mapping from session id to document
// content. Sessions are ephemeral: they live in memory and die with the
// process (or, optionally, after a TTL).
package session

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// ErrNotFound is returned when a session id is not in the store.
var ErrNotFound = errors.New("session not found")

// Session is a shared document plus its opaque identifier. Document is always
// the full current text, not a diff: the synchronization model is "latest
// snapshot wins".
type Session struct {
	ID       string `json:"id"`
	Document string `json:"document"`
}

// Store maps session id -> document. All mutations are wholesale replacements
// of the document string. The backing cache is internally locked so lifecycle
// API reads are safe concurrently with relay writes; ordering of writes is the
// relay dispatcher's job, not ours.
type Store struct {
	cache *ttlcache.Cache[string, string]
}

// NewStore creates a session store. If ttl is > 0, sessions expire that long
// after their last read or write; a ttl <= 0 means sessions live forever,
// which matches the behavior clients observe by default.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	return &Store{
		cache: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](ttl),
		),
	}
}

// Start begins the background expiry loop. Only meaningful when the store was
// created with a TTL; harmless otherwise.
func (s *Store) Start() {
	go s.cache.Start()
}

func (s *Store) Stop() {
	s.cache.Stop()
}

// OnExpired registers a callback fired when a session is evicted due to TTL.
// The relay uses this to tear down the session's room.
func (s *Store) OnExpired(fn func(sessionID string)) {
	s.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, string]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		logger.Info().Str("session", item.Key()).Msg("session expired")
		fn(item.Key())
	})
}

// Create allocates a fresh unique id and inserts an empty document. It never
// fails: uuid generation is assumed collision-free.
func (s *Store) Create() string {
	id := uuid.NewString()
	s.cache.Set(id, "", ttlcache.DefaultTTL)
	return id
}

// Get returns the session for the given id, or ErrNotFound. Side-effect-free
// apart from refreshing the TTL, when one is configured.
func (s *Store) Get(id string) (Session, error) {
	item := s.cache.Get(id)
	if item == nil {
		return Session{}, ErrNotFound
	}
	return Session{ID: id, Document: item.Value()}, nil
}

// Has reports whether the session id exists without touching its TTL.
func (s *Store) Has(id string) bool {
	return s.cache.Has(id)
}

// SetDocument replaces the session's document wholesale with content. Returns
// ErrNotFound if the id is absent; the relay treats that as a silent no-op.
func (s *Store) SetDocument(id, content string) error {
	if !s.cache.Has(id) {
		return ErrNotFound
	}
	s.cache.Set(id, content, ttlcache.DefaultTTL)
	return nil
}

// Len returns the number of live sessions, for metrics.
func (s *Store) Len() int {
	return s.cache.Len()
}
