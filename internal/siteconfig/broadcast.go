package siteconfig

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "site_config"

// envelope is the notification payload. Origin lets each process skip its
// own notifications, since pg_notify echoes to all listeners.
type envelope struct {
	Origin string `json:"origin"`
	Patch  Patch  `json:"patch"`
}

// Broadcaster syncs site-config patches across gateway instances using
// Postgres LISTEN/NOTIFY. Patches applied locally are published; patches
// published elsewhere are applied to the local store.
type Broadcaster struct {
	pool  *pgxpool.Pool
	store *Store
	log   *slog.Logger
	self  string
}

func NewBroadcaster(pool *pgxpool.Pool, store *Store, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	id := make([]byte, 8)
	_, _ = rand.Read(id)
	return &Broadcaster{
		pool:  pool,
		store: store,
		log:   log,
		self:  hex.EncodeToString(id),
	}
}

// Publish sends the patch to every listening instance, this one included;
// Run filters out the echo by origin.
func (b *Broadcaster) Publish(ctx context.Context, p Patch) error {
	payload, err := json.Marshal(envelope{Origin: b.self, Patch: p})
	if err != nil {
		return fmt.Errorf("encode site config notification: %w", err)
	}
	if _, err := b.pool.Exec(ctx, "select pg_notify($1, $2)", notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify site config: %w", err)
	}
	return nil
}

// Run listens for remote patches until ctx is cancelled. It holds one
// connection from the pool for the whole listen loop.
func (b *Broadcaster) Run(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "listen "+notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for site config notification: %w", err)
		}

		var env envelope
		if err := json.Unmarshal([]byte(n.Payload), &env); err != nil {
			b.log.Warn("dropping malformed site config notification", "err", err)
			continue
		}
		if env.Origin == b.self || env.Patch.IsZero() {
			continue
		}
		b.store.Apply(env.Patch)
		b.log.Info("applied remote site config patch", "origin", env.Origin)
	}
}
