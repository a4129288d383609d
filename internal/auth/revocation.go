package auth

import (
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/robfig/cron/v3"
)

// RevocationList remembers logged-out tokens until they would have expired anyway.
// It is local to the process.
type RevocationList struct {
	// Expired entries stay counted until Sweep; the cron sweeper owns cleanup.
	revoked *cache.Cache
}

func NewRevocationList() *RevocationList {
	return &RevocationList{
		revoked: cache.New(cache.NoExpiration, 0),
	}
}

// Revoke marks key as revoked until the given time. Tokens that have already
// expired are not recorded.
func (r *RevocationList) Revoke(key string, until time.Time) {
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}
	r.revoked.Set(key, struct{}{}, ttl)
}

func (r *RevocationList) IsRevoked(key string) bool {
	_, ok := r.revoked.Get(key)
	return ok
}

// Sweep drops entries whose tokens have expired and returns how many were removed.
func (r *RevocationList) Sweep() int {
	before := r.revoked.ItemCount()
	r.revoked.DeleteExpired()
	return before - r.revoked.ItemCount()
}

func (r *RevocationList) Len() int {
	return r.revoked.ItemCount()
}

// StartSweeper runs Sweep on the given cron schedule. Stop the returned cron on shutdown.
func (r *RevocationList) StartSweeper(schedule string, log *logger.Logger) (*cron.Cron, error) {
	log = log.WithComponent("revocation_sweeper")

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if removed := r.Sweep(); removed > 0 {
			log.Debug("swept expired revocations",
				slog.Int("removed", removed),
				slog.Int("remaining", r.Len()))
		}
	}); err != nil {
		return nil, err
	}

	c.Start()
	log.Info("revocation sweeper started", slog.String("schedule", schedule))
	return c, nil
}
