package verification

import (
	"errors"
	"strings"
	"time"

	"attend-sync/internal/models"
	"attend-sync/internal/store"

	"gorm.io/gorm"
)

const tokenKeyPrefix = "attend:token:consumed:"

// TokenGuard enforces single consumption of QR/NFC tokens so a
// photographed code cannot be replayed. The store mark gives a fast
// cross-node check; the consumed_tokens table keeps the guarantee across
// restarts of single-node deployments.
type TokenGuard struct {
	db    *gorm.DB
	cache store.Store
}

// NewTokenGuard creates a TokenGuard.
func NewTokenGuard(db *gorm.DB, cache store.Store) *TokenGuard {
	return &TokenGuard{db: db, cache: cache}
}

// Consume marks a token as used. It returns false when the token was
// already consumed.
func (g *TokenGuard) Consume(ev TokenEvidence, now time.Time) (bool, error) {
	ttl := ev.ExpiresAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Minute
	}

	fresh, err := g.cache.SetNX(tokenKeyPrefix+ev.TokenID, []byte("1"), ttl)
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}

	record := models.ConsumedToken{
		TokenID:    ev.TokenID,
		SiteID:     ev.SiteID,
		ConsumedAt: now,
		ExpiresAt:  ev.ExpiresAt,
	}
	if err := g.db.Create(&record).Error; err != nil {
		if isDuplicateErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
