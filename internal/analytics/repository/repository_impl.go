package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fairwaylabs/fairway/internal/analytics/domain"
	ledgerdomain "github.com/fairwaylabs/fairway/internal/ledger/domain"
	subscriptiondomain "github.com/fairwaylabs/fairway/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// ListEvents loads the tenant's events from a wide window: the requested
// period plus enough history for tenure and trailing-window reductions.
// Ordered by (occurred_at, id) so reductions see a stable sequence.
func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to time.Time) ([]ledgerdomain.RevenueEvent, error) {
	var events []ledgerdomain.RevenueEvent
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND occurred_at >= ? AND occurred_at < ?", tenantID, from.UTC(), to.UTC()).
		Order("occurred_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListSubscriptions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
