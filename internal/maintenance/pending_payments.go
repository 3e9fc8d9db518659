package maintenance

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/watchlistpro/cardstore/internal/models"
	"github.com/watchlistpro/cardstore/internal/settings"
	"gorm.io/gorm"
)

const (
	defaultSweepInterval = time.Hour
	defaultPendingExpiry = 24 * time.Hour
)

// PendingPaymentSweeper cancels payments that never received a provider notification.
type PendingPaymentSweeper struct {
	db       *gorm.DB
	interval time.Duration
	expiry   time.Duration
	now      func() time.Time
}

// NewPendingPaymentSweeper returns nil when db is nil.
func NewPendingPaymentSweeper(db *gorm.DB, interval, expiry time.Duration) *PendingPaymentSweeper {
	if db == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if expiry <= 0 {
		expiry = defaultPendingExpiry
	}
	return &PendingPaymentSweeper{
		db:       db,
		interval: interval,
		expiry:   expiry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the sweep loop in a background goroutine.
func (s *PendingPaymentSweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	go s.run(ctx)
	log.Infof("pending payment sweeper started (interval=%s, expiry=%s)", s.interval, s.expiry)
}

func (s *PendingPaymentSweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("pending payment sweep failed")
		}
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// SweepOnce cancels created payments older than the expiry and returns how many changed.
func (s *PendingPaymentSweeper) SweepOnce(ctx context.Context) (int64, error) {
	expiry := s.expiry
	if hours, ok := settings.IntValue(settings.PendingPaymentExpiryHoursKey); ok {
		expiry = time.Duration(hours) * time.Hour
	}
	now := s.now()
	cutoff := now.Add(-expiry)

	res := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ? AND created_at < ?", models.PaymentStatusCreated, cutoff).
		Updates(map[string]any{
			"status":        models.PaymentStatusCancelled,
			"error_message": "expired without provider notification",
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		log.Infof("pending payment sweeper cancelled %d payment(s)", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
