package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAttemptNotFound = errors.New("checkout attempt not found")
	ErrStaleAttempt    = errors.New("checkout attempt not in expected status")
)

type AttemptRepository interface {
	Create(ctx context.Context, attempt *model.CheckoutAttempt) error
	FindByIntentID(ctx context.Context, paymentIntentID string) (*model.CheckoutAttempt, error)
	SaveDraft(ctx context.Context, paymentIntentID, userID, draft string) error
	MarkOrderCreated(ctx context.Context, paymentIntentID, orderID string) error
	MarkCompleted(ctx context.Context, paymentIntentID string) error
	MarkOrderFailed(ctx context.Context, paymentIntentID, reason string) error
	RecordError(ctx context.Context, paymentIntentID, reason string) error
}

type attemptRepoImpl struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepoImpl{
		db: db,
	}
}

func (r *attemptRepoImpl) Create(ctx context.Context, attempt *model.CheckoutAttempt) error {
	if attempt.Status == "" {
		attempt.Status = model.AttemptSessionOpen
	}
	// the backend may hand out the same intent again for a reloaded checkout
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_intent_id"}},
		DoNothing: true,
	}).Create(attempt).Error
}

func (r *attemptRepoImpl) FindByIntentID(ctx context.Context, paymentIntentID string) (*model.CheckoutAttempt, error) {
	var attempt model.CheckoutAttempt
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", paymentIntentID).
		First(&attempt).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}

	return &attempt, nil
}

// SaveDraft stores the buyer's form for an attempt that has no order yet.
// Resubmits after a provider failure overwrite the previous draft.
func (r *attemptRepoImpl) SaveDraft(ctx context.Context, paymentIntentID, userID, draft string) error {
	return r.update(ctx, paymentIntentID,
		[]model.AttemptStatus{model.AttemptSessionOpen, model.AttemptPaymentSubmitted},
		map[string]interface{}{
			"status":     model.AttemptPaymentSubmitted,
			"user_id":    userID,
			"draft":      draft,
			"last_error": "",
		})
}

func (r *attemptRepoImpl) MarkOrderCreated(ctx context.Context, paymentIntentID, orderID string) error {
	return r.update(ctx, paymentIntentID,
		[]model.AttemptStatus{model.AttemptPaymentSubmitted},
		map[string]interface{}{
			"status":   model.AttemptOrderCreated,
			"order_id": orderID,
		})
}

func (r *attemptRepoImpl) MarkCompleted(ctx context.Context, paymentIntentID string) error {
	return r.update(ctx, paymentIntentID,
		[]model.AttemptStatus{model.AttemptOrderCreated},
		map[string]interface{}{
			"status": model.AttemptCompleted,
		})
}

func (r *attemptRepoImpl) MarkOrderFailed(ctx context.Context, paymentIntentID, reason string) error {
	return r.update(ctx, paymentIntentID,
		[]model.AttemptStatus{model.AttemptPaymentSubmitted},
		map[string]interface{}{
			"status":     model.AttemptOrderFailed,
			"last_error": truncate(reason, 512),
		})
}

func (r *attemptRepoImpl) RecordError(ctx context.Context, paymentIntentID, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&model.CheckoutAttempt{}).
		Where("payment_intent_id = ?", paymentIntentID).
		Updates(map[string]interface{}{
			"last_error": truncate(reason, 512),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// update applies a status transition guarded by the allowed source statuses.
func (r *attemptRepoImpl) update(ctx context.Context, paymentIntentID string, from []model.AttemptStatus, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).
		Model(&model.CheckoutAttempt{}).
		Where("payment_intent_id = ? AND status IN ?", paymentIntentID, from).
		Updates(fields)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleAttempt
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
