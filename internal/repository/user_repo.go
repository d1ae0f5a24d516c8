package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/pkg/retry"

	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository is the relational identity store (postgres or sqlite).
type UserRepository struct {
	db     *gorm.DB
	policy retry.Policy
	now    func() time.Time
}

var _ user.Store = (*UserRepository)(nil)

func NewUserRepository(db *gorm.DB, policy retry.Policy) *UserRepository {
	return &UserRepository{db: db, policy: policy, now: time.Now}
}

func (r *UserRepository) read(ctx context.Context, op func(db *gorm.DB) error) error {
	err := retry.Read(ctx, r.policy, func(ctx context.Context) error {
		return op(r.db.WithContext(ctx))
	})
	return mapError(err)
}

func (r *UserRepository) write(ctx context.Context, op func(db *gorm.DB) error) error {
	err := retry.Write(ctx, r.policy, func(ctx context.Context) error {
		return op(r.db.WithContext(ctx))
	})
	return mapError(err)
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return user.ErrNotFound
	case errors.Is(err, retry.ErrExhausted), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", user.ErrStoreUnavailable, err)
	}
	return err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate key")
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	now := r.now().UTC()
	if u.ID == "" {
		u.ID = primitive.NewObjectID().Hex()
	}
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	u.Email = user.NormalizeEmail(u.Email)
	u.CreatedAt, u.UpdatedAt = now, now

	m := toUserModel(u)
	err := r.write(ctx, func(db *gorm.DB) error {
		return db.Create(&m).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return user.ErrEmailTaken
		}
		return err
	}
	if u.PurchasedProgramSlugs == nil {
		u.PurchasedProgramSlugs = []string{}
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...interface{}) (*user.User, error) {
	var m userModel
	var programs []string
	err := r.read(ctx, func(db *gorm.DB) error {
		if err := db.Where(query, args...).First(&m).Error; err != nil {
			return err
		}
		return db.Model(&userProgramModel{}).
			Where("user_id = ?", m.ID).
			Order("purchased_at, slug").
			Pluck("slug", &programs).Error
	})
	if err != nil {
		return nil, err
	}
	if programs == nil {
		programs = []string{}
	}
	return toDomainUser(m, programs), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.findOne(ctx, "email = ?", user.NormalizeEmail(email))
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*user.User, error) {
	if !user.ValidID(id) {
		return nil, user.ErrNotFound
	}
	return r.findOne(ctx, "id = ?", id)
}

func (r *UserRepository) FindByResetTokenHash(ctx context.Context, hash string) (*user.User, error) {
	if hash == "" {
		return nil, user.ErrNotFound
	}
	return r.findOne(ctx, "password_reset_token_hash = ?", hash)
}

func (r *UserRepository) FindByPaymentCustomerID(ctx context.Context, customerID string) (*user.User, error) {
	if customerID == "" {
		return nil, user.ErrNotFound
	}
	return r.findOne(ctx, "payment_customer_id = ?", customerID)
}

// update applies cols to one user and reports ErrNotFound when no row matched.
func (r *UserRepository) update(ctx context.Context, id string, cols map[string]interface{}) error {
	cols["updated_at"] = r.now().UTC()
	return r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&userModel{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *UserRepository) UpdateProfileFields(ctx context.Context, id string, patch user.ProfilePatch) (*user.User, error) {
	cols := map[string]interface{}{}
	if patch.FirstName != nil {
		cols["first_name"] = *patch.FirstName
	}
	if patch.LastName != nil {
		cols["last_name"] = *patch.LastName
	}
	if patch.Phone != nil {
		cols["phone"] = *patch.Phone
	}
	if len(cols) > 0 {
		if err := r.update(ctx, id, cols); err != nil {
			return nil, err
		}
	}
	return r.FindByID(ctx, id)
}

func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.write(ctx, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&userModel{}).Where("id = ?", id).Updates(map[string]interface{}{
				"failed_login_attempts": gorm.Expr("failed_login_attempts + 1"),
				"updated_at":            r.now().UTC(),
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return tx.Model(&userModel{}).Where("id = ?", id).
				Pluck("failed_login_attempts", &attempts).Error
		})
	})
	return attempts, err
}

func (r *UserRepository) ResetFailedAttempts(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"failed_login_attempts": 0,
		"lockout_until":         nil,
	})
}

func (r *UserRepository) SetLockout(ctx context.Context, id string, until time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"lockout_until":         until.UTC(),
		"failed_login_attempts": 0,
	})
}

func (r *UserRepository) SetEmailVerification(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"email_verification_otp_hash":   otpHash,
		"email_verification_expires_at": expiresAt.UTC(),
	})
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"is_email_verified":             true,
		"email_verification_otp_hash":   nil,
		"email_verification_expires_at": nil,
		"failed_login_attempts":         0,
		"lockout_until":                 nil,
	})
}

func (r *UserRepository) SetPasswordResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"password_reset_token_hash": hash,
		"password_reset_expires_at": expiresAt.UTC(),
	})
}

func (r *UserRepository) SetPasswordHash(ctx context.Context, id, hash string) error {
	return r.update(ctx, id, map[string]interface{}{
		"password_hash":             hash,
		"token_version":             gorm.Expr("token_version + 1"),
		"password_reset_token_hash": nil,
		"password_reset_expires_at": nil,
		"failed_login_attempts":     0,
		"lockout_until":             nil,
	})
}

func (r *UserRepository) RehashPassword(ctx context.Context, id, oldHash, newHash string) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Model(&userModel{}).
			Where("id = ? AND password_hash = ?", id, oldHash).
			Updates(map[string]interface{}{"password_hash": newHash, "updated_at": r.now().UTC()}).Error
	})
}

func (r *UserRepository) BumpTokenVersion(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"token_version": gorm.Expr("token_version + 1"),
	})
}

func (r *UserRepository) SetRole(ctx context.Context, id string, role user.Role) error {
	return r.update(ctx, id, map[string]interface{}{
		"role":          string(role),
		"token_version": gorm.Expr("token_version + 1"),
	})
}

func (r *UserRepository) SetSubscription(ctx context.Context, id string, sub *user.Subscription) error {
	return r.update(ctx, id, subscriptionColumns(sub))
}

func (r *UserRepository) PatchSubscription(ctx context.Context, id string, patch user.SubscriptionPatch) (bool, error) {
	var n int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&userModel{}).
			Where("id = ? AND sub_external_id = ? AND sub_period_start = ?", id, patch.ExternalID, patch.PeriodStart.UTC()).
			Updates(map[string]interface{}{
				"sub_status":               string(patch.Status),
				"sub_cancel_at_period_end": patch.CancelAtPeriodEnd,
				"updated_at":               r.now().UTC(),
			})
		n = res.RowsAffected
		return res.Error
	})
	return n > 0, err
}

func (r *UserRepository) AddPurchasedProgram(ctx context.Context, id, slug string) error {
	return r.write(ctx, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&userProgramModel{UserID: id, Slug: slug, PurchasedAt: r.now().UTC()}).Error
	})
}

func (r *UserRepository) SetPaymentCustomerID(ctx context.Context, id, customerID string) error {
	return r.update(ctx, id, map[string]interface{}{
		"payment_customer_id": customerID,
	})
}

func (r *UserRepository) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := r.read(ctx, func(db *gorm.DB) error {
		return db.Model(&processedEventModel{}).Where("id = ?", eventID).Count(&n).Error
	})
	return n > 0, err
}

func (r *UserRepository) RecordEvent(ctx context.Context, evt user.ProcessedEvent) (bool, error) {
	var inserted bool
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(r.eventModel(evt))
		inserted = res.RowsAffected > 0
		return res.Error
	})
	return inserted, err
}

func (r *UserRepository) eventModel(evt user.ProcessedEvent) *processedEventModel {
	at := evt.ProcessedAt
	if at.IsZero() {
		at = r.now()
	}
	return &processedEventModel{ID: evt.ID, Type: evt.Type, ProcessedAt: at.UTC()}
}

// ApplyEvent records the event and applies change in one transaction. A
// subscription change whose period predates the stored one leaves the user
// untouched but still records the event.
func (r *UserRepository) ApplyEvent(ctx context.Context, evt user.ProcessedEvent, userID string, change user.Change) (user.Outcome, error) {
	var outcome user.Outcome
	err := r.write(ctx, func(db *gorm.DB) error {
		outcome = user.OutcomeApplied
		return db.Transaction(func(tx *gorm.DB) error {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(r.eventModel(evt))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				outcome = user.OutcomeDuplicate
				return nil
			}

			now := r.now().UTC()
			if change.PaymentCustomerID != "" {
				err := tx.Model(&userModel{}).
					Where("id = ? AND payment_customer_id IS NULL", userID).
					Updates(map[string]interface{}{"payment_customer_id": change.PaymentCustomerID, "updated_at": now}).Error
				if err != nil {
					return err
				}
			}
			if change.ProgramSlug != "" {
				err := tx.Clauses(clause.OnConflict{DoNothing: true}).
					Create(&userProgramModel{UserID: userID, Slug: change.ProgramSlug, PurchasedAt: now}).Error
				if err != nil {
					return err
				}
			}
			if change.Subscription != nil {
				cols := subscriptionColumns(change.Subscription)
				cols["updated_at"] = now
				res := tx.Model(&userModel{}).
					Where("id = ? AND (sub_period_start IS NULL OR sub_period_start <= ?)", userID, change.MinPeriodStart.UTC()).
					Updates(cols)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					outcome = user.OutcomeStale
				}
			}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *UserRepository) CancelEndedSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&userModel{}).
			Where("sub_cancel_at_period_end = ? AND sub_period_end < ? AND sub_status IN ?",
				true, now.UTC(), []string{string(user.StatusActive), string(user.StatusTrialing), string(user.StatusPastDue)}).
			Updates(map[string]interface{}{
				"sub_status":               string(user.StatusCanceled),
				"sub_cancel_at_period_end": false,
				"updated_at":               r.now().UTC(),
			})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

func (r *UserRepository) PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Where("processed_at < ?", olderThan.UTC()).Delete(&processedEventModel{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

func (r *UserRepository) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
