// Package mongostore is the document-store implementation of user.Store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/pkg/retry"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection  = "users"
	eventsCollection = "processed_events"
)

type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	events *mongo.Collection
	policy retry.Policy
	now    func() time.Time
}

var _ user.Store = (*Store)(nil)

func New(client *mongo.Client, dbName string, policy retry.Policy) *Store {
	db := client.Database(dbName)
	return &Store{
		client: client,
		users:  db.Collection(usersCollection),
		events: db.Collection(eventsCollection),
		policy: policy,
		now:    time.Now,
	}
}

// EnsureIndexes creates the unique email index, lookup indexes and the TTL
// on processed events.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "passwordResetTokenHash", Value: 1}}, Options: options.Index().SetSparse(true)},
		{
			Keys: bson.D{{Key: "paymentCustomerId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"paymentCustomerId": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "activeSubscription.currentPeriodEnd", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "processedAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(user.ProcessedEventTTL / time.Second)),
	})
	return err
}

func timeoutAware(err error) error {
	if err != nil && mongo.IsTimeout(err) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return user.ErrNotFound
	case errors.Is(err, retry.ErrExhausted), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", user.ErrStoreUnavailable, err)
	}
	return err
}

func (s *Store) read(ctx context.Context, op func(ctx context.Context) error) error {
	return mapError(retry.Read(ctx, s.policy, func(ctx context.Context) error {
		return timeoutAware(op(ctx))
	}))
}

func (s *Store) write(ctx context.Context, op func(ctx context.Context) error) error {
	return mapError(retry.Write(ctx, s.policy, func(ctx context.Context) error {
		return timeoutAware(op(ctx))
	}))
}

func (s *Store) Create(ctx context.Context, u *user.User) error {
	now := s.now().UTC()
	id := primitive.NewObjectID()
	if u.ID != "" {
		parsed, err := primitive.ObjectIDFromHex(u.ID)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", u.ID, err)
		}
		id = parsed
	}
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	u.ID = id.Hex()
	u.Email = user.NormalizeEmail(u.Email)
	u.CreatedAt, u.UpdatedAt = now, now
	if u.PurchasedProgramSlugs == nil {
		u.PurchasedProgramSlugs = []string{}
	}

	doc := toDoc(u, id)
	err := s.write(ctx, func(ctx context.Context) error {
		_, err := s.users.InsertOne(ctx, doc)
		return err
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*user.User, error) {
	var doc userDoc
	err := s.read(ctx, func(ctx context.Context) error {
		return s.users.FindOne(ctx, filter).Decode(&doc)
	})
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.findOne(ctx, bson.M{"email": user.NormalizeEmail(email)})
}

func (s *Store) FindByID(ctx context.Context, id string) (*user.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, user.ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *Store) FindByResetTokenHash(ctx context.Context, hash string) (*user.User, error) {
	if hash == "" {
		return nil, user.ErrNotFound
	}
	return s.findOne(ctx, bson.M{"passwordResetTokenHash": hash})
}

func (s *Store) FindByPaymentCustomerID(ctx context.Context, customerID string) (*user.User, error) {
	if customerID == "" {
		return nil, user.ErrNotFound
	}
	return s.findOne(ctx, bson.M{"paymentCustomerId": customerID})
}

// updateByID runs one update against the user and reports ErrNotFound when
// nothing matched. extra narrows the filter.
func (s *Store) updateByID(ctx context.Context, id string, extra bson.M, update bson.M) (*mongo.UpdateResult, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, user.ErrNotFound
	}
	filter := bson.M{"_id": oid}
	for k, v := range extra {
		filter[k] = v
	}
	set, _ := update["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
		update["$set"] = set
	}
	set["updatedAt"] = s.now().UTC()

	var res *mongo.UpdateResult
	err = s.write(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.users.UpdateOne(ctx, filter, update)
		return err
	})
	return res, err
}

func (s *Store) update(ctx context.Context, id string, update bson.M) error {
	res, err := s.updateByID(ctx, id, nil, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateProfileFields(ctx context.Context, id string, patch user.ProfilePatch) (*user.User, error) {
	set := bson.M{}
	if patch.FirstName != nil {
		set["firstName"] = *patch.FirstName
	}
	if patch.LastName != nil {
		set["lastName"] = *patch.LastName
	}
	if patch.Phone != nil {
		set["phone"] = *patch.Phone
	}
	if len(set) > 0 {
		if err := s.update(ctx, id, bson.M{"$set": set}); err != nil {
			return nil, err
		}
	}
	return s.FindByID(ctx, id)
}

func (s *Store) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return 0, user.ErrNotFound
	}
	var doc struct {
		FailedLoginAttempts int `bson:"failedLoginAttempts"`
	}
	err = s.write(ctx, func(ctx context.Context) error {
		return s.users.FindOneAndUpdate(ctx,
			bson.M{"_id": oid},
			bson.M{
				"$inc": bson.M{"failedLoginAttempts": 1},
				"$set": bson.M{"updatedAt": s.now().UTC()},
			},
			options.FindOneAndUpdate().
				SetReturnDocument(options.After).
				SetProjection(bson.M{"failedLoginAttempts": 1}),
		).Decode(&doc)
	})
	if err != nil {
		return 0, err
	}
	return doc.FailedLoginAttempts, nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, id string) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{
		"failedLoginAttempts": 0,
		"lockoutUntil":        nil,
	}})
}

func (s *Store) SetLockout(ctx context.Context, id string, until time.Time) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{
		"lockoutUntil":        until.UTC(),
		"failedLoginAttempts": 0,
	}})
}

func (s *Store) SetEmailVerification(ctx context.Context, id, otpHash string, expiresAt time.Time) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{
		"emailVerificationOtp":       otpHash,
		"emailVerificationExpiresAt": expiresAt.UTC(),
	}})
}

func (s *Store) SetEmailVerified(ctx context.Context, id string) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{
		"isEmailVerified":            true,
		"emailVerificationOtp":       nil,
		"emailVerificationExpiresAt": nil,
		"failedLoginAttempts":        0,
		"lockoutUntil":               nil,
	}})
}

func (s *Store) SetPasswordResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{
		"passwordResetTokenHash": hash,
		"passwordResetExpiresAt": expiresAt.UTC(),
	}})
}

func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, bson.M{
		"$set": bson.M{
			"passwordHash":        hash,
			"failedLoginAttempts": 0,
			"lockoutUntil":        nil,
		},
		"$unset": bson.M{"passwordResetTokenHash": "", "passwordResetExpiresAt": ""},
		"$inc":   bson.M{"tokenVersion": 1},
	})
}

func (s *Store) RehashPassword(ctx context.Context, id, oldHash, newHash string) error {
	_, err := s.updateByID(ctx, id, bson.M{"passwordHash": oldHash}, bson.M{"$set": bson.M{"passwordHash": newHash}})
	return err
}

func (s *Store) BumpTokenVersion(ctx context.Context, id string) error {
	return s.update(ctx, id, bson.M{"$inc": bson.M{"tokenVersion": 1}})
}

func (s *Store) SetRole(ctx context.Context, id string, role user.Role) error {
	return s.update(ctx, id, bson.M{
		"$set": bson.M{"role": string(role)},
		"$inc": bson.M{"tokenVersion": 1},
	})
}

func (s *Store) SetSubscription(ctx context.Context, id string, sub *user.Subscription) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{"activeSubscription": toSubscriptionDoc(sub)}})
}

func (s *Store) PatchSubscription(ctx context.Context, id string, patch user.SubscriptionPatch) (bool, error) {
	res, err := s.updateByID(ctx, id,
		bson.M{
			"activeSubscription.externalSubscriptionId": patch.ExternalID,
			"activeSubscription.currentPeriodStart":     patch.PeriodStart.UTC(),
		},
		bson.M{"$set": bson.M{
			"activeSubscription.status":            string(patch.Status),
			"activeSubscription.cancelAtPeriodEnd": patch.CancelAtPeriodEnd,
		}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) AddPurchasedProgram(ctx context.Context, id, slug string) error {
	return s.update(ctx, id, bson.M{"$addToSet": bson.M{"purchasedProgramSlugs": slug}})
}

func (s *Store) SetPaymentCustomerID(ctx context.Context, id, customerID string) error {
	err := s.update(ctx, id, bson.M{"$set": bson.M{"paymentCustomerId": customerID}})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("payment customer %s already linked: %w", customerID, err)
	}
	return err
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.events.CountDocuments(ctx, bson.M{"_id": eventID}, options.Count().SetLimit(1))
		return err
	})
	return n > 0, err
}

func (s *Store) insertEvent(ctx context.Context, evt user.ProcessedEvent) (bool, error) {
	at := evt.ProcessedAt
	if at.IsZero() {
		at = s.now()
	}
	err := s.write(ctx, func(ctx context.Context) error {
		_, err := s.events.InsertOne(ctx, eventDoc{ID: evt.ID, Type: evt.Type, ProcessedAt: at.UTC()})
		return err
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) RecordEvent(ctx context.Context, evt user.ProcessedEvent) (bool, error) {
	return s.insertEvent(ctx, evt)
}

// ApplyEvent inserts the dedup record first; if applying the change fails the
// record is removed again so the provider's retry is not swallowed.
func (s *Store) ApplyEvent(ctx context.Context, evt user.ProcessedEvent, userID string, change user.Change) (user.Outcome, error) {
	inserted, err := s.insertEvent(ctx, evt)
	if err != nil {
		return "", err
	}
	if !inserted {
		return user.OutcomeDuplicate, nil
	}

	outcome, err := s.applyChange(ctx, userID, change)
	if err != nil {
		_, derr := s.events.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": evt.ID})
		return "", errors.Join(err, derr)
	}
	return outcome, nil
}

func (s *Store) applyChange(ctx context.Context, userID string, change user.Change) (user.Outcome, error) {
	if change.PaymentCustomerID != "" {
		_, err := s.updateByID(ctx, userID,
			bson.M{"paymentCustomerId": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"paymentCustomerId": change.PaymentCustomerID}})
		if err != nil {
			return "", err
		}
	}
	if change.ProgramSlug != "" {
		if _, err := s.updateByID(ctx, userID, nil,
			bson.M{"$addToSet": bson.M{"purchasedProgramSlugs": change.ProgramSlug}}); err != nil {
			return "", err
		}
	}
	if change.Subscription != nil {
		res, err := s.updateByID(ctx, userID,
			bson.M{"$or": bson.A{
				bson.M{"activeSubscription": nil},
				bson.M{"activeSubscription.currentPeriodStart": bson.M{"$lte": change.MinPeriodStart.UTC()}},
			}},
			bson.M{"$set": bson.M{"activeSubscription": toSubscriptionDoc(change.Subscription)}})
		if err != nil {
			return "", err
		}
		if res.MatchedCount == 0 {
			return user.OutcomeStale, nil
		}
	}
	return user.OutcomeApplied, nil
}

func (s *Store) CancelEndedSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func(ctx context.Context) error {
		res, err := s.users.UpdateMany(ctx,
			bson.M{
				"activeSubscription.cancelAtPeriodEnd": true,
				"activeSubscription.currentPeriodEnd":  bson.M{"$lt": now.UTC()},
				"activeSubscription.status": bson.M{"$in": bson.A{
					string(user.StatusActive), string(user.StatusTrialing), string(user.StatusPastDue),
				}},
			},
			bson.M{"$set": bson.M{
				"activeSubscription.status":            string(user.StatusCanceled),
				"activeSubscription.cancelAtPeriodEnd": false,
				"updatedAt":                            s.now().UTC(),
			}})
		if err != nil {
			return err
		}
		n = res.ModifiedCount
		return nil
	})
	return n, err
}

func (s *Store) PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func(ctx context.Context) error {
		res, err := s.events.DeleteMany(ctx, bson.M{"processedAt": bson.M{"$lt": olderThan.UTC()}})
		if err != nil {
			return err
		}
		n = res.DeletedCount
		return nil
	})
	return n, err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
