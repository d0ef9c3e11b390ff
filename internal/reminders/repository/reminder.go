package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	remindererrors "appointments/internal/reminders/errors"
	"appointments/pkg/config"
	mongotx "appointments/pkg/db/mongo"
	"appointments/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Reminders"
)

type ReminderRepository interface {
	Upsert(ctx context.Context, reminder *model.Reminder) (bool, error)
	FindDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.Reminder, error)
	Claim(ctx context.Context, id, owner string, now, staleBefore time.Time) (*model.Reminder, error)
	MarkSent(ctx context.Context, id, owner string, now time.Time) error
	MarkAttemptFailed(ctx context.Context, id, owner, reason string, maxAttempts int, now time.Time) (*model.Reminder, error)
	CancelPending(ctx context.Context, bookingID string, now time.Time) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	FindByBooking(ctx context.Context, bookingID string) ([]*model.Reminder, error)
}

type mongoReminderRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoReminderRepository(cfg *config.Config) ReminderRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoReminderRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

// Upsert inserts the reminder unless one already exists for the same booking
// and due time. It reports whether a new row was written.
func (r *mongoReminderRepository) Upsert(ctx context.Context, reminder *model.Reminder) (bool, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"booking_id": reminder.BookingID,
		"due_at":     reminder.DueAt,
	}
	update := bson.M{"$setOnInsert": reminder}

	res, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("failed to upsert reminder: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

func dueFilter(now, staleBefore time.Time) bson.M {
	return bson.M{
		"$or": []bson.M{
			{"status": model.ReminderPending, "due_at": bson.M{"$lte": now}},
			{"status": model.ReminderInProgress, "claimed_at": bson.M{"$lt": staleBefore}},
		},
	}
}

// FindDue lists pending reminders that are due, plus in-progress ones whose
// claim went stale because the dispatcher died.
func (r *mongoReminderRepository) FindDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.Reminder, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "due_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, dueFilter(now, staleBefore), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find due reminders: %w", err)
	}
	defer cursor.Close(ctx)

	reminders := make([]*model.Reminder, 0)
	if err = cursor.All(ctx, &reminders); err != nil {
		return nil, fmt.Errorf("failed to decode reminders: %w", err)
	}
	return reminders, nil
}

// Claim flips a due reminder to in_progress for owner. Only one caller can
// win the conditional update.
func (r *mongoReminderRepository) Claim(ctx context.Context, id, owner string, now, staleBefore time.Time) (*model.Reminder, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := dueFilter(now, staleBefore)
	filter["_id"] = id

	update := bson.M{
		"$set": bson.M{
			"status":     model.ReminderInProgress,
			"claimed_by": owner,
			"claimed_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var reminder model.Reminder
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&reminder)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, remindererrors.ErrNotClaimed
		}
		return nil, fmt.Errorf("failed to claim reminder: %w", err)
	}
	return &reminder, nil
}

func claimFilter(id, owner string) bson.M {
	return bson.M{
		"_id":        id,
		"status":     model.ReminderInProgress,
		"claimed_by": owner,
	}
}

func (r *mongoReminderRepository) MarkSent(ctx context.Context, id, owner string, now time.Time) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"status":     model.ReminderSent,
			"sent_at":    now,
			"updated_at": now,
		},
		"$inc":   bson.M{"attempts": 1},
		"$unset": bson.M{"claimed_by": "", "claimed_at": "", "last_error": ""},
	}

	res, err := r.collection.UpdateOne(ctx, claimFilter(id, owner), update)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	if res.MatchedCount == 0 {
		return remindererrors.ErrClaimLost
	}
	return nil
}

// MarkAttemptFailed counts a failed delivery. The reminder returns to pending
// until attempts reaches maxAttempts, then it becomes failed.
func (r *mongoReminderRepository) MarkAttemptFailed(ctx context.Context, id, owner, reason string, maxAttempts int, now time.Time) (*model.Reminder, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	next := bson.D{{Key: "$add", Value: bson.A{"$attempts", 1}}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "attempts", Value: next},
			{Key: "last_error", Value: reason},
			{Key: "updated_at", Value: now},
			{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{next, maxAttempts}}},
				model.ReminderFailed,
				model.ReminderPending,
			}}}},
		}}},
		{{Key: "$unset", Value: bson.A{"claimed_by", "claimed_at"}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var reminder model.Reminder
	err := r.collection.FindOneAndUpdate(ctx, claimFilter(id, owner), pipeline, opts).Decode(&reminder)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, remindererrors.ErrClaimLost
		}
		return nil, fmt.Errorf("failed to record reminder failure: %w", err)
	}
	return &reminder, nil
}

// CancelPending archives every unsent reminder of the booking, including one
// a dispatcher is working on right now. The claim is dropped with it, so the
// dispatcher's MarkSent or MarkAttemptFailed reports ErrClaimLost and the
// reminder never returns to pending.
func (r *mongoReminderRepository) CancelPending(ctx context.Context, bookingID string, now time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"booking_id": bookingID,
		"status":     bson.M{"$in": []model.ReminderStatus{model.ReminderPending, model.ReminderInProgress}},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     model.ReminderCancelled,
			"updated_at": now,
		},
		"$unset": bson.M{"claimed_by": "", "claimed_at": ""},
	}

	res, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reminders: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *mongoReminderRepository) CountPending(ctx context.Context) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{"status": model.ReminderPending})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending reminders: %w", err)
	}
	return count, nil
}

func (r *mongoReminderRepository) FindByBooking(ctx context.Context, bookingID string) ([]*model.Reminder, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "due_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"booking_id": bookingID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find reminders: %w", err)
	}
	defer cursor.Close(ctx)

	reminders := make([]*model.Reminder, 0)
	if err = cursor.All(ctx, &reminders); err != nil {
		return nil, fmt.Errorf("failed to decode reminders: %w", err)
	}
	return reminders, nil
}
