package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	slotserrors "appointments/internal/slots/errors"
	"appointments/pkg/config"
	mongotx "appointments/pkg/db/mongo"
	"appointments/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Slots"
)

// Condition restricts a status change to slots currently in one of From and,
// when BookingID is set, owned by that booking.
type Condition struct {
	From      []model.SlotStatus
	BookingID string
}

type SlotRepository interface {
	CreateMany(ctx context.Context, slots []*model.Slot) error
	FindByID(ctx context.Context, id string) (*model.Slot, error)
	CountOverlapping(ctx context.Context, consultantID string, start, end time.Time) (int64, error)
	FindAvailable(ctx context.Context, consultantID string, from, to time.Time, limit int, offset int64) ([]*model.Slot, error)
	CountAvailable(ctx context.Context, consultantID string, from, to time.Time) (int64, error)
	FindHeldBefore(ctx context.Context, before time.Time, limit int) ([]*model.Slot, error)
	Transition(ctx context.Context, id string, cond Condition, to model.SlotStatus, bookingID string) (*model.Slot, error)
}

type mongoSlotRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoSlotRepository(cfg *config.Config) SlotRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSlotRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoSlotRepository) CreateMany(ctx context.Context, slots []*model.Slot) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	docs := make([]any, len(slots))
	for i, s := range slots {
		docs[i] = s
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", slotserrors.ErrOverlap, err)
		}
		return fmt.Errorf("failed to create slots: %w", err)
	}
	return nil
}

func (r *mongoSlotRepository) FindByID(ctx context.Context, id string) (*model.Slot, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var slot model.Slot
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&slot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, slotserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}
	return &slot, nil
}

func (r *mongoSlotRepository) CountOverlapping(ctx context.Context, consultantID string, start, end time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"consultant_id": consultantID,
		"start_time":    bson.M{"$lt": end},
		"end_time":      bson.M{"$gt": start},
	}
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count overlapping slots: %w", err)
	}
	return count, nil
}

func availableFilter(consultantID string, from, to time.Time) bson.M {
	return bson.M{
		"consultant_id": consultantID,
		"status":        model.SlotAvailable,
		"start_time":    bson.M{"$gte": from, "$lt": to},
	}
}

func (r *mongoSlotRepository) FindAvailable(ctx context.Context, consultantID string, from, to time.Time, limit int, offset int64) ([]*model.Slot, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, availableFilter(consultantID, from, to), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find available slots: %w", err)
	}
	defer cursor.Close(ctx)

	slots := make([]*model.Slot, 0)
	if err = cursor.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return slots, nil
}

func (r *mongoSlotRepository) CountAvailable(ctx context.Context, consultantID string, from, to time.Time) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, availableFilter(consultantID, from, to))
	if err != nil {
		return 0, fmt.Errorf("failed to count available slots: %w", err)
	}
	return count, nil
}

// FindHeldBefore lists slots that have sat in held since before, oldest first.
func (r *mongoSlotRepository) FindHeldBefore(ctx context.Context, before time.Time, limit int) ([]*model.Slot, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"status":     model.SlotHeld,
		"updated_at": bson.M{"$lt": before},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find held slots: %w", err)
	}
	defer cursor.Close(ctx)

	slots := make([]*model.Slot, 0)
	if err = cursor.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return slots, nil
}

// Transition moves a slot to status to only if it still matches cond. An
// empty bookingID clears the owner.
func (r *mongoSlotRepository) Transition(ctx context.Context, id string, cond Condition, to model.SlotStatus, bookingID string) (*model.Slot, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": cond.From},
	}
	if cond.BookingID != "" {
		filter["booking_id"] = cond.BookingID
	}

	update := bson.M{
		"$set": bson.M{
			"status":     to,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		},
		"$inc": bson.M{"version": 1},
	}
	if bookingID != "" {
		update["$set"].(bson.M)["booking_id"] = bookingID
	} else {
		update["$unset"] = bson.M{"booking_id": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var slot model.Slot
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&slot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, slotserrors.ErrStaleState
		}
		return nil, fmt.Errorf("failed to update slot status: %w", err)
	}
	return &slot, nil
}
