package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/workbridge/internal/models"
	"github.com/AnshRaj112/workbridge/internal/protocol"
)

// NotificationStore persists per-user notification feeds.
type NotificationStore interface {
	Insert(ctx context.Context, n models.Notification) error
	List(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	// MarkRead reports whether the notification went from unread to read.
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// MongoNotificationStore keeps notifications in the notifications collection.
type MongoNotificationStore struct {
	col *mongo.Collection
}

func NewMongoNotificationStore(db *mongo.Database) *MongoNotificationStore {
	return &MongoNotificationStore{col: db.Collection("notifications")}
}

func (s *MongoNotificationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("idx_user_created"),
	})
	return err
}

func (s *MongoNotificationStore) Insert(ctx context.Context, n models.Notification) error {
	_, err := s.col.InsertOne(ctx, n)
	return err
}

func (s *MongoNotificationStore) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]models.Notification, 0, limit)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoNotificationStore) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	// Already read is fine; a missing document is not.
	err = s.col.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, ErrNotFound
	}
	return false, err
}

func (s *MongoNotificationStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"user_id": userID, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

const defaultNotificationPage = 50

// NotificationService stores notifications and pushes them to the owner's
// personal room.
type NotificationService struct {
	store     NotificationStore
	publisher Publisher
	now       func() time.Time
}

func NewNotificationService(store NotificationStore, publisher Publisher) *NotificationService {
	return &NotificationService{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Notify implements Notifier.
func (s *NotificationService) Notify(ctx context.Context, n models.Notification) (*models.Notification, error) {
	if n.UserID == "" {
		return nil, fmt.Errorf("%w: notification has no recipient", ErrInvalidInput)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Kind == "" {
		n.Kind = models.NotificationKindGeneric
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	n.Read = false

	if err := s.store.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("save notification: %w", err)
	}
	if err := s.publisher.Publish(ctx, models.UserRoom(n.UserID), protocol.EventNotificationNew, protocol.NotificationPayload{Notification: n}); err != nil {
		log.Printf("[notifications] %v", err)
	}
	return &n, nil
}

// List returns the caller's newest notifications.
func (s *NotificationService) List(ctx context.Context, caller models.Identity, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > maxHistoryPage {
		limit = defaultNotificationPage
	}
	return s.store.List(ctx, caller.ID, limit)
}

// MarkRead marks one notification read. The read event goes out only when
// the state changed.
func (s *NotificationService) MarkRead(ctx context.Context, caller models.Identity, id string) error {
	changed, err := s.store.MarkRead(ctx, caller.ID, id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	payload := protocol.NotificationReadPayload{NotificationID: id}
	if err := s.publisher.Publish(ctx, models.UserRoom(caller.ID), protocol.EventNotificationRead, payload); err != nil {
		log.Printf("[notifications] %v", err)
	}
	return nil
}

// MarkAllRead clears the caller's unread count.
func (s *NotificationService) MarkAllRead(ctx context.Context, caller models.Identity) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, caller.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := s.publisher.Publish(ctx, models.UserRoom(caller.ID), protocol.EventNotificationAllRead, struct{}{}); err != nil {
			log.Printf("[notifications] %v", err)
		}
	}
	return n, nil
}
