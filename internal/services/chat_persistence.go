package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AnshRaj112/workbridge/internal/models"
)

const maxHistoryPage = 100

// MongoMessageStore keeps one document per message in the messages collection.
type MongoMessageStore struct {
	col *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{col: db.Collection("messages")}
}

// EnsureIndexes configures indexes for the messages collection.
// Called on startup from main after Mongo has connected.
func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			// Pagination by conversation, newest first.
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_conversation_created"),
		},
		{
			// Unread lookups for bulk mark-read.
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName("idx_conversation_status"),
		},
	}
	_, err := s.col.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoMessageStore) Insert(ctx context.Context, msg models.Message) error {
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

// List returns up to limit messages created before the cursor, oldest first.
// A zero before starts from the newest message.
func (s *MongoMessageStore) List(ctx context.Context, conversationID string, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > maxHistoryPage {
		limit = maxHistoryPage
	}

	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	msgs := make([]models.Message, 0, limit)
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}

	// Reverse to oldest-first for the UI.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkDelivered moves sent messages to delivered. Messages already further
// along are left alone.
func (s *MongoMessageStore) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": models.MessageStatusSent},
		bson.M{"$set": bson.M{"status": models.MessageStatusDelivered, "delivered_at": at.UTC()}},
	)
	return err
}

// MarkRead marks every message readerID received in the conversation as read
// and returns the ids that changed.
func (s *MongoMessageStore) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": readerID},
		"status":          bson.M{"$ne": models.MessageStatusRead},
	}

	cur, err := s.col.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"status": models.MessageStatusRead, "read_at": at.UTC()}},
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
