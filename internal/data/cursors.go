package data

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CursorsStore performs read cursor DB operations.
type CursorsStore struct {
	coll *mongo.Collection
}

// NewCursorsStore returns a CursorsStore using the provided collection.
func NewCursorsStore(coll *mongo.Collection) *CursorsStore {
	return &CursorsStore{coll: coll}
}

var _ CursorRepository = (*CursorsStore)(nil)

// Cursor returns the user's cursor for a conversation or nil if none exists.
func (s *CursorsStore) Cursor(ctx context.Context, userID, conversationID string) (*ReadCursor, error) {
	var c ReadCursor
	err := s.coll.FindOne(ctx, bson.M{"user_id": userID, "conversation_id": conversationID}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// SaveCursor upserts the cursor. The seq guard in the filter keeps the
// stored position monotonic even if two writers race past the service lock.
func (s *CursorsStore) SaveCursor(ctx context.Context, c *ReadCursor) error {
	filter := bson.M{
		"user_id":         c.UserID,
		"conversation_id": c.ConversationID,
	}
	update := bson.M{"$max": bson.M{"last_read_seq": c.LastReadSeq}}

	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return err
	}

	// only move the message id and timestamp along with a winning seq
	_, err = s.coll.UpdateOne(ctx,
		bson.M{
			"user_id":         c.UserID,
			"conversation_id": c.ConversationID,
			"last_read_seq":   c.LastReadSeq,
		},
		bson.M{"$set": bson.M{
			"last_read_message_id": c.LastReadMessageID,
			"updated_at":           c.UpdatedAt,
		}},
	)
	return err
}
