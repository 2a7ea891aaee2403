package data

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is the "messages" collection, indexed on (conversation_id, seq)
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

var _ MessageRepository = (*MessagesStore)(nil)

// InsertMessage inserts a message document. Seq and id are assigned by the caller.
func (m *MessagesStore) InsertMessage(ctx context.Context, msg *Message) error {
	if _, err := m.coll.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// MessageByID finds a message by id.
func (m *MessagesStore) MessageByID(ctx context.Context, id string) (*Message, error) {
	var msg Message
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// LastMessage returns the newest message in a conversation.
func (m *MessagesStore) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})

	var msg Message
	if err := m.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// MessagesAfter returns one page of messages ordered oldest→newest.
func (m *MessagesStore) MessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	filter := bson.M{
		"conversation_id": conversationID,
		"seq":             bson.M{"$gt": afterSeq},
	}

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CountMessagesAfter counts unread candidates after a cursor position.
func (m *MessagesStore) CountMessagesAfter(ctx context.Context, conversationID string, afterSeq int64, excludeSender string) (int64, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"seq":             bson.M{"$gt": afterSeq},
	}
	if excludeSender != "" {
		filter["sender_id"] = bson.M{"$ne": excludeSender}
	}
	return m.coll.CountDocuments(ctx, filter)
}

// SetReaction adds or removes a single user's entry for a single emoji.
//
// The filter carries the precondition ($ne for add, equality for remove), so
// ModifiedCount tells whether this call changed anything.
func (m *MessagesStore) SetReaction(ctx context.Context, messageID, emoji, userID string, present bool) (*Message, bool, error) {
	field := "reactions." + emoji

	var filter, update bson.M
	if present {
		filter = bson.M{"_id": messageID, field: bson.M{"$ne": userID}}
		update = bson.M{"$addToSet": bson.M{field: userID}}
	} else {
		filter = bson.M{"_id": messageID, field: userID}
		update = bson.M{"$pull": bson.M{field: userID}}
	}

	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, false, err
	}
	changed := res.ModifiedCount > 0

	if changed && !present {
		// drop the emoji key once its set is empty so counts stay derived
		_, err = m.coll.UpdateOne(ctx,
			bson.M{"_id": messageID, field: bson.M{"$size": 0}},
			bson.M{"$unset": bson.M{field: ""}},
		)
		if err != nil {
			return nil, false, err
		}
	}

	msg, err := m.MessageByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return msg, changed, nil
}
