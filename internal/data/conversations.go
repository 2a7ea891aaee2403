package data

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore performs conversation DB operations.
type ConversationsStore struct {
	// coll is the "conversations" collection; unique partial indexes on
	// direct_key and community_ref are created by db.CreateIndexes.
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using the provided collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

var _ ConversationRepository = (*ConversationsStore)(nil)

// InsertConversation inserts a new conversation document.
func (s *ConversationsStore) InsertConversation(ctx context.Context, c *Conversation) error {
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		// A concurrent creator won the unique index on direct_key/community_ref
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ConversationByID finds a conversation by id.
func (s *ConversationsStore) ConversationByID(ctx context.Context, id string) (*Conversation, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// ConversationByDirectKey finds the direct conversation for a user pair.
func (s *ConversationsStore) ConversationByDirectKey(ctx context.Context, key string) (*Conversation, error) {
	return s.findOne(ctx, bson.M{"direct_key": key})
}

// ConversationByCommunity finds the conversation bound to a community.
func (s *ConversationsStore) ConversationByCommunity(ctx context.Context, communityRef string) (*Conversation, error) {
	return s.findOne(ctx, bson.M{"community_ref": communityRef})
}

func (s *ConversationsStore) findOne(ctx context.Context, filter bson.M) (*Conversation, error) {
	var c Conversation
	if err := s.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ConversationsForUser lists every conversation the user participates in,
// oldest first.
func (s *ConversationsStore) ConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	// participant_ids is an array; equality matches any element
	cursor, err := s.coll.Find(ctx, bson.M{"participant_ids": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Conversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddParticipant appends userID to the participant set ($addToSet keeps it a set).
func (s *ConversationsStore) AddParticipant(ctx context.Context, id, userID string) (*Conversation, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var c Conversation
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"participant_ids": userID}},
		opts,
	).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// SetArchived flips the archived flag. Conversations are never deleted.
func (s *ConversationsStore) SetArchived(ctx context.Context, id string, archived bool) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"archived": archived}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// NextSeq increments last_seq with $inc and returns the new value.
func (s *ConversationsStore) NextSeq(ctx context.Context, id string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"last_seq": 1})

	var out struct {
		LastSeq int64 `bson:"last_seq"`
	}
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"last_seq": 1}},
		opts,
	).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrConversationNotFound
		}
		return 0, err
	}
	return out.LastSeq, nil
}

// ReleaseSeq decrements last_seq only while it still equals seq.
func (s *ConversationsStore) ReleaseSeq(ctx context.Context, id string, seq int64) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "last_seq": seq},
		bson.M{"$inc": bson.M{"last_seq": -1}},
	)
	return err
}
