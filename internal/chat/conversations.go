package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/normalize"
)

// Membership answers whether a user may view and participate in a
// community's conversation. Community rules live outside this service.
type Membership interface {
	CanParticipate(ctx context.Context, communityRef, userID string) (bool, error)
}

// MembershipFunc adapts a plain function to Membership.
type MembershipFunc func(ctx context.Context, communityRef, userID string) (bool, error)

func (f MembershipFunc) CanParticipate(ctx context.Context, communityRef, userID string) (bool, error) {
	return f(ctx, communityRef, userID)
}

// AllowAll grants every membership request. Useful for local runs.
var AllowAll Membership = MembershipFunc(func(context.Context, string, string) (bool, error) { return true, nil })

// ConversationStore owns conversation identity, kind and participant sets.
type ConversationStore struct {
	log        *slog.Logger
	repo       data.ConversationRepository
	seq        *Sequencer
	membership Membership
	opts       options
}

// NewConversationStore wires a store on top of a repository.
func NewConversationStore(log *slog.Logger, repo data.ConversationRepository, seq *Sequencer, membership Membership, opts ...Option) *ConversationStore {
	if membership == nil {
		membership = AllowAll
	}
	return &ConversationStore{
		log:        log,
		repo:       repo,
		seq:        seq,
		membership: membership,
		opts:       buildOptions(opts),
	}
}

// CreateDirect returns the direct conversation between a and b, creating it
// on first use. The pair is unordered: (a, b) and (b, a) are the same thread.
func (s *ConversationStore) CreateDirect(ctx context.Context, userA, userB string) (*data.Conversation, error) {
	a, b := normalize.UserID(userA), normalize.UserID(userB)
	if a == "" || b == "" || a == b {
		return nil, data.ErrInvalidParticipants
	}
	key := data.DirectKey(a, b)

	unlock := s.seq.Lock("direct:" + key)
	defer unlock()

	existing, err := s.repo.ConversationByDirectKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, data.ErrConversationNotFound) {
		return nil, fmt.Errorf("lookup direct conversation: %w", err)
	}

	conv := &data.Conversation{
		ID:             uuid.NewString(),
		Kind:           data.KindDirect,
		ParticipantIDs: []string{a, b},
		DirectKey:      key,
		CreatedAt:      s.opts.now(),
	}
	if err := s.repo.InsertConversation(ctx, conv); err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			// another node created it between our lookup and insert
			return s.repo.ConversationByDirectKey(ctx, key)
		}
		return nil, fmt.Errorf("insert direct conversation: %w", err)
	}

	s.log.Info("direct conversation created", "conversation_id", conv.ID, "user_a", a, "user_b", b)
	return conv, nil
}

// CreateCommunityConversation returns the single conversation bound to
// communityRef, creating it on first use. Optional members are added to the
// participant set; they go through the same append-only path as JoinCommunity
// minus the capability check, which the caller is expected to have done.
func (s *ConversationStore) CreateCommunityConversation(ctx context.Context, communityRef string, members ...string) (*data.Conversation, error) {
	ref := normalize.UserID(communityRef)
	if ref == "" {
		return nil, fmt.Errorf("%w: community ref is empty", data.ErrValidation)
	}

	conv, err := s.ensureCommunity(ctx, ref)
	if err != nil {
		return nil, err
	}

	members = lo.Uniq(lo.FilterMap(members, func(m string, _ int) (string, bool) {
		m = normalize.UserID(m)
		return m, m != ""
	}))
	for _, m := range members {
		if conv, err = s.addParticipant(ctx, conv.ID, m); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func (s *ConversationStore) ensureCommunity(ctx context.Context, ref string) (*data.Conversation, error) {
	unlock := s.seq.Lock("community:" + ref)
	defer unlock()

	existing, err := s.repo.ConversationByCommunity(ctx, ref)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, data.ErrConversationNotFound) {
		return nil, fmt.Errorf("lookup community conversation: %w", err)
	}

	conv := &data.Conversation{
		ID:             uuid.NewString(),
		Kind:           data.KindCommunity,
		ParticipantIDs: []string{},
		CommunityRef:   ref,
		CreatedAt:      s.opts.now(),
	}
	if err := s.repo.InsertConversation(ctx, conv); err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			return s.repo.ConversationByCommunity(ctx, ref)
		}
		return nil, fmt.Errorf("insert community conversation: %w", err)
	}

	s.log.Info("community conversation created", "conversation_id", conv.ID, "community_ref", ref)
	return conv, nil
}

// JoinCommunity adds userID to the community's conversation after checking
// the membership capability. Joining twice is a no-op.
func (s *ConversationStore) JoinCommunity(ctx context.Context, communityRef, userID string) (*data.Conversation, error) {
	user := normalize.UserID(userID)
	if user == "" {
		return nil, fmt.Errorf("%w: user id is empty", data.ErrValidation)
	}

	ok, err := s.membership.CanParticipate(ctx, communityRef, user)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, data.ErrNotParticipant
	}
	return s.CreateCommunityConversation(ctx, communityRef, user)
}

func (s *ConversationStore) addParticipant(ctx context.Context, conversationID, userID string) (*data.Conversation, error) {
	// participant changes are serialized with messages in the same conversation
	unlock := s.seq.Lock(conversationID)
	defer unlock()

	conv, err := s.repo.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != data.KindCommunity {
		return nil, fmt.Errorf("%w: direct conversations have a fixed participant set", data.ErrValidation)
	}
	if conv.HasParticipant(userID) {
		return conv, nil
	}

	conv, err = s.repo.AddParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	s.log.Debug("participant joined", "conversation_id", conversationID, "user_id", userID)
	return conv, nil
}

// Get returns a conversation by id.
func (s *ConversationStore) Get(ctx context.Context, conversationID string) (*data.Conversation, error) {
	return s.repo.ConversationByID(ctx, conversationID)
}

// Participants returns the participant ids of a conversation.
func (s *ConversationStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.repo.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(conv.ParticipantIDs), nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *ConversationStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.repo.ConversationByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return conv.HasParticipant(normalize.UserID(userID)), nil
}

// ListForUser returns the user's conversations, oldest first.
func (s *ConversationStore) ListForUser(ctx context.Context, userID string) ([]*data.Conversation, error) {
	return s.repo.ConversationsForUser(ctx, normalize.UserID(userID))
}

// Archive hides a conversation from new activity. Conversations are never deleted.
func (s *ConversationStore) Archive(ctx context.Context, conversationID string, archived bool) error {
	unlock := s.seq.Lock(conversationID)
	defer unlock()
	return s.repo.SetArchived(ctx, conversationID, archived)
}

// requireParticipant loads the conversation and checks membership. Callers
// inside a sequencing unit get a participant set consistent with their commit.
func (s *ConversationStore) requireParticipant(ctx context.Context, conversationID, userID string) (*data.Conversation, error) {
	conv, err := s.repo.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, data.ErrNotParticipant
	}
	return conv, nil
}

func (s *ConversationStore) nextSeq(ctx context.Context, conversationID string) (int64, error) {
	seq, err := s.repo.NextSeq(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("allocate sequence: %w", err)
	}
	return seq, nil
}

// releaseSeq hands back an allocated seq that no commit ended up using.
// The caller still holds the sequencing unit, so nothing was allocated since.
func (s *ConversationStore) releaseSeq(ctx context.Context, conversationID string, seq int64) {
	if err := s.repo.ReleaseSeq(context.WithoutCancel(ctx), conversationID, seq); err != nil {
		s.log.Error("failed to release sequence", "conversation_id", conversationID, "seq", seq, "error", err)
	}
}
