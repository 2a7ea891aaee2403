package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
)

func TestCreateDirect_IsIdempotentByUnorderedPair(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.convs.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	req.Equal(data.KindDirect, first.Kind)
	req.ElementsMatch([]string{"alice", "bob"}, first.ParticipantIDs)

	second, err := f.convs.CreateDirect(ctx, "bob", " alice ")
	req.NoError(err)
	req.Equal(first.ID, second.ID)
}

func TestCreateDirect_RejectsSelfPair(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	_, err := f.convs.CreateDirect(context.Background(), "alice", "alice")
	req.ErrorIs(err, data.ErrInvalidParticipants)
	req.ErrorIs(err, data.ErrValidation)
}

func TestCreateDirect_ConcurrentCallersShareOneConversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	const callers = 32
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := f.convs.CreateDirect(ctx, a, b)
			if err == nil {
				ids[i] = c.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		req.Equal(ids[0], id)
	}
	list, err := f.convs.ListForUser(ctx, "alice")
	req.NoError(err)
	req.Len(list, 1)
}

func TestCreateCommunityConversation_OnePerCommunity(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	a, err := f.convs.CreateCommunityConversation(ctx, "gophers", "x")
	req.NoError(err)
	b, err := f.convs.CreateCommunityConversation(ctx, "gophers", "y", "x")
	req.NoError(err)

	req.Equal(a.ID, b.ID)
	req.Equal(data.KindCommunity, b.Kind)
	req.Equal("gophers", b.CommunityRef)
	req.Equal([]string{"x", "y"}, b.ParticipantIDs)

	_, err = f.convs.CreateCommunityConversation(ctx, "  ")
	req.ErrorIs(err, data.ErrValidation)
}

func TestJoinCommunity_UsesMembershipCapability(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	membership := MembershipFunc(func(_ context.Context, ref, user string) (bool, error) {
		return ref == "gophers" && user != "troll", nil
	})
	f := newFixture(t, membership)

	conv, err := f.convs.JoinCommunity(ctx, "gophers", "x")
	req.NoError(err)
	req.Equal([]string{"x"}, conv.ParticipantIDs)

	_, err = f.convs.JoinCommunity(ctx, "gophers", "troll")
	req.ErrorIs(err, data.ErrNotParticipant)

	ok, err := f.convs.IsParticipant(ctx, conv.ID, "troll")
	req.NoError(err)
	req.False(ok)

	// joining again leaves the set unchanged
	conv, err = f.convs.JoinCommunity(ctx, "gophers", "x")
	req.NoError(err)
	req.Equal([]string{"x"}, conv.ParticipantIDs)
}

func TestJoinCommunity_PropagatesCapabilityErrors(t *testing.T) {
	req := require.New(t)
	boom := errors.New("membership service down")
	f := newFixture(t, MembershipFunc(func(context.Context, string, string) (bool, error) { return false, boom }))

	_, err := f.convs.JoinCommunity(context.Background(), "gophers", "x")
	req.ErrorIs(err, boom)
}

func TestParticipants_UnknownConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)

	_, err := f.convs.Participants(context.Background(), "nope")
	req.ErrorIs(err, data.ErrConversationNotFound)

	_, err = f.convs.IsParticipant(context.Background(), "nope", "alice")
	req.ErrorIs(err, data.ErrConversationNotFound)
}

func TestDirectParticipantsAreImmutable(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	conv, err := f.convs.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)

	_, err = f.convs.addParticipant(ctx, conv.ID, "carol")
	req.ErrorIs(err, data.ErrValidation)

	participants, err := f.convs.Participants(ctx, conv.ID)
	req.NoError(err)
	req.Len(participants, 2)
}

func TestArchive_BlocksNewMessages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	conv, err := f.convs.CreateDirect(ctx, "alice", "bob")
	req.NoError(err)
	req.NoError(f.convs.Archive(ctx, conv.ID, true))

	_, err = f.msgs.Append(ctx, AppendRequest{ConversationID: conv.ID, SenderID: "alice", Content: "hello?"})
	req.ErrorIs(err, data.ErrConversationArchived)

	req.NoError(f.convs.Archive(ctx, conv.ID, false))
	_, err = f.msgs.Append(ctx, AppendRequest{ConversationID: conv.ID, SenderID: "alice", Content: "hello?"})
	req.NoError(err)
}
