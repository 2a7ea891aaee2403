package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
)

func mustDirect(t *testing.T, f *fixture, a, b string) *data.Conversation {
	t.Helper()
	conv, err := f.convs.CreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func mustSend(t *testing.T, f *fixture, conv, sender, content string) *data.Message {
	t.Helper()
	m, err := f.msgs.Append(context.Background(), AppendRequest{ConversationID: conv, SenderID: sender, Content: content})
	require.NoError(t, err)
	return m
}

func contents(msgs []*data.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestAppend_DirectConversationScenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")

	mustSend(t, f, conv.ID, "A", "hi")
	f.clock.Advance(time.Second)
	there := mustSend(t, f, conv.ID, "A", "there")

	got, err := Collect(f.msgs.ListSince(ctx, conv.ID, "", 0))
	req.NoError(err)
	req.Equal([]string{"hi", "there"}, contents(got))

	unread, err := f.reads.UnreadCount(ctx, "B", conv.ID)
	req.NoError(err)
	req.EqualValues(2, unread)

	advanced, err := f.reads.MarkRead(ctx, "B", conv.ID, there.ID)
	req.NoError(err)
	req.True(advanced)

	unread, err = f.reads.UnreadCount(ctx, "B", conv.ID)
	req.NoError(err)
	req.Zero(unread)
}

func TestAppend_NonParticipantLeavesLogUnchanged(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")

	_, err := f.msgs.Append(ctx, AppendRequest{ConversationID: conv.ID, SenderID: "C", Content: "let me in"})
	req.ErrorIs(err, data.ErrNotParticipant)

	got, err := Collect(f.msgs.ListSince(ctx, conv.ID, "", 0))
	req.NoError(err)
	req.Empty(got)
	req.Empty(f.rec.all())
}

func TestAppend_ValidatesContentAndReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")
	other := mustDirect(t, f, "A", "C")
	foreign := mustSend(t, f, other.ID, "A", "elsewhere")

	tests := []struct {
		name    string
		req     AppendRequest
		wantErr error
	}{
		{"empty", AppendRequest{ConversationID: conv.ID, SenderID: "A", Content: ""}, data.ErrEmptyContent},
		{"whitespace only", AppendRequest{ConversationID: conv.ID, SenderID: "A", Content: " \n\t "}, data.ErrEmptyContent},
		{"too long", AppendRequest{ConversationID: conv.ID, SenderID: "A", Content: strings.Repeat("x", DefaultMaxContentLength+1)}, data.ErrContentTooLong},
		{"reply to unknown", AppendRequest{ConversationID: conv.ID, SenderID: "A", Content: "re", ReplyToID: "missing"}, data.ErrInvalidReply},
		{"reply across conversations", AppendRequest{ConversationID: conv.ID, SenderID: "A", Content: "re", ReplyToID: foreign.ID}, data.ErrInvalidReply},
		{"unknown conversation", AppendRequest{ConversationID: "nope", SenderID: "A", Content: "x"}, data.ErrConversationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.msgs.Append(ctx, tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	got, err := Collect(f.msgs.ListSince(ctx, conv.ID, "", 0))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAppend_ReplyWithinConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")
	parent := mustSend(t, f, conv.ID, "A", "question?")

	reply, err := f.msgs.Append(context.Background(), AppendRequest{
		ConversationID: conv.ID, SenderID: "B", Content: "answer", ReplyToID: parent.ID,
	})
	req.NoError(err)
	req.Equal(parent.ID, reply.ReplyToID)
}

func TestAppend_OrderSurvivesClockSkew(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")

	start := f.clock.Now()
	first := mustSend(t, f, conv.ID, "A", "one")
	second := mustSend(t, f, conv.ID, "B", "two") // identical timestamp
	f.clock.Set(start.Add(-time.Minute))
	third := mustSend(t, f, conv.ID, "A", "three") // clock stepped back

	req.True(first.OrderKey().Before(second.OrderKey()))
	req.True(second.OrderKey().Before(third.OrderKey()))
	req.False(third.CreatedAt.Before(second.CreatedAt))

	got, err := Collect(f.msgs.ListSince(ctx, conv.ID, "", 0))
	req.NoError(err)
	req.Equal([]string{"one", "two", "three"}, contents(got))
}

func TestAppend_ConcurrentSendersGetTotalOrder(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv, err := f.convs.CreateCommunityConversation(ctx, "room", "u0", "u1", "u2", "u3")
	req.NoError(err)

	const perSender = 25
	var wg sync.WaitGroup
	for s := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perSender {
				_, err := f.msgs.Append(ctx, AppendRequest{
					ConversationID: conv.ID,
					SenderID:       fmt.Sprintf("u%d", s),
					Content:        fmt.Sprintf("%d-%d", s, i),
				})
				if err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := Collect(f.msgs.ListSince(ctx, conv.ID, "", 0))
	req.NoError(err)
	req.Len(got, 4*perSender)
	for i := 1; i < len(got); i++ {
		req.True(got[i-1].OrderKey().Before(got[i].OrderKey()))
	}

	// commits are published in the same order the log stores them
	commits := f.rec.all()
	req.Len(commits, len(got))
	for i, c := range commits {
		req.Equal(CommitMessageAppended, c.Kind)
		req.Equal(got[i].ID, c.Message.ID)
		req.Equal(got[i].Seq, c.Seq)
	}

	// per-sender order is preserved
	next := map[string]int{}
	for _, m := range got {
		var s, i int
		_, err := fmt.Sscanf(m.Content, "%d-%d", &s, &i)
		req.NoError(err)
		key := fmt.Sprint(s)
		req.Equal(next[key], i)
		next[key]++
	}
}

func TestAppend_IDsSortInAppendOrder(t *testing.T) {
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")

	var prev string
	for i := range 50 {
		m := mustSend(t, f, conv.ID, "A", fmt.Sprintf("m%d", i))
		require.Greater(t, m.ID, prev, "append %d", i)
		prev = m.ID
	}
}

func TestAppend_FailedInsertLeavesNoSeqGap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f, flaky := newFlakyFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")

	first := mustSend(t, f, conv.ID, "A", "one")
	flaky.failInsert.Store(true)
	_, err := f.msgs.Append(ctx, AppendRequest{ConversationID: conv.ID, SenderID: "A", Content: "lost"})
	req.ErrorIs(err, errStoreDown)
	second := mustSend(t, f, conv.ID, "A", "two")

	req.Equal(first.Seq+1, second.Seq)
	commits := f.rec.all()
	req.Len(commits, 2)
	req.Equal(commits[0].Seq+1, commits[1].Seq)

	got, err := Collect(f.msgs.ListSince(ctx, conv.ID, "", 0))
	req.NoError(err)
	req.Equal([]string{"one", "two"}, contents(got))
}

func TestReactions_AreIdempotentAndOnlyChangesCommit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")
	msg := mustSend(t, f, conv.ID, "A", "ship it")
	base := len(f.rec.all())

	m, changed, err := f.msgs.AddReaction(ctx, msg.ID, "B", "👍")
	req.NoError(err)
	req.True(changed)
	req.Equal(1, m.ReactionCount("👍"))

	m, changed, err = f.msgs.AddReaction(ctx, msg.ID, "B", "👍")
	req.NoError(err)
	req.False(changed)
	req.Equal(1, m.ReactionCount("👍"))

	m, changed, err = f.msgs.AddReaction(ctx, msg.ID, "A", "👍")
	req.NoError(err)
	req.True(changed)
	req.Equal(2, m.ReactionCount("👍"))

	m, changed, err = f.msgs.RemoveReaction(ctx, msg.ID, "B", "👍")
	req.NoError(err)
	req.True(changed)
	req.Equal(1, m.ReactionCount("👍"))
	req.False(m.HasReaction("👍", "B"))

	m, changed, err = f.msgs.RemoveReaction(ctx, msg.ID, "B", "👍")
	req.NoError(err)
	req.False(changed)
	req.Equal(1, m.ReactionCount("👍"))

	commits := f.rec.all()[base:]
	req.Len(commits, 3)
	req.True(commits[0].Reaction.Added)
	req.Equal(1, commits[0].Reaction.Count)
	req.Equal(2, commits[1].Reaction.Count)
	req.False(commits[2].Reaction.Added)
	req.Equal("B", commits[2].Reaction.UserID)
	// no-op toggles leave no hole in the commit sequence
	req.Equal(commits[0].Seq+1, commits[1].Seq)
	req.Equal(commits[1].Seq+1, commits[2].Seq)
}

func TestReactions_Validation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")
	msg := mustSend(t, f, conv.ID, "A", "hello")

	_, _, err := f.msgs.AddReaction(ctx, msg.ID, "B", "  ")
	req.ErrorIs(err, data.ErrInvalidEmoji)

	_, _, err = f.msgs.AddReaction(ctx, msg.ID, "C", "🎉")
	req.ErrorIs(err, data.ErrNotParticipant)

	_, _, err = f.msgs.AddReaction(ctx, "missing", "B", "🎉")
	req.ErrorIs(err, data.ErrMessageNotFound)

	m, err := f.msgs.Get(ctx, msg.ID)
	req.NoError(err)
	req.Empty(m.Reactions)
}

func TestListSince_CursorPagination(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")

	var sent []*data.Message
	for i := range 7 {
		sent = append(sent, mustSend(t, f, conv.ID, "A", fmt.Sprintf("m%d", i)))
	}

	page, err := Collect(f.msgs.ListSince(ctx, conv.ID, "", 3))
	req.NoError(err)
	req.Equal([]string{"m0", "m1", "m2"}, contents(page))

	page, err = Collect(f.msgs.ListSince(ctx, conv.ID, page[len(page)-1].ID, 3))
	req.NoError(err)
	req.Equal([]string{"m3", "m4", "m5"}, contents(page))

	// activity after a cursor was handed out does not disturb the prefix
	mustSend(t, f, conv.ID, "B", "late")
	page, err = Collect(f.msgs.ListSince(ctx, conv.ID, sent[2].ID, 3))
	req.NoError(err)
	req.Equal([]string{"m3", "m4", "m5"}, contents(page))

	page, err = Collect(f.msgs.ListSince(ctx, conv.ID, sent[5].ID, 0))
	req.NoError(err)
	req.Equal([]string{"m6", "late"}, contents(page))
}

func TestListSince_IsLazyAndRestartable(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")

	total := listPageSize + 5
	for i := range total {
		mustSend(t, f, conv.ID, "A", fmt.Sprintf("m%d", i))
	}

	seq := f.msgs.ListSince(ctx, conv.ID, "", 0)

	var firstPass []string
	for m, err := range seq {
		req.NoError(err)
		firstPass = append(firstPass, m.Content)
		if len(firstPass) == 2 {
			break
		}
	}
	req.Equal([]string{"m0", "m1"}, firstPass)

	all, err := Collect(seq)
	req.NoError(err)
	req.Len(all, total)
	req.Equal("m0", all[0].Content)
	req.Equal(fmt.Sprintf("m%d", total-1), all[total-1].Content)
}

func TestListSince_RejectsForeignCursor(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")
	other := mustDirect(t, f, "A", "C")
	foreign := mustSend(t, f, other.ID, "A", "x")

	_, err := Collect(f.msgs.ListSince(ctx, conv.ID, foreign.ID, 0))
	req.ErrorIs(err, data.ErrInvalidMessage)

	_, err = Collect(f.msgs.ListSince(ctx, conv.ID, "missing", 0))
	req.ErrorIs(err, data.ErrInvalidMessage)
}

func TestHistory_ChecksViewer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	conv := mustDirect(t, f, "A", "B")
	mustSend(t, f, conv.ID, "A", "secret")

	_, err := f.msgs.History(ctx, "C", conv.ID, "", 10)
	req.ErrorIs(err, data.ErrNotParticipant)

	got, err := f.msgs.History(ctx, "B", conv.ID, "", 10)
	req.NoError(err)
	req.Len(got, 1)
}
