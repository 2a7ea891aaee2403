package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
)

func msgAt(sender string, at time.Time) *data.Message {
	return &data.Message{SenderID: sender, CreatedAt: at, Content: sender + "@" + at.Format(time.Kitchen)}
}

func TestGroupByDate(t *testing.T) {
	req := require.New(t)
	base := time.Date(2026, 5, 1, 22, 30, 0, 0, time.UTC)
	msgs := []*data.Message{
		msgAt("a", base),
		msgAt("b", base.Add(time.Hour)),    // 23:30, same day
		msgAt("a", base.Add(2*time.Hour)),  // 00:30 next day
		msgAt("a", base.Add(26*time.Hour)), // 00:30 the day after
	}

	groups := GroupByDate(msgs, nil)
	req.Len(groups, 3)
	req.Len(groups[0].Messages, 2)
	req.Equal(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), groups[1].Date)

	// in UTC-5 the first three messages fall on May 1
	ny := time.FixedZone("UTC-5", -5*60*60)
	groups = GroupByDate(msgs, ny)
	req.Len(groups, 2)
	req.Len(groups[0].Messages, 3)

	req.Empty(GroupByDate(nil, nil))
}

func TestCollapseSenders(t *testing.T) {
	req := require.New(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*data.Message{
		msgAt("a", base),
		msgAt("a", base.Add(time.Minute)),
		msgAt("b", base.Add(2*time.Minute)),
		msgAt("a", base.Add(3*time.Minute)),
		msgAt("a", base.Add(30*time.Minute)),
	}

	runs := CollapseSenders(msgs, 5*time.Minute)
	req.Len(runs, 4)
	req.Equal("a", runs[0].SenderID)
	req.Len(runs[0].Messages, 2)
	req.Equal("b", runs[1].SenderID)

	runs = CollapseSenders(msgs, 0)
	req.Len(runs, 3)
	req.Len(runs[2].Messages, 2)
}

func TestReactionSummary(t *testing.T) {
	req := require.New(t)
	m := &data.Message{Reactions: map[string][]string{
		"🎉": {"a"},
		"👍": {"a", "b"},
		"🔥": {"c"},
		"😴": {},
	}}

	got := ReactionSummary(m)
	req.Equal([]ReactionGroup{
		{Emoji: "👍", Count: 2, Users: []string{"a", "b"}},
		{Emoji: "🎉", Count: 1, Users: []string{"a"}},
		{Emoji: "🔥", Count: 1, Users: []string{"c"}},
	}, got)

	req.Empty(ReactionSummary(&data.Message{}))
}
