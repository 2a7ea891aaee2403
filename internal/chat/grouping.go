package chat

import (
	"slices"
	"sort"
	"time"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
)

// The transforms below are pure views over ListSince output. They never
// reorder messages and keep nothing between calls.

// DayGroup is a contiguous run of messages sharing a calendar date.
type DayGroup struct {
	Date     time.Time // midnight of the day, in the viewer's location
	Messages []*data.Message
}

// GroupByDate partitions msgs into contiguous runs keyed by the calendar date
// of CreatedAt in loc. A nil loc means UTC.
func GroupByDate(msgs []*data.Message, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.UTC
	}

	var groups []DayGroup
	for _, m := range msgs {
		t := m.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Messages: []*data.Message{m}})
	}
	return groups
}

// SenderRun is a run of consecutive messages from one sender; clients show
// the avatar once per run.
type SenderRun struct {
	SenderID string
	Messages []*data.Message
}

// CollapseSenders groups consecutive same-sender messages. A gap longer than
// maxGap between two messages starts a new run; maxGap <= 0 disables that.
func CollapseSenders(msgs []*data.Message, maxGap time.Duration) []SenderRun {
	var runs []SenderRun
	for _, m := range msgs {
		if n := len(runs); n > 0 && runs[n-1].SenderID == m.SenderID {
			last := runs[n-1].Messages[len(runs[n-1].Messages)-1]
			if maxGap <= 0 || m.CreatedAt.Sub(last.CreatedAt) <= maxGap {
				runs[n-1].Messages = append(runs[n-1].Messages, m)
				continue
			}
		}
		runs = append(runs, SenderRun{SenderID: m.SenderID, Messages: []*data.Message{m}})
	}
	return runs
}

// ReactionGroup is the aggregated view of one emoji on one message.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// ReactionSummary aggregates a message's reactions, most used first and
// ties broken by emoji so the output is stable.
func ReactionSummary(m *data.Message) []ReactionGroup {
	out := make([]ReactionGroup, 0, len(m.Reactions))
	for emoji, users := range m.Reactions {
		if len(users) == 0 {
			continue
		}
		out = append(out, ReactionGroup{Emoji: emoji, Count: len(users), Users: slices.Clone(users)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}
