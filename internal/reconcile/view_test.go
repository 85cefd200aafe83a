// File: internal/reconcile/view_test.go
package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func conv(id, counterpart string) schemas.Conversation {
	return schemas.Conversation{
		ID:                   id,
		CounterpartID:        counterpart,
		CounterpartName:      "买家" + counterpart,
		CounterpartReachable: true,
		LastMessageAt:        base,
	}
}

func msg(id, content string, at time.Time, sender schemas.MessageSender) schemas.Message {
	return schemas.Message{ID: id, Content: content, SentAt: at, Sender: sender}
}

func TestApplyConversationsMergeAndDemote(t *testing.T) {
	v := NewView(zap.NewNop())

	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1"), conv("c2", "u2")})
	got := v.Conversations(0)
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, schemas.SourceFreshFetch, c.Source)
	}

	// The next fetch only sees c1. c2 survives as cached.
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})
	c1, ok := v.Conversation("c1")
	require.True(t, ok)
	assert.Equal(t, schemas.SourceFreshFetch, c1.Source)
	c2, ok := v.Conversation("c2")
	require.True(t, ok)
	assert.Equal(t, schemas.SourceCached, c2.Source)
}

func TestItemContextIsMonotonic(t *testing.T) {
	v := NewView(zap.NewNop())

	withItem := conv("c1", "u1")
	withItem.HasItemContext = true
	withItem.ItemID = "111"
	withItem.ItemTitle = "山地车"
	v.ApplyConversations([]schemas.Conversation{withItem})

	// A later fetch that lost the item binding must not erase it.
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})
	c1, ok := v.Conversation("c1")
	require.True(t, ok)
	assert.True(t, c1.HasItemContext)
	assert.Equal(t, "111", c1.ItemID)
	assert.Equal(t, "山地车", c1.ItemTitle)
}

func TestApplyMessagesAppendOnlyAndIdempotent(t *testing.T) {
	v := NewView(zap.NewNop())
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})

	first := []schemas.Message{
		msg("m1", "在吗", base, schemas.SenderCounterpart),
		msg("m2", "还能便宜点吗", base.Add(time.Minute), schemas.SenderCounterpart),
	}
	v.ApplyMessages("c1", first)
	require.Len(t, v.Messages("c1", 0), 2)

	// Same batch again: nothing duplicated.
	v.ApplyMessages("c1", first)
	require.Len(t, v.Messages("c1", 0), 2)

	// An overlapping batch only contributes the new tail.
	v.ApplyMessages("c1", []schemas.Message{
		msg("m2", "还能便宜点吗", base.Add(time.Minute), schemas.SenderCounterpart),
		msg("m3", "最低 340", base.Add(2*time.Minute), schemas.SenderSelf),
	})
	msgs := v.Messages("c1", 0)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m3", msgs[2].ID)

	c1, _ := v.Conversation("c1")
	assert.Equal(t, "最低 340", c1.LastMessage)
	assert.False(t, c1.OrderAnomaly)
}

func TestOrderAnomalyParksOutOfOrderMessage(t *testing.T) {
	v := NewView(zap.NewNop())
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})

	v.ApplyMessages("c1", []schemas.Message{
		msg("m2", "second", base.Add(time.Minute), schemas.SenderCounterpart),
	})
	// An earlier message arrives after a later one: it is parked, the
	// ordered sequence stays untouched.
	v.ApplyMessages("c1", []schemas.Message{
		msg("m1", "first", base, schemas.SenderCounterpart),
	})

	msgs := v.Messages("c1", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	parked := v.ParkedMessages("c1")
	require.Len(t, parked, 1)
	assert.Equal(t, "m1", parked[0].ID, "nothing observed ever disappears")

	c1, _ := v.Conversation("c1")
	assert.True(t, c1.OrderAnomaly)

	// The flag sticks across later clean fetches, and re-applying the
	// late batch parks nothing twice.
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})
	v.ApplyMessages("c1", []schemas.Message{
		msg("m1", "first", base, schemas.SenderCounterpart),
	})
	c1, _ = v.Conversation("c1")
	assert.True(t, c1.OrderAnomaly)
	assert.Len(t, v.ParkedMessages("c1"), 1)
}

func TestApplyMessagesWithoutIDsIsIdempotent(t *testing.T) {
	v := NewView(zap.NewNop())
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})

	// Payload entries without any id field reach the view with ID == "".
	batch := []schemas.Message{
		{Content: "已下架", SentAt: base, Sender: schemas.SenderCounterpart},
		{Content: "最低 340", SentAt: base.Add(time.Minute), Sender: schemas.SenderSelf},
	}
	v.ApplyMessages("c1", batch)
	first := v.Messages("c1", 0)
	require.Len(t, first, 2)

	v.ApplyMessages("c1", batch)
	second := v.Messages("c1", 0)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-applying the same id-less batch changed the view (-first +second):\n%s", diff)
	}

	// Same content at a different time is a genuinely new message.
	v.ApplyMessages("c1", []schemas.Message{
		{Content: "最低 340", SentAt: base.Add(2 * time.Minute), Sender: schemas.SenderSelf},
	})
	assert.Len(t, v.Messages("c1", 0), 3)
}

func TestSetItemContextBackfill(t *testing.T) {
	v := NewView(zap.NewNop())
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})

	v.SetItemContext("c1", "111", "山地车")
	c1, _ := v.Conversation("c1")
	assert.True(t, c1.HasItemContext)
	assert.Equal(t, "山地车", c1.ItemTitle)

	// An empty resolution leaves the binding alone.
	v.SetItemContext("c1", "", "")
	c1, _ = v.Conversation("c1")
	assert.True(t, c1.HasItemContext)
	assert.Equal(t, "111", c1.ItemID)
}

func TestSetBlockedOverridesSendability(t *testing.T) {
	v := NewView(zap.NewNop())
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})

	v.SetBlocked("u1", true)
	c1, _ := v.Conversation("c1")
	assert.False(t, c1.Sendable)

	// A fresh fetch reporting the counterpart reachable does not unblock.
	v.ApplyConversations([]schemas.Conversation{conv("c1", "u1")})
	c1, _ = v.Conversation("c1")
	assert.False(t, c1.Sendable)

	v.SetBlocked("u1", false)
	c1, _ = v.Conversation("c1")
	assert.True(t, c1.Sendable)
}

func TestConversationRanking(t *testing.T) {
	v := NewView(zap.NewNop())

	unsendable := conv("sys", "0")
	unsendable.CounterpartReachable = false

	withItem := conv("item", "u2")
	withItem.HasItemContext = true

	unread := conv("unread", "u3")
	unread.UnreadCount = 4

	recent := conv("recent", "u4")
	recent.LastMessageAt = base.Add(time.Hour)

	v.ApplyConversations([]schemas.Conversation{unsendable, recent, unread, withItem})

	got := v.Conversations(0)
	require.Len(t, got, 4)
	assert.Equal(t, "item", got[0].ID)
	assert.Equal(t, "unread", got[1].ID)
	assert.Equal(t, "recent", got[2].ID)
	assert.Equal(t, "sys", got[3].ID)

	limited := v.Conversations(2)
	require.Len(t, limited, 2)
}

func TestMessagesTailLimit(t *testing.T) {
	v := NewView(zap.NewNop())
	v.ApplyMessages("c1", []schemas.Message{
		msg("m1", "a", base, schemas.SenderCounterpart),
		msg("m2", "b", base.Add(time.Minute), schemas.SenderCounterpart),
		msg("m3", "c", base.Add(2*time.Minute), schemas.SenderSelf),
	})

	tail := v.Messages("c1", 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "m2", tail[0].ID)
	assert.Equal(t, "m3", tail[1].ID)
}

func TestPrewarm(t *testing.T) {
	v := NewView(zap.NewNop())
	batch := &schemas.FetchBatch{
		Conversations: []schemas.Conversation{conv("c1", "u1")},
		Messages: map[string][]schemas.Message{
			"c1": {msg("m1", "在吗", base, schemas.SenderCounterpart)},
		},
		FetchedAt: base,
	}
	v.Prewarm(context.Background(), func(context.Context) (*schemas.FetchBatch, error) {
		return batch, nil
	})

	convs, msgs := v.Stats()
	assert.Equal(t, 1, convs)
	assert.Equal(t, 1, msgs)
}

func TestPrewarmFailureIsNonFatal(t *testing.T) {
	v := NewView(zap.NewNop())
	v.Prewarm(context.Background(), func(context.Context) (*schemas.FetchBatch, error) {
		return nil, errors.New("browser not ready")
	})
	convs, msgs := v.Stats()
	assert.Zero(t, convs)
	assert.Zero(t, msgs)
}
