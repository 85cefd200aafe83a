// File: internal/reconcile/view.go

// Package reconcile maintains the local view of conversations and
// messages across fetches. Fresh fetches are merged into the view
// rather than replacing it, so threads that drop out of one page load
// survive as cached entries instead of vanishing.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stallwire/stallwire/api/schemas"
)

// View is the reconciled conversation state. Safe for concurrent use.
type View struct {
	mu            sync.RWMutex
	conversations map[string]*schemas.Conversation
	messages      map[string][]schemas.Message
	parked        map[string][]schemas.Message
	seen          map[string]map[string]struct{} // conversation -> message keys
	blocked       map[string]struct{}
	log           *zap.Logger
}

// NewView builds an empty view.
func NewView(logger *zap.Logger) *View {
	return &View{
		conversations: make(map[string]*schemas.Conversation),
		messages:      make(map[string][]schemas.Message),
		parked:        make(map[string][]schemas.Message),
		seen:          make(map[string]map[string]struct{}),
		blocked:       make(map[string]struct{}),
		log:           logger.Named("reconcile"),
	}
}

// ApplyConversations merges one fetched batch into the view. Known
// conversations are updated in place, new ones are added, and entries
// absent from the batch are kept but demoted to cached. Item context,
// once learned, is never forgotten by a later fetch that omits it.
func (v *View) ApplyConversations(fetched []schemas.Conversation) {
	v.mu.Lock()
	defer v.mu.Unlock()

	inBatch := make(map[string]struct{}, len(fetched))
	for i := range fetched {
		c := fetched[i]
		inBatch[c.ID] = struct{}{}
		c.Source = schemas.SourceFreshFetch

		prev, known := v.conversations[c.ID]
		if known {
			if prev.HasItemContext && !c.HasItemContext {
				c.HasItemContext = true
				c.ItemID = prev.ItemID
				c.ItemTitle = prev.ItemTitle
			}
			if c.CounterpartName == "" {
				c.CounterpartName = prev.CounterpartName
			}
			if c.LastMessageAt.IsZero() {
				c.LastMessage = prev.LastMessage
				c.LastMessageAt = prev.LastMessageAt
			}
			c.OrderAnomaly = prev.OrderAnomaly
		}
		v.applySendability(&c)
		v.conversations[c.ID] = &c
	}

	for id, c := range v.conversations {
		if _, ok := inBatch[id]; !ok {
			c.Source = schemas.SourceCached
		}
	}
}

// messageKey identifies a message for dedup. Some payload entries carry
// no id at all; those fall back to a content-derived key so re-applying
// the same batch never duplicates them.
func messageKey(m schemas.Message) string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%s|%d|%s", m.Sender, m.SentAt.UnixNano(), m.Content)
}

// ApplyMessages merges fetched messages for one conversation. Messages
// are append-only: a fetch never removes or rewrites what the view has
// already recorded, and re-applying the same batch is a no-op. A new
// message whose sent_at predates the current tail is parked and the
// conversation flagged order-anomalous; the ordered sequence is never
// force-inserted into.
func (v *View) ApplyMessages(conversationID string, fetched []schemas.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	seen := v.seen[conversationID]
	if seen == nil {
		seen = make(map[string]struct{})
		v.seen[conversationID] = seen
	}

	existing := v.messages[conversationID]
	anomaly := false
	added := 0
	for _, m := range fetched {
		key := messageKey(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		m.ConversationID = conversationID

		if n := len(existing); n > 0 && m.SentAt.Before(existing[n-1].SentAt) {
			v.parked[conversationID] = append(v.parked[conversationID], m)
			anomaly = true
			continue
		}
		existing = append(existing, m)
		added++
	}
	if added == 0 && !anomaly {
		return
	}
	v.messages[conversationID] = existing

	if c, ok := v.conversations[conversationID]; ok {
		if anomaly && !c.OrderAnomaly {
			c.OrderAnomaly = true
			v.log.Warn("Message ordering anomaly",
				zap.String("conversation_id", conversationID))
		}
		if len(existing) > 0 {
			last := existing[len(existing)-1]
			if last.SentAt.After(c.LastMessageAt) {
				c.LastMessage = last.Content
				c.LastMessageAt = last.SentAt
			}
		}
	}
}

// ParkedMessages returns the messages held out of a conversation's
// ordered sequence because they arrived inconsistent with local history.
func (v *View) ParkedMessages(conversationID string) []schemas.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]schemas.Message, len(v.parked[conversationID]))
	copy(out, v.parked[conversationID])
	return out
}

// SetBlocked records a local block decision for a counterpart. Blocked
// counterparts render their conversations unsendable regardless of what
// later fetches report.
func (v *View) SetBlocked(counterpartID string, blocked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if blocked {
		v.blocked[counterpartID] = struct{}{}
	} else {
		delete(v.blocked, counterpartID)
	}
	for _, c := range v.conversations {
		if c.CounterpartID == counterpartID {
			v.applySendability(c)
		}
	}
}

func (v *View) applySendability(c *schemas.Conversation) {
	c.Sendable = c.CounterpartReachable
	if _, blk := v.blocked[c.CounterpartID]; blk {
		c.Sendable = false
	}
}

// SetItemContext backfills the listing binding of a conversation, for
// example after a prewarm fetch resolved it. It never clears a binding.
func (v *View) SetItemContext(conversationID, itemID, itemTitle string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.conversations[conversationID]
	if !ok || itemID == "" {
		return
	}
	c.HasItemContext = true
	c.ItemID = itemID
	c.ItemTitle = itemTitle
}

// Conversations returns the reconciled list, ranked for triage:
// sendable threads first, then threads with item context, then by
// unread count, then by recency. Limit <= 0 returns everything.
func (v *View) Conversations(limit int) []schemas.Conversation {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]schemas.Conversation, 0, len(v.conversations))
	for _, c := range v.conversations {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Sendable != b.Sendable {
			return a.Sendable
		}
		if a.HasItemContext != b.HasItemContext {
			return a.HasItemContext
		}
		if a.UnreadCount != b.UnreadCount {
			return a.UnreadCount > b.UnreadCount
		}
		return a.LastMessageAt.After(b.LastMessageAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Conversation looks up one thread by id.
func (v *View) Conversation(id string) (schemas.Conversation, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.conversations[id]
	if !ok {
		return schemas.Conversation{}, false
	}
	return *c, true
}

// Messages returns the newest messages of a conversation, oldest first.
// Limit <= 0 returns the full thread.
func (v *View) Messages(conversationID string, limit int) []schemas.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()

	msgs := v.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]schemas.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Stats reports view-level counters.
func (v *View) Stats() (conversations, messages int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, m := range v.messages {
		messages += len(m)
	}
	return len(v.conversations), messages
}

// Prewarm seeds the view from an initial fetch. A failed prewarm is
// logged and swallowed: the view starts empty and fills on the next
// successful fetch.
func (v *View) Prewarm(ctx context.Context, fetch func(ctx context.Context) (*schemas.FetchBatch, error)) {
	batch, err := fetch(ctx)
	if err != nil {
		v.log.Warn("Prewarm fetch failed, starting with an empty view", zap.Error(err))
		return
	}
	v.ApplyConversations(batch.Conversations)
	for id, msgs := range batch.Messages {
		v.ApplyMessages(id, msgs)
	}
	v.log.Info("View prewarmed",
		zap.Int("conversations", len(batch.Conversations)),
		zap.Time("fetched_at", batch.FetchedAt))
}
