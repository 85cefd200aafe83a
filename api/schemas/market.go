// File: api/schemas/market.go
package schemas

import "time"

// ActionCategory selects the pacing rule applied to a browser operation.
type ActionCategory string

const (
	CategorySearch  ActionCategory = "search"
	CategoryPublish ActionCategory = "publish"
	CategoryMessage ActionCategory = "message"
)

// Cookie is the portable subset of a browser cookie that survives the
// session store round trip. The wire format of the blob is owned by the
// store; these fields are what the session manager re-installs on launch.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"http_only"`
}

// SessionState is the durable identity of one authenticated account
// profile. It is owned exclusively by the session manager: mutated on
// login, on validation checks, and on detected invalidation.
type SessionState struct {
	ProfileID       string    `json:"profile_id"`
	Cookies         []Cookie  `json:"cookies"`
	UserAgent       string    `json:"user_agent"`
	CreatedAt       time.Time `json:"created_at"`
	LastValidatedAt time.Time `json:"last_validated_at,omitzero"`
	Valid           bool      `json:"valid"`
}

// Item is a marketplace listing as observed from a search or detail page.
// Read-only after fetch within a session; refreshed only on explicit
// re-fetch.
type Item struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	SellerName string  `json:"seller_name,omitempty"`
	Location   string  `json:"location,omitempty"`
	WantCount  int     `json:"want_count,omitempty"`
	URL        string  `json:"url,omitempty"`
	ImageURL   string  `json:"image_url,omitempty"`
}

// ItemStats is the analytics snapshot for a single listing. Conversion
// rates are derived and recomputed, never stored.
type ItemStats struct {
	ItemID     string  `json:"item_id"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	ViewCount  int     `json:"view_count"`
	WantCount  int     `json:"want_count"`
	ChatCount  int     `json:"chat_count"`
	OrderCount int     `json:"order_count"`

	ViewToWantRate  float64 `json:"view_to_want_rate"`
	ViewToChatRate  float64 `json:"view_to_chat_rate"`
	ChatToOrderRate float64 `json:"chat_to_order_rate"`
}

// RecomputeRates refreshes the derived conversion fields from the raw
// counters.
func (s *ItemStats) RecomputeRates() {
	if s.ViewCount > 0 {
		s.ViewToWantRate = float64(s.WantCount) / float64(s.ViewCount) * 100
		s.ViewToChatRate = float64(s.ChatCount) / float64(s.ViewCount) * 100
	}
	if s.ChatCount > 0 {
		s.ChatToOrderRate = float64(s.OrderCount) / float64(s.ChatCount) * 100
	}
}

// ConversationSource records where a conversation record came from.
type ConversationSource string

const (
	SourceFreshFetch ConversationSource = "fresh_fetch"
	SourceCached     ConversationSource = "cached"
)

// Conversation is a persistent message thread with one counterpart,
// optionally tied to one listing. Identity is ID; records are created on
// first observation and updated on each reconciliation pass, never deleted
// within a session.
type Conversation struct {
	ID              string             `json:"id"`
	CounterpartID   string             `json:"counterpart_id"`
	CounterpartName string             `json:"counterpart_name,omitempty"`
	ItemID          string             `json:"item_id,omitempty"`
	ItemTitle       string             `json:"item_title,omitempty"`
	LastMessage     string             `json:"last_message,omitempty"`
	LastMessageAt   time.Time          `json:"last_message_at,omitzero"`
	UnreadCount     int                `json:"unread_count"`
	Sendable        bool               `json:"sendable"`
	HasItemContext  bool               `json:"has_item_context"`
	Source          ConversationSource `json:"source"`

	// CounterpartReachable mirrors what the latest fetch reported; it feeds
	// the sendable recomputation together with local block flags.
	CounterpartReachable bool `json:"counterpart_reachable"`

	// OrderAnomaly is set when reconciliation observed message ordering
	// inconsistent with local history. Reported, never auto-corrected.
	OrderAnomaly bool `json:"order_anomaly,omitempty"`
}

// MessageSender distinguishes our own messages from the counterpart's.
type MessageSender string

const (
	SenderSelf        MessageSender = "self"
	SenderCounterpart MessageSender = "counterpart"
)

// Message is one entry in a conversation. Identity is ID; once observed a
// message is immutable and is never dropped by reconciliation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Sender         MessageSender `json:"sender"`
	Content        string        `json:"content"`
	SentAt         time.Time     `json:"sent_at"`
}

// SearchFilters narrows a marketplace search.
type SearchFilters struct {
	PriceMin *float64 `json:"price_min,omitempty"`
	PriceMax *float64 `json:"price_max,omitempty"`
	Location string   `json:"location,omitempty"`
	SortBy   string   `json:"sort_by,omitempty"` // default, price_asc, price_desc
	Limit    int      `json:"limit,omitempty"`
}

// SearchResult is an ordered page of items. An empty Items slice is a
// valid outcome, distinct from failure.
type SearchResult struct {
	Keyword string `json:"keyword"`
	Items   []Item `json:"items"`
}

// SendStatus is the terminal state of an outbound message attempt.
type SendStatus string

const (
	SendDelivered   SendStatus = "delivered"
	SendUnconfirmed SendStatus = "unconfirmed"
)

// SendReceipt reports the outcome of a send. Unconfirmed is a soft result:
// the message was dispatched but the read-back never showed it within the
// verification budget.
type SendReceipt struct {
	ConversationID string     `json:"conversation_id"`
	Content        string     `json:"content"`
	Status         SendStatus `json:"status"`
	DispatchedAt   time.Time  `json:"dispatched_at"`
	VerifiedAt     time.Time  `json:"verified_at,omitzero"`
}

// FetchBatch is one page of remote conversation state handed to the
// reconciler: the conversation summaries plus any message pages fetched
// alongside them, keyed by conversation ID.
type FetchBatch struct {
	Conversations []Conversation
	Messages      map[string][]Message
	FetchedAt     time.Time
}
