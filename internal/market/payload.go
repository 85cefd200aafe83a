// File: internal/market/payload.go
package market

import (
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stallwire/stallwire/api/schemas"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session types and user types that cannot receive outbound messages:
// type 3 sessions are system threads, type 10 users are platform accounts.
const (
	systemSessionType = 3
	platformUserType  = 10
)

type sessionSyncPayload struct {
	Data struct {
		Sessions []struct {
			Session struct {
				SessionID   jsoniter.RawMessage `json:"sessionId"`
				SessionType jsoniter.RawMessage `json:"sessionType"`
				UserInfo    struct {
					UserID jsoniter.RawMessage `json:"userId"`
					Nick   string              `json:"nick"`
					Type   jsoniter.RawMessage `json:"type"`
				} `json:"userInfo"`
				OwnerInfo struct {
					FishNick string `json:"fishNick"`
				} `json:"ownerInfo"`
			} `json:"session"`
			Message struct {
				Summary struct {
					Summary string              `json:"summary"`
					Unread  jsoniter.RawMessage `json:"unread"`
					TS      jsoniter.RawMessage `json:"ts"`
				} `json:"summary"`
			} `json:"message"`
		} `json:"sessions"`
	} `json:"data"`
}

// Conversations parses a session.sync payload into conversation summaries.
// Sendability is decided here from session and counterpart types; the
// reconciler folds in local block state afterwards.
func (p *PageParser) Conversations(payload []byte, limit int) ([]schemas.Conversation, error) {
	var parsed sessionSyncPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, schemas.E(schemas.KindTransientFetch, "market.conversations", err)
	}

	var convs []schemas.Conversation
	for i, entry := range parsed.Data.Sessions {
		if limit > 0 && len(convs) >= limit {
			break
		}
		sess := entry.Session
		summary := entry.Message.Summary

		id := rawString(sess.SessionID)
		if id == "" {
			id = strconv.Itoa(i)
		}
		sessionType := rawInt(sess.SessionType)
		userType := rawInt(sess.UserInfo.Type)
		reachable := sessionType != systemSessionType && userType != platformUserType

		name := sess.UserInfo.Nick
		if name == "" {
			name = sess.OwnerInfo.FishNick
		}

		conv := schemas.Conversation{
			ID:                   id,
			CounterpartID:        rawString(sess.UserInfo.UserID),
			CounterpartName:      name,
			LastMessage:          summary.Summary,
			UnreadCount:          rawInt(summary.Unread),
			CounterpartReachable: reachable,
			Sendable:             reachable,
			Source:               schemas.SourceFreshFetch,
		}
		if ts := rawInt64(summary.TS); ts > 0 {
			conv.LastMessageAt = fromEpoch(ts)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

type messageSyncPayload struct {
	Data struct {
		SessionID jsoniter.RawMessage   `json:"sessionId"`
		Messages  []jsoniter.RawMessage `json:"messages"`
		Fetchs    []struct {
			SessionID   jsoniter.RawMessage   `json:"sessionId"`
			Messages    []jsoniter.RawMessage `json:"messages"`
			SessionInfo map[string]any        `json:"sessionInfo"`
		} `json:"fetchs"`
		SessionInfo map[string]any `json:"sessionInfo"`
	} `json:"data"`
}

// Messages parses a message.sync payload for one conversation. Payloads
// carrying a fetchs batch are searched for the matching session; flat
// payloads match on their top-level sessionId.
func (p *PageParser) Messages(payload []byte, conversationID string, limit int) ([]schemas.Message, error) {
	var parsed messageSyncPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, schemas.E(schemas.KindTransientFetch, "market.messages", err)
	}

	raws := parsed.Data.Messages
	sessionInfo := parsed.Data.SessionInfo
	if len(parsed.Data.Fetchs) > 0 {
		raws = nil
		for _, fetch := range parsed.Data.Fetchs {
			if rawString(fetch.SessionID) == conversationID {
				raws = fetch.Messages
				sessionInfo = fetch.SessionInfo
				break
			}
		}
	} else if rawString(parsed.Data.SessionID) != "" && rawString(parsed.Data.SessionID) != conversationID {
		raws = nil
	}

	if limit > 0 && len(raws) > limit {
		// Keep the newest tail.
		raws = raws[len(raws)-limit:]
	}

	ownerID := ownerUserID(sessionInfo)
	var msgs []schemas.Message
	for _, raw := range raws {
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			p.log.Debug("Skipping undecodable message entry", zap.Error(err))
			continue
		}
		if msg, ok := p.messageFromEntry(conversationID, entry, ownerID); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (p *PageParser) messageFromEntry(conversationID string, entry map[string]any, ownerID string) (schemas.Message, bool) {
	msg := schemas.Message{
		ConversationID: conversationID,
		Sender:         schemas.SenderCounterpart,
	}
	msg.ID = firstString(entry, "messageUuid", "messageId", "id")

	senderInfo, _ := entry["senderInfo"].(map[string]any)
	senderID := ""
	if senderInfo != nil {
		senderID = anyString(senderInfo["userId"])
	}
	if senderID == "" {
		senderID = firstString(entry, "fromUserId", "senderId")
	}

	for _, key := range []string{"content", "summary", "text", "body"} {
		if v, ok := entry[key]; ok {
			if text := extractText(v, 0); text != "" {
				msg.Content = text
				break
			}
		}
	}

	if ts := firstInt64(entry, "timeStamp", "ts", "timestamp"); ts > 0 {
		msg.SentAt = fromEpoch(ts)
	}

	switch {
	case anyBool(entry["fromSelf"]) || anyBool(entry["isSelf"]) ||
		anyBool(entry["out"]) || anyBool(entry["isOut"]):
		msg.Sender = schemas.SenderSelf
	case isOutDirection(anyString(entry["direction"])):
		msg.Sender = schemas.SenderSelf
	case ownerID != "" && senderID != "" && ownerID == senderID:
		msg.Sender = schemas.SenderSelf
	}

	if msg.Content == "" && msg.ID == "" {
		return schemas.Message{}, false
	}
	return msg, true
}

type redpointPayload struct {
	Data struct {
		Total jsoniter.RawMessage `json:"total"`
	} `json:"data"`
}

// UnreadTotal reads the account-wide unread counter out of a
// redpoint.query payload.
func (p *PageParser) UnreadTotal(payload []byte) (int, bool) {
	var parsed redpointPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return 0, false
	}
	if len(parsed.Data.Total) == 0 {
		return 0, false
	}
	return rawInt(parsed.Data.Total), true
}

type headInfoPayload struct {
	Data struct {
		CommonData struct {
			ItemID      jsoniter.RawMessage `json:"itemId"`
			ItemPreInfo string              `json:"itemPreInfo"`
		} `json:"commonData"`
	} `json:"data"`
}

// ItemContext extracts the listing a conversation is attached to from a
// headinfo payload. Either return may be empty.
func (p *PageParser) ItemContext(payload []byte) (itemID, itemTitle string) {
	var parsed headInfoPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", ""
	}
	itemID = rawString(parsed.Data.CommonData.ItemID)

	if pre := parsed.Data.CommonData.ItemPreInfo; pre != "" {
		var info struct {
			Title  string              `json:"title"`
			ItemID jsoniter.RawMessage `json:"itemId"`
		}
		if err := json.Unmarshal([]byte(pre), &info); err == nil {
			itemTitle = info.Title
			if itemID == "" {
				itemID = rawString(info.ItemID)
			}
		}
	}
	return itemID, itemTitle
}

// -- Message text extraction --

// Keys that carry type metadata rather than user-visible text.
var metaKeys = map[string]bool{
	"contentType": true, "actionType": true, "iosActionStyle": true,
	"showGuideAlways": true, "type": true, "version": true,
}

const maxExtractDepth = 8

// extractText pulls readable text out of an arbitrarily nested message
// body. Rich cards are flattened to their title and content lines.
func extractText(v any, depth int) string {
	if depth > maxExtractDepth {
		return ""
	}
	switch val := v.(type) {
	case string:
		text := strings.TrimSpace(val)
		if text == "" {
			return ""
		}
		if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
			var nested any
			if err := json.Unmarshal([]byte(text), &nested); err == nil {
				if inner := extractText(nested, depth+1); inner != "" {
					return inner
				}
			}
		}
		return text
	case []any:
		var parts []string
		for _, item := range val {
			if part := extractText(item, depth+1); part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if card, ok := val["textCard"].(map[string]any); ok {
			if joined := joinTitleContent(card, depth+1); joined != "" {
				return joined
			}
		}
		if _, hasTitle := val["title"]; hasTitle {
			if joined := joinTitleContent(val, depth+1); joined != "" {
				return joined
			}
		}
		for _, key := range []string{"text", "content", "title", "summary", "desc", "description", "value"} {
			if text := extractText(val[key], depth+1); text != "" {
				return text
			}
		}
		for key, value := range val {
			if metaKeys[key] {
				continue
			}
			if text := extractText(value, depth+1); text != "" {
				return text
			}
		}
	}
	return ""
}

func joinTitleContent(m map[string]any, depth int) string {
	var parts []string
	for _, key := range []string{"title", "content"} {
		if part := extractText(m[key], depth); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n")
}

// -- Loose-typed field helpers --

// rawString decodes a JSON value that may arrive as either a string or a
// number into its string form. Numbers keep their literal text so large
// numeric identifiers survive intact.
func rawString(raw jsoniter.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return ""
	}
	return trimmed
}

func rawInt(raw jsoniter.RawMessage) int {
	return int(rawInt64(raw))
}

func rawInt64(raw jsoniter.RawMessage) int64 {
	s := rawString(raw)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func anyString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	}
	return ""
}

func anyBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := anyString(m[key]); s != "" {
			return s
		}
	}
	return ""
}

func firstInt64(m map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch val := m[key].(type) {
		case float64:
			if val > 0 {
				return int64(val)
			}
		case string:
			if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// ownerUserID digs the account's own user id out of a sessionInfo blob.
func ownerUserID(sessionInfo map[string]any) string {
	owner, _ := sessionInfo["ownerInfo"].(map[string]any)
	if owner == nil {
		return ""
	}
	if id := anyString(owner["userId"]); id != "" {
		return id
	}
	return anyString(owner["fishUserId"])
}

func isOutDirection(dir string) bool {
	switch strings.ToLower(dir) {
	case "out", "send", "sent":
		return true
	}
	return false
}

// fromEpoch converts a second or millisecond epoch stamp to a time.
func fromEpoch(ts int64) time.Time {
	if ts > 10_000_000_000 {
		return time.UnixMilli(ts)
	}
	return time.Unix(ts, 0)
}
