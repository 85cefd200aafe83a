// File: internal/facade/facade.go

// Package facade is the tool surface over the executor and the
// reconciled view. Every tool records call metrics and returns either a
// structured payload or a tagged error whose kind string callers can
// branch on.
package facade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/reconcile"
)

// Backend is the browser-facing operation surface the facade drives.
// *executor.Executor implements it.
type Backend interface {
	Search(ctx context.Context, keyword string, filters schemas.SearchFilters) (*schemas.SearchResult, error)
	FetchConversations(ctx context.Context, limit int) (*schemas.FetchBatch, error)
	FetchMessages(ctx context.Context, conversationID string, limit int) ([]schemas.Message, error)
	FetchItemContext(ctx context.Context, conversationID string) (itemID, itemTitle string, err error)
	SendMessage(ctx context.Context, conversationID, content string) (*schemas.SendReceipt, error)
	FetchItemStats(ctx context.Context, itemID string) (*schemas.ItemStats, error)
	FetchUnreadCount(ctx context.Context) (int, error)
	Publish(ctx context.Context, title string, price float64) (string, error)
}

const defaultConversationPage = 50

// Facade exposes the tool set.
type Facade struct {
	backend Backend
	view    *reconcile.View
	metrics *Metrics
	log     *zap.Logger
}

// New wires a facade.
func New(backend Backend, view *reconcile.View, logger *zap.Logger) *Facade {
	return &Facade{
		backend: backend,
		view:    view,
		metrics: NewMetrics(),
		log:     logger.Named("facade"),
	}
}

// track times one tool call. The error pointer is read when the
// returned func runs, so the deferred observation sees the final value.
func (f *Facade) track(tool string, err *error) func() {
	start := time.Now()
	return func() {
		f.metrics.Observe(tool, time.Since(start), *err)
	}
}

// SearchItems runs a keyword search.
func (f *Facade) SearchItems(ctx context.Context, keyword string, filters schemas.SearchFilters) (result *schemas.SearchResult, err error) {
	defer f.track("search_items", &err)()
	return f.backend.Search(ctx, keyword, filters)
}

// GetConversations refreshes the view from the page and returns the
// ranked conversation list, optionally filtered.
func (f *Facade) GetConversations(ctx context.Context, sendableOnly, contextOnly bool) (convs []schemas.Conversation, err error) {
	defer f.track("get_conversations", &err)()

	batch, err := f.backend.FetchConversations(ctx, defaultConversationPage)
	if err != nil {
		return nil, err
	}
	f.view.ApplyConversations(batch.Conversations)

	all := f.view.Conversations(0)
	convs = make([]schemas.Conversation, 0, len(all))
	for _, c := range all {
		if sendableOnly && !c.Sendable {
			continue
		}
		if contextOnly && !c.HasItemContext {
			continue
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// GetSendableConversations lists the threads a reply can go to. With
// prewarmContext set, threads missing their listing binding get one
// resolution attempt each; a failed attempt leaves the binding absent.
func (f *Facade) GetSendableConversations(ctx context.Context, prewarmContext bool) (convs []schemas.Conversation, err error) {
	defer f.track("get_sendable_conversations", &err)()

	convs, err = f.GetConversations(ctx, true, false)
	if err != nil {
		return nil, err
	}
	if !prewarmContext {
		return convs, nil
	}

	for i := range convs {
		if convs[i].HasItemContext {
			continue
		}
		itemID, itemTitle, cerr := f.backend.FetchItemContext(ctx, convs[i].ID)
		if cerr != nil {
			f.log.Debug("Item context resolution failed",
				zap.String("conversation_id", convs[i].ID), zap.Error(cerr))
			continue
		}
		if itemID == "" {
			continue
		}
		f.view.SetItemContext(convs[i].ID, itemID, itemTitle)
		convs[i].HasItemContext = true
		convs[i].ItemID = itemID
		convs[i].ItemTitle = itemTitle
	}
	return convs, nil
}

// GetMessages fetches the newest messages of a conversation and merges
// them into the view before returning them.
func (f *Facade) GetMessages(ctx context.Context, conversationID string, limit int) (msgs []schemas.Message, err error) {
	defer f.track("get_messages", &err)()

	if conversationID == "" {
		err = fmt.Errorf("conversation id must not be empty")
		return nil, err
	}
	fetched, err := f.backend.FetchMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	f.view.ApplyMessages(conversationID, fetched)
	return f.view.Messages(conversationID, limit), nil
}

// SendMessage dispatches a reply. A conversation the view knows to be
// unsendable, including locally blocked counterparts, is refused before
// the browser is touched.
func (f *Facade) SendMessage(ctx context.Context, conversationID, content string) (receipt *schemas.SendReceipt, err error) {
	defer f.track("send_message", &err)()

	if c, known := f.view.Conversation(conversationID); known && !c.Sendable {
		err = schemas.Errorf(schemas.KindUnsendable, "facade.send_message",
			"conversation %s does not accept replies", conversationID)
		return nil, err
	}
	return f.backend.SendMessage(ctx, conversationID, content)
}

// UnreadCount is the GetUnreadCount payload.
type UnreadCount struct {
	Total int `json:"total"`
}

// GetUnreadCount reads the account-wide unread counter off the message
// surface.
func (f *Facade) GetUnreadCount(ctx context.Context) (count *UnreadCount, err error) {
	defer f.track("get_unread_count", &err)()

	total, err := f.backend.FetchUnreadCount(ctx)
	if err != nil {
		return nil, err
	}
	return &UnreadCount{Total: total}, nil
}

// GetItemAnalytics fetches one listing's counters and derived rates.
func (f *Facade) GetItemAnalytics(ctx context.Context, itemID string) (stats *schemas.ItemStats, err error) {
	defer f.track("get_item_analytics", &err)()
	return f.backend.FetchItemStats(ctx, itemID)
}

// CompetitorEntry is one listing's contribution to a competitor report.
type CompetitorEntry struct {
	Stats *schemas.ItemStats `json:"stats,omitempty"`
	Error string             `json:"error,omitempty"`
}

// CompetitorReport aggregates stats across a set of listings.
type CompetitorReport struct {
	Items            map[string]CompetitorEntry `json:"items"`
	Analyzed         int                        `json:"analyzed"`
	Failed           int                        `json:"failed"`
	AvgPrice         float64                    `json:"avg_price"`
	AvgWantCount     float64                    `json:"avg_want_count"`
	BestWantRate     float64                    `json:"best_want_rate"`
	BestWantRateItem string                     `json:"best_want_rate_item,omitempty"`
}

// AnalyzeCompetitors fetches stats for each listing in turn, pacing
// applied per fetch, and aggregates. Individual failures are reported
// per item without failing the whole report.
func (f *Facade) AnalyzeCompetitors(ctx context.Context, itemIDs []string) (report *CompetitorReport, err error) {
	defer f.track("analyze_competitors", &err)()

	if len(itemIDs) == 0 {
		err = fmt.Errorf("at least one item id is required")
		return nil, err
	}

	report = &CompetitorReport{Items: make(map[string]CompetitorEntry, len(itemIDs))}
	var priceSum, wantSum float64
	for _, id := range itemIDs {
		if ctx.Err() != nil {
			err = ctx.Err()
			return nil, err
		}
		stats, serr := f.backend.FetchItemStats(ctx, id)
		if serr != nil {
			report.Items[id] = CompetitorEntry{Error: serr.Error()}
			report.Failed++
			continue
		}
		report.Items[id] = CompetitorEntry{Stats: stats}
		report.Analyzed++
		priceSum += stats.Price
		wantSum += float64(stats.WantCount)
		if stats.ViewToWantRate > report.BestWantRate {
			report.BestWantRate = stats.ViewToWantRate
			report.BestWantRateItem = id
		}
	}
	if report.Analyzed > 0 {
		report.AvgPrice = priceSum / float64(report.Analyzed)
		report.AvgWantCount = wantSum / float64(report.Analyzed)
	}
	return report, nil
}

// ServerStatus is the CheckServerStatus payload.
type ServerStatus struct {
	UptimeSeconds float64              `json:"uptime_seconds"`
	Conversations int                  `json:"conversations"`
	Messages      int                  `json:"messages"`
	Tools         map[string]ToolStats `json:"tools"`
}

// CheckServerStatus reports uptime, view counters and per-tool metrics.
// It never touches the browser.
func (f *Facade) CheckServerStatus() *ServerStatus {
	uptime, tools := f.metrics.Snapshot()
	convs, msgs := f.view.Stats()
	return &ServerStatus{
		UptimeSeconds: uptime.Seconds(),
		Conversations: convs,
		Messages:      msgs,
		Tools:         tools,
	}
}

// PublishItem is the publish-side tool. The workflow is not automated,
// so it reports not_implemented.
func (f *Facade) PublishItem(ctx context.Context, title string, price float64) (id string, err error) {
	defer f.track("publish_item", &err)()
	return f.backend.Publish(ctx, title, price)
}
