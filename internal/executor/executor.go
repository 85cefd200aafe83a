// File: internal/executor/executor.go

// Package executor runs paced page operations against the live session:
// pace, acquire the page, run under a wall-clock budget, retry transient
// failures once, and classify what comes back.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/config"
	"github.com/stallwire/stallwire/internal/market"
	"github.com/stallwire/stallwire/internal/pacing"
)

const defaultSearchLimit = 20

// Gate is the pacing dependency, satisfied by *pacing.Pacer.
type Gate interface {
	Gate(ctx context.Context, cat schemas.ActionCategory) error
}

var _ Gate = (*pacing.Pacer)(nil)

// Executor owns the operation spine shared by every page action.
type Executor struct {
	sessions schemas.SessionSource
	pacer    Gate
	parser   market.Parser
	cfg      *config.Config
	log      *zap.Logger
}

// New wires an executor.
func New(sessions schemas.SessionSource, pacer Gate, parser market.Parser, cfg *config.Config, logger *zap.Logger) *Executor {
	return &Executor{
		sessions: sessions,
		pacer:    pacer,
		parser:   parser,
		cfg:      cfg,
		log:      logger.Named("executor"),
	}
}

// do runs one page operation: pace, acquire, bound, retry transient
// failures exactly once. The page handle is released before do returns,
// including on timeout.
func (e *Executor) do(ctx context.Context, op string, cat schemas.ActionCategory,
	fn func(ctx context.Context, page schemas.PageDriver) error) error {

	if err := e.pacer.Gate(ctx, cat); err != nil {
		return err
	}
	page, err := e.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	defer page.Release()

	opCtx, cancel := context.WithTimeout(ctx, e.cfg.Network.OperationTimeout)
	defer cancel()

	err = retry.Do(
		func() error { return fn(opCtx, page) },
		retry.Attempts(2),
		retry.Delay(e.cfg.Network.RetryDelay),
		retry.Context(opCtx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return schemas.IsKind(err, schemas.KindTransientFetch)
		}),
		retry.OnRetry(func(n uint, err error) {
			e.log.Debug("Retrying operation",
				zap.String("op", op), zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return schemas.E(schemas.KindOperationTimedOut, op, err)
		}
		return err
	}
	return nil
}

// Search runs a marketplace keyword search and returns the filtered page
// of results. An empty result set is a success.
func (e *Executor) Search(ctx context.Context, keyword string, filters schemas.SearchFilters) (*schemas.SearchResult, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("search keyword must not be empty")
	}

	var result *schemas.SearchResult
	err := e.do(ctx, "executor.search", schemas.CategorySearch, func(ctx context.Context, page schemas.PageDriver) error {
		target := fmt.Sprintf("%s%s?q=%s",
			e.cfg.Market.BaseURL, e.cfg.Market.SearchPath, url.QueryEscape(keyword))
		if err := page.Navigate(ctx, target); err != nil {
			return err
		}
		html, err := page.HTML(ctx)
		if err != nil {
			return err
		}
		items, err := e.parser.SearchItems(html, 0)
		if err != nil {
			return err
		}
		result = &schemas.SearchResult{
			Keyword: keyword,
			Items:   applyFilters(items, filters),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("Search finished",
		zap.String("keyword", keyword), zap.Int("items", len(result.Items)))
	return result, nil
}

func applyFilters(items []schemas.Item, f schemas.SearchFilters) []schemas.Item {
	filtered := items[:0:0]
	for _, item := range items {
		if f.PriceMin != nil && item.Price < *f.PriceMin {
			continue
		}
		if f.PriceMax != nil && item.Price > *f.PriceMax {
			continue
		}
		if f.Location != "" && !strings.Contains(item.Location, f.Location) {
			continue
		}
		filtered = append(filtered, item)
	}

	switch f.SortBy {
	case "price_asc":
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Price < filtered[j].Price })
	case "price_desc":
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Price > filtered[j].Price })
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// FetchConversations pulls the current conversation list, preferring the
// captured session.sync payload and falling back to the rendered list.
func (e *Executor) FetchConversations(ctx context.Context, limit int) (*schemas.FetchBatch, error) {
	var batch *schemas.FetchBatch
	err := e.do(ctx, "executor.fetch_conversations", schemas.CategoryMessage, func(ctx context.Context, page schemas.PageDriver) error {
		if err := e.ensureIMPage(ctx, page); err != nil {
			return err
		}

		convs, err := e.conversationList(ctx, page, limit)
		if err != nil {
			return err
		}
		batch = &schemas.FetchBatch{
			Conversations: convs,
			FetchedAt:     time.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("Fetched conversations", zap.Int("count", len(batch.Conversations)))
	return batch, nil
}

func (e *Executor) ensureIMPage(ctx context.Context, page schemas.PageDriver) error {
	loc, err := page.Location(ctx)
	if err == nil && strings.Contains(loc, e.cfg.Market.IMPath) {
		return nil
	}
	return page.Navigate(ctx, e.cfg.Market.BaseURL+e.cfg.Market.IMPath)
}

func (e *Executor) conversationList(ctx context.Context, page schemas.PageDriver, limit int) ([]schemas.Conversation, error) {
	payload, err := page.Payload(ctx, market.APISessionSync)
	switch {
	case err == nil:
		return e.parser.Conversations([]byte(payload), limit)
	case errors.Is(err, schemas.ErrNoPayload):
		html, err := page.HTML(ctx)
		if err != nil {
			return nil, err
		}
		e.log.Debug("No session.sync payload captured, parsing the rendered list")
		return e.parser.ConversationsFromHTML(html, limit)
	default:
		return nil, err
	}
}

// FetchMessages opens one conversation and returns its recent messages.
func (e *Executor) FetchMessages(ctx context.Context, conversationID string, limit int) ([]schemas.Message, error) {
	var msgs []schemas.Message
	err := e.do(ctx, "executor.fetch_messages", schemas.CategoryMessage, func(ctx context.Context, page schemas.PageDriver) error {
		if err := e.openConversation(ctx, page, conversationID); err != nil {
			return err
		}
		payload, err := page.Payload(ctx, market.APIMessageSync)
		if err != nil {
			if errors.Is(err, schemas.ErrNoPayload) {
				return schemas.Errorf(schemas.KindTransientFetch, "executor.fetch_messages",
					"no message payload captured for %s", conversationID)
			}
			return err
		}
		msgs, err = e.parser.Messages([]byte(payload), conversationID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("Fetched messages",
		zap.String("conversation", conversationID), zap.Int("count", len(msgs)))
	return msgs, nil
}

// openConversation navigates to the message surface and clicks the list
// row for the target conversation. Row order comes from the captured
// session list, matching how the page itself orders them.
func (e *Executor) openConversation(ctx context.Context, page schemas.PageDriver, conversationID string) error {
	if err := e.ensureIMPage(ctx, page); err != nil {
		return err
	}
	if err := page.WaitVisible(ctx, "[class*='conversation-item']"); err != nil {
		return err
	}

	convs, err := e.conversationList(ctx, page, 0)
	if err != nil {
		return err
	}
	index := -1
	for i, conv := range convs {
		if conv.ID == conversationID || conv.CounterpartID == conversationID {
			index = i
			break
		}
	}
	if index < 0 {
		return schemas.Errorf(schemas.KindTransientFetch, "executor.open_conversation",
			"conversation %s not present in the current list", conversationID)
	}

	selector := fmt.Sprintf("[class*='conversation-item']:nth-of-type(%d)", index+1)
	if err := page.Click(ctx, selector); err != nil {
		return err
	}
	// Give the thread pane a moment to sync before reading payloads.
	return page.WaitVisible(ctx, "[class*='message-row'], .ant-list-items .ant-list-item")
}
