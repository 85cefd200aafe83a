// File: internal/executor/send.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/market"
)

// Composer selectors, tried in order. The marketplace frontend renames
// its hashed classes freely, so these stay attribute-based.
var messageInputSelectors = []string{
	"textarea[placeholder*='输入']",
	"textarea",
	"div[contenteditable='true']",
	"[role='textbox']",
}

var sendButtonSelectors = []string{
	"[class*='send-button']",
	"[class*='sendbox'] button",
	"button[type='submit']",
}

var (
	sendVerifyAttempts = 3
	sendVerifyInterval = 700 * time.Millisecond
)

// SendMessage dispatches one message into a conversation and verifies it
// by reading the thread back. A dispatch whose read-back never shows the
// message is reported as unconfirmed, not as a failure.
func (e *Executor) SendMessage(ctx context.Context, conversationID, content string) (*schemas.SendReceipt, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content must not be empty")
	}

	var receipt *schemas.SendReceipt
	err := e.do(ctx, "executor.send_message", schemas.CategoryMessage, func(ctx context.Context, page schemas.PageDriver) error {
		if err := e.ensureIMPage(ctx, page); err != nil {
			return err
		}

		// The freshest sendability verdict comes from the live list.
		convs, err := e.conversationList(ctx, page, 0)
		if err != nil {
			return err
		}
		for _, conv := range convs {
			if (conv.ID == conversationID || conv.CounterpartID == conversationID) && !conv.Sendable {
				return schemas.Errorf(schemas.KindUnsendable, "executor.send_message",
					"conversation %s does not accept outbound messages", conversationID)
			}
		}

		if err := e.openConversation(ctx, page, conversationID); err != nil {
			return err
		}
		if err := e.typeIntoComposer(ctx, page, content); err != nil {
			return err
		}

		dispatchedAt := time.Now()
		if err := e.pressSend(ctx, page); err != nil {
			return err
		}

		receipt = &schemas.SendReceipt{
			ConversationID: conversationID,
			Content:        content,
			Status:         schemas.SendUnconfirmed,
			DispatchedAt:   dispatchedAt,
		}
		if when, ok := e.verifySend(ctx, page, conversationID, content); ok {
			receipt.Status = schemas.SendDelivered
			receipt.VerifiedAt = when
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Message dispatched",
		zap.String("conversation", conversationID),
		zap.String("status", string(receipt.Status)))
	return receipt, nil
}

func (e *Executor) typeIntoComposer(ctx context.Context, page schemas.PageDriver, content string) error {
	var lastErr error
	for _, selector := range messageInputSelectors {
		if err := page.Type(ctx, selector, content); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return schemas.E(schemas.KindTransientFetch, "executor.send_message",
		fmt.Errorf("no usable message composer: %w", lastErr))
}

func (e *Executor) pressSend(ctx context.Context, page schemas.PageDriver) error {
	for _, selector := range sendButtonSelectors {
		if err := page.Click(ctx, selector); err == nil {
			return nil
		}
	}
	// Enter submits when no explicit button is reachable.
	for _, selector := range messageInputSelectors {
		if err := page.Type(ctx, selector, "\n"); err == nil {
			return nil
		}
	}
	return schemas.Errorf(schemas.KindTransientFetch, "executor.send_message",
		"could not trigger the send action")
}

// verifySend polls the captured thread payload for our own message. The
// budget is deliberately small; a miss downgrades to unconfirmed.
func (e *Executor) verifySend(ctx context.Context, page schemas.PageDriver, conversationID, content string) (time.Time, bool) {
	for attempt := 0; attempt < sendVerifyAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return time.Time{}, false
		case <-time.After(sendVerifyInterval):
		}

		payload, err := page.Payload(ctx, market.APIMessageSync)
		if err != nil {
			if !errors.Is(err, schemas.ErrNoPayload) {
				e.log.Debug("Read-back payload fetch failed", zap.Error(err))
			}
			continue
		}
		msgs, err := e.parser.Messages([]byte(payload), conversationID, 0)
		if err != nil {
			continue
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Sender == schemas.SenderSelf && strings.Contains(msgs[i].Content, content) {
				return time.Now(), true
			}
		}
	}
	return time.Time{}, false
}

// FetchItemStats loads a listing detail page and extracts its counters.
func (e *Executor) FetchItemStats(ctx context.Context, itemID string) (*schemas.ItemStats, error) {
	if itemID == "" {
		return nil, fmt.Errorf("item id must not be empty")
	}

	var stats *schemas.ItemStats
	err := e.do(ctx, "executor.fetch_item_stats", schemas.CategorySearch, func(ctx context.Context, page schemas.PageDriver) error {
		target := fmt.Sprintf("%s/item?id=%s", e.cfg.Market.BaseURL, itemID)
		if err := page.Navigate(ctx, target); err != nil {
			return err
		}
		html, err := page.HTML(ctx)
		if err != nil {
			return err
		}
		stats, err = e.parser.ItemStats(html, itemID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// FetchItemContext opens a conversation and reads the listing it is
// attached to from the thread header. Conversations without a listing
// return empty values, not an error.
func (e *Executor) FetchItemContext(ctx context.Context, conversationID string) (itemID, itemTitle string, err error) {
	err = e.do(ctx, "executor.fetch_item_context", schemas.CategoryMessage, func(ctx context.Context, page schemas.PageDriver) error {
		if err := e.openConversation(ctx, page, conversationID); err != nil {
			return err
		}
		payload, err := page.Payload(ctx, market.APIHeadInfo)
		if err != nil {
			if errors.Is(err, schemas.ErrNoPayload) {
				return nil
			}
			return err
		}
		itemID, itemTitle = e.parser.ItemContext([]byte(payload))
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return itemID, itemTitle, nil
}

// FetchUnreadCount reads the account-wide unread counter.
func (e *Executor) FetchUnreadCount(ctx context.Context) (int, error) {
	var total int
	err := e.do(ctx, "executor.fetch_unread", schemas.CategoryMessage, func(ctx context.Context, page schemas.PageDriver) error {
		if err := e.ensureIMPage(ctx, page); err != nil {
			return err
		}
		payload, err := page.Payload(ctx, market.APIRedpoint)
		if err != nil {
			if errors.Is(err, schemas.ErrNoPayload) {
				return schemas.Errorf(schemas.KindTransientFetch, "executor.fetch_unread",
					"no redpoint payload captured")
			}
			return err
		}
		if n, ok := e.parser.UnreadTotal([]byte(payload)); ok {
			total = n
			return nil
		}
		return schemas.Errorf(schemas.KindTransientFetch, "executor.fetch_unread",
			"redpoint payload carried no total")
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Publish is the listing publication entry point. The workflow needs
// captcha and image upload handling that is not automated here, so it
// reports not_implemented rather than half-running.
func (e *Executor) Publish(ctx context.Context, title string, price float64) (string, error) {
	return "", schemas.Errorf(schemas.KindNotImplemented, "executor.publish",
		"listing publication is not automated")
}
