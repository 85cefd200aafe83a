// File: internal/market/parser_test.go
package market

import (
	"testing"
	"time"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const searchPageHTML = `
<html><body>
<div class="search-suggest"><a href="/item?id=999">推荐词条</a></div>
<div class="feeds-list-container--UkIMBPNk">
  <a class="feeds-item-wrap--abc" href="/item?id=111222&xsec_token=tok1">
    <img src="https://img.example.com/a.jpg"/>
    <div class="main-title--x">九成新山地车</div>
    <div class="price-wrap--x">¥350.00</div>
    <div class="price-desc--x">32人想要</div>
    <div class="seller-text--x">杭州</div>
  </a>
  <a class="feeds-item-wrap--abc" href="/item?id=333444">
    <div class="main-title--x">二手显示器 27寸</div>
    <div class="price-wrap--x">￥480</div>
    <div class="price-desc--x">1.2万人想要</div>
  </a>
  <a class="feeds-item-wrap--abc" href="/item?id=555666">
    <div class="main-title--x">x</div>
  </a>
</div>
</body></html>`

func TestSearchItems(t *testing.T) {
	p := NewParser(zap.NewNop())

	items, err := p.SearchItems(searchPageHTML, 10)
	require.NoError(t, err)
	require.Len(t, items, 2, "single-character titles and suggestion links are skipped")

	first := items[0]
	assert.Equal(t, "111222", first.ID)
	assert.Equal(t, "九成新山地车", first.Title)
	assert.Equal(t, 350.0, first.Price)
	assert.Equal(t, 32, first.WantCount)
	assert.Equal(t, "杭州", first.Location)
	assert.Equal(t, "https://img.example.com/a.jpg", first.ImageURL)

	second := items[1]
	assert.Equal(t, "333444", second.ID)
	assert.Equal(t, 480.0, second.Price)
	assert.Equal(t, 12000, second.WantCount, "万 unit is expanded")
}

func TestSearchItemsLimit(t *testing.T) {
	p := NewParser(zap.NewNop())
	items, err := p.SearchItems(searchPageHTML, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSearchItemsEmptyPage(t *testing.T) {
	p := NewParser(zap.NewNop())
	items, err := p.SearchItems("<html><body><div class='no-result'>无结果</div></body></html>", 10)
	require.NoError(t, err)
	assert.Empty(t, items, "an empty result page is a valid outcome, not an error")
}

const sessionSyncJSON = `{
  "api": "mtop.taobao.idlemessage.pc.session.sync",
  "data": {
    "sessions": [
      {
        "session": {
          "sessionId": 8001,
          "sessionType": 1,
          "userInfo": {"userId": "7001", "nick": "买家小王", "type": 0}
        },
        "message": {"summary": {"summary": "还能便宜点吗", "unread": 2, "ts": 1756600000000}}
      },
      {
        "session": {
          "sessionId": "8002",
          "sessionType": 3,
          "userInfo": {"userId": "1", "nick": "闲鱼小管家", "type": 0}
        },
        "message": {"summary": {"summary": "系统通知", "unread": 0, "ts": 1756500000000}}
      },
      {
        "session": {
          "sessionId": "8003",
          "sessionType": 1,
          "userInfo": {"userId": "7003", "type": 10},
          "ownerInfo": {"fishNick": "官方客服"}
        },
        "message": {"summary": {"summary": "平台消息", "unread": 1, "ts": 1756400000}}
      }
    ]
  }
}`

func TestConversations(t *testing.T) {
	p := NewParser(zap.NewNop())

	convs, err := p.Conversations([]byte(sessionSyncJSON), 0)
	require.NoError(t, err)
	require.Len(t, convs, 3)

	buyer := convs[0]
	assert.Equal(t, "8001", buyer.ID, "numeric session ids keep their literal form")
	assert.Equal(t, "7001", buyer.CounterpartID)
	assert.Equal(t, "买家小王", buyer.CounterpartName)
	assert.Equal(t, "还能便宜点吗", buyer.LastMessage)
	assert.Equal(t, 2, buyer.UnreadCount)
	assert.True(t, buyer.Sendable)
	assert.Equal(t, schemas.SourceFreshFetch, buyer.Source)
	assert.Equal(t, time.UnixMilli(1756600000000), buyer.LastMessageAt)

	system := convs[1]
	assert.False(t, system.Sendable, "system threads cannot receive messages")
	assert.False(t, system.CounterpartReachable)

	platform := convs[2]
	assert.False(t, platform.Sendable, "platform accounts cannot receive messages")
	assert.Equal(t, "官方客服", platform.CounterpartName, "ownerInfo nick is the fallback")
	assert.Equal(t, time.Unix(1756400000, 0), platform.LastMessageAt, "second stamps pass through unscaled")
}

func TestConversationsLimit(t *testing.T) {
	p := NewParser(zap.NewNop())
	convs, err := p.Conversations([]byte(sessionSyncJSON), 2)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestConversationsBadPayload(t *testing.T) {
	p := NewParser(zap.NewNop())
	_, err := p.Conversations([]byte("{truncated"), 0)
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindTransientFetch))
}

const imPageHTML = `
<html><body>
<div class="conversation-list--x">
  <div class="conversation-item--x" data-session-id="8001">
    买家小王
    还能便宜点吗
    <sup class="ant-badge-count">2</sup>
  </div>
  <div class="conversation-item--x">
    通知消息
    你有一条新的系统通知
  </div>
</div>
</body></html>`

func TestConversationsFromHTML(t *testing.T) {
	p := NewParser(zap.NewNop())

	convs, err := p.ConversationsFromHTML(imPageHTML, 0)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	buyer := convs[0]
	assert.Equal(t, "8001", buyer.ID, "stable data attributes win over position")
	assert.Equal(t, "买家小王", buyer.CounterpartName)
	assert.Equal(t, 2, buyer.UnreadCount)
	assert.True(t, buyer.Sendable)

	system := convs[1]
	assert.Equal(t, "dom:1", system.ID, "rows without an id get a positional one")
	assert.False(t, system.Sendable, "known system threads are unsendable")
}

const messageSyncJSON = `{
  "api": "mtop.taobao.idlemessage.pc.message.sync",
  "data": {
    "fetchs": [
      {
        "sessionId": "8001",
        "sessionInfo": {"ownerInfo": {"userId": "5000"}},
        "messages": [
          {
            "messageUuid": "m1",
            "senderInfo": {"userId": "7001", "nick": "买家小王"},
            "content": "{\"contentType\":1,\"text\":{\"text\":\"还能便宜点吗\"}}",
            "timeStamp": 1756600000000
          },
          {
            "messageId": "m2",
            "senderInfo": {"userId": "5000"},
            "content": "最低 340",
            "ts": 1756600060000
          },
          {
            "messageUuid": "m3",
            "fromSelf": true,
            "content": {"textCard": {"title": "已下架", "content": "商品已不再出售"}},
            "timestamp": 1756600120000
          }
        ]
      },
      {"sessionId": "8002", "messages": [{"messageUuid": "zz", "content": "其他会话"}]}
    ]
  }
}`

func TestMessages(t *testing.T) {
	p := NewParser(zap.NewNop())

	msgs, err := p.Messages([]byte(messageSyncJSON), "8001", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "only the matching session's batch is used")

	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, schemas.SenderCounterpart, msgs[0].Sender)
	assert.Equal(t, "还能便宜点吗", msgs[0].Content, "JSON-encoded rich bodies are unwrapped")
	assert.Equal(t, time.UnixMilli(1756600000000), msgs[0].SentAt)

	assert.Equal(t, schemas.SenderSelf, msgs[1].Sender, "owner id matches the sender")
	assert.Equal(t, "最低 340", msgs[1].Content)

	assert.Equal(t, schemas.SenderSelf, msgs[2].Sender, "explicit fromSelf flag wins")
	assert.Equal(t, "已下架\n商品已不再出售", msgs[2].Content)
}

func TestMessagesTailLimit(t *testing.T) {
	p := NewParser(zap.NewNop())
	msgs, err := p.Messages([]byte(messageSyncJSON), "8001", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID, "the newest tail is kept")
}

func TestMessagesUnknownSession(t *testing.T) {
	p := NewParser(zap.NewNop())
	msgs, err := p.Messages([]byte(messageSyncJSON), "9999", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestUnreadTotal(t *testing.T) {
	p := NewParser(zap.NewNop())

	total, ok := p.UnreadTotal([]byte(`{"data": {"total": 7}}`))
	assert.True(t, ok)
	assert.Equal(t, 7, total)

	_, ok = p.UnreadTotal([]byte(`{"data": {}}`))
	assert.False(t, ok)
}

func TestItemContext(t *testing.T) {
	p := NewParser(zap.NewNop())

	payload := `{"data": {"commonData": {"itemId": 424242, "itemPreInfo": "{\"title\":\"九成新山地车\",\"itemId\":\"424242\"}"}}}`
	id, title := p.ItemContext([]byte(payload))
	assert.Equal(t, "424242", id)
	assert.Equal(t, "九成新山地车", title)

	id, title = p.ItemContext([]byte(`{"data": {}}`))
	assert.Empty(t, id)
	assert.Empty(t, title)
}

const itemDetailHTML = `
<html><body>
<h1 class="main-title--z">九成新山地车 周末可自提</h1>
<div class="price--windows--z">¥350.00</div>
<div class="detail--z">32人想要 · 1286浏览</div>
<div>为你推荐<div class="rec">99999浏览</div></div>
</body></html>`

func TestItemStats(t *testing.T) {
	p := NewParser(zap.NewNop())

	stats, err := p.ItemStats(itemDetailHTML, "111222")
	require.NoError(t, err)
	assert.Equal(t, "111222", stats.ItemID)
	assert.Equal(t, "九成新山地车 周末可自提", stats.Title)
	assert.Equal(t, 350.0, stats.Price)
	assert.Equal(t, 32, stats.WantCount)
	assert.Equal(t, 1286, stats.ViewCount, "recommendation feed counters are cut off")
	assert.InDelta(t, 2.488, stats.ViewToWantRate, 0.01)
}
