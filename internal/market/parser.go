// File: internal/market/parser.go

// Package market turns raw marketplace page output, captured API payloads
// and DOM snapshots, into the shared data model. Parsing is tolerant:
// missing optional fields degrade to zero values, only undecodable input
// is an error.
package market

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/stallwire/stallwire/api/schemas"
	"go.uber.org/zap"
)

// Captured API endpoints the session's network hook records.
const (
	APISessionSync = "mtop.taobao.idlemessage.pc.session.sync"
	APIMessageSync = "mtop.taobao.idlemessage.pc.message.sync"
	APIRedpoint    = "mtop.taobao.idlemessage.pc.redpoint.query"
	APIHeadInfo    = "mtop.idle.trade.pc.message.headinfo"
)

// Parser extracts domain records from page output.
type Parser interface {
	SearchItems(html string, limit int) ([]schemas.Item, error)
	Conversations(payload []byte, limit int) ([]schemas.Conversation, error)
	ConversationsFromHTML(html string, limit int) ([]schemas.Conversation, error)
	Messages(payload []byte, conversationID string, limit int) ([]schemas.Message, error)
	UnreadTotal(payload []byte) (int, bool)
	ItemContext(payload []byte) (itemID, itemTitle string)
	ItemStats(html, itemID string) (*schemas.ItemStats, error)
}

// PageParser is the production Parser. API payloads are preferred upstream;
// the HTML paths here double as the DOM fallback when no payload was
// captured.
type PageParser struct {
	log *zap.Logger
}

// NewParser builds the production parser.
func NewParser(logger *zap.Logger) *PageParser {
	return &PageParser{log: logger.Named("market")}
}

// Listing card containers, most specific first. Scoping to a container
// keeps search suggestions and SEO links out of the result set.
var containerSelectors = []string{
	"[class*='feeds-list-container']",
	"[class*='search-result']",
	"[class*='search-list']",
	"[class*='goods-list']",
	"[class*='item-list']",
}

var cardSelectors = []string{
	"a[href*='/item?id=']",
	"[class*='feeds-item-wrap']",
	"[class*='card-container']",
	"[class*='goods-item']",
	"[class*='item-card']",
}

var (
	priceRe  = regexp.MustCompile(`[￥¥]?(\d+(?:\.\d+)?)`)
	numberRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	wantRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*人想要`)
	viewRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*浏览`)

	itemIDRes = []*regexp.Regexp{
		regexp.MustCompile(`/detail/(\w+)`),
		regexp.MustCompile(`[?&]id=(\w+)`),
		regexp.MustCompile(`/goods/(\w+)`),
	}
)

// SearchItems parses a search results page. An empty slice with a nil
// error means the page genuinely showed no listings.
func (p *PageParser) SearchItems(html string, limit int) ([]schemas.Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, schemas.E(schemas.KindTransientFetch, "market.search_items", err)
	}

	scope := doc.Selection
	for _, sel := range containerSelectors {
		if c := doc.Find(sel); c.Length() > 0 {
			scope = c.First()
			break
		}
	}

	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		if found := scope.Find(sel); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		// Last resort: any listing detail link on the page.
		cards = doc.Find("a[href*='/item?id='], a[href*='/detail/'], a[href*='/goods/']")
	}

	var items []schemas.Item
	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		item := p.parseCard(card)
		if item.Title != "" {
			items = append(items, item)
		}
		return true
	})
	return items, nil
}

func (p *PageParser) parseCard(card *goquery.Selection) schemas.Item {
	var item schemas.Item

	for _, sel := range []string{
		"[class*='main-title']", "[class*='row1-wrap-title']",
		"[class*='title']", "[class*='name']", "h3", "h4",
	} {
		if el := card.Find(sel).First(); el.Length() > 0 {
			item.Title = truncate(strings.TrimSpace(el.Text()), 100)
			break
		}
	}
	if item.Title == "" {
		if t, ok := card.Attr("title"); ok {
			item.Title = truncate(strings.TrimSpace(t), 100)
		}
	}
	if len(item.Title) < 2 {
		// Fall back to the card's first text line.
		lines := strings.Split(strings.TrimSpace(card.Text()), "\n")
		if len(lines) > 0 {
			item.Title = truncate(strings.TrimSpace(lines[0]), 100)
		}
	}
	if len(item.Title) < 2 {
		return schemas.Item{}
	}

	for _, sel := range []string{"[class*='price-wrap']", "[class*='price']", "[class*='money']"} {
		if el := card.Find(sel).First(); el.Length() > 0 {
			if m := priceRe.FindStringSubmatch(el.Text()); m != nil {
				item.Price, _ = strconv.ParseFloat(m[1], 64)
				break
			}
		}
	}

	if img := card.Find("img").First(); img.Length() > 0 {
		for _, attr := range []string{"src", "data-src", "original-src"} {
			if u, ok := img.Attr(attr); ok && strings.HasPrefix(u, "http") {
				item.ImageURL = u
				break
			}
		}
	}

	for _, sel := range []string{"[class*='seller']", "[class*='user']", "[class*='nick']"} {
		if el := card.Find(sel).First(); el.Length() > 0 {
			item.SellerName = truncate(strings.TrimSpace(el.Text()), 50)
			break
		}
	}

	for _, sel := range []string{"[class*='seller-text']", "[class*='location']", "[class*='area']", "[class*='city']"} {
		if el := card.Find(sel).First(); el.Length() > 0 {
			item.Location = truncate(strings.TrimSpace(el.Text()), 50)
			break
		}
	}

	for _, sel := range []string{"[class*='price-desc']", "[class*='want']", "[class*='like']"} {
		if el := card.Find(sel).First(); el.Length() > 0 {
			if n, ok := parseCount(el.Text()); ok {
				item.WantCount = n
				break
			}
		}
	}

	href, ok := card.Attr("href")
	if !ok {
		href, _ = card.Find("a[href]").First().Attr("href")
	}
	if href != "" {
		item.URL = href
		for _, re := range itemIDRes {
			if m := re.FindStringSubmatch(href); m != nil {
				item.ID = m[1]
				break
			}
		}
	}
	return item
}

// ItemStats parses a listing detail page into its analytics counters.
func (p *PageParser) ItemStats(html, itemID string) (*schemas.ItemStats, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, schemas.E(schemas.KindTransientFetch, "market.item_stats", err)
	}

	text := doc.Find("body").Text()
	// Cut off the recommendation feed so its counters never bleed in.
	for _, marker := range []string{"为你推荐", "发闲置"} {
		if i := strings.Index(text, marker); i >= 0 {
			text = text[:i]
			break
		}
	}
	text = strings.TrimSpace(text)

	stats := &schemas.ItemStats{ItemID: itemID}

	for _, sel := range []string{"[class*='price--']", "[class*='price-wrap']"} {
		if el := doc.Find(sel).First(); el.Length() > 0 {
			if m := priceRe.FindStringSubmatch(el.Text()); m != nil {
				stats.Price, _ = strconv.ParseFloat(m[1], 64)
				break
			}
		}
	}
	if stats.Price == 0 {
		if m := priceRe.FindStringSubmatch(text); m != nil {
			stats.Price, _ = strconv.ParseFloat(m[1], 64)
		}
	}

	if m := wantRe.FindStringSubmatch(text); m != nil {
		stats.WantCount, _ = parseCount(m[0])
	}
	if m := viewRe.FindStringSubmatch(text); m != nil {
		stats.ViewCount, _ = parseCount(m[0])
	}

	if title := doc.Find("[class*='main-title'], [class*='item-title'], h1").First(); title.Length() > 0 {
		stats.Title = truncate(strings.TrimSpace(title.Text()), 100)
	}

	stats.RecomputeRates()
	return stats, nil
}

// System thread display names. DOM rows expose no session metadata, so
// sendability is inferred from these.
var systemThreadNames = map[string]bool{
	"通知消息": true,
	"系统消息": true,
}

// ConversationsFromHTML is the DOM fallback for the conversation list,
// used when no session.sync payload was captured. Rows without a stable
// id get a positional dom: one.
func (p *PageParser) ConversationsFromHTML(html string, limit int) ([]schemas.Conversation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, schemas.E(schemas.KindTransientFetch, "market.conversations_dom", err)
	}

	var convs []schemas.Conversation
	doc.Find("[class*='conversation-item']").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if limit > 0 && len(convs) >= limit {
			return false
		}

		var lines []string
		for _, line := range strings.Split(row.Text(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			return true
		}

		conv := schemas.Conversation{
			CounterpartName:      lines[0],
			Source:               schemas.SourceFreshFetch,
			CounterpartReachable: true,
			Sendable:             true,
		}
		for _, attr := range []string{"data-id", "data-key", "data-conversation-id", "data-session-id"} {
			if v, ok := row.Attr(attr); ok && v != "" {
				conv.ID = v
				break
			}
		}
		if conv.ID == "" {
			conv.ID = "dom:" + strconv.Itoa(i)
		}
		if len(lines) > 1 {
			conv.LastMessage = strings.Join(lines[1:], " ")
		}
		if badge := row.Find(".ant-badge-count, [class*='badge-count'], sup").First(); badge.Length() > 0 {
			if n, ok := parseCount(badge.Text()); ok {
				conv.UnreadCount = n
				// Badge digits also show up in the row text.
				conv.LastMessage = strings.TrimSpace(strings.TrimSuffix(conv.LastMessage, badge.Text()))
			}
		}
		if systemThreadNames[conv.CounterpartName] {
			conv.CounterpartReachable = false
			conv.Sendable = false
		}
		convs = append(convs, conv)
		return true
	})
	return convs, nil
}

// parseCount reads the leading number out of a counter string, honoring
// the 万 (10^4) and 亿 (10^8) units.
func parseCount(text string) (int, bool) {
	m := numberRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch {
	case strings.Contains(text, "万"):
		n *= 10000
	case strings.Contains(text, "亿"):
		n *= 100000000
	}
	return int(n), true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
