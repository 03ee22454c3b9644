package handler

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/kuzamarket/internal/contact"
	"github.com/hitoshi/kuzamarket/internal/model"
	"github.com/hitoshi/kuzamarket/internal/storage"
)

// FeedItemLister はRSSに載せる出品を返す。
type FeedItemLister interface {
	Latest(ctx context.Context, limit int) ([]*model.Item, error)
	ByCategory(ctx context.Context, category, sortBy, location string) ([]*model.Item, error)
}

// feedSize はRSSに載せる件数。
const feedSize = 50

// FeedHandler は新着出品のRSS 2.0フィードを返す。
type FeedHandler struct {
	items   FeedItemLister
	baseURL string
}

// NewFeedHandler はFeedHandlerを生成する。baseURLはフロントエンドの公開URL。
func NewFeedHandler(items FeedItemLister, baseURL string) *FeedHandler {
	return &FeedHandler{items: items, baseURL: strings.TrimRight(baseURL, "/")}
}

type rss struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string        `xml:"title"`
	Link        string        `xml:"link"`
	GUID        rssGUID       `xml:"guid"`
	Description string        `xml:"description"`
	Category    string        `xml:"category,omitempty"`
	PubDate     string        `xml:"pubDate"`
	Enclosure   *rssEnclosure `xml:"enclosure,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length int    `xml:"length,attr"`
}

// Serve はRSSを返す。categoryを指定するとそのカテゴリの新着に絞る。
// GET /feed.xml?category=
func (h *FeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	var (
		items []*model.Item
		err   error
	)
	title := "KuzaMarket - Latest listings"
	if category != "" {
		items, err = h.items.ByCategory(r.Context(), category, "newest", "")
		title = fmt.Sprintf("KuzaMarket - %s", category)
	} else {
		items, err = h.items.Latest(r.Context(), feedSize)
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if len(items) > feedSize {
		items = items[:feedSize]
	}

	doc := rss{
		Version: "2.0",
		Channel: rssChannel{
			Title:       title,
			Link:        h.baseURL + "/",
			Description: "New items listed by students on KuzaMarket",
		},
	}
	if len(items) > 0 {
		doc.Channel.LastBuildDate = items[0].CreatedAt.UTC().Format(time.RFC1123Z)
	}
	for _, it := range items {
		link := h.baseURL + "/item/" + it.ID
		entry := rssItem{
			Title:       fmt.Sprintf("%s - KSH %s", it.Title, contact.FormatPrice(it.Price)),
			Link:        link,
			GUID:        rssGUID{IsPermaLink: true, Value: link},
			Description: it.Description,
			Category:    it.Category,
			PubDate:     it.CreatedAt.UTC().Format(time.RFC1123Z),
		}
		if it.ImageURL != "" {
			entry.Enclosure = &rssEnclosure{URL: it.ImageURL, Type: storage.ContentTypeForKey(it.ImageURL)}
		}
		doc.Channel.Items = append(doc.Channel.Items, entry)
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		slog.Warn("failed to encode feed", slog.String("error", err.Error()))
	}
}
