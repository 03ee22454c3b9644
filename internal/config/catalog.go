package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var defaultCatalog []byte

// Category は出品カテゴリを表す。Slugが保存値、Labelが表示名。
type Category struct {
	Slug  string `toml:"slug" json:"slug"`
	Label string `toml:"label" json:"label"`
}

// PickupPoint は安全な受け渡し場所を表す。
// Latitude/Longitudeが空の場合は名前と場所で地図検索する。
type PickupPoint struct {
	Name        string `toml:"name" json:"name"`
	Location    string `toml:"location" json:"location"`
	Description string `toml:"description" json:"description"`
	Latitude    string `toml:"latitude" json:"latitude,omitempty"`
	Longitude   string `toml:"longitude" json:"longitude,omitempty"`
}

// Catalog はマーケットプレイスの固定マスタデータを保持する。
type Catalog struct {
	Categories    []Category    `toml:"categories" json:"categories"`
	Locations     []string      `toml:"locations" json:"locations"`
	PickupPoints  []PickupPoint `toml:"pickup_points" json:"pickup_points"`
	TrendingTerms []string      `toml:"trending_terms" json:"trending_terms"`

	slugs map[string]struct{}
}

// LoadCatalog はカタログを読み込む。pathが空の場合は組み込みの定義を使う。
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog はTOML形式のカタログを解析する。
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Categories) == 0 {
		return nil, fmt.Errorf("catalog has no categories")
	}
	c.slugs = make(map[string]struct{}, len(c.Categories))
	for i, cat := range c.Categories {
		slug := strings.ToLower(strings.TrimSpace(cat.Slug))
		if slug == "" || slug == "all" {
			return nil, fmt.Errorf("catalog category %d has invalid slug %q", i, cat.Slug)
		}
		c.Categories[i].Slug = slug
		c.slugs[slug] = struct{}{}
	}
	return &c, nil
}

// HasCategory はスラッグがカタログに含まれるかを返す。大文字小文字は区別しない。
func (c *Catalog) HasCategory(slug string) bool {
	_, ok := c.slugs[strings.ToLower(strings.TrimSpace(slug))]
	return ok
}
