// Package contact は出品者への連絡と受け渡し場所の地図表示に使う外部リンクを組み立てる。
package contact

import (
	"net/mail"
	"net/url"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/hitoshi/kuzamarket/internal/config"
)

// Links は出品詳細に付与する連絡用リンク。
type Links struct {
	Email    string `json:"email"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

// PickupLink は受け渡し場所と地図リンクの組。
type PickupLink struct {
	config.PickupPoint
	MapURL string `json:"map_url"`
}

const (
	whatsAppBase = "https://wa.me/"
	mapsSearch   = "https://www.google.com/maps/search/?api=1&query="
)

var printer = message.NewPrinter(language.English)

// ForItem は出品の連絡用リンクを返す。電話番号がなければWhatsAppリンクは空。
func ForItem(title string, price float64, email, phone string) Links {
	return Links{
		Email:    Mailto(email),
		WhatsApp: WhatsApp(phone, WhatsAppMessage(title, price)),
	}
}

// Mailto はmailtoリンクを返す。アドレスはエスケープし、?以降のヘッダー指定として解釈させない。
func Mailto(email string) string {
	if email == "" {
		return ""
	}
	return "mailto:" + url.PathEscape(email)
}

// ValidEmail は連絡先として使えるメールアドレスかを返す。
// 表示名付きの形式は受け付けず、ドメインはホスト名に使える文字に限る。
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	for _, r := range domain {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// WhatsApp は電話番号の数字だけを使ったwa.meリンクを返す。数字がなければ空文字列。
func WhatsApp(phone, text string) string {
	digits := Digits(phone)
	if digits == "" {
		return ""
	}
	return whatsAppBase + digits + "?text=" + EncodeComponent(text)
}

// WhatsAppMessage は出品者に送る定型文を返す。価格は桁区切り付きで表示する。
func WhatsAppMessage(title string, price float64) string {
	return `Hi there! I'm interested in your "` + title + `" for KSH ` + FormatPrice(price) +
		` that I saw on KuzaMarket. Is it still available? Can we meet at one of the safe pickup points?`
}

// FormatPrice は価格を英語ロケールの桁区切りで整形する。
func FormatPrice(price float64) string {
	return printer.Sprint(number.Decimal(price, number.MaxFractionDigits(2)))
}

// Digits は文字列から数字だけを取り出す。
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MapURL は受け渡し場所のGoogleマップ検索URLを返す。
// 座標があれば座標で、なければ「名前, 場所」で検索する。
func MapURL(p config.PickupPoint) string {
	if p.Latitude != "" && p.Longitude != "" {
		return mapsSearch + EncodeComponent(p.Latitude+","+p.Longitude)
	}
	return mapsSearch + EncodeComponent(p.Name+", "+p.Location)
}

// PickupLinks は全ての受け渡し場所に地図リンクを付けて返す。
func PickupLinks(points []config.PickupPoint) []PickupLink {
	links := make([]PickupLink, 0, len(points))
	for _, p := range points {
		links = append(links, PickupLink{PickupPoint: p, MapURL: MapURL(p)})
	}
	return links
}

var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// EncodeComponent はURIの構成要素としてエスケープする。
// 空白は%20になり、英数字と -_.!~*'() はそのまま残る。
func EncodeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
