// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// maxRedirects は外部画像取得で追従するリダイレクトの上限。
const maxRedirects = 3

var allowedSchemes = []string{"http", "https"}

// blockedNetworks は事前検証でブロックするネットワーク範囲。
// 接続時の検証はsafeurlがDNS解決後のIPアドレスに対して行う。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// URLGuard は利用者が指定した外部URLへのアクセスを検証する。
type URLGuard struct{}

// NewURLGuard はURLGuardを生成する。
func NewURLGuard() *URLGuard {
	return &URLGuard{}
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// 形式が不正な場合はInvalidURL、内部向けの宛先はSSRFBlockedのAPIErrorを返す。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return model.NewInvalidURLError("URL is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.NewInvalidURLError("URL could not be parsed")
	}
	if !allowedScheme(u.Scheme) {
		return model.NewInvalidURLError(fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}
	host := u.Hostname()
	if host == "" {
		return model.NewInvalidURLError("host is missing")
	}
	if u.User != nil {
		return model.NewInvalidURLError("credentials in URL are not allowed")
	}

	if ip := net.ParseIP(host); ip != nil {
		if blockedIP(ip) {
			return model.NewSSRFBlockedError()
		}
		return nil
	}
	if _, ok := blockedHostnames[strings.ToLower(strings.TrimSuffix(host, "."))]; ok {
		return model.NewSSRFBlockedError()
	}
	return nil
}

// NewSafeClient はプライベート宛ての接続をダイアル時に拒否するHTTPクライアントを返す。
// リダイレクト先も同じ検証を受ける。
func (g *URLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	client := safeurl.Client(cfg).Client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.New("too many redirects")
		}
		return g.ValidateURL(req.URL.String())
	}
	return client
}

func allowedScheme(scheme string) bool {
	for _, s := range allowedSchemes {
		if strings.EqualFold(scheme, s) {
			return true
		}
	}
	return false
}

func blockedIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
