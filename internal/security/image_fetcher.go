package security

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/kuzamarket/internal/model"
)

// URLValidator はURLの事前検証を行う。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// FetchedImage は外部から取り込んだ画像。
type FetchedImage struct {
	Data        []byte
	ContentType string
	SourceURL   string // 実際に画像を取得したURL
}

// ImageFetcher は利用者が指定したURLから出品画像を取り込む。
// URLがHTMLページの場合はog:imageなどのメタ情報から画像URLを探して1回だけ追従する。
type ImageFetcher struct {
	client    *http.Client
	validator URLValidator
	maxSize   int64
}

// NewImageFetcher はImageFetcherを生成する。
func NewImageFetcher(client *http.Client, validator URLValidator, maxSize int64) *ImageFetcher {
	return &ImageFetcher{client: client, validator: validator, maxSize: maxSize}
}

// maxPageSize はog:image探索のために読むHTMLの上限。
const maxPageSize = 1 << 20

// Fetch は画像を取得する。
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedImage, error) {
	img, pageImage, err := f.fetchOnce(ctx, rawURL, true)
	if err != nil {
		return nil, err
	}
	if img != nil {
		return img, nil
	}

	img, _, err = f.fetchOnce(ctx, pageImage, false)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, model.NewImageFetchFailedError("the page does not link to an image")
	}
	return img, nil
}

// fetchOnce はURLを1回取得する。画像ならそれを返し、
// allowPageがtrueでHTMLなら見つかった画像URLを返す。
func (f *ImageFetcher) fetchOnce(ctx context.Context, rawURL string, allowPage bool) (*FetchedImage, string, error) {
	if err := f.validator.ValidateURL(rawURL); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", model.NewInvalidURLError("URL could not be requested")
	}
	req.Header.Set("Accept", "image/*, text/html;q=0.8")
	req.Header.Set("User-Agent", "KuzaMarket-ImageImport/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", model.NewImageFetchFailedError("the server could not be reached")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", model.NewImageFetchFailedError(fmt.Sprintf("the server responded with status %d", resp.StatusCode))
	}

	limit := f.maxSize
	if allowPage && limit < maxPageSize {
		limit = maxPageSize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", model.NewImageFetchFailedError("the response could not be read")
	}

	mediaType := responseMediaType(resp.Header.Get("Content-Type"), body)
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		if int64(len(body)) > f.maxSize {
			return nil, "", model.NewValidationError("image", fmt.Sprintf("must be at most %d bytes", f.maxSize))
		}
		return &FetchedImage{Data: body, ContentType: mediaType, SourceURL: resp.Request.URL.String()}, "", nil

	case allowPage && mediaType == "text/html":
		found := FindPageImage(body, resp.Request.URL)
		if found == "" {
			return nil, "", model.NewImageFetchFailedError("the page does not link to an image")
		}
		return nil, found, nil
	}

	return nil, "", model.NewImageFetchFailedError(fmt.Sprintf("unsupported content type %q", mediaType))
}

func responseMediaType(header string, body []byte) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return strings.ToLower(mt)
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return mt
}

// pageImageProps は画像URLとして参照するmetaタグの属性値。優先順。
var pageImageProps = []string{"og:image:secure_url", "og:image", "twitter:image", "twitter:image:src"}

// FindPageImage はHTMLのheadから代表画像のURLを探し、baseを基準に絶対URLに解決する。
// 見つからない場合は空文字列を返す。
func FindPageImage(body []byte, base *url.URL) string {
	found := make(map[string]string)
	var linkImage string

	z := html.NewTokenizer(bytes.NewReader(body))
scan:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break scan
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "body" {
				break scan
			}
			if !hasAttr || (tag != "meta" && tag != "link") {
				continue
			}
			attrs := readAttrs(z)
			switch tag {
			case "meta":
				key := strings.ToLower(attrs["property"])
				if key == "" {
					key = strings.ToLower(attrs["name"])
				}
				if attrs["content"] != "" {
					if _, ok := found[key]; !ok {
						found[key] = attrs["content"]
					}
				}
			case "link":
				if strings.EqualFold(attrs["rel"], "image_src") && linkImage == "" {
					linkImage = attrs["href"]
				}
			}
		}
	}

	candidate := linkImage
	for _, p := range pageImageProps {
		if v, ok := found[p]; ok {
			candidate = v
			break
		}
	}
	if candidate == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(candidate))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}
