package capabilities

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/podly-labs/podflow"
)

const (
	defaultExtractTimeout = 10 * time.Second
	minArticleLength      = 60
	extractUserAgent      = "Mozilla/5.0 (compatible; podflow-extractor/1.0)"
)

// articleSelectors are tried in order against news-site markup; the first
// one yielding enough body text wins.
var articleSelectors = []string{
	"main article",
	"article",
	"#news_textbody, #news_textmore",
	"[class*=detail] [class*=body]",
	"[class*=article] [class*=body]",
	"main [role=main]",
}

// ArticleExtract fetches HTML pages directly and pulls out the article body
// text. Inputs: urls ([]string). Params: minLength (default 60). A page
// that fails to fetch or yields no usable body still contributes an entry
// with source "none" so downstream consumers see every URL accounted for.
func ArticleExtract(httpClient *http.Client, logger *slog.Logger) podflow.Definition {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return podflow.Definition{
		Name:        "articleExtract",
		Description: "extract article body text from HTML pages",
		Category:    "data",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			minLength := params.Int("minLength", minArticleLength)

			var results []any
			for _, url := range in.Strings("urls") {
				item, err := extractArticle(ctx, httpClient, url, minLength, params)
				if err != nil {
					logger.Warn("article extract failed", "url", url, "error", err)
					item = map[string]any{"url": url, "source": "none", "bodyText": ""}
				}
				results = append(results, item)
			}
			if results == nil {
				results = []any{}
			}
			return results, nil
		},
	}
}

func extractArticle(ctx context.Context, client *http.Client, url string, minLength int, params podflow.Params) (map[string]any, error) {
	ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultExtractTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", extractUserAgent)
	req.Header.Set("Accept-Language", "ja,en;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title, _ = doc.Find("meta[property='og:title']").Attr("content")
	}

	for _, sel := range articleSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		var paragraphs []string
		node.Find("p").Each(func(_ int, p *goquery.Selection) {
			if text := normalizeWhitespace(p.Text()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
		body := strings.Join(paragraphs, "\n")
		if len(body) >= minLength {
			item := map[string]any{
				"url":      url,
				"source":   "extracted",
				"bodyText": body,
			}
			if title != "" {
				item["title"] = title
			}
			return item, nil
		}
	}

	return map[string]any{"url": url, "source": "none", "bodyText": ""}, nil
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
