package capabilities

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/podly-labs/podflow"
)

const defaultRSSTimeout = 20 * time.Second

// RSSFetch reads one or more feeds and returns recent items, optionally
// filtered by keywords matched against title and description. Inputs:
// feedUrls ([]string), keywords ([]string), maxItems (per feed, default 5).
// A feed that fails to fetch is logged and skipped, not fatal; the pipeline
// can still work with the feeds that responded.
func RSSFetch(logger *slog.Logger) podflow.Definition {
	if logger == nil {
		logger = slog.Default()
	}
	return podflow.Definition{
		Name:        "rssFetch",
		Description: "fetch and keyword-filter RSS feed items",
		Category:    "data",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultRSSTimeout)
			defer cancel()

			feedURLs := in.Strings("feedUrls")
			keywords := in.Strings("keywords")
			maxItems := params.Int("maxItems", 5)
			if n, ok := in["maxItems"]; ok {
				if f, ok := n.(float64); ok && f > 0 {
					maxItems = int(f)
				}
			}

			parser := gofeed.NewParser()
			var items []any
			for _, url := range feedURLs {
				feed, err := parser.ParseURLWithContext(url, ctx)
				if err != nil {
					logger.Warn("rss feed fetch failed", "url", url, "error", err)
					continue
				}
				count := 0
				for _, item := range feed.Items {
					if count >= maxItems {
						break
					}
					if !matchesKeywords(item, keywords) {
						continue
					}
					entry := map[string]any{
						"title": item.Title,
						"link":  item.Link,
					}
					if item.Published != "" {
						entry["pubDate"] = item.Published
					}
					items = append(items, entry)
					count++
				}
			}
			if items == nil {
				items = []any{}
			}
			return items, nil
		},
	}
}

func matchesKeywords(item *gofeed.Item, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	target := item.Title + " " + item.Description
	for _, kw := range keywords {
		if kw != "" && strings.Contains(target, kw) {
			return true
		}
	}
	return false
}
