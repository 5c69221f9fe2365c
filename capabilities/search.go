package capabilities

import (
	"context"
	"time"

	"github.com/podly-labs/podflow"
)

const defaultSearchTimeout = 30 * time.Second

// WebSearch queries the search API. Inputs: query (string). Params:
// maxResults, includeAnswer, timeout. The output mirrors the API response:
// {answer, results: [{url, title, content, score}]}.
func WebSearch(client *TavilyClient) podflow.Definition {
	return podflow.Definition{
		Name:        "webSearch",
		Description: "web search with an optional synthesized answer",
		Category:    "search",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultSearchTimeout)
			defer cancel()

			resp, err := client.Search(ctx,
				in.String("query"),
				params.Int("maxResults", 5),
				params.Bool("includeAnswer"),
			)
			if err != nil {
				return podflow.Suppressed(params, searchError("webSearch", ctx, params, err))
			}

			results := make([]any, len(resp.Results))
			for i, r := range resp.Results {
				results[i] = map[string]any{
					"url":     r.URL,
					"title":   r.Title,
					"content": r.Content,
					"score":   r.Score,
				}
			}
			return map[string]any{
				"answer":  resp.Answer,
				"results": results,
			}, nil
		},
	}
}

// WebExtract fetches raw page content for a list of URLs. Inputs: urls
// ([]string, at most 20). The output separates successful and failed
// fetches: {results: [{url, rawContent}], failedResults: [{url, error}]}.
func WebExtract(client *TavilyClient) podflow.Definition {
	return podflow.Definition{
		Name:        "webExtract",
		Description: "raw content extraction from web pages",
		Category:    "search",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultSearchTimeout)
			defer cancel()

			resp, err := client.Extract(ctx, in.Strings("urls"))
			if err != nil {
				return podflow.Suppressed(params, searchError("webExtract", ctx, params, err))
			}

			results := make([]any, len(resp.Results))
			for i, r := range resp.Results {
				results[i] = map[string]any{
					"url":        r.URL,
					"rawContent": r.RawContent,
				}
			}
			failed := make([]any, len(resp.FailedResults))
			for i, r := range resp.FailedResults {
				failed[i] = map[string]any{
					"url":   r.URL,
					"error": r.Error,
				}
			}
			return map[string]any{
				"results":       results,
				"failedResults": failed,
			}, nil
		},
	}
}

func searchError(capability string, ctx context.Context, params podflow.Params, err error) error {
	if ctx.Err() != nil {
		return &podflow.TimeoutError{
			Capability: capability,
			Timeout:    params.Duration("timeout", defaultSearchTimeout),
			Err:        err,
		}
	}
	kind := podflow.KindSearch
	if capability == "webExtract" {
		kind = podflow.KindExtract
	}
	return &podflow.CapabilityError{Kind: kind, Capability: capability, Err: err}
}
