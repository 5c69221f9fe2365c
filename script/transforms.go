package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/podly-labs/podflow"
)

// RegisterTransforms adds the data-shaping capabilities the script graph
// uses between its side-effecting nodes. Each is a pure function of its
// inputs.
func RegisterTransforms(reg *podflow.Registry) error {
	defs := []podflow.Definition{
		{
			Name:        "copy",
			Description: "pass a value through unchanged",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				return in["value"], nil
			},
		},
		{
			Name:        "firstOf",
			Description: "first resolved value from a tolerant reference list",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				values := in.Slice("values")
				if len(values) == 0 {
					return nil, nil
				}
				return values[0], nil
			},
		},
		{
			Name:        "notEmpty",
			Description: "whether a collection or string has content",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				switch v := in["value"].(type) {
				case nil:
					return false, nil
				case string:
					return v != "", nil
				case []any:
					return len(v) > 0, nil
				case []string:
					return len(v) > 0, nil
				default:
					return podflow.IsTruthy(v), nil
				}
			},
		},
		{
			Name:        "pickSourceUrls",
			Description: "collect {url, title} pairs from retrieval output",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				return pickSourceUrls(in["results"]), nil
			},
		},
		{
			Name:        "composeMaterial",
			Description: "flatten retrieval output into context text",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
				return composeMaterial(in["source"], params.String("mode", "answer"))
			},
		},
		{
			Name:        "appendSearchContext",
			Description: "append retrieved material to the conversation",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				messages := in.Slice("messages")
				out := make([]any, 0, len(messages)+1)
				out = append(out, messages...)
				out = append(out, map[string]any{
					"role":    "system",
					"content": searchContextPrompt(in.String("material")),
				})
				return out, nil
			},
		},
		{
			Name:        "resolveFeeds",
			Description: "map a triage field to its curated feed URLs",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				triage := in.Map("triage")
				field, _ := triage["field"].(string)
				urls := nhkFeeds[field]
				if urls == nil {
					urls = nhkFeeds["general"]
				}
				keywords, _ := triage["keywords"].([]any)
				return map[string]any{
					"feedUrls": toStrings(urls),
					"keywords": keywords,
				}, nil
			},
		},
		{
			Name:        "pickLinks",
			Description: "collect item links from feed entries",
			Category:    "transform",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				var links []any
				for _, item := range in.Slice("items") {
					if m, ok := item.(map[string]any); ok {
						if link, _ := m["link"].(string); link != "" {
							links = append(links, link)
						}
					}
				}
				if links == nil {
					links = []any{}
				}
				return links, nil
			},
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// pickSourceUrls accepts either a {results: [...]} envelope or a bare item
// list, and reads url/link plus title per item.
func pickSourceUrls(v any) []any {
	items, ok := v.([]any)
	if !ok {
		if m, isMap := v.(map[string]any); isMap {
			items, _ = m["results"].([]any)
		}
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := m["url"].(string)
		if url == "" {
			url, _ = m["link"].(string)
		}
		if url == "" {
			continue
		}
		title, _ := m["title"].(string)
		out = append(out, map[string]any{"url": url, "title": title})
	}
	return out
}

// composeMaterial flattens retrieval output into the text block appended to
// the conversation. Modes: rawContent (web extraction), article (scraped
// bodies), answer (synthesized search answer).
func composeMaterial(source any, mode string) (string, error) {
	switch mode {
	case "rawContent":
		m, _ := source.(map[string]any)
		results, _ := m["results"].([]any)
		return joinBlocks(results, "rawContent"), nil
	case "article":
		items, _ := source.([]any)
		return joinBlocks(items, "bodyText"), nil
	case "answer":
		m, _ := source.(map[string]any)
		answer, _ := m["answer"].(string)
		return answer, nil
	default:
		return "", fmt.Errorf("composeMaterial: unknown mode %q", mode)
	}
}

func joinBlocks(items []any, contentKey string) string {
	var blocks []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m[contentKey].(string)
		if content == "" {
			continue
		}
		block, err := json.Marshal(map[string]any{
			"title":   m["title"],
			"content": content,
		})
		if err != nil {
			continue
		}
		blocks = append(blocks, string(block))
	}
	return strings.Join(blocks, "\n\n")
}

func toStrings(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
