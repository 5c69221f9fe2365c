package script

// Structured-output schemas passed to the LLM capability. Kept as plain
// maps so they serialize into both the prompt instruction and the
// validation step unchanged.

var rssFields = []any{
	"general", "social", "technology", "politics",
	"economy", "sports", "world", "entertainment",
}

// nhkFeeds maps a triage field to its curated news feed URLs.
var nhkFeeds = map[string][]string{
	"general":       {"https://www.nhk.or.jp/rss/news/cat0.xml"},
	"social":        {"https://www.nhk.or.jp/rss/news/cat1.xml"},
	"technology":    {"https://www.nhk.or.jp/rss/news/cat2.xml"},
	"politics":      {"https://www.nhk.or.jp/rss/news/cat3.xml"},
	"economy":       {"https://www.nhk.or.jp/rss/news/cat4.xml"},
	"world":         {"https://www.nhk.or.jp/rss/news/cat5.xml"},
	"sports":        {"https://www.nhk.or.jp/rss/news/cat6.xml"},
	"entertainment": {"https://www.nhk.or.jp/rss/news/cat7.xml"},
}

// scriptSchema constrains the composed script: an ordered list of
// speaker/text pairs.
var scriptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scripts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"speaker": map[string]any{"type": "string"},
					"text":    map[string]any{"type": "string"},
				},
				"required":             []any{"speaker", "text"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []any{"scripts"},
	"additionalProperties": false,
}

// triageSchema constrains the feed-vs-search classification.
var triageSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"rssNeed": map[string]any{"type": "boolean"},
		"field":   map[string]any{"type": "string", "enum": rssFields},
		"keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []any{"rssNeed", "field", "keywords"},
	"additionalProperties": false,
}

// querySchema constrains the search-query formulation call.
var querySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
	},
	"required":             []any{"query"},
	"additionalProperties": false,
}
