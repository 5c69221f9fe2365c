package script

import "github.com/podly-labs/podflow"

// Node and value names in the generation graph. The four branch result
// nodes are merged by the service in a fixed priority order.
const (
	nodeDirect    = "directCompose"   // branch A: no retrieval
	nodeExtract   = "referenceBranch" // branch B: explicit references
	nodeRSS       = "newsFeedBranch"  // branch C: curated feeds
	nodeWebSearch = "webSearchBranch" // branch D: ad-hoc search
	nodeSources   = "discoveredSources"

	valIsSearch    = "isSearch"
	valPrompt      = "prompt"
	valMessages    = "messages"
	valReference   = "reference"
	valQueryPrompt = "queryPrompt"
)

// composeNode is the schema-constrained call that turns conversation plus
// context into the final script.
func composeNode(messagesRef string) podflow.NodeSpec {
	return podflow.NodeSpec{
		Agent:  "llmComplete",
		Params: map[string]any{"schema": scriptSchema},
		Inputs: map[string]podflow.InputBinding{
			"messages": podflow.Ref(messagesRef),
			"prompt":   podflow.Ref(valPrompt),
		},
		IsResult: true,
	}
}

// extractBranchGraph fetches full text for explicitly given URLs and
// composes from it (branch B).
func extractBranchGraph() podflow.GraphSpec {
	return podflow.GraphSpec{
		Name: "reference-extract",
		Nodes: map[string]podflow.NodeSpec{
			valMessages:  {Value: &podflow.ValueSpec{}},
			valPrompt:    {Value: &podflow.ValueSpec{}},
			valReference: {Value: &podflow.ValueSpec{}},
			"webExtract": {
				Agent:  "webExtract",
				Params: map[string]any{"timeout": 10000, "supressError": false},
				Inputs: map[string]podflow.InputBinding{
					"urls": podflow.Ref(valReference),
				},
			},
			"sourceUrls": {
				Agent:    "pickSourceUrls",
				Inputs:   map[string]podflow.InputBinding{"results": podflow.Ref("webExtract")},
				IsResult: true,
			},
			"material": {
				Agent:  "composeMaterial",
				Params: map[string]any{"mode": "rawContent"},
				Inputs: map[string]podflow.InputBinding{"source": podflow.Ref("webExtract")},
			},
			"augmented": {
				Agent: "appendSearchContext",
				Inputs: map[string]podflow.InputBinding{
					"messages": podflow.Ref(valMessages),
					"material": podflow.Ref("material"),
				},
			},
			"compose": composeNode("augmented"),
		},
	}
}

// triageGraph classifies whether curated feeds serve the request better
// than ad-hoc search. Its results drive the branch C / branch D split.
func triageGraph() podflow.GraphSpec {
	return podflow.GraphSpec{
		Name: "feed-triage",
		Nodes: map[string]podflow.NodeSpec{
			valPrompt: {Value: &podflow.ValueSpec{}},
			"judge": {
				Agent: "llmComplete",
				Params: map[string]any{
					"schema": triageSchema,
					"system": triagePrompt,
				},
				Inputs: map[string]podflow.InputBinding{
					"prompt": podflow.Ref(valPrompt),
				},
			},
			"triage": {
				Agent:    "copy",
				Inputs:   map[string]podflow.InputBinding{"value": podflow.Ref("judge.json")},
				IsResult: true,
			},
			"useFeeds": {
				Agent:    "copy",
				Inputs:   map[string]podflow.InputBinding{"value": podflow.Ref("judge.json.rssNeed")},
				IsResult: true,
			},
		},
	}
}

// rssBranchGraph selects a topical feed, filters entries by the triage
// keywords, scrapes article bodies, and composes from them (branch C).
func rssBranchGraph() podflow.GraphSpec {
	return podflow.GraphSpec{
		Name: "news-feed",
		Nodes: map[string]podflow.NodeSpec{
			valMessages: {Value: &podflow.ValueSpec{}},
			valPrompt:   {Value: &podflow.ValueSpec{}},
			"triage":    {Value: &podflow.ValueSpec{}},
			"feeds": {
				Agent:  "resolveFeeds",
				Inputs: map[string]podflow.InputBinding{"triage": podflow.Ref("triage")},
			},
			"items": {
				Agent: "rssFetch",
				Inputs: map[string]podflow.InputBinding{
					"feedUrls": podflow.Ref("feeds.feedUrls"),
					"keywords": podflow.Ref("feeds.keywords"),
				},
			},
			"links": {
				Agent:  "pickLinks",
				Inputs: map[string]podflow.InputBinding{"items": podflow.Ref("items")},
			},
			"articles": {
				Agent:  "articleExtract",
				Inputs: map[string]podflow.InputBinding{"urls": podflow.Ref("links")},
			},
			"sourceUrls": {
				Agent:    "pickSourceUrls",
				Inputs:   map[string]podflow.InputBinding{"results": podflow.Ref("articles")},
				IsResult: true,
			},
			"material": {
				Agent:  "composeMaterial",
				Params: map[string]any{"mode": "article"},
				Inputs: map[string]podflow.InputBinding{"source": podflow.Ref("articles")},
			},
			"augmented": {
				Agent: "appendSearchContext",
				Inputs: map[string]podflow.InputBinding{
					"messages": podflow.Ref(valMessages),
					"material": podflow.Ref("material"),
				},
			},
			"compose": composeNode("augmented"),
		},
	}
}

// searchBranchGraph formulates a query, runs it, and composes from the
// synthesized answer (branch D).
func searchBranchGraph() podflow.GraphSpec {
	return podflow.GraphSpec{
		Name: "web-search",
		Nodes: map[string]podflow.NodeSpec{
			valMessages:    {Value: &podflow.ValueSpec{}},
			valPrompt:      {Value: &podflow.ValueSpec{}},
			valQueryPrompt: {Value: &podflow.ValueSpec{}},
			"generateQuery": {
				Agent:  "llmComplete",
				Params: map[string]any{"schema": querySchema},
				Inputs: map[string]podflow.InputBinding{
					"messages": podflow.Ref(valQueryPrompt),
					"prompt":   podflow.Ref(valPrompt),
				},
			},
			"search": {
				Agent: "webSearch",
				Params: map[string]any{
					"maxResults":    5,
					"includeAnswer": true,
				},
				Inputs: map[string]podflow.InputBinding{
					"query": podflow.Ref("generateQuery.json.query"),
				},
			},
			"sourceUrls": {
				Agent:    "pickSourceUrls",
				Inputs:   map[string]podflow.InputBinding{"results": podflow.Ref("search")},
				IsResult: true,
			},
			"material": {
				Agent:  "composeMaterial",
				Params: map[string]any{"mode": "answer"},
				Inputs: map[string]podflow.InputBinding{"source": podflow.Ref("search")},
			},
			"augmented": {
				Agent: "appendSearchContext",
				Inputs: map[string]podflow.InputBinding{
					"messages": podflow.Ref(valMessages),
					"material": podflow.Ref("material"),
				},
			},
			"compose": composeNode("augmented"),
		},
	}
}

// GenerationGraph is the full script-generation graph: four mutually
// exclusive branches gated by isSearch, the explicit-reference check, and
// the feed triage. Exactly one branch contributes a compose result per run.
func GenerationGraph() *podflow.GraphSpec {
	extract := extractBranchGraph()
	triage := triageGraph()
	rss := rssBranchGraph()
	search := searchBranchGraph()

	return &podflow.GraphSpec{
		Name:        "script-generation",
		Concurrency: 4,
		Nodes: map[string]podflow.NodeSpec{
			valIsSearch:    {Value: &podflow.ValueSpec{}},
			valPrompt:      {Value: &podflow.ValueSpec{}},
			valMessages:    {Value: &podflow.ValueSpec{}},
			valReference:   {Value: &podflow.ValueSpec{}},
			valQueryPrompt: {Value: &podflow.ValueSpec{}},

			nodeDirect: {
				Agent:  "llmComplete",
				Params: map[string]any{"schema": scriptSchema},
				Inputs: map[string]podflow.InputBinding{
					"messages": podflow.Ref(valMessages),
					"prompt":   podflow.Ref(valPrompt),
				},
				Unless:   valIsSearch,
				IsResult: true,
			},

			"referenceCheck": {
				Agent:  "notEmpty",
				Inputs: map[string]podflow.InputBinding{"value": podflow.Ref(valReference)},
				If:     valIsSearch,
			},

			nodeExtract: {
				Graph: &extract,
				Inputs: map[string]podflow.InputBinding{
					valMessages:  podflow.Ref(valMessages),
					valPrompt:    podflow.Ref(valPrompt),
					valReference: podflow.Ref(valReference),
				},
				If:       "referenceCheck",
				IsResult: true,
			},

			"feedTriage": {
				Graph: &triage,
				Inputs: map[string]podflow.InputBinding{
					valPrompt: podflow.Ref(valPrompt),
				},
				Unless: "referenceCheck",
			},

			nodeRSS: {
				Graph: &rss,
				Inputs: map[string]podflow.InputBinding{
					valMessages: podflow.Ref(valMessages),
					valPrompt:   podflow.Ref(valPrompt),
					"triage":    podflow.Ref("feedTriage.triage"),
				},
				If:       "feedTriage.useFeeds",
				IsResult: true,
			},

			nodeWebSearch: {
				Graph: &search,
				Inputs: map[string]podflow.InputBinding{
					valMessages:    podflow.Ref(valMessages),
					valPrompt:      podflow.Ref(valPrompt),
					valQueryPrompt: podflow.Ref(valQueryPrompt),
				},
				Unless:   "feedTriage.useFeeds",
				IsResult: true,
			},

			nodeSources: {
				Agent:    "firstOf",
				AnyInput: true,
				Inputs: map[string]podflow.InputBinding{
					"values": podflow.Refs(
						nodeWebSearch+".sourceUrls",
						nodeExtract+".sourceUrls",
						nodeRSS+".sourceUrls",
					),
				},
				If:       valIsSearch,
				IsResult: true,
			},
		},
	}
}
