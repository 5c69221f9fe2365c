package script

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/podly-labs/podflow"
)

func TestGenerationGraphValidates(t *testing.T) {
	if err := GenerationGraph().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

// stubCaps backs the generation graph with canned capability outputs and
// records which capabilities ran.
type stubCaps struct {
	mu      sync.Mutex
	calls   map[string]int
	rssNeed bool

	scriptJSON map[string]any
}

func newStubCaps() *stubCaps {
	return &stubCaps{
		calls: map[string]int{},
		scriptJSON: map[string]any{
			"scripts": []any{
				map[string]any{"speaker": "A", "text": "こんにちは"},
				map[string]any{"speaker": "B", "text": "今日のテーマは"},
			},
		},
	}
}

func (s *stubCaps) record(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func (s *stubCaps) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// schemaKind tells the llmComplete stub which call it is serving by the
// shape of the requested output.
func schemaKind(params podflow.Params) string {
	schema, _ := params["schema"].(map[string]any)
	props, _ := schema["properties"].(map[string]any)
	switch {
	case props["scripts"] != nil:
		return "compose"
	case props["rssNeed"] != nil:
		return "triage"
	case props["query"] != nil:
		return "query"
	default:
		return "unknown"
	}
}

func (s *stubCaps) register(t *testing.T, reg *podflow.Registry) {
	t.Helper()
	defs := []podflow.Definition{
		{
			Name: "llmComplete",
			Fn: func(_ context.Context, _ podflow.Inputs, params podflow.Params) (any, error) {
				switch schemaKind(params) {
				case "compose":
					s.record("compose")
					return map[string]any{"text": "", "json": s.scriptJSON}, nil
				case "triage":
					s.record("triage")
					return map[string]any{"json": map[string]any{
						"rssNeed":  s.rssNeed,
						"field":    "economy",
						"keywords": []any{"金利"},
					}}, nil
				case "query":
					s.record("query")
					return map[string]any{"json": map[string]any{"query": "経済 ニュース"}}, nil
				default:
					return nil, errors.New("unexpected llm call")
				}
			},
		},
		{
			Name: "webExtract",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				s.record("webExtract")
				results := make([]any, 0)
				for _, url := range in.Strings("urls") {
					results = append(results, map[string]any{"url": url, "rawContent": "extracted body"})
				}
				return map[string]any{"results": results, "failedResults": []any{}}, nil
			},
		},
		{
			Name: "webSearch",
			Fn: func(_ context.Context, _ podflow.Inputs, _ podflow.Params) (any, error) {
				s.record("webSearch")
				return map[string]any{
					"answer": "検索で得た要約",
					"results": []any{
						map[string]any{"url": "https://s.example/hit", "title": "Hit", "content": "c", "score": 0.9},
					},
				}, nil
			},
		},
		{
			Name: "rssFetch",
			Fn: func(_ context.Context, _ podflow.Inputs, _ podflow.Params) (any, error) {
				s.record("rssFetch")
				return []any{
					map[string]any{"title": "経済の記事", "link": "https://n.example/econ"},
				}, nil
			},
		},
		{
			Name: "articleExtract",
			Fn: func(_ context.Context, in podflow.Inputs, _ podflow.Params) (any, error) {
				s.record("articleExtract")
				results := make([]any, 0)
				for _, url := range in.Strings("urls") {
					results = append(results, map[string]any{
						"url": url, "title": "経済の記事", "source": "extracted", "bodyText": "本文",
					})
				}
				return results, nil
			},
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
}

func newTestService(t *testing.T, stubs *stubCaps) *Service {
	t.Helper()
	reg := podflow.NewRegistry()
	stubs.register(t, reg)
	svc, err := NewService(reg, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateDirect(t *testing.T) {
	stubs := newStubCaps()
	svc := newTestService(t, stubs)

	out, err := svc.Create(context.Background(), CreateInput{
		Prompt:    "雑談して",
		Situation: "friends",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if len(out.NewScript.Script) != 2 {
		t.Fatalf("script lines = %d", len(out.NewScript.Script))
	}
	if out.NewScript.Script[0].Speaker != "A" {
		t.Errorf("first line = %+v", out.NewScript.Script[0])
	}
	if out.NewScript.Prompt != "雑談して" || out.NewScript.Situation != "friends" {
		t.Errorf("metadata = %+v", out.NewScript)
	}
	if len(out.NewScript.Reference) != 0 {
		t.Errorf("references = %v, want none for a direct run", out.NewScript.Reference)
	}
	if out.PreviousScript == nil {
		t.Error("PreviousScript must be non-nil")
	}

	if stubs.count("compose") != 1 {
		t.Errorf("compose calls = %d, want exactly one branch", stubs.count("compose"))
	}
	for _, name := range []string{"triage", "webSearch", "webExtract", "rssFetch"} {
		if stubs.count(name) != 0 {
			t.Errorf("%s ran during a direct request", name)
		}
	}
}

func TestCreateWithReferences(t *testing.T) {
	stubs := newStubCaps()
	svc := newTestService(t, stubs)

	out, err := svc.Create(context.Background(), CreateInput{
		Prompt:    "この記事について話して",
		Reference: []Reference{{URL: "https://r.example/article"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if stubs.count("webExtract") != 1 {
		t.Errorf("webExtract calls = %d", stubs.count("webExtract"))
	}
	if stubs.count("triage") != 0 || stubs.count("webSearch") != 0 {
		t.Error("explicit references must bypass triage and search")
	}

	if len(out.NewScript.Reference) != 1 || out.NewScript.Reference[0].URL != "https://r.example/article" {
		t.Errorf("references = %v", out.NewScript.Reference)
	}
}

func TestCreateFeedBranch(t *testing.T) {
	stubs := newStubCaps()
	stubs.rssNeed = true
	svc := newTestService(t, stubs)

	out, err := svc.Create(context.Background(), CreateInput{
		Prompt:   "最新の経済ニュースを教えて",
		IsSearch: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if stubs.count("triage") != 1 || stubs.count("rssFetch") != 1 || stubs.count("articleExtract") != 1 {
		t.Errorf("calls = triage %d, rssFetch %d, articleExtract %d",
			stubs.count("triage"), stubs.count("rssFetch"), stubs.count("articleExtract"))
	}
	if stubs.count("webSearch") != 0 {
		t.Error("webSearch ran although triage chose feeds")
	}

	if len(out.NewScript.Reference) != 1 || out.NewScript.Reference[0].URL != "https://n.example/econ" {
		t.Errorf("references = %v, want the scraped article", out.NewScript.Reference)
	}
	if out.NewScript.Reference[0].Title != "経済の記事" {
		t.Errorf("title = %q", out.NewScript.Reference[0].Title)
	}
}

func TestCreateSearchBranch(t *testing.T) {
	stubs := newStubCaps()
	stubs.rssNeed = false
	svc := newTestService(t, stubs)

	out, err := svc.Create(context.Background(), CreateInput{
		Prompt:   "量子コンピュータの現状を調べて",
		IsSearch: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if stubs.count("query") != 1 || stubs.count("webSearch") != 1 {
		t.Errorf("calls = query %d, webSearch %d", stubs.count("query"), stubs.count("webSearch"))
	}
	if stubs.count("rssFetch") != 0 {
		t.Error("rssFetch ran although triage chose search")
	}

	if len(out.NewScript.Reference) != 1 || out.NewScript.Reference[0].URL != "https://s.example/hit" {
		t.Errorf("references = %v, want the search hit", out.NewScript.Reference)
	}
}

func TestCreatePreviousScriptThreading(t *testing.T) {
	stubs := newStubCaps()
	svc := newTestService(t, stubs)

	prev := []PromptScript{{
		Prompt: "前回の話題",
		Script: []Line{{Speaker: "A", Text: "前回の内容"}},
	}}
	out, err := svc.Create(context.Background(), CreateInput{
		Prompt:         "続きを話して",
		PreviousScript: prev,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(out.PreviousScript) != 1 || out.PreviousScript[0].Prompt != "前回の話題" {
		t.Errorf("PreviousScript = %v, want the prior turn echoed back", out.PreviousScript)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t, newStubCaps())

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty prompt", CreateInput{Prompt: "   "}},
		{"unknown situation", CreateInput{Prompt: "p", Situation: "opera"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			var valErr *ValidationError
			if !errors.As(err, &valErr) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateUnparseableScript(t *testing.T) {
	stubs := newStubCaps()
	stubs.scriptJSON = map[string]any{"scripts": []any{}}
	svc := newTestService(t, stubs)

	_, err := svc.Create(context.Background(), CreateInput{Prompt: "p"})
	var genErr *GenerationFailedError
	if !errors.As(err, &genErr) {
		t.Errorf("err = %v, want GenerationFailedError", err)
	}
}

func TestMergeBranchPriority(t *testing.T) {
	svc := newTestService(t, newStubCaps())

	scriptOut := func(text string) map[string]any {
		return map[string]any{"json": map[string]any{
			"scripts": []any{map[string]any{"speaker": "A", "text": text}},
		}}
	}

	bag := podflow.ResultBag{
		nodeDirect:  scriptOut("direct"),
		nodeExtract: map[string]any{"compose": scriptOut("extract")},
	}
	lines, branch := svc.mergeBranches(bag)
	if branch != nodeDirect || lines[0].Text != "direct" {
		t.Errorf("merged (%s, %v), want the direct branch to win", branch, lines)
	}

	delete(bag, nodeDirect)
	lines, branch = svc.mergeBranches(bag)
	if branch != nodeExtract || lines[0].Text != "extract" {
		t.Errorf("merged (%s, %v), want the extract branch next", branch, lines)
	}
}
