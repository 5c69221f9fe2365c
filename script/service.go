package script

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/podly-labs/podflow"
)

// Service runs the script-generation pipeline. The registry it receives
// must carry the LLM, search, extraction, and feed capabilities plus the
// shaping transforms; composition happens once at startup.
type Service struct {
	registry *podflow.Registry
	events   podflow.EventHandler
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service and registers the shaping transforms the
// generation graph depends on.
func NewService(registry *podflow.Registry, events podflow.EventHandler, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := RegisterTransforms(registry); err != nil {
		return nil, err
	}
	return &Service{
		registry: registry,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Create validates the request, runs the generation graph, and merges the
// four mutually exclusive branch outcomes into one script. Branch priority
// when merging is fixed: direct, explicit references, curated feeds, web
// search; exactly one populates a compose result per run.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	graph := GenerationGraph()
	sched, err := podflow.NewScheduler(graph, s.registry, podflow.Options{
		Concurrency:  graph.Concurrency,
		EventHandler: s.events,
	})
	if err != nil {
		return nil, err
	}

	isSearch := len(in.Reference) > 0 || in.IsSearch

	referenceURLs := make([]any, 0, len(in.Reference))
	for _, r := range in.Reference {
		referenceURLs = append(referenceURLs, r.URL)
	}

	injections := map[string]any{
		valIsSearch:    isSearch,
		valPrompt:      in.Prompt,
		valMessages:    s.history(in),
		valReference:   referenceURLs,
		valQueryPrompt: s.queryPrompt(in.Prompt),
	}
	for name, value := range injections {
		if err := sched.Inject(name, value); err != nil {
			return nil, err
		}
	}

	bag, err := sched.Run(ctx)
	if err != nil {
		return nil, &GenerationFailedError{Reason: "pipeline run failed", Err: err}
	}
	for _, ne := range sched.Errors() {
		s.logger.Warn("script pipeline node failed", "node", ne.NodeID, "error", ne.Err)
	}

	lines, branch := s.mergeBranches(bag)
	if lines == nil {
		return nil, &GenerationFailedError{Reason: "no branch produced a script"}
	}
	s.logger.Info("script generated", "branch", branch, "lines", len(lines))

	out := &CreateOutput{
		NewScript: PromptScript{
			Prompt:    in.Prompt,
			Script:    lines,
			Reference: s.references(bag, in),
			Situation: in.Situation,
		},
		PreviousScript: in.PreviousScript,
	}
	if out.PreviousScript == nil {
		out.PreviousScript = []PromptScript{}
	}
	return out, nil
}

// history builds the conversation sent to the composing call: the situation
// system prompt followed by prior prompt/script turns.
func (s *Service) history(in CreateInput) []any {
	messages := []any{
		map[string]any{"role": "system", "content": SystemPrompt(in.Situation)},
	}
	for _, prev := range in.PreviousScript {
		raw, err := json.Marshal(prev.Script)
		if err != nil {
			continue
		}
		messages = append(messages,
			map[string]any{"role": "user", "content": prev.Prompt},
			map[string]any{"role": "assistant", "content": string(raw)},
		)
	}
	return messages
}

func (s *Service) queryPrompt(prompt string) []any {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.UTC
	}
	today := s.now().In(loc).Format("2006-01-02")
	return []any{
		map[string]any{"role": "system", "content": searchQueryPrompt(today, prompt)},
	}
}

// mergeBranches picks the single populated branch in priority order and
// parses its structured output.
func (s *Service) mergeBranches(bag podflow.ResultBag) ([]Line, string) {
	candidates := []struct {
		name    string
		extract func() map[string]any
	}{
		{nodeDirect, func() map[string]any { return asMap(bag[nodeDirect]) }},
		{nodeExtract, func() map[string]any { return composeOutput(bag[nodeExtract]) }},
		{nodeRSS, func() map[string]any { return composeOutput(bag[nodeRSS]) }},
		{nodeWebSearch, func() map[string]any { return composeOutput(bag[nodeWebSearch]) }},
	}

	for _, c := range candidates {
		out := c.extract()
		if out == nil {
			continue
		}
		if lines := parseLines(out); lines != nil {
			return lines, c.name
		}
	}
	return nil, ""
}

// references prefers sources discovered during retrieval; explicit request
// references apply only when nothing was discovered.
func (s *Service) references(bag podflow.ResultBag, in CreateInput) []Reference {
	if discovered, ok := bag[nodeSources].([]any); ok && len(discovered) > 0 {
		refs := make([]Reference, 0, len(discovered))
		for _, d := range discovered {
			m := asMap(d)
			if m == nil {
				continue
			}
			url, _ := m["url"].(string)
			if url == "" {
				continue
			}
			title, _ := m["title"].(string)
			refs = append(refs, Reference{URL: url, Title: title})
		}
		if len(refs) > 0 {
			return refs
		}
	}
	if len(in.Reference) > 0 {
		return in.Reference
	}
	return []Reference{}
}

// composeOutput digs the compose result out of a branch sub-graph bag.
func composeOutput(v any) map[string]any {
	branch := asMap(v)
	if branch == nil {
		return nil
	}
	return asMap(branch["compose"])
}

// parseLines reads the schema-constrained output of a composing call.
func parseLines(out map[string]any) []Line {
	parsed := asMap(out["json"])
	if parsed == nil {
		return nil
	}
	items, ok := parsed["scripts"].([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		m := asMap(item)
		if m == nil {
			return nil
		}
		speaker, _ := m["speaker"].(string)
		text, _ := m["text"].(string)
		if text == "" {
			return nil
		}
		lines = append(lines, Line{Speaker: speaker, Text: text})
	}
	return lines
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
