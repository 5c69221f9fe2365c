// Package capabilities implements the side-effecting operations graph nodes
// invoke: LLM completion, web search and extraction, RSS fetching, article
// scraping, speech synthesis, audio processing, and object storage. Each
// capability honors the conventional timeout parameter and the supressError
// flag that turns a failure into a structured onError output.
package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/podly-labs/podflow"
	"github.com/podly-labs/podflow/llmprovider"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const defaultLLMTimeout = 120 * time.Second

// LLMComplete runs a chat completion. Inputs: prompt (string), and
// optionally messages (conversation history as {role, content} maps).
// Params: model, temperature, and schema (a JSON schema the parsed output
// must satisfy; setting it switches the call to JSON mode). The output
// carries text, the parsed json when schema was set, and token usage.
func LLMComplete(client llmprovider.Client, defaultModel string) podflow.Definition {
	return podflow.Definition{
		Name:        "llmComplete",
		Description: "chat completion with optional schema-constrained JSON output",
		Category:    "llm",
		Fn: func(ctx context.Context, in podflow.Inputs, params podflow.Params) (any, error) {
			ctx, cancel := podflow.WithCapabilityTimeout(ctx, params, defaultLLMTimeout)
			defer cancel()

			req := llmprovider.Request{
				Model:   params.String("model", defaultModel),
				Prompt:  in.String("prompt"),
				History: toHistory(in.Slice("messages")),
			}
			if t, ok := params["temperature"].(float64); ok {
				req.Temperature = &t
			}

			var validator *jsonschema.Schema
			if schema := params["schema"]; schema != nil {
				compiled, err := compileSchema(schema)
				if err != nil {
					return nil, fmt.Errorf("invalid output schema: %w", err)
				}
				validator = compiled
				req.JSONMode = true
				req.System = joinSystem(req.System, schemaInstruction(schema))
			}
			if sys := params.String("system", ""); sys != "" {
				req.System = joinSystem(sys, req.System)
			}

			resp, err := client.Complete(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					err = &podflow.TimeoutError{Capability: "llmComplete", Timeout: params.Duration("timeout", defaultLLMTimeout), Err: err}
				} else {
					err = &podflow.CapabilityError{Kind: podflow.KindLLM, Capability: "llmComplete", Err: err}
				}
				return podflow.Suppressed(params, err)
			}

			if validator != nil {
				if resp.JSON == nil {
					return podflow.Suppressed(params, &podflow.CapabilityError{
						Kind: podflow.KindLLM, Capability: "llmComplete",
						Err: fmt.Errorf("model did not return parseable JSON"),
					})
				}
				if err := validator.Validate(map[string]any(resp.JSON)); err != nil {
					return podflow.Suppressed(params, &podflow.CapabilityError{
						Kind: podflow.KindLLM, Capability: "llmComplete",
						Err: fmt.Errorf("output failed schema validation: %w", err),
					})
				}
			}

			out := map[string]any{
				"text": resp.Text,
				"usage": map[string]any{
					"inputTokens":  resp.Usage.InputTokens,
					"outputTokens": resp.Usage.OutputTokens,
				},
			}
			if resp.JSON != nil {
				out["json"] = resp.JSON
			}
			return out, nil
		},
	}
}

func toHistory(messages []any) []llmprovider.Message {
	var history []llmprovider.Message
	for _, m := range messages {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		content, _ := entry["content"].(string)
		if content == "" {
			continue
		}
		history = append(history, llmprovider.Message{Role: role, Content: content})
	}
	return history
}

func compileSchema(schema any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString("output.schema.json", string(raw))
}

func schemaInstruction(schema any) string {
	raw, _ := json.Marshal(schema)
	return "Respond with a single JSON object matching this JSON schema, with no surrounding text:\n" + string(raw)
}

func joinSystem(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
