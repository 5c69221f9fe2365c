// Package script composes the script-generation pipeline: a graph that
// chooses one of four content-sourcing strategies and produces a structured
// multi-turn podcast script through a schema-constrained LLM call.
package script

import (
	"fmt"
	"strings"
)

// Line is one spoken turn of a script.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Reference points at a source the script drew from.
type Reference struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// PromptScript couples a prompt with the script it produced.
type PromptScript struct {
	Prompt    string      `json:"prompt"`
	Script    []Line      `json:"script"`
	Reference []Reference `json:"reference"`
	Situation string      `json:"situation,omitempty"`
}

// CreateInput is a request to generate a new script.
type CreateInput struct {
	Prompt         string         `json:"prompt"`
	Situation      string         `json:"situation,omitempty"`
	IsSearch       bool           `json:"isSearch,omitempty"`
	Reference      []Reference    `json:"reference,omitempty"`
	PreviousScript []PromptScript `json:"previousScript,omitempty"`
}

// CreateOutput is the generated script plus the prior conversation echoed
// back so clients can thread follow-up requests.
type CreateOutput struct {
	NewScript      PromptScript   `json:"newScript"`
	PreviousScript []PromptScript `json:"previousScript"`
}

// Situations is the closed set of accepted situation tags.
var Situations = map[string]bool{
	"school":            true,
	"expert":            true,
	"interview":         true,
	"friends":           true,
	"radio_personality": true,
}

// ValidationError reports a domain-rule violation detected before any
// pipeline side effects happen.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GenerationFailedError means the pipeline ran but no branch produced a
// parseable script. It is fatal and not retried automatically.
type GenerationFailedError struct {
	Reason string
	Err    error
}

func (e *GenerationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("script generation failed: %s: %v", e.Reason, e.Err)
	}
	return "script generation failed: " + e.Reason
}

func (e *GenerationFailedError) Unwrap() error { return e.Err }

// Validate enforces the domain rules on a create request.
func (in *CreateInput) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if in.Situation != "" && !Situations[in.Situation] {
		return &ValidationError{Field: "situation", Reason: fmt.Sprintf("unknown situation %q", in.Situation)}
	}
	return nil
}
