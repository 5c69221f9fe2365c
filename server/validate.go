package server

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request body schemas. Validation happens on the decoded JSON value before
// it is bound to domain types, so clients get schema-level messages for
// malformed requests instead of opaque decode errors.

const createScriptRequestSchema = `{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "minLength": 1},
		"situation": {
			"type": "string",
			"enum": ["school", "expert", "interview", "friends", "radio_personality"]
		},
		"isSearch": {"type": "boolean"},
		"reference": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"url": {"type": "string", "minLength": 1},
					"title": {"type": "string"}
				},
				"required": ["url"]
			}
		},
		"previousScript": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"prompt": {"type": "string"},
					"script": {"type": "array"}
				},
				"required": ["prompt", "script"]
			}
		}
	},
	"required": ["prompt"]
}`

const audioPreviewRequestSchema = `{
	"type": "object",
	"properties": {
		"scriptId": {"type": "string"},
		"script": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"speaker": {"type": "string"},
					"text": {"type": "string", "minLength": 1}
				},
				"required": ["speaker", "text"]
			}
		},
		"speakers": {"type": "array", "items": {"type": "string"}},
		"voices": {"type": "array", "items": {"type": "string"}},
		"bgmId": {"type": "string"},
		"padding": {"type": "integer", "minimum": 0},
		"tts": {"type": "string", "enum": ["openai", "polly"]}
	},
	"required": ["script"]
}`

var (
	createScriptValidator = jsonschema.MustCompileString("create_script.json", createScriptRequestSchema)
	audioPreviewValidator = jsonschema.MustCompileString("audio_preview.json", audioPreviewRequestSchema)
)

// decodeAndValidate parses raw JSON, checks it against the schema, then
// binds it to dst.
func decodeAndValidate(raw []byte, schema *jsonschema.Schema, dst any) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return json.Unmarshal(raw, dst)
}
