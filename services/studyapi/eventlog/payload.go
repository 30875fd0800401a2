// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/WritingStudy/services/studyapi/errs"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchemas maps an event kind (or template prefix) to the JSON Schema
// its extra_data must satisfy. Kinds without an entry accept any object.
var payloadSchemas = map[string]string{
	"surveyComplete": `{
		"type": "object",
		"properties": {"survey": {"type": "object"}}
	}`,
	"chatMessage": `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"content": {"type": "string"},
			"messageId": {"type": "string"},
			"partIndex": {"type": "integer", "minimum": 0}
		}
	}`,
	KindTaskComplete: `{
		"type": "object",
		"properties": {
			"wordCount": {"type": "integer", "minimum": 0},
			"documentLength": {"type": "integer", "minimum": 0},
			"finalText": {"type": "string"}
		}
	}`,
	KindSuggestionGenerated: `{
		"type": "object",
		"required": ["generation_type"],
		"properties": {
			"generation_type": {"type": "string", "minLength": 1},
			"doc_context": {"type": "object"}
		}
	}`,
	KindReflectionGenerated: `{
		"type": "object",
		"required": ["prompt"],
		"properties": {
			"prompt": {"type": "string"},
			"paragraph": {"type": "string"}
		}
	}`,
	KindChatMessage: `{
		"type": "object",
		"required": ["messages"],
		"properties": {
			"messages": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["role", "content"],
					"properties": {"role": {"type": "string"}, "content": {"type": "string"}}
				}
			}
		}
	}`,
	KindDocumentUpdate: `{
		"type": "object",
		"required": ["editorState"],
		"properties": {
			"editorState": {
				"type": "object",
				"properties": {
					"beforeCursor": {"type": "string"},
					"selectedText": {"type": "string"},
					"afterCursor": {"type": "string"}
				}
			},
			"wordCount": {"type": "integer", "minimum": 0},
			"documentLength": {"type": "integer", "minimum": 0}
		}
	}`,
}

const openPayloadSchema = `{"type": "object"}`

var compiledSchemas = func() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(payloadSchemas)+1)
	for kind, src := range payloadSchemas {
		out[kind] = jsonschema.MustCompileString("payload/"+kind+".json", src)
	}
	out[""] = jsonschema.MustCompileString("payload/open.json", openPayloadSchema)
	return out
}()

// ValidatePayload checks extra against the schema registered for kind.
//
// The payload is normalized through JSON first so Go numeric types and
// structs validate the same way a decoded request body does.
func ValidatePayload(kind string, extra map[string]any) error {
	schema, ok := compiledSchemas[templatePrefix(kind)]
	if !ok {
		schema = compiledSchemas[""]
	}
	if extra == nil {
		extra = map[string]any{}
	}

	raw, err := json.Marshal(extra)
	if err != nil {
		return errs.Invalid("invalid event payload", fmt.Sprintf("extra_data: %v", err))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return errs.Invalid("invalid event payload", fmt.Sprintf("extra_data: %v", err))
	}

	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return errs.Invalid("invalid event payload", flattenSchemaError(verr)...)
		}
		return errs.Invalid("invalid event payload", err.Error())
	}
	return nil
}

func flattenSchemaError(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{fmt.Sprintf("%s: %s", verr.InstanceLocation, verr.Message)}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, flattenSchemaError(cause)...)
	}
	return out
}
