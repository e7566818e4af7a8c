package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rectSchema = `{
	"type": "object",
	"required": ["x", "y", "w", "h"],
	"properties": {
		"x": {"type": "number"},
		"y": {"type": "number"},
		"w": {"type": "number", "minimum": 0},
		"h": {"type": "number", "minimum": 0}
	}
}`

const scalarMap = `{
	"type": "object",
	"additionalProperties": {"type": ["string", "number", "boolean", "null"]}
}`

var draftSchema = `{
	"type": "object",
	"properties": {
		"record_type": {"type": "string", "minLength": 1},
		"record_number": {"type": ["string", "null"]},
		"payload": ` + scalarMap + `,
		"bbox": {"type": ["object", "null"]}
	}
}`

var schemaSources = map[string]string{
	"autosave.json": draftSchema,
	"batch.json": `{
		"type": "object",
		"required": ["entries"],
		"properties": {
			"entries": {
				"type": "array",
				"minItems": 1,
				"items": {
					"allOf": [` + draftSchema + `],
					"required": ["entry_index"],
					"properties": {"entry_index": {"type": "integer", "minimum": 0}}
				}
			}
		}
	}`,
	"entry_bbox.json": `{
		"type": "object",
		"anyOf": [{"required": ["entryBbox"]}, {"required": ["entryAreas"]}],
		"properties": {
			"entryBbox": ` + rectSchema + `,
			"entryAreas": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["entryId", "bbox"],
					"properties": {
						"entryId": {"type": "string", "minLength": 1},
						"bbox": ` + rectSchema + `
					}
				}
			}
		}
	}`,
	"selection.json": `{
		"type": "object",
		"properties": {
			"entry_indexes": {"type": "array", "items": {"type": "integer", "minimum": 0}}
		}
	}`,
	"extract.json": `{
		"type": "object",
		"required": ["extractor_id", "vision"],
		"properties": {
			"extractor_id": {"type": "integer", "minimum": 0},
			"record_type": {"type": "string"},
			"page_index": {"type": "integer", "minimum": 0},
			"seed_drafts": {"type": "boolean"},
			"vision": {"type": "object"}
		}
	}`,
	"normalize.json": `{
		"type": "object",
		"required": ["vision"],
		"properties": {
			"page_index": {"type": "integer", "minimum": 0},
			"vision": {"type": "object"},
			"settings": {
				"type": "object",
				"properties": {
					"confidenceThreshold": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		}
	}`,
}

type schemas struct {
	byName map[string]*jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compiler := jsonschema.NewCompiler()
	for name, src := range schemaSources {
		if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	out := &schemas{byName: make(map[string]*jsonschema.Schema, len(schemaSources))}
	for name := range schemaSources {
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out.byName[name] = sch
	}
	return out, nil
}

// decode reads the request body, validates it against the named schema and
// unmarshals it into dst. An empty body validates as {}.
func (s *schemas) decode(r *http.Request, name string, dst interface{}) error {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.NewInvalidInputError("failed to read request body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return apperrors.NewInvalidInputError("request body is not valid JSON", err)
	}
	if err := s.byName[name].Validate(doc); err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("request body does not match %s", strings.TrimSuffix(name, ".json")), err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return apperrors.NewInvalidInputError("request body has the wrong shape", err)
	}
	return nil
}
