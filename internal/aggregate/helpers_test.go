package aggregate_test

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oasgate/internal/domain"
)

const filesDoc = `{
  "openapi": "3.0.1",
  "info": {"title": "FileStoringService", "version": "v1"},
  "paths": {
    "/api/files/{id}": {
      "get": {
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"$ref": "#/components/schemas/FileId"}}
        ],
        "responses": {
          "200": {"description": "ok", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/File"}}}},
          "404": {"description": "missing", "content": {"application/problem+json": {"schema": {"$ref": "#/components/schemas/Problem"}}}}
        }
      }
    },
    "/api/files": {
      "post": {
        "requestBody": {"content": {"multipart/form-data": {"schema": {"$ref": "#/components/schemas/Upload"}}}},
        "responses": {"201": {"description": "created", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/File"}}}}}
      }
    }
  },
  "components": {
    "schemas": {
      "FileId": {"type": "string", "format": "uuid"},
      "File": {
        "type": "object",
        "properties": {
          "id": {"$ref": "#/components/schemas/FileId"},
          "owner": {"$ref": "#/components/schemas/Owner"},
          "tags": {"type": "array", "items": {"$ref": "#/components/schemas/Tag"}}
        }
      },
      "Owner": {"type": "object", "properties": {"name": {"type": "string"}}},
      "Tag": {"type": "string"},
      "Upload": {"type": "object", "properties": {"file": {"type": "string", "format": "binary"}}},
      "Problem": {"type": "object", "properties": {"title": {"type": "string"}}}
    }
  }
}`

const analysisDoc = `{
  "openapi": "3.0.1",
  "info": {"title": "FileAnalysisService", "version": "v1"},
  "paths": {
    "/api/analysis/{id}": {
      "get": {
        "parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
        "responses": {"200": {"description": "ok", "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Result"}}}}}
      }
    },
    "/api/analysis/plagiarism": {
      "post": {
        "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/File"}}}},
        "responses": {"200": {"description": "ok", "content": {"application/json": {"schema": {"type": "array", "items": {"$ref": "#/components/schemas/Result"}}}}}}
      }
    }
  },
  "components": {
    "schemas": {
      "Result": {"type": "object", "properties": {"words": {"type": "integer"}, "file": {"$ref": "#/components/schemas/File"}}},
      "File": {"type": "object", "properties": {"id": {"type": "string"}}}
    }
  }
}`

var (
	filesSource = domain.SourceDescriptor{
		Key:               "files",
		DisplayName:       "File Storing Service",
		FetchURL:          "http://files/swagger/v1/swagger.json",
		GatewayPathPrefix: "/files/",
		SourcePathPrefix:  "/api/files",
	}
	analysisSource = domain.SourceDescriptor{
		Key:               "analysis",
		DisplayName:       "File Analysis Service",
		FetchURL:          "http://analysis/swagger/v1/swagger.json",
		GatewayPathPrefix: "/analysis",
		SourcePathPrefix:  "/api/analysis",
	}
)

func loadDoc(t *testing.T, data string) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromData([]byte(data))
	require.NoError(t, err)
	return doc
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collectRefs returns every "$ref" value in the JSON form of doc.
func collectRefs(t *testing.T, doc *openapi3.T) []string {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	var tree any
	require.NoError(t, json.Unmarshal(data, &tree))

	var refs []string
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case map[string]any:
			for k, child := range n {
				if s, ok := child.(string); ok && k == "$ref" {
					refs = append(refs, s)
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range n {
				walk(child)
			}
		}
	}
	walk(tree)
	return refs
}

// danglingRefs returns the local schema references in doc whose target is
// not a key of doc.Components.Schemas.
func danglingRefs(t *testing.T, doc *openapi3.T) []string {
	t.Helper()
	var out []string
	for _, ref := range collectRefs(t, doc) {
		name, ok := strings.CutPrefix(ref, "#/components/schemas/")
		if !ok {
			out = append(out, ref)
			continue
		}
		if _, exists := doc.Components.Schemas[name]; !exists {
			out = append(out, ref)
		}
	}
	return out
}
