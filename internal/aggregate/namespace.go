// Package aggregate merges OpenAPI documents from several sources into a
// single gateway document.
//
// The steps for one source are: Namespace builds the RenameTable and the
// renamed schemas, Rewrite updates schema references in the source tree,
// MapPath moves every route under the gateway prefix, and an Accumulator
// applies the result to the merged document. Sources must be applied to an
// Accumulator one at a time; it is not safe for concurrent use.
package aggregate

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const schemaRefPrefix = "#/components/schemas/"

// RenameTable maps a source's original schema names to namespaced names.
// It is scoped to one source.
type RenameTable map[string]string

// NamespacedName returns the merged-document name of schema name from the
// source with the given key.
func NamespacedName(key, name string) string {
	return key + "_" + name
}

// Namespace builds the rename table for one source and returns the
// source's schemas keyed by their namespaced names. Schema bodies are not
// copied; the returned map shares them with doc.
func Namespace(key string, doc *openapi3.T) (RenameTable, openapi3.Schemas) {
	table := RenameTable{}
	renamed := openapi3.Schemas{}
	if doc == nil || doc.Components == nil {
		return table, renamed
	}
	for name, ref := range doc.Components.Schemas {
		newName := NamespacedName(key, name)
		table[name] = newName
		renamed[newName] = ref
	}
	return table, renamed
}

// Resolve returns the rewritten form of a "$ref" value. Only local schema
// references whose target is in the table are rewritten.
func (t RenameTable) Resolve(ref string) (string, bool) {
	if !strings.HasPrefix(ref, schemaRefPrefix) {
		return ref, false
	}
	name := unescapeToken(ref[len(schemaRefPrefix):])
	newName, ok := t[name]
	if !ok {
		return ref, false
	}
	return schemaRefPrefix + escapeToken(newName), true
}

// JSON pointer token escaping (RFC 6901).
func unescapeToken(s string) string {
	if !strings.Contains(s, "~") {
		return s
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "~1", "/"), "~0", "~")
}

func escapeToken(s string) string {
	if !strings.ContainsAny(s, "~/") {
		return s
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}
