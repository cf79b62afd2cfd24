package aggregate

import (
	"log/slog"
	"maps"
	"slices"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/oasgate/internal/domain"
)

// OpenAPIVersion is the version written to the merged document.
const OpenAPIVersion = "3.0.1"

// Accumulator builds the merged document from one source at a time.
// Schema and path keys, once inserted, are never replaced.
type Accumulator struct {
	doc    *openapi3.T
	mode   RewriteMode
	logger *slog.Logger
}

// MergeResult reports what a single Merge call contributed.
type MergeResult struct {
	Schemas        int
	Paths          int
	DroppedSchemas []string
	DroppedPaths   []string
	Rewrite        RewriteStats
}

// NewAccumulator returns an accumulator holding an empty document with the
// given info and a single server entry for the gateway's own origin.
func NewAccumulator(info *openapi3.Info, mode RewriteMode, logger *slog.Logger) *Accumulator {
	if info == nil {
		info = &openapi3.Info{Title: "Aggregated API", Version: "v1"}
	}
	return &Accumulator{
		doc: &openapi3.T{
			OpenAPI:    OpenAPIVersion,
			Info:       info,
			Paths:      openapi3.NewPaths(),
			Components: &openapi3.Components{Schemas: openapi3.Schemas{}},
			Servers:    openapi3.Servers{&openapi3.Server{URL: "/"}},
		},
		mode:   mode,
		logger: logger.With("component", "accumulator"),
	}
}

// Merge namespaces, rewrites and path-maps doc on behalf of src and applies
// it to the merged document. doc is modified in place and must not be
// reused afterwards.
//
// A mapped path that is already present is dropped: the first source to
// claim a path keeps it. Within one source, paths are applied in sorted
// order so that two raw paths mapping to the same key resolve the same way
// on every run.
func (a *Accumulator) Merge(src domain.SourceDescriptor, doc *openapi3.T) MergeResult {
	var res MergeResult
	if doc == nil {
		return res
	}
	log := a.logger.With(slog.String("source", src.Key))

	table, schemas := Namespace(src.Key, doc)
	res.Rewrite = Rewrite(doc, table, a.mode)

	for _, name := range slices.Sorted(maps.Keys(schemas)) {
		if _, exists := a.doc.Components.Schemas[name]; exists {
			log.Warn("Namespaced schema already present, keeping first", slog.String("schema", name))
			res.DroppedSchemas = append(res.DroppedSchemas, name)
			continue
		}
		a.doc.Components.Schemas[name] = schemas[name]
		res.Schemas++
	}

	if doc.Paths != nil {
		raw := doc.Paths.Map()
		for _, p := range slices.Sorted(maps.Keys(raw)) {
			item := raw[p]
			if item == nil {
				continue
			}
			mapped := MapPath(p, src)
			if a.doc.Paths.Value(mapped) != nil {
				log.Debug("Path already claimed, dropping", slog.String("path", p), slog.String("mapped_path", mapped))
				res.DroppedPaths = append(res.DroppedPaths, mapped)
				continue
			}
			a.doc.Paths.Set(mapped, item)
			res.Paths++
		}
	}

	log.Debug("Merged source",
		slog.Int("schemas", res.Schemas),
		slog.Int("paths", res.Paths),
		slog.Int("dropped_paths", len(res.DroppedPaths)),
		slog.Int("rewritten_refs", res.Rewrite.Rewritten),
		slog.Int("inlined_refs", res.Rewrite.Inlined))
	return res
}

// Document returns the merged document. The accumulator must not be used
// after the document has been handed to a caller.
func (a *Accumulator) Document() *openapi3.T {
	return a.doc
}
