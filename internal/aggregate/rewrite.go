package aggregate

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// RewriteMode selects which schema references Rewrite visits.
type RewriteMode string

const (
	// RewriteOperations visits only the top-level schema of operation
	// parameters, request bodies and responses. References nested inside
	// schema bodies keep their original target, which no longer exists
	// once the source's schemas are namespaced.
	RewriteOperations RewriteMode = "operations"
	// RewriteDeep walks the whole document, component schemas included,
	// and inlines local references to non-schema components, which are
	// not carried into the merged document.
	RewriteDeep RewriteMode = "deep"
)

// ParseRewriteMode validates a configured mode. Empty selects RewriteDeep.
func ParseRewriteMode(s string) (RewriteMode, error) {
	switch RewriteMode(strings.ToLower(s)) {
	case "", RewriteDeep:
		return RewriteDeep, nil
	case RewriteOperations:
		return RewriteOperations, nil
	}
	return "", fmt.Errorf("unknown rewrite mode %q (want %q or %q)", s, RewriteOperations, RewriteDeep)
}

// RewriteStats counts the changes made by Rewrite.
type RewriteStats struct {
	Rewritten int // schema references renamed
	Inlined   int // component references replaced by their value
}

// Rewrite updates schema references in doc in place according to table.
// References whose target is not in table are left unchanged. Every
// reference node is visited at most once, so shared nodes are not renamed
// twice.
func Rewrite(doc *openapi3.T, table RenameTable, mode RewriteMode) RewriteStats {
	if doc == nil {
		return RewriteStats{}
	}
	w := &refWalker{
		table:       table,
		deep:        mode == RewriteDeep,
		seenRefs:    make(map[*openapi3.SchemaRef]struct{}),
		seenSchemas: make(map[*openapi3.Schema]struct{}),
	}
	if w.deep && doc.Components != nil {
		for _, ref := range doc.Components.Schemas {
			w.schemaRef(ref)
		}
	}
	if doc.Paths != nil {
		for _, item := range doc.Paths.Map() {
			w.pathItem(item)
		}
	}
	return w.stats
}

type refWalker struct {
	table       RenameTable
	deep        bool
	seenRefs    map[*openapi3.SchemaRef]struct{}
	seenSchemas map[*openapi3.Schema]struct{}
	stats       RewriteStats
}

func (w *refWalker) pathItem(item *openapi3.PathItem) {
	if item == nil {
		return
	}
	if w.deep {
		w.parameters(item.Parameters)
	}
	for _, op := range item.Operations() {
		w.operation(op)
	}
}

func (w *refWalker) operation(op *openapi3.Operation) {
	if op == nil {
		return
	}
	w.parameters(op.Parameters)

	if rb := op.RequestBody; rb != nil {
		w.inline(&rb.Ref)
		if rb.Value != nil {
			w.content(rb.Value.Content)
		}
	}

	if op.Responses != nil {
		for _, resp := range op.Responses.Map() {
			if resp == nil {
				continue
			}
			w.inline(&resp.Ref)
			if resp.Value == nil {
				continue
			}
			w.content(resp.Value.Content)
			if w.deep {
				for _, h := range resp.Value.Headers {
					if h == nil {
						continue
					}
					w.inline(&h.Ref)
					if h.Value != nil {
						w.schemaRef(h.Value.Schema)
						w.content(h.Value.Content)
					}
				}
			}
		}
	}

	if w.deep {
		for _, cb := range op.Callbacks {
			if cb == nil {
				continue
			}
			w.inline(&cb.Ref)
			if cb.Value != nil {
				for _, item := range cb.Value.Map() {
					w.pathItem(item)
				}
			}
		}
	}
}

func (w *refWalker) parameters(params openapi3.Parameters) {
	for _, p := range params {
		if p == nil {
			continue
		}
		w.inline(&p.Ref)
		if p.Value == nil {
			continue
		}
		w.schemaRef(p.Value.Schema)
		if w.deep {
			w.content(p.Value.Content)
		}
	}
}

func (w *refWalker) content(content openapi3.Content) {
	for _, mt := range content {
		if mt != nil {
			w.schemaRef(mt.Schema)
		}
	}
}

// inline clears a local component reference so that the resolved value is
// emitted in its place. Only applies in deep mode.
func (w *refWalker) inline(ref *string) {
	if !w.deep || !strings.HasPrefix(*ref, "#/components/") {
		return
	}
	*ref = ""
	w.stats.Inlined++
}

func (w *refWalker) schemaRef(ref *openapi3.SchemaRef) {
	if ref == nil {
		return
	}
	if _, ok := w.seenRefs[ref]; ok {
		return
	}
	w.seenRefs[ref] = struct{}{}

	if ref.Ref != "" {
		if newRef, ok := w.table.Resolve(ref.Ref); ok {
			ref.Ref = newRef
			w.stats.Rewritten++
		}
		// The target body is reached through the components walk.
		return
	}
	if w.deep {
		w.schema(ref.Value)
	}
}

func (w *refWalker) schema(s *openapi3.Schema) {
	if s == nil {
		return
	}
	if _, ok := w.seenSchemas[s]; ok {
		return
	}
	w.seenSchemas[s] = struct{}{}

	for _, p := range s.Properties {
		w.schemaRef(p)
	}
	w.schemaRef(s.Items)
	w.schemaRef(s.Not)
	w.schemaRef(s.AdditionalProperties.Schema)
	for _, list := range []openapi3.SchemaRefs{s.AllOf, s.AnyOf, s.OneOf} {
		for _, r := range list {
			w.schemaRef(r)
		}
	}
	if d := s.Discriminator; d != nil {
		for k, v := range d.Mapping {
			if newRef, ok := w.table.Resolve(v); ok {
				d.Mapping[k] = newRef
				w.stats.Rewritten++
			}
		}
	}
}
