package domain

import "github.com/getkin/kin-openapi/openapi3"

// SchemaFormat identifies the description format a source published.
type SchemaFormat string

const (
	SchemaFormatOpenAPI3 SchemaFormat = "openapi3"
	SchemaFormatSwagger2 SchemaFormat = "swagger2" // upconverted to OpenAPI 3 on fetch
)

// APISchema represents one fetched API description before it is merged.
// It is scoped to the processing of a single source and discarded afterwards.
type APISchema struct {
	// Source is the key of the SourceDescriptor this schema was fetched for.
	Source string
	// URL is the URL the document was actually read from. It differs from
	// the descriptor's FetchURL when auto-discovery resolved another path.
	URL string
	// Format is the format the source published, before any conversion.
	Format SchemaFormat
	// RawData holds the unprocessed response body.
	RawData []byte
	// Document is the parsed OpenAPI 3 document. Internal references are
	// resolved by the loader, so SchemaRef.Value is populated alongside Ref.
	Document *openapi3.T
}
