package aggregate

import (
	"fmt"
	"io"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-json"
)

// Encode serializes doc as indented JSON. It does not modify doc, and
// equal documents always produce identical bytes since object keys are
// emitted in sorted order.
func Encode(doc *openapi3.T) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("encode: nil document")
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return data, nil
}

// WriteDocument encodes doc and writes it to w.
func WriteDocument(w io.Writer, doc *openapi3.T) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write openapi document: %w", err)
	}
	return nil
}
