package export

import (
	"encoding/json"
	"io"

	"github.com/arbiterhq/arbiter/internal/core"
)

// JSONExporter exports sessions to JSON format.
type JSONExporter struct{}

// Export writes the session as JSON.
func (e *JSONExporter) Export(session *core.Session, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(session)
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return "json"
}
