package steady

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
)

// Schema returns JSON schema of persisted snapshot
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&Snapshot{})
	schema.Title = "Steady-state snapshot"
	schema.Description = "Persisted steady-state inputs, outputs and UI selections"
	return schema
}

// WriteSchema writes indented snapshot schema to fname
func WriteSchema(fname string) error {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	if err := os.WriteFile(fname, data, 0o600); err != nil { //nolint:gosec // schema file is not sensitive
		return fmt.Errorf("failed to write schema file: %w", err)
	}
	return nil
}
