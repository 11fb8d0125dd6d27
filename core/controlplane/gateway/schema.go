package gateway

import (
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const packageRequestSchema = `{
  "type": "object",
  "required": ["brand_key"],
  "additionalProperties": false,
  "properties": {
    "brand_key": {
      "type": "string",
      "pattern": "^[a-z0-9][a-z0-9_-]{0,63}$"
    },
    "endpoint": {
      "type": "string",
      "maxLength": 2048
    }
  }
}`

var compiledPackageRequest = jsonschema.MustCompileString("package-request.json", packageRequestSchema)

// validatePackageRequest checks the raw request body against the package
// request schema before any decoding into typed fields.
func validatePackageRequest(raw json.RawMessage) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := compiledPackageRequest.Validate(payload); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}
