package tools

import (
	"encoding/json"
)

// validateArgs decodes args to a generic value and validates it against
// the tool's schema, returning a BadArgs error (including for unknown
// fields, since every built-in tool schema sets
// additionalProperties: false) on failure.
func validateArgs(t *registered, args json.RawMessage) (any, error) {
	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, NewError(ErrorKindBadArgs, "malformed json: "+err.Error())
	}
	if err := t.schema.Validate(decoded); err != nil {
		return nil, NewError(ErrorKindBadArgs, "schema validation failed: "+err.Error())
	}
	return decoded, nil
}
