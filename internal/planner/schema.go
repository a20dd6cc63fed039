package planner

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planResponseSchema constrains the planner LLM's raw JSON output before
// it is decoded into a models.Plan (§9 "dynamically typed plans →
// tagged variants with an explicit schema").
const planResponseSchema = `{
  "type": "object",
  "required": ["needs_plan"],
  "properties": {
    "needs_plan": { "type": "boolean" },
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": { "enum": ["tool", "respond", "wait_user"] },
          "tool_name": { "type": "string" },
          "tool_args": {},
          "draft": { "type": "string" },
          "question": { "type": "string" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

func compilePlanResponseSchema() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(planResponseSchema), &doc); err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan_response.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("plan_response.json")
}

// rawPlanResponse is the decode target for validated planner LLM output.
type rawPlanResponse struct {
	NeedsPlan bool      `json:"needs_plan"`
	Steps     []rawStep `json:"steps,omitempty"`
}

type rawStep struct {
	Kind     string          `json:"kind"`
	ToolName string          `json:"tool_name,omitempty"`
	ToolArgs json.RawMessage `json:"tool_args,omitempty"`
	Draft    string          `json:"draft,omitempty"`
	Question string          `json:"question,omitempty"`
}
