package automation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowlane/flowlane/pkg/models"
)

// JSON schemas for step configs, enforced at authoring time so the executor
// can assume shape and only needs to validate values.
var stepConfigSchemas = map[models.StepType]string{
	models.StepTypeSendEmail: `{
		"type": "object",
		"properties": {
			"subject": {"type": "string", "minLength": 1},
			"body":    {"type": "string"}
		},
		"required": ["subject"]
	}`,
	models.StepTypeWait: `{
		"type": "object",
		"properties": {
			"wait_type":      {"type": "string", "enum": ["duration", "until_time", "until_date"]},
			"duration_value": {"type": "number", "minimum": 0},
			"duration_unit":  {"type": "string", "enum": ["minutes", "hours", "days", "weeks"]},
			"time":           {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"},
			"field":          {"type": "string"}
		}
	}`,
	models.StepTypeCondition: `{
		"type": "object",
		"properties": {
			"kind": {"type": "string", "enum": ["has_tag", "in_list", "field_value", "email_opened", "link_clicked"]},
			"tag":      {"type": "string"},
			"list_id":  {"type": ["integer", "string"]},
			"field":    {"type": "string"},
			"operator": {"type": "string"},
			"value":    {},
			"step_id":  {"type": "string"}
		},
		"required": ["kind"]
	}`,
	models.StepTypeAddTag: `{
		"type": "object",
		"properties": {"tag": {"type": "string", "minLength": 1}},
		"required": ["tag"]
	}`,
	models.StepTypeRemoveTag: `{
		"type": "object",
		"properties": {"tag": {"type": "string", "minLength": 1}},
		"required": ["tag"]
	}`,
	models.StepTypeAddToList: `{
		"type": "object",
		"properties": {"list_id": {"type": ["integer", "string"]}},
		"required": ["list_id"]
	}`,
	models.StepTypeRemoveFromList: `{
		"type": "object",
		"properties": {"list_id": {"type": ["integer", "string"]}},
		"required": ["list_id"]
	}`,
	models.StepTypeUpdateField: `{
		"type": "object",
		"properties": {
			"field": {"type": "string", "minLength": 1},
			"value": {"type": "string"}
		},
		"required": ["field"]
	}`,
	models.StepTypeWebhook: `{
		"type": "object",
		"properties": {
			"url":     {"type": "string", "minLength": 1},
			"method":  {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
			"payload": {"type": "object"}
		},
		"required": ["url"]
	}`,
	models.StepTypeGoal: `{
		"type": "object",
		"properties": {"condition": {"type": "object"}}
	}`,
	models.StepTypeExit: `{
		"type": "object"
	}`,
}

// validateStepConfig checks one step's config against its type schema.
func validateStepConfig(step *models.AutomationStep) error {
	schema, ok := stepConfigSchemas[step.Type]
	if !ok {
		return fmt.Errorf("step %s has unknown type %q", step.ID, step.Type)
	}

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("failed to validate step %s config: %w", step.ID, err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("step %s config is invalid: %s", step.ID, strings.Join(messages, "; "))
	}

	return nil
}
