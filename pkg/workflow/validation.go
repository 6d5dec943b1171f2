package workflow

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/doulaflow/doulaflow/pkg/models"
)

// ValidationResult is the outcome of structural workflow validation. Errors
// block activation; warnings do not.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.IsValid = false
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Per-step-type config schemas. Unknown fields are rejected so typos in
// builder payloads surface at save time instead of silently doing nothing.
var stepConfigSchemas = map[models.StepType]string{
	models.StepTypeSendEmail: `{
		"type": "object",
		"properties": {
			"template_id": {"type": "string", "minLength": 1},
			"recipient": {"type": "string"},
			"variables": {"type": "object", "additionalProperties": {"type": "string"}},
			"best_effort": {"type": "boolean"}
		},
		"required": ["template_id"],
		"additionalProperties": false
	}`,
	models.StepTypeSendSMS: `{
		"type": "object",
		"properties": {
			"body": {"type": "string", "minLength": 1},
			"to": {"type": "string"},
			"best_effort": {"type": "boolean"}
		},
		"required": ["body"],
		"additionalProperties": false
	}`,
	models.StepTypeSendMessage: `{
		"type": "object",
		"properties": {
			"body": {"type": "string", "minLength": 1},
			"channel": {"type": "string"},
			"best_effort": {"type": "boolean"}
		},
		"required": ["body"],
		"additionalProperties": false
	}`,
	models.StepTypeCreateTask: `{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"due_in_days": {"type": "integer", "minimum": 0},
			"assignee": {"type": "string"}
		},
		"required": ["title"],
		"additionalProperties": false
	}`,
	models.StepTypeUpdateField: `{
		"type": "object",
		"properties": {
			"field": {"type": "string", "minLength": 1},
			"value": {}
		},
		"required": ["field"],
		"additionalProperties": false
	}`,
	models.StepTypeCreateRecord: `{
		"type": "object",
		"properties": {
			"record_type": {"type": "string", "minLength": 1},
			"fields": {"type": "object"}
		},
		"required": ["record_type"],
		"additionalProperties": false
	}`,
	models.StepTypeWait: `{
		"type": "object",
		"properties": {
			"duration_minutes": {"type": "integer", "minimum": 1},
			"until": {"type": "string"},
			"description": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	models.StepTypeDecision: `{
		"type": "object",
		"properties": {
			"condition": {"type": "string", "minLength": 1},
			"on_true": {"type": "string", "minLength": 1},
			"on_false": {"type": "string", "minLength": 1}
		},
		"required": ["condition", "on_true", "on_false"],
		"additionalProperties": false
	}`,
	models.StepTypeWebhook: `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "minLength": 1, "format": "uri"},
			"method": {"type": "string"},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"payload": {"type": "object"}
		},
		"required": ["url"],
		"additionalProperties": false
	}`,
}

var compiledStepSchemas = compileStepSchemas()

func compileStepSchemas() map[models.StepType]*gojsonschema.Schema {
	compiled := make(map[models.StepType]*gojsonschema.Schema, len(stepConfigSchemas))

	for stepType, raw := range stepConfigSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid step schema for %s: %v", stepType, err))
		}

		compiled[stepType] = schema
	}

	return compiled
}

// ValidateWorkflow performs the structural checks that gate activation:
// exactly one trigger, resolvable step references, reachability, an end on
// some reachable path, and per-step-type required configuration.
func ValidateWorkflow(workflow *models.Workflow) *ValidationResult {
	result := &ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}

	if len(workflow.Steps) == 0 {
		result.addError("workflow has no steps")

		return result
	}

	validateTrigger(workflow, result)
	validateStepKeys(workflow, result)
	validateStepConfigs(workflow, result)
	validateReferences(workflow, result)
	validateReachability(workflow, result)

	if workflow.EntryCriteria.IsEmpty() && workflow.TriggerType != models.TriggerTypeManual &&
		workflow.TriggerType != models.TriggerTypeScheduled {
		result.addWarning("no entry criteria set: every %s record will enter this workflow", workflow.ObjectType)
	}

	return result
}

func validateTrigger(workflow *models.Workflow, result *ValidationResult) {
	triggers := 0

	for _, step := range workflow.Steps {
		if step.StepType == models.StepTypeTrigger {
			triggers++
		}
	}

	switch {
	case triggers == 0:
		result.addError("workflow has no trigger step")
	case triggers > 1:
		result.addError("workflow has %d trigger steps, want exactly one", triggers)
	}

	if workflow.TriggerType == models.TriggerTypeScheduled {
		if workflow.TriggerConfig.Cron == "" {
			result.addError("scheduled workflow has no cron expression")
		} else if _, err := cron.ParseStandard(workflow.TriggerConfig.Cron); err != nil {
			result.addError("invalid cron expression %q: %v", workflow.TriggerConfig.Cron, err)
		}
	}

	if workflow.TriggerType == models.TriggerTypeFieldChange && workflow.TriggerConfig.Field == "" {
		result.addError("field_change workflow has no watched field")
	}
}

func validateStepKeys(workflow *models.Workflow, result *ValidationResult) {
	seen := make(map[string]bool, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if step.StepKey == "" {
			result.addError("step of type %s has an empty step key", step.StepType)

			continue
		}

		if seen[step.StepKey] {
			result.addError("duplicate step key %q", step.StepKey)
		}

		seen[step.StepKey] = true
	}
}

func validateStepConfigs(workflow *models.Workflow, result *ValidationResult) {
	for _, step := range workflow.Steps {
		schema, hasSchema := compiledStepSchemas[step.StepType]
		if !hasSchema {
			if step.StepType != models.StepTypeTrigger && step.StepType != models.StepTypeEnd {
				result.addError("step %q has unknown type %q", step.StepKey, step.StepType)
			}

			continue
		}

		raw := step.StepConfig
		if len(raw) == 0 {
			raw = []byte(`{}`)
		}

		outcome, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			result.addError("step %q has malformed config: %v", step.StepKey, err)

			continue
		}

		for _, schemaErr := range outcome.Errors() {
			result.addError("step %q config: %s", step.StepKey, schemaErr.String())
		}

		if step.StepType == models.StepTypeWait {
			config, err := step.WaitConfig()
			if err != nil || (config.DurationMinutes <= 0 && config.Until == "") {
				result.addError("step %q needs a duration or a target time", step.StepKey)
			}
		}
	}
}

func validateReferences(workflow *models.Workflow, result *ValidationResult) {
	for _, step := range workflow.Steps {
		for _, successor := range step.SuccessorKeys() {
			if _, found := workflow.StepByKey(successor); !found {
				result.addError("step %q references missing step %q", step.StepKey, successor)
			}
		}
	}
}

func validateReachability(workflow *models.Workflow, result *ValidationResult) {
	trigger := workflow.TriggerStep()
	if trigger == nil {
		return // Already reported by validateTrigger
	}

	reachable := map[string]bool{trigger.StepKey: true}
	frontier := []string{trigger.StepKey}

	for len(frontier) > 0 {
		key := frontier[0]
		frontier = frontier[1:]

		step, found := workflow.StepByKey(key)
		if !found {
			continue
		}

		for _, successor := range step.SuccessorKeys() {
			if !reachable[successor] {
				reachable[successor] = true
				frontier = append(frontier, successor)
			}
		}
	}

	endReachable := false

	for _, step := range workflow.Steps {
		if !reachable[step.StepKey] {
			result.addWarning("step %q is unreachable from the trigger", step.StepKey)

			continue
		}

		if step.StepType == models.StepTypeEnd {
			endReachable = true
		}
	}

	if !endReachable {
		result.addError("no end step is reachable from the trigger")
	}
}
