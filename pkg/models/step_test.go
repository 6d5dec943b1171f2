package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestWorkflowStep_DecodeConfig(t *testing.T) {
	step := &WorkflowStep{
		StepKey:  "welcome-email",
		StepType: StepTypeSendEmail,
		StepConfig: MustConfig(EmailConfig{
			TemplateID: "tmpl-welcome",
			Recipient:  "{{.record.email}}",
			BestEffort: true,
		}),
	}

	config, err := step.DecodeConfig()
	require.NoError(t, err)

	emailConfig, ok := config.(*EmailConfig)
	require.True(t, ok)
	assert.Equal(t, "tmpl-welcome", emailConfig.TemplateID)
	assert.True(t, emailConfig.BestEffort)
}

func TestWorkflowStep_DecodeConfig_UnknownType(t *testing.T) {
	step := &WorkflowStep{StepKey: "x", StepType: "teleport"}

	_, err := step.DecodeConfig()
	require.ErrorIs(t, err, ErrUnknownStepType)
}

func TestWorkflowStep_DecisionConfigTypeMismatch(t *testing.T) {
	step := &WorkflowStep{StepKey: "wait-1", StepType: StepTypeWait}

	_, err := step.DecisionConfig()
	require.ErrorIs(t, err, ErrConfigMismatch)
}

func TestWorkflowStep_SuccessorKeys(t *testing.T) {
	decision := &WorkflowStep{
		StepKey:  "check-source",
		StepType: StepTypeDecision,
		StepConfig: MustConfig(DecisionConfig{
			Condition: `record.source == "web"`,
			OnTrue:    "send-web-email",
			OnFalse:   "create-followup-task",
		}),
	}

	assert.ElementsMatch(t, []string{"send-web-email", "create-followup-task"}, decision.SuccessorKeys())

	linear := &WorkflowStep{
		StepKey:     "send-sms",
		StepType:    StepTypeSendSMS,
		NextStepKey: strPtr("end"),
	}

	assert.Equal(t, []string{"end"}, linear.SuccessorKeys())

	terminal := &WorkflowStep{StepKey: "end", StepType: StepTypeEnd}
	assert.Empty(t, terminal.SuccessorKeys())
	assert.True(t, terminal.IsTerminal())
}

func TestWaitConfig_Delay(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	byDuration := WaitConfig{DurationMinutes: 90}
	target, err := byDuration.Delay(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), target)

	byTimestamp := WaitConfig{Until: "2026-03-12T08:00:00Z"}
	target, err = byTimestamp.Delay(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC), target)

	_, err = WaitConfig{Until: "next tuesday"}.Delay(now)
	require.Error(t, err)
}

func TestWorkflow_StepLookup(t *testing.T) {
	workflow := &Workflow{
		ID:   "wf-1",
		Name: "Lead nurture",
		Steps: []*WorkflowStep{
			{StepKey: "trigger", StepType: StepTypeTrigger, NextStepKey: strPtr("hello")},
			{StepKey: "hello", StepType: StepTypeSendEmail, NextStepKey: strPtr("end")},
			{StepKey: "end", StepType: StepTypeEnd},
		},
	}

	trigger := workflow.TriggerStep()
	require.NotNil(t, trigger)
	assert.Equal(t, "trigger", trigger.StepKey)

	step, found := workflow.StepByKey("hello")
	require.True(t, found)
	assert.Equal(t, StepTypeSendEmail, step.StepType)

	_, found = workflow.StepByKey("missing")
	assert.False(t, found)
}
