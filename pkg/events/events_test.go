package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordEvent_ChangedField(t *testing.T) {
	event := RecordEvent{
		OldValues: map[string]any{
			"status": "new",
			"source": "web",
		},
		NewValues: map[string]any{
			"status": "contacted",
			"source": "web",
			"owner":  "user-1",
		},
	}

	assert.True(t, event.ChangedField("status"))
	assert.False(t, event.ChangedField("source"))
	assert.True(t, event.ChangedField("owner"), "field appearing in the new snapshot counts as changed")
	assert.False(t, event.ChangedField("missing"))
}

func TestRecordEvent_ChangedField_ObjectValues(t *testing.T) {
	event := RecordEvent{
		OldValues: map[string]any{
			"address": map[string]any{"city": "Portland", "zip": "97201"},
			"tags":    []any{"vip", "referral"},
		},
		NewValues: map[string]any{
			"address": map[string]any{"city": "Portland", "zip": "97209"},
			"tags":    []any{"vip", "referral"},
		},
	}

	assert.True(t, event.ChangedField("address"))
	assert.False(t, event.ChangedField("tags"))
}
