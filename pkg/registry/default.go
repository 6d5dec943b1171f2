package registry

import (
	"log/slog"

	"github.com/doulaflow/doulaflow/pkg/senders"
	"github.com/doulaflow/doulaflow/pkg/steps/decision"
	"github.com/doulaflow/doulaflow/pkg/steps/end"
	"github.com/doulaflow/doulaflow/pkg/steps/mutate"
	"github.com/doulaflow/doulaflow/pkg/steps/send"
	"github.com/doulaflow/doulaflow/pkg/steps/wait"
	"github.com/doulaflow/doulaflow/pkg/steps/webhook"
)

// NewDefaultRegistry wires every built-in step handler against the given
// outbound dependencies.
func NewDefaultRegistry(logger *slog.Logger, deps senders.Senders) *Registry {
	r := NewRegistry(logger)

	r.Register(send.NewEmailHandler(deps.Email))
	r.Register(send.NewSMSHandler(deps.SMS))
	r.Register(send.NewMessageHandler(deps.Message))
	r.Register(mutate.NewTaskHandler(deps.Tasks))
	r.Register(mutate.NewFieldUpdateHandler(deps.Records))
	r.Register(mutate.NewRecordHandler(deps.Records))
	r.Register(wait.NewHandler())
	r.Register(decision.NewHandler())
	r.Register(webhook.NewHandler())
	r.Register(end.NewHandler())

	return r
}
