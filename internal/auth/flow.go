package auth

import (
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/pkg/utilities"
)

// FlowState is the position of one login attempt. Each request handles its
// own flow, so attempts never share state.
type FlowState int

const (
	Idle FlowState = iota
	PendingCallback
	Authenticated
	Failed
)

func (s FlowState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingCallback:
		return "pending_callback"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type flow struct {
	id     string
	state  FlowState
	logger *zap.SugaredLogger
}

func (h *Handler) newFlow() *flow {
	id := utilities.NewSnowflakeID()
	return &flow{id: id, state: Idle, logger: h.logger.With("flow", id)}
}

func (f *flow) to(next FlowState) {
	f.logger.Debugw("login flow transition", "from", f.state.String(), "to", next.String())
	f.state = next
}

func (f *flow) fail(reason string, err error) {
	f.to(Failed)
	if err != nil {
		f.logger.Warnw("login failed", "reason", reason, "error", err)
		return
	}
	f.logger.Infow("login failed", "reason", reason)
}
