package gateway

import (
	"encoding/json"
	"fmt"
)

// Subscription control actions decoded from client frames.
const (
	ActionSubscribe   = "SUBSCRIBE_CHANNEL"
	ActionUnsubscribe = "UNSUBSCRIBE_CHANNEL"
	ActionPing        = "PING"
)

// ControlFrame is the inbound subscription control message.
type ControlFrame struct {
	Action     string `json:"action"`
	ChannelKey string `json:"channel_key,omitempty"`
}

// ParseControlFrame decodes and validates one client frame.
func ParseControlFrame(data []byte) (ControlFrame, error) {
	var frame ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ControlFrame{}, fmt.Errorf("decode control frame: %w", err)
	}

	switch frame.Action {
	case ActionSubscribe, ActionUnsubscribe:
		if frame.ChannelKey == "" {
			return ControlFrame{}, fmt.Errorf("%s requires channel_key", frame.Action)
		}
	case ActionPing:
	default:
		return ControlFrame{}, fmt.Errorf("unknown action %q", frame.Action)
	}
	return frame, nil
}
