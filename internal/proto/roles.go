package proto

import (
	"encoding/json"
	"fmt"

	"github.com/SWAI-Ltd/ctxpipe/internal/pipe"
)

// Endpoint roles, one per execution context
const (
	RoleBackground    = "BACKGROUND"
	RoleContentScript = "CONTENT_SCRIPT"
	RolePopup         = "POPUP"
	RoleSidePanel     = "SIDE_PANEL"
	RoleOptions       = "OPTIONS"
	RoleDevtools      = "DEVTOOLS"
	RoleUserScript    = "USER_SCRIPT"
)

// KnownRoles returns all registered role names
func KnownRoles() []string {
	return []string{
		RoleBackground, RoleContentScript, RolePopup, RoleSidePanel,
		RoleOptions, RoleDevtools, RoleUserScript,
	}
}

// ValidateRole checks that role is one of KnownRoles
func ValidateRole(role string) error {
	for _, r := range KnownRoles() {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("unknown role: %q", role)
}

// NewPayloadFrame wraps a relay payload for the wire
func NewPayloadFrame(pl pipe.Payload[string]) (*Frame, error) {
	raw, err := json.Marshal(pl)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Frame{Type: FrameTypePayload, Payload: raw}, nil
}

// DecodePayload parses a payload frame body and checks it is well formed
// enough to hand to a pipe.
func DecodePayload(raw json.RawMessage) (pipe.Payload[string], error) {
	var pl pipe.Payload[string]
	if err := json.Unmarshal(raw, &pl); err != nil {
		return pl, fmt.Errorf("invalid payload: %w", err)
	}
	if pl.UUID == "" {
		return pl, fmt.Errorf("payload.uuid required")
	}
	if err := ValidateRole(pl.From); err != nil {
		return pl, fmt.Errorf("payload.from: %w", err)
	}
	if pl.Target != "" {
		if err := ValidateRole(pl.Target); err != nil {
			return pl, fmt.Errorf("payload.target: %w", err)
		}
	}
	for _, hop := range pl.Passing {
		if err := ValidateRole(hop); err != nil {
			return pl, fmt.Errorf("payload.passing: %w", err)
		}
	}
	if pl.Internal && pl.Control != pipe.ControlGreeting && pl.Control != pipe.ControlGreetingToo {
		return pl, fmt.Errorf("unknown control %q", pl.Control)
	}
	return pl, nil
}
