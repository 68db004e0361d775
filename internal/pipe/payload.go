package pipe

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Control verbs carried by internal payloads
const (
	ControlGreeting    = "greeting"
	ControlGreetingToo = "greeting too"
)

// Payload is the unit of relay traffic. Target "" means broadcast.
type Payload[T any] struct {
	Target   string   `json:"target"`
	From     string   `json:"from"`
	Passing  []string `json:"passing"`
	UUID     string   `json:"uuid"`
	Message  T        `json:"message"`
	Internal bool     `json:"_internal,omitempty"`
	Control  string   `json:"control,omitempty"`
}

// IsGreeting reports whether p is a presence announcement.
func (p Payload[T]) IsGreeting() bool {
	return p.Internal && p.Control == ControlGreeting
}

// withHop returns a copy of p with hop appended to the trail.
// The original trail is never mutated.
func (p Payload[T]) withHop(hop string) Payload[T] {
	passing := make([]string, 0, len(p.Passing)+1)
	passing = append(passing, p.Passing...)
	p.Passing = append(passing, hop)
	return p
}

// randomNonce is the default random uuid component.
func randomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func composeUUID(from, nonce string, at time.Time) string {
	return from + "-" + nonce + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}
