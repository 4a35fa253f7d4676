package registry

import "time"

// State is the agent handshake state (spec §3, §4.2).
type State int

const (
	Unauthenticated State = iota
	ChallengePending
	Ready
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case ChallengePending:
		return "CHALLENGE_PENDING"
	case Ready:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// Conn is the minimal sendable-connection contract the registry needs.
// The gateway's websocket wrapper implements this; the registry never
// imports gorilla/websocket directly.
type Conn interface {
	Send(v interface{}) error
	Close() error
	RemoteAddr() string
}

// Agent is a connected sentinel (spec §3 data model).
type Agent struct {
	ID           string
	Layer        string
	Priority     int
	Capabilities map[string]bool
	Selectors    map[string]bool
	State        State
	Nonce        string
	LastSeen     time.Time
	Conn         Conn
}

// HasCapability reports whether the agent advertised tag.
func (a *Agent) HasCapability(tag string) bool {
	return a.Capabilities[tag]
}

// Summary is the read-only projection broadcast to peers and exposed over
// /health (spec §4.2 "informs the peer of each currently READY agent").
type Summary struct {
	ID           string   `json:"id"`
	Layer        string   `json:"layer"`
	Priority     int      `json:"priority"`
	Capabilities []string `json:"capabilities"`
}

func (a *Agent) Summary() Summary {
	caps := make([]string, 0, len(a.Capabilities))
	for c := range a.Capabilities {
		caps = append(caps, c)
	}
	return Summary{ID: a.ID, Layer: a.Layer, Priority: a.Priority, Capabilities: caps}
}
