// Package beacon sends best-effort UDP synchronization beacons. A beacon
// is one ASCII datagram marking a lifecycle instant so it can be located
// later inside a packet capture. There is no acknowledgment and no retry:
// a lost beacon degrades correlation, never correctness.
package beacon

import (
	"fmt"
	"net"
	"strings"
	"sync/atomic"
)

// Lifecycle phases carried in beacon payloads.
const (
	PhaseGlobalStart = "global_start"
	PhaseReplayPre   = "replay_pre"
	PhaseReplayStart = "replay_start"
	PhaseReplayEnd   = "replay_end"
)

const payloadPrefix = "SYNC_BEACON"

// Message is a parsed beacon payload.
type Message struct {
	Phase    string
	ReplayID string
}

// Payload builds the wire form: SYNC_BEACON|<phase> or
// SYNC_BEACON|<phase>|<replay_id>.
func Payload(phase, replayID string) string {
	if replayID == "" {
		return payloadPrefix + "|" + phase
	}
	return payloadPrefix + "|" + phase + "|" + replayID
}

// ParsePayload decodes a datagram payload. Capture-analysis tools use it
// to pick beacons out of a packet stream.
func ParsePayload(s string) (Message, error) {
	parts := strings.Split(s, "|")
	if parts[0] != payloadPrefix || len(parts) < 2 || len(parts) > 3 {
		return Message{}, fmt.Errorf("not a sync beacon: %q", s)
	}
	// An empty phase or replay field is a truncated datagram, not a
	// beacon the analysis tools could ever correlate on.
	if parts[1] == "" || (len(parts) == 3 && parts[2] == "") {
		return Message{}, fmt.Errorf("sync beacon with empty field: %q", s)
	}
	m := Message{Phase: parts[1]}
	if len(parts) == 3 {
		m.ReplayID = parts[2]
	}
	return m, nil
}

// IsBeacon reports whether a payload looks like a sync beacon.
func IsBeacon(payload []byte) bool {
	return strings.HasPrefix(string(payload), payloadPrefix+"|")
}

// Emitter sends beacons to a fixed destination. Emit is synchronous so the
// datagram is on the wire at the logical instant being marked; callers
// treat a returned error as advisory and keep going.
type Emitter struct {
	conn   net.Conn
	sent   atomic.Int64
	failed atomic.Int64
}

// NewEmitter dials the UDP destination (host:port). Dialing a UDP address
// does not contact the peer, so this only fails on bad addresses.
func NewEmitter(addr string) (*Emitter, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial beacon destination %s: %w", addr, err)
	}
	return &Emitter{conn: conn}, nil
}

// Emit sends one datagram for the given phase. An empty replayID omits the
// trailing field.
func (e *Emitter) Emit(phase, replayID string) error {
	_, err := e.conn.Write([]byte(Payload(phase, replayID)))
	if err != nil {
		e.failed.Add(1)
		return fmt.Errorf("failed to send %s beacon: %w", phase, err)
	}
	e.sent.Add(1)
	return nil
}

// Sent returns the number of datagrams handed to the network.
func (e *Emitter) Sent() int64 {
	return e.sent.Load()
}

// Failed returns the number of emission attempts that errored.
func (e *Emitter) Failed() int64 {
	return e.failed.Load()
}

// Close releases the socket.
func (e *Emitter) Close() error {
	return e.conn.Close()
}
