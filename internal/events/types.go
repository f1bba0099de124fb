// Package events provides the event bus and hook dispatcher for acd-hostd.
package events

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// EventType represents an ACD host lifecycle event.
type EventType string

const (
	EventStateChanged     EventType = "state.changed"
	EventAddressAvailable EventType = "address.available"
	EventConflictDetected EventType = "conflict.detected"
	EventAddressLost      EventType = "address.lost"
	EventHostQuiesced     EventType = "host.quiesced"
	EventChannelError     EventType = "channel.error"
)

// Event is the core event payload passed through the event bus.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Host      *HostData    `json:"host,omitempty"`
	Conflict  *ConflictData `json:"conflict,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// HostData identifies the acd.Host an event concerns.
type HostData struct {
	Interface string `json:"interface"`
	IP        net.IP `json:"ip"`
	MAC       net.HardwareAddr `json:"mac,omitempty"`
	OldState  string `json:"old_state,omitempty"`
	NewState  string `json:"new_state,omitempty"`
}

// ConflictData carries the classified ARP frame that triggered a conflict
// event.
type ConflictData struct {
	IP           net.IP           `json:"ip"`
	Phase        string           `json:"phase"`
	ResponderMAC net.HardwareAddr `json:"responder_mac,omitempty"`
	Conflicts    int              `json:"conflicts"`
}

// MarshalJSON implements custom JSON marshalling for Event.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	})
}

// ToEnvVars converts an event to environment variables for script hooks.
func (e *Event) ToEnvVars() map[string]string {
	env := map[string]string{
		"ACD_EVENT": string(e.Type),
	}

	if e.Host != nil {
		h := e.Host
		env["ACD_INTERFACE"] = h.Interface
		if h.IP != nil {
			env["ACD_IP"] = h.IP.String()
		}
		if h.MAC != nil {
			env["ACD_MAC"] = h.MAC.String()
		}
		if h.OldState != "" {
			env["ACD_OLD_STATE"] = h.OldState
		}
		if h.NewState != "" {
			env["ACD_NEW_STATE"] = h.NewState
		}
	}

	if e.Conflict != nil {
		c := e.Conflict
		if c.IP != nil {
			env["ACD_IP"] = c.IP.String()
		}
		env["ACD_CONFLICT_PHASE"] = c.Phase
		if c.ResponderMAC != nil {
			env["ACD_CONFLICT_RESPONDER_MAC"] = c.ResponderMAC.String()
		}
		env["ACD_CONFLICT_COUNT"] = fmt.Sprintf("%d", c.Conflicts)
	}

	if e.Reason != "" {
		env["ACD_REASON"] = e.Reason
	}

	return env
}
