package trigger

import (
	"encoding/json"
	"strings"
)

const StateVersion = 1

const (
	NetworkStatusOK          = "ok"
	NetworkStatusPartial     = "partial"
	NetworkStatusUnavailable = "unavailable"
)

// State is carried from one listener invocation to the next as part of the
// node output. Cursor keys are "<network>:<address>" with a lower case
// address.
type State struct {
	Version              int               `json:"version"`
	LastProcessedBlocks  map[string]uint64 `json:"lastProcessedBlocks"`
	RetryCounts          map[string]int    `json:"retryCounts"`
	TotalEventsProcessed uint64            `json:"totalEventsProcessed"`
	ConsecutiveFailures  int               `json:"consecutiveFailures"`
	NetworkStatus        map[string]string `json:"networkStatus"`
}

func NewState() *State {
	return &State{
		Version:             StateVersion,
		LastProcessedBlocks: map[string]uint64{},
		RetryCounts:         map[string]int{},
		NetworkStatus:       map[string]string{},
	}
}

func CursorKey(network, address string) string {
	return network + ":" + strings.ToLower(address)
}

// StateFromOutput restores the state embedded in a previous node output.
// Missing, malformed or unknown versions start over.
func StateFromOutput(output map[string]any) *State {
	raw, ok := output["state"]
	if !ok || raw == nil {
		return NewState()
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return NewState()
	}
	s := &State{}
	if err := json.Unmarshal(b, s); err != nil || s.Version != StateVersion {
		return NewState()
	}
	s.normalize()
	return s
}

func (s *State) normalize() {
	if s.LastProcessedBlocks == nil {
		s.LastProcessedBlocks = map[string]uint64{}
	}
	if s.RetryCounts == nil {
		s.RetryCounts = map[string]int{}
	}
	if s.NetworkStatus == nil {
		s.NetworkStatus = map[string]string{}
	}
}

func (s *State) Clone() *State {
	out := NewState()
	if s == nil {
		return out
	}
	for k, v := range s.LastProcessedBlocks {
		out.LastProcessedBlocks[k] = v
	}
	for k, v := range s.RetryCounts {
		out.RetryCounts[k] = v
	}
	for k, v := range s.NetworkStatus {
		out.NetworkStatus[k] = v
	}
	out.TotalEventsProcessed = s.TotalEventsProcessed
	out.ConsecutiveFailures = s.ConsecutiveFailures
	return out
}

// advance moves the cursor forward only
func (s *State) advance(key string, block uint64) {
	if cur, ok := s.LastProcessedBlocks[key]; ok && cur >= block {
		return
	}
	s.LastProcessedBlocks[key] = block
}

// ToMap renders the state for the node output
func (s *State) ToMap() map[string]any {
	b, _ := json.Marshal(s)
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	return out
}
