package taskengine

import (
	"time"
)

// NodeResult is what every handler returns. Handlers never return a Go
// error past the node boundary; failures are carried in Err.
type NodeResult struct {
	Success bool
	Err     *StructuredError

	// operation specific fields, e.g. txHash, status, events
	Output map[string]any

	Network       string
	ExecutionTime time.Duration
	Timestamp     time.Time
}

// envelopeKeys are added by Envelope and are not part of the handler output
var envelopeKeys = map[string]bool{
	"success":         true,
	"error":           true,
	"errorCode":       true,
	"errorDetails":    true,
	"network":         true,
	"executionTimeMs": true,
	"timestamp":       true,
}

// Envelope flattens the result into the node output snapshot
func (r *NodeResult) Envelope() map[string]any {
	out := make(map[string]any, len(r.Output)+6)
	for k, v := range r.Output {
		out[k] = v
	}

	out["success"] = r.Success
	if r.Err != nil {
		out["error"] = r.Err.Message
		out["errorCode"] = string(r.Err.Code)
		if len(r.Err.Details) > 0 {
			out["errorDetails"] = r.Err.Details
		}
	}
	if r.Network != "" {
		out["network"] = r.Network
	}
	out["executionTimeMs"] = r.ExecutionTime.Milliseconds()
	out["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	return out
}

// resultBuilder times a handler invocation and produces the envelope
type resultBuilder struct {
	network string
	started time.Time
	now     func() time.Time
}

func newResultBuilder(network string) *resultBuilder {
	return &resultBuilder{network: network, started: time.Now(), now: time.Now}
}

func (b *resultBuilder) ok(output map[string]any) *NodeResult {
	if output == nil {
		output = map[string]any{}
	}
	end := b.now()
	return &NodeResult{
		Success:       true,
		Output:        output,
		Network:       b.network,
		ExecutionTime: end.Sub(b.started),
		Timestamp:     end,
	}
}

// fail accepts any error and maps it onto the error taxonomy
func (b *resultBuilder) fail(err error) *NodeResult {
	end := b.now()
	return &NodeResult{
		Success:       false,
		Err:           ToStructuredError(err),
		Output:        map[string]any{},
		Network:       b.network,
		ExecutionTime: end.Sub(b.started),
		Timestamp:     end,
	}
}

// failWith keeps partial output next to the error
func (b *resultBuilder) failWith(err error, output map[string]any) *NodeResult {
	r := b.fail(err)
	if output != nil {
		r.Output = output
	}
	return r
}
