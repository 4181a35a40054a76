package apqueue

import (
	"encoding/json"
	"time"
)

const (
	HeaderRetryCount     = "x-retry-count"
	HeaderDeathReason    = "x-death-reason"
	HeaderOriginalQueue  = "x-original-queue"
	HeaderRedriveExhaust = "x-redrive-exhausted"

	ContentTypeJSON = "application/json"
)

// Message is what a producer hands to a broker. Expiration is only honoured
// on queues that dead-letter somewhere, which is how delayed dispatch works.
type Message struct {
	Body       []byte         `json:"body"`
	Headers    map[string]any `json:"headers,omitempty"`
	Expiration time.Duration  `json:"expiration,omitempty"`
	Persistent bool           `json:"persistent"`

	// set by the local broker
	ID          uint64    `json:"id"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Delivery is one message handed to a consumer. It must be settled with
// exactly one Ack or Nack on the broker that produced it.
type Delivery struct {
	Queue   string
	ID      uint64
	Body    []byte
	Headers map[string]any

	// back reference used by the broker implementation to settle the delivery
	settle any
}

func (d *Delivery) RetryCount() int {
	return headerInt(d.Headers, HeaderRetryCount)
}

func encodeMessage(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(b []byte) (*Message, error) {
	m := &Message{}
	err := json.Unmarshal(b, m)
	return m, err
}

// headerInt reads an integer header. Values read back from json are float64
// while amqp tables carry int32/int64.
func headerInt(h map[string]any, key string) int {
	if h == nil {
		return 0
	}
	switch v := h[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func cloneHeaders(h map[string]any) map[string]any {
	out := make(map[string]any, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
