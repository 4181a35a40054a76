package apqueue

import "fmt"

// QueueSpec describes one durable queue. DeadLetterTo names the queue that
// receives messages rejected without requeue or whose expiration elapsed.
type QueueSpec struct {
	Name         string
	DeadLetterTo string
}

// Topology is the set of queues the gateway owns
//
//	execution --nack--> dlq
//	retry     --nack--> dlq
//	delayed   --ttl---> execution
//	cron exchange (topic) keyed by job type
type Topology struct {
	Execution    string
	Retry        string
	DeadLetter   string
	Delayed      string
	CronExchange string
}

func (t Topology) Validate() error {
	names := map[string]bool{}
	for _, n := range []string{t.Execution, t.Retry, t.DeadLetter, t.Delayed} {
		if n == "" {
			return fmt.Errorf("topology: queue name cannot be empty")
		}
		if names[n] {
			return fmt.Errorf("topology: duplicate queue name %s", n)
		}
		names[n] = true
	}
	if t.CronExchange == "" {
		return fmt.Errorf("topology: cron exchange cannot be empty")
	}
	return nil
}

func (t Topology) Queues() []QueueSpec {
	return []QueueSpec{
		{Name: t.DeadLetter},
		{Name: t.Execution, DeadLetterTo: t.DeadLetter},
		{Name: t.Retry, DeadLetterTo: t.DeadLetter},
		{Name: t.Delayed, DeadLetterTo: t.Execution},
	}
}
