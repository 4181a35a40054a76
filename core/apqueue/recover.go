package apqueue

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/AvaProtocol/chainflow/storage/schema"
)

// RecoverStats holds statistics about a recover run
type RecoverStats struct {
	Unacked   int
	Recovered int
	Failed    int
	Duration  time.Duration
}

// When the process is killed abruptly, messages that were delivered but
// never settled sit in the unacked set. Recover returns them to ready so
// they get redelivered. It must run before any consumer starts.
func (b *LocalBroker) Recover() (*RecoverStats, error) {
	startTime := time.Now()
	stats := &RecoverStats{}

	b.mu.RLock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	b.mu.RUnlock()

	prefixes := make([][]byte, 0, len(names))
	for _, queue := range names {
		prefixes = append(prefixes, schema.QueueUnackedPrefix(queue))
	}
	pending, err := b.db.CountKeysByPrefixes(prefixes)
	if err != nil {
		return nil, fmt.Errorf("cannot count unacked messages: %w", err)
	}
	if pending == 0 {
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	for _, queue := range names {
		prefix := schema.QueueUnackedPrefix(queue)
		keys, err := b.db.GetKeyHasPrefix(prefix)
		if err != nil {
			b.logger.Error("failed to list unacked messages", "queue", queue, "error", err)
			stats.Failed++
			continue
		}

		recovered := 0
		for _, key := range keys {
			stats.Unacked++

			// the id is the zero padded key suffix, the body is not needed
			id, err := strconv.ParseUint(string(bytes.TrimPrefix(key, prefix)), 10, 64)
			if err != nil {
				b.logger.Error("unacked key has no message id", "key", string(key), "error", err)
				stats.Failed++
				continue
			}

			b.dbLock.Lock()
			err = b.db.Move(key, schema.QueueReadyKey(queue, id))
			b.dbLock.Unlock()
			if err != nil {
				b.logger.Error("failed to recover message", "queue", queue, "id", id, "error", err)
				stats.Failed++
				continue
			}
			recovered++
		}
		stats.Recovered += recovered
		if recovered > 0 {
			b.wake(queue)
		}
	}

	stats.Duration = time.Since(startTime)
	b.logger.Info("queue recover completed",
		"unacked", stats.Unacked,
		"recovered", stats.Recovered,
		"failed", stats.Failed,
		"duration_ms", stats.Duration.Milliseconds())

	return stats, nil
}
