package queue

// ChannelStats is the observability projection of one admission channel.
type ChannelStats struct {
	Capacity  int  `json:"capacity"`
	Running   int  `json:"running"`
	Available int  `json:"available"`
	Queued    int  `json:"queued"`
	Paused    bool `json:"paused"`
}

// Stats is a read-only snapshot of the queue.
type Stats struct {
	Counts    map[State]int            `json:"counts"`
	Channels  map[Channel]ChannelStats `json:"channels"`
	PausedAll bool                     `json:"paused_all"`
}

// Stats returns a consistent snapshot of state counts and per-channel
// occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := map[State]int{
		StateQueued:   0,
		StateRunning:  0,
		StateDone:     0,
		StateFailed:   0,
		StateCanceled: 0,
	}
	queuedPerChannel := map[Channel]int{}
	for _, job := range q.jobs {
		counts[job.State]++
		if job.State == StateQueued {
			queuedPerChannel[job.channel()]++
		}
	}

	channels := make(map[Channel]ChannelStats, len(q.channels))
	for name, cs := range q.channels {
		available := cs.capacity - cs.running
		if available < 0 {
			available = 0
		}
		channels[name] = ChannelStats{
			Capacity:  cs.capacity,
			Running:   cs.running,
			Available: available,
			Queued:    queuedPerChannel[name],
			Paused:    cs.paused,
		}
	}

	return Stats{
		Counts:    counts,
		Channels:  channels,
		PausedAll: q.pausedAll,
	}
}
