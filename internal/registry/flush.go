package registry

import "time"

// startFlushLoop launches the background ticker that msyncs every open
// segment of every partition on a fixed cadence (spec.md §5's
// FlushInterval), grounded on the ticker-goroutine shape used for periodic
// background maintenance elsewhere in the pack. A FlushInterval of zero
// disables the loop — callers that want fully synchronous durability can
// set it to zero and rely on Sync being called explicitly.
func (r *Registry) startFlushLoop() {
	if r.opts.FlushInterval <= 0 {
		return
	}

	r.flushStop = make(chan struct{})
	r.flushDone = make(chan struct{})

	ticker := time.NewTicker(r.opts.FlushInterval)
	go func() {
		defer close(r.flushDone)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.flushAll()
			case <-r.flushStop:
				return
			}
		}
	}()
}

func (r *Registry) flushAll() {
	r.mu.RLock()
	entries := make([]*metricEntry, 0, len(r.metrics))
	for _, e := range r.metrics {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.RLock()
		for _, p := range e.partitions {
			if err := p.Sync(true); err != nil && r.log != nil {
				r.log.Warnw("background flush failed", "metric", e.name, "partition", p.Label(), "error", err)
			}
		}
		e.mu.RUnlock()
	}
}

func (r *Registry) stopFlushLoop() {
	if r.flushStop == nil {
		return
	}
	close(r.flushStop)
	<-r.flushDone
}
