// Copyright 2025 The Go Session Core Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// StreamEvent is a single entry in an EventStore's per-stream log.
type StreamEvent struct {
	ID       string
	StreamID string
	Payload  []byte // nil/empty marks a priming event; never replayed.
}

// isPriming reports whether e is a priming marker rather than a real
// message, per the decision recorded for the resumable-stream open
// question: an event with a zero-length payload is never replayed.
func (e StreamEvent) isPriming() bool { return len(e.Payload) == 0 }

// EventStore is a bounded, append-only log of events per stream, used by
// the streamable HTTP transport to support resumption via Last-Event-ID.
// It is safe for concurrent use.
type EventStore struct {
	mu                 sync.Mutex
	maxEventsPerStream int
	streams            map[string][]StreamEvent
	counters           map[string]uint64
	index              map[string]string // eventID -> streamID, the authoritative mapping
}

// NewEventStore returns an EventStore that retains at most
// maxEventsPerStream events per stream, evicting the oldest on overflow.
// A maxEventsPerStream <= 0 means unbounded.
func NewEventStore(maxEventsPerStream int) *EventStore {
	return &EventStore{
		maxEventsPerStream: maxEventsPerStream,
		streams:            make(map[string][]StreamEvent),
		counters:           make(map[string]uint64),
		index:              make(map[string]string),
	}
}

// StoreEvent appends payload to streamID's log and returns the new event's
// id, formatted "{streamID}_{monotonic index}_{random}". The random suffix
// keeps a guessed Last-Event-Id from walking another stream's history, the
// same rationale as this tree's loopback defense for the HTTP transport. A
// nil/empty payload stores a priming event: it gets an id (so it can
// anchor reconnection) but is skipped by ReplayAfter.
func (s *EventStore) StoreEvent(streamID string, payload []byte) (eventID string, err error) {
	if streamID == "" {
		return "", fmt.Errorf("mcp: StoreEvent: empty stream id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.counters[streamID]
	s.counters[streamID] = idx + 1
	id := fmt.Sprintf("%s_%d_%s", streamID, idx, randText())

	events := s.streams[streamID]
	events = append(events, StreamEvent{ID: id, StreamID: streamID, Payload: payload})
	if s.maxEventsPerStream > 0 && len(events) > s.maxEventsPerStream {
		for _, evicted := range events[:len(events)-s.maxEventsPerStream] {
			delete(s.index, evicted.ID)
		}
		events = events[len(events)-s.maxEventsPerStream:]
	}
	s.streams[streamID] = events
	s.index[id] = streamID
	return id, nil
}

// streamIDForEvent resolves eventID to its stream id via the index
// populated by StoreEvent, falling back to StreamIDForEvent's parse for an
// id this store never issued (e.g. one from before a restart).
func (s *EventStore) streamIDForEvent(eventID string) (string, error) {
	s.mu.Lock()
	streamID, ok := s.index[eventID]
	s.mu.Unlock()
	if ok {
		return streamID, nil
	}
	return StreamIDForEvent(eventID)
}

// StreamIDForEvent parses the stream id embedded in an event id. It is the
// fallback used when an id isn't found in an EventStore's index; prefer
// that index lookup wherever an EventStore instance is available.
func StreamIDForEvent(eventID string) (string, error) {
	parts := strings.Split(eventID, "_")
	if len(parts) < 3 {
		return "", fmt.Errorf("mcp: malformed event id %q", eventID)
	}
	if _, err := strconv.ParseUint(parts[len(parts)-2], 10, 64); err != nil {
		return "", fmt.Errorf("mcp: malformed event id %q: %w", eventID, err)
	}
	return strings.Join(parts[:len(parts)-2], "_"), nil
}

// ReplayAfter returns every non-priming event stored after afterEventID on
// its stream, oldest first. If afterEventID has already been evicted, it
// returns an error so the caller can fall back to a fresh stream instead
// of silently skipping events.
func (s *EventStore) ReplayAfter(afterEventID string) ([]StreamEvent, error) {
	streamID, err := s.streamIDForEvent(afterEventID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[streamID]
	pos := -1
	for i, e := range events {
		if e.ID == afterEventID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, fmt.Errorf("mcp: event %q is not in the retained window for stream %q", afterEventID, streamID)
	}
	var out []StreamEvent
	for _, e := range events[pos+1:] {
		if e.isPriming() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// RemoveStream deletes a stream's entire log, e.g. once its connection is
// permanently gone.
func (s *EventStore) RemoveStream(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.streams[streamID] {
		delete(s.index, e.ID)
	}
	delete(s.streams, streamID)
	delete(s.counters, streamID)
}

// Clear empties the store.
func (s *EventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]StreamEvent)
	s.counters = make(map[string]uint64)
	s.index = make(map[string]string)
}

// EventCount returns the number of retained events across all streams.
func (s *EventStore) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, events := range s.streams {
		n += len(events)
	}
	return n
}

// StreamCount returns the number of streams with at least one retained
// event.
func (s *EventStore) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}
