// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"slices"
	"time"
)

const defaultRecordsLimit = 50

// CallTimers tracks call lifecycle timestamps. Zero time means not reached.
type CallTimers struct {
	CreatedAt  time.Time
	ReceivedAt time.Time
	AnsweredAt time.Time
	HangupAt   time.Time
}

// Duration is answered time rounded down to seconds
func (t CallTimers) Duration() time.Duration {
	if t.AnsweredAt.IsZero() || t.HangupAt.IsZero() {
		return 0
	}
	return t.HangupAt.Sub(t.AnsweredAt).Truncate(time.Second)
}

// CallRecord is retained after call is terminated
type CallRecord struct {
	ID           string
	Direction    Direction
	RemoteNumber string
	Timers       CallTimers
	Outcome      CallOutcome
}

// CallInfo is view of live call
type CallInfo struct {
	ID           string
	Direction    Direction
	RemoteNumber string
	State        string
	Timers       CallTimers
}

// callRegistry maps call id to live call. Order of insertion is kept so that
// current call is first live entry. Caller must serialize access.
type callRegistry struct {
	calls   map[string]*call
	order   []string
	records []CallRecord
	limit   int
}

func newCallRegistry(limit int) *callRegistry {
	if limit <= 0 {
		limit = defaultRecordsLimit
	}
	return &callRegistry{
		calls: make(map[string]*call),
		limit: limit,
	}
}

func (r *callRegistry) store(c *call) {
	if _, exists := r.calls[c.id]; !exists {
		r.order = append(r.order, c.id)
	}
	r.calls[c.id] = c
}

func (r *callRegistry) load(id string) (*call, bool) {
	c, ok := r.calls[id]
	return c, ok
}

// remove drops call from live views and retains its record
func (r *callRegistry) remove(id string) (CallRecord, bool) {
	c, ok := r.calls[id]
	if !ok {
		return CallRecord{}, false
	}
	delete(r.calls, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })

	rec := c.record()
	r.records = append(r.records, rec)
	if len(r.records) > r.limit {
		r.records = slices.Delete(r.records, 0, len(r.records)-r.limit)
	}
	return rec, true
}

// active returns live calls in insertion order
func (r *callRegistry) active() []*call {
	calls := make([]*call, 0, len(r.order))
	for _, id := range r.order {
		c := r.calls[id]
		if c.fsm.terminated() {
			continue
		}
		calls = append(calls, c)
	}
	return calls
}

// current is first live call
func (r *callRegistry) current() *call {
	for _, id := range r.order {
		if c := r.calls[id]; !c.fsm.terminated() {
			return c
		}
	}
	return nil
}

// established counts calls in established state
func (r *callRegistry) established() int {
	n := 0
	for _, id := range r.order {
		if r.calls[id].fsm.is(callEstablished) {
			n++
		}
	}
	return n
}

func (r *callRegistry) history() []CallRecord {
	return slices.Clone(r.records)
}

func (r *callRegistry) len() int {
	return len(r.calls)
}
