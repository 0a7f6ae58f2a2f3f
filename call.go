// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"sync"
	"time"

	"github.com/arnaldorodrigues/webphone/media"
	"github.com/google/uuid"
)

// call is client side state of one session. Guarded by Client mutex.
type call struct {
	id           string
	session      Session
	direction    Direction
	remoteNumber string
	fsm          *callFSM
	timers       CallTimers

	localStream  *media.Stream
	remoteStream *media.Stream

	startTime time.Time
	duration  int
	muted     bool
	onHold    bool
	holdMode  HoldMode
	outcome   *CallOutcome

	// holdPending is set while hold re-INVITE is in flight
	holdPending bool

	stopTicker func()
}

func newCall(dir Direction, remoteNumber string, now time.Time, h callHooks) *call {
	return &call{
		id:           uuid.NewString(),
		direction:    dir,
		remoteNumber: remoteNumber,
		fsm:          newCallFSM(h),
		timers:       CallTimers{CreatedAt: now},
	}
}

func (c *call) record() CallRecord {
	rec := CallRecord{
		ID:           c.id,
		Direction:    c.direction,
		RemoteNumber: c.remoteNumber,
		Timers:       c.timers,
	}
	if c.outcome != nil {
		rec.Outcome = *c.outcome
	}
	return rec
}

func (c *call) info() CallInfo {
	return CallInfo{
		ID:           c.id,
		Direction:    c.direction,
		RemoteNumber: c.remoteNumber,
		State:        c.fsm.current(),
		Timers:       c.timers,
	}
}

// elapsed never decreases even if clock jumps back
func (c *call) elapsed(now time.Time) int {
	if c.startTime.IsZero() {
		return c.duration
	}
	d := int(now.Sub(c.startTime) / time.Second)
	if d > c.duration {
		c.duration = d
	}
	return c.duration
}

// durationTicker fires on fixed cadence until stopped. After stop returns
// no further tick callback is started.
type durationTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func startDurationTicker(interval time.Duration, onTick func(done <-chan struct{})) *durationTicker {
	t := &durationTicker{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.done:
				return
			case <-t.ticker.C:
				onTick(t.done)
			}
		}
	}()
	return t
}

func (t *durationTicker) stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
