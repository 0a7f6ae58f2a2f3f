// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Observer receives client notifications. They are delivered synchronously
// on goroutine that caused them, client operation or engine event, before
// it returns. Delivery is one at a time in the order client produced them.
// Observer may call client operations from within notification, their
// notifications follow after current one.
type Observer interface {
	IncomingCall(remoteNumber string, s Session)
	CallStateChanged(state CallState)
	RegistrationStateChanged(registered bool)
	// DTMFReceived reports keypad digit sent by remote on established call
	DTMFReceived(digit rune)
	Error(err error)
}

// ObserverFuncs implements Observer with optional funcs. Nil funcs are skipped.
type ObserverFuncs struct {
	OnIncomingCall             func(remoteNumber string, s Session)
	OnCallStateChanged         func(state CallState)
	OnRegistrationStateChanged func(registered bool)
	OnDTMFReceived             func(digit rune)
	OnError                    func(err error)
}

func (o ObserverFuncs) IncomingCall(remoteNumber string, s Session) {
	if o.OnIncomingCall != nil {
		o.OnIncomingCall(remoteNumber, s)
	}
}

func (o ObserverFuncs) CallStateChanged(state CallState) {
	if o.OnCallStateChanged != nil {
		o.OnCallStateChanged(state)
	}
}

func (o ObserverFuncs) RegistrationStateChanged(registered bool) {
	if o.OnRegistrationStateChanged != nil {
		o.OnRegistrationStateChanged(registered)
	}
}

func (o ObserverFuncs) DTMFReceived(digit rune) {
	if o.OnDTMFReceived != nil {
		o.OnDTMFReceived(digit)
	}
}

func (o ObserverFuncs) Error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

type subscriber struct {
	id uint64
	o  Observer
}

// eventBridge queues notifications produced under client lock. Producer
// delivers them on its own goroutine with flush once lock is released.
// Only one goroutine delivers at a time. Notifications queued while another
// goroutine or an observer is delivering are handed to that delivery and
// follow right after current notification.
type eventBridge struct {
	log zerolog.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	subscribers []subscriber
	nextID      uint64
	queue       []func([]subscriber)
	flushing    bool
}

func newEventBridge(log zerolog.Logger) *eventBridge {
	b := &eventBridge{log: log}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *eventBridge) subscribe(o Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscriber{id: id, o: o})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subscribers {
				if s.id == id {
					// Copy on write as flush may be iterating old slice
					subs := make([]subscriber, 0, len(b.subscribers)-1)
					subs = append(subs, b.subscribers[:i]...)
					b.subscribers = append(subs, b.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *eventBridge) emitCallState(s CallState) {
	b.push(func(subs []subscriber) {
		for _, sub := range subs {
			// Each observer gets own copy
			b.deliver(func() { sub.o.CallStateChanged(s.Clone()) })
		}
	})
}

func (b *eventBridge) emitIncoming(remoteNumber string, sess Session) {
	b.push(func(subs []subscriber) {
		for _, sub := range subs {
			b.deliver(func() { sub.o.IncomingCall(remoteNumber, sess) })
		}
	})
}

func (b *eventBridge) emitRegistration(registered bool) {
	b.push(func(subs []subscriber) {
		for _, sub := range subs {
			b.deliver(func() { sub.o.RegistrationStateChanged(registered) })
		}
	})
}

func (b *eventBridge) emitDTMF(digit rune) {
	b.push(func(subs []subscriber) {
		for _, sub := range subs {
			b.deliver(func() { sub.o.DTMFReceived(digit) })
		}
	})
}

func (b *eventBridge) emitError(err error) {
	b.push(func(subs []subscriber) {
		for _, sub := range subs {
			b.deliver(func() { sub.o.Error(err) })
		}
	})
}

// run queues internal job. It runs in order with notifications.
func (b *eventBridge) run(job func()) {
	b.push(func([]subscriber) {
		b.deliver(job)
	})
}

func (b *eventBridge) push(fn func([]subscriber)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, fn)
}

// flush delivers queued notifications on calling goroutine. It returns
// immediately when delivery is already running, either on other goroutine
// or further up the stack of this one.
func (b *eventBridge) flush() {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true

	for len(b.queue) > 0 {
		fn := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		subs := b.subscribers
		b.mu.Unlock()

		fn(subs)

		b.mu.Lock()
	}
	b.flushing = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// deliver isolates observer panic so that one observer can not stop the queue
func (b *eventBridge) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("panic", fmt.Sprint(r)).Msg("Observer panicked")
		}
	}()
	fn()
}

// wait blocks until delivery running on other goroutine is done
func (b *eventBridge) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.flushing {
		b.cond.Wait()
	}
}
