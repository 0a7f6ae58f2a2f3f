// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBridgeOrder(t *testing.T) {
	b := newEventBridge(zerolog.Nop())

	var mu sync.Mutex
	var got []int
	b.subscribe(ObserverFuncs{
		OnCallStateChanged: func(s CallState) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, s.CallDuration)
		},
	})

	for i := 0; i < 1000; i++ {
		b.emitCallState(CallState{CallDuration: i})
	}
	b.flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1000)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestEventBridgeMultipleSubscribers(t *testing.T) {
	b := newEventBridge(zerolog.Nop())

	var regsA, regsB []bool
	var errs []error
	unsubA := b.subscribe(ObserverFuncs{
		OnRegistrationStateChanged: func(r bool) { regsA = append(regsA, r) },
	})
	b.subscribe(ObserverFuncs{
		OnRegistrationStateChanged: func(r bool) { regsB = append(regsB, r) },
		OnError:                    func(err error) { errs = append(errs, err) },
	})

	b.emitRegistration(true)
	b.emitError(errors.New("boom"))
	b.flush()

	unsubA()
	unsubA()
	b.emitRegistration(false)
	b.flush()

	assert.Equal(t, []bool{true}, regsA)
	assert.Equal(t, []bool{true, false}, regsB)
	require.Len(t, errs, 1)
}

func TestEventBridgeReentrantObserver(t *testing.T) {
	b := newEventBridge(zerolog.Nop())

	var got []string
	b.subscribe(ObserverFuncs{
		OnIncomingCall: func(remote string, s Session) {
			got = append(got, "incoming:"+remote)
			// Emitting from observer queues behind current event
			b.emitRegistration(true)
			b.flush()
			got = append(got, "incoming done")
		},
		OnRegistrationStateChanged: func(r bool) {
			got = append(got, "registered")
		},
	})

	b.emitIncoming("1001", nil)
	b.emitCallState(CallState{})
	b.flush()
	assert.Equal(t, []string{"incoming:1001", "incoming done", "registered"}, got)
}

func TestEventBridgeObserverPanic(t *testing.T) {
	b := newEventBridge(zerolog.Nop())

	var delivered int
	b.subscribe(ObserverFuncs{OnError: func(err error) { panic("observer bug") }})
	b.subscribe(ObserverFuncs{OnError: func(err error) { delivered++ }})

	b.emitError(errors.New("a"))
	b.emitError(errors.New("b"))
	b.flush()
	assert.Equal(t, 2, delivered)
}

func TestEventBridgeDeliversOnFlush(t *testing.T) {
	b := newEventBridge(zerolog.Nop())

	var regs []bool
	b.subscribe(ObserverFuncs{
		OnRegistrationStateChanged: func(r bool) { regs = append(regs, r) },
	})

	b.emitRegistration(true)
	b.emitRegistration(false)
	assert.Empty(t, regs, "nothing is delivered before flush")

	b.flush()
	assert.Equal(t, []bool{true, false}, regs)

	b.flush()
	assert.Equal(t, []bool{true, false}, regs)
}

func TestEventBridgeConcurrentFlush(t *testing.T) {
	b := newEventBridge(zerolog.Nop())

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string
	b.subscribe(ObserverFuncs{
		OnIncomingCall: func(remote string, s Session) {
			close(entered)
			<-release
			mu.Lock()
			got = append(got, "incoming")
			mu.Unlock()
		},
		OnRegistrationStateChanged: func(r bool) {
			mu.Lock()
			got = append(got, "registered")
			mu.Unlock()
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.emitIncoming("1001", nil)
		b.flush()
	}()
	<-entered

	// Delivery is running on other goroutine, it takes over our event
	b.emitRegistration(true)
	b.flush()

	close(release)
	<-done
	b.wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"incoming", "registered"}, got)
}
