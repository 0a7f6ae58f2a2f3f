// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arnaldorodrigues/webphone/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testConfig = SessionConfig{
	WSServer: "pbx.example.com",
	WSPort:   8089,
	WSPath:   "/ws",
	Server:   "pbx.example.com",
	Username: "alice",
	Password: "secret",
}

type fakeEngine struct {
	mu sync.Mutex

	startErr    error
	registerErr error
	inviteErr   error
	startBlock  chan struct{}

	handler EngineHandler
	cfg     SessionConfig

	starts, stops, registers, unregisters int

	targets  []string
	locals   []*media.Stream
	sessions []*fakeSession
}

func (e *fakeEngine) Start(ctx context.Context, cfg SessionConfig, h EngineHandler) error {
	e.mu.Lock()
	e.starts++
	e.cfg = cfg
	e.handler = h
	block := e.startBlock
	err := e.startErr
	e.mu.Unlock()

	if block != nil {
		<-block
	}
	return err
}

func (e *fakeEngine) Register(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registers++
	return e.registerErr
}

func (e *fakeEngine) Unregister(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unregisters++
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	return nil
}

func (e *fakeEngine) Invite(ctx context.Context, target string, local *media.Stream) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets = append(e.targets, target)
	e.locals = append(e.locals, local)
	if e.inviteErr != nil {
		return nil, e.inviteErr
	}
	s := newFakeSession(DirectionOutgoing, target)
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) lastSession(t *testing.T) *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.sessions)
	return e.sessions[len(e.sessions)-1]
}

func (e *fakeEngine) counters() (starts, stops, registers, unregisters int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.registers, e.unregisters
}

func (e *fakeEngine) getHandler() EngineHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

type fakeSession struct {
	id     string
	dir    Direction
	remote string

	mu       sync.Mutex
	listener func(ev SessionEvent)
	onDTMF   func(digit rune)
	state    SessionState
	ops      []string
	local    *media.Stream
	remoteSt *media.Stream

	cancelErr error
	byeErr    error
	holdErr   error
	acceptErr error
	rejectErr error
	// holdBlock delays Hold until closed
	holdBlock chan struct{}
}

var fakeSessionID atomic.Int64

func newFakeSession(dir Direction, remote string) *fakeSession {
	return &fakeSession{
		id:       fmt.Sprintf("fake-%d", fakeSessionID.Add(1)),
		dir:      dir,
		remote:   remote,
		state:    SessionEstablishing,
		remoteSt: media.NewStream(media.NewAudioTrack("remote", nil)),
	}
}

func (s *fakeSession) ID() string           { return s.id }
func (s *fakeSession) Direction() Direction { return s.dir }
func (s *fakeSession) RemoteUser() string   { return s.remote }

func (s *fakeSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) OnStateChange(fn func(ev SessionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func (s *fakeSession) OnDTMF(fn func(digit rune)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDTMF = fn
}

// receiveDTMF delivers remote digit as engine would
func (s *fakeSession) receiveDTMF(digit rune) {
	s.mu.Lock()
	fn := s.onDTMF
	s.mu.Unlock()
	if fn != nil {
		fn(digit)
	}
}

func (s *fakeSession) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *fakeSession) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeSession) Accept(ctx context.Context, local *media.Stream) error {
	s.mu.Lock()
	s.local = local
	s.mu.Unlock()
	s.record("accept")
	return s.acceptErr
}

func (s *fakeSession) Reject(ctx context.Context, code int, reason string) error {
	s.record(fmt.Sprintf("reject:%d", code))
	return s.rejectErr
}

func (s *fakeSession) Cancel(ctx context.Context) error {
	s.record("cancel")
	return s.cancelErr
}

func (s *fakeSession) Bye(ctx context.Context) error {
	s.record("bye")
	return s.byeErr
}

func (s *fakeSession) Hold(ctx context.Context, hold bool) error {
	s.record(fmt.Sprintf("hold:%v", hold))
	if s.holdBlock != nil {
		<-s.holdBlock
	}
	return s.holdErr
}

func (s *fakeSession) SendDTMF(ctx context.Context, digit rune) error {
	s.record("dtmf:" + string(digit))
	return nil
}

func (s *fakeSession) RemoteStream() *media.Stream {
	return s.remoteSt
}

func (s *fakeSession) SetLocalStream(st *media.Stream) error {
	s.mu.Lock()
	s.local = st
	s.mu.Unlock()
	s.record("set_local")
	return nil
}

// emit delivers state change as engine would
func (s *fakeSession) emit(ev SessionEvent) {
	s.mu.Lock()
	s.state = ev.State
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l(ev)
	}
}

type fakeSource struct {
	closes atomic.Int32
}

func (s *fakeSource) ReadPCM(samples []int16) (int, error) { return len(samples), nil }
func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeDevices struct {
	mu      sync.Mutex
	err     error
	sources []*fakeSource
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	src := &fakeSource{}
	d.sources = append(d.sources, src)
	return media.NewStream(media.NewAudioTrack("mic", src)), nil
}

func (d *fakeDevices) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevices) acquired() []*fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSource(nil), d.sources...)
}

type fakeSink struct {
	attached atomic.Int32
	detached atomic.Int32
}

func (s *fakeSink) Attach(*media.Stream) error {
	s.attached.Add(1)
	return nil
}

func (s *fakeSink) Detach(*media.Stream) {
	s.detached.Add(1)
}

// stateRecorder observes client notifications
type stateRecorder struct {
	mu       sync.Mutex
	states   []CallState
	regs     []bool
	errs     []error
	incoming []string
	digits   []rune
}

func (r *stateRecorder) observer() ObserverFuncs {
	return ObserverFuncs{
		OnIncomingCall: func(remoteNumber string, s Session) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.incoming = append(r.incoming, remoteNumber)
		},
		OnCallStateChanged: func(state CallState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, state)
		},
		OnRegistrationStateChanged: func(registered bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.regs = append(r.regs, registered)
		},
		OnDTMFReceived: func(digit rune) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.digits = append(r.digits, digit)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *stateRecorder) snapshot() (states []CallState, regs []bool, errs []error, incoming []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallState(nil), r.states...),
		append([]bool(nil), r.regs...),
		append([]error(nil), r.errs...),
		append([]string(nil), r.incoming...)
}

func (r *stateRecorder) receivedDigits() []rune {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rune(nil), r.digits...)
}

func (r *stateRecorder) terminal() []CallState {
	states, _, _, _ := r.snapshot()
	var terminal []CallState
	for _, s := range states {
		if s.Outcome != nil {
			terminal = append(terminal, s)
		}
	}
	return terminal
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	client  *Client
	engine  *fakeEngine
	devices *fakeDevices
	sink    *fakeSink
	clock   *fakeClock
	rec     *stateRecorder
	ticks   atomic.Int64
}

func newTestEnv(t *testing.T, opts ...ClientOption) *testEnv {
	env := &testEnv{
		engine:  &fakeEngine{},
		devices: &fakeDevices{},
		sink:    &fakeSink{},
		clock:   newFakeClock(),
		rec:     &stateRecorder{},
	}
	opts = append([]ClientOption{
		WithLogger(zerolog.Nop()),
		WithDevices(env.devices),
		WithAudioSink(env.sink),
		WithTickInterval(5 * time.Millisecond),
		WithClock(env.clock.now),
	}, opts...)

	env.client = NewClient(env.engine, opts...)
	env.client.onTick = func(string) { env.ticks.Add(1) }
	env.client.Subscribe(env.rec.observer())
	t.Cleanup(func() {
		env.client.Destroy(context.Background())
		env.client.events.wait()
	})
	return env
}

func (env *testEnv) initialize(t *testing.T) {
	require.NoError(t, env.client.Initialize(context.Background(), testConfig))
}

// establishOutgoing dials number and makes remote answer
func (env *testEnv) establishOutgoing(t *testing.T, number string) *fakeSession {
	require.NoError(t, env.client.MakeCall(context.Background(), number))
	sess := env.engine.lastSession(t)
	sess.emit(SessionEvent{State: SessionEstablished})
	require.True(t, env.client.State().IsCallActive)
	return sess
}

// incoming delivers inbound invite from remote user
func (env *testEnv) incoming(t *testing.T, from string) *fakeSession {
	sess := newFakeSession(DirectionIncoming, from)
	h := env.engine.getHandler()
	require.NotNil(t, h)
	h.HandleInvite(sess)
	return sess
}

func (env *testEnv) flush() {
	env.client.events.wait()
}
