// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arnaldorodrigues/webphone/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AudioSink is host audio output where remote stream is played
type AudioSink interface {
	Attach(s *media.Stream) error
	Detach(s *media.Stream)
}

// HistoryRecorder persists record of every terminated call
type HistoryRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

type ClientOption func(c *Client)

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// WithDevices sets capture devices. Without devices calls are made without local audio.
func WithDevices(d media.Devices) ClientOption {
	return func(c *Client) {
		c.devices = d
	}
}

func WithAudioSink(s AudioSink) ClientOption {
	return func(c *Client) {
		c.sink = s
	}
}

// WithHistory adds call record recorders. Can be passed multiple times.
func WithHistory(recorders ...HistoryRecorder) ClientOption {
	return func(c *Client) {
		c.recorders = append(c.recorders, recorders...)
	}
}

// WithTickInterval changes call duration refresh cadence. Default is 1s
func WithTickInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.tickInterval = d
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithRecordsLimit bounds number of retained call records
func WithRecordsLimit(n int) ClientOption {
	return func(c *Client) {
		c.calls = newCallRegistry(n)
	}
}

// Client is softphone session facade. It drives Engine, owns call state and
// notifies observers. Create one per registration identity.
type Client struct {
	engine       Engine
	log          zerolog.Logger
	devices      media.Devices
	sink         AudioSink
	recorders    []HistoryRecorder
	tickInterval time.Duration
	now          func() time.Time

	events *eventBridge

	mu           sync.Mutex
	initializing bool
	started      bool
	initialized  bool
	registered   bool
	cfg          SessionConfig
	calls        *callRegistry

	// onTick is called under lock on every duration tick
	onTick func(callID string)
}

func NewClient(engine Engine, opts ...ClientOption) *Client {
	c := &Client{
		engine:       engine,
		log:          log.Logger,
		tickInterval: time.Second,
		now:          time.Now,
		calls:        newCallRegistry(defaultRecordsLimit),
	}
	for _, o := range opts {
		o(c)
	}
	c.events = newEventBridge(c.log)
	return c
}

// unlock releases client lock and delivers notifications queued while it was held
func (c *Client) unlock() {
	c.mu.Unlock()
	c.events.flush()
}

// Subscribe adds observer. Returned func removes it.
func (c *Client) Subscribe(o Observer) func() {
	return c.events.subscribe(o)
}

// Initialize connects transport and registers. Existing state is torn down first.
// On failure client is left clean and can be initialized again.
func (c *Client) Initialize(ctx context.Context, cfg SessionConfig) error {
	c.mu.Lock()
	if c.initializing {
		c.unlock()
		return ErrAlreadyInitializing
	}
	c.initializing = true
	c.unlock()

	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.unlock()
	}()

	if err := cfg.Validate(); err != nil {
		return err
	}

	c.teardown(ctx)

	c.mu.Lock()
	c.started = true
	c.cfg = cfg
	c.unlock()

	log := c.log.With().Str("aor", cfg.AOR()).Str("ws", cfg.WebSocketURL()).Logger()
	if err := c.engine.Start(ctx, cfg, &engineHandler{c: c}); err != nil {
		err = &TransportStartError{URL: cfg.WebSocketURL(), Err: err}
		log.Error().Err(err).Msg("Transport start failed")
		c.teardown(ctx)
		c.events.emitError(err)
		c.events.flush()
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.unlock()

	if err := c.engine.Register(ctx); err != nil {
		var regErr *RegistrationError
		if !errors.As(err, &regErr) {
			err = &RegistrationError{Err: err}
		}
		log.Error().Err(err).Msg("Registration failed")
		c.teardown(ctx)
		c.events.emitError(err)
		c.events.flush()
		return err
	}

	c.mu.Lock()
	c.registered = true
	c.events.emitRegistration(true)
	c.emitStateLocked()
	c.unlock()

	log.Info().Msg("Registered")
	return nil
}

// Destroy unregisters, stops transport and releases media. Safe to call any time.
func (c *Client) Destroy(ctx context.Context) {
	c.teardown(ctx)
}

func (c *Client) teardown(ctx context.Context) {
	c.mu.Lock()
	wasStarted := c.started
	wasRegistered := c.registered

	type pending struct {
		sess  Session
		state string
	}
	var hangups []pending
	for _, cl := range c.calls.active() {
		state := cl.fsm.current()
		if cl.session != nil {
			hangups = append(hangups, pending{sess: cl.session, state: state})
		}
		cl.fsm.terminate(localOutcome(state))
	}

	c.started = false
	c.initialized = false
	c.registered = false
	if wasRegistered {
		c.events.emitRegistration(false)
		c.emitStateLocked()
	}
	c.unlock()

	for _, h := range hangups {
		c.endSession(ctx, h.sess, h.state)
	}

	if wasRegistered {
		if err := c.engine.Unregister(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Unregister failed")
		}
	}
	if wasStarted {
		if err := c.engine.Stop(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Transport stop failed")
		}
	}
}

// MakeCall dials number at configured server. Missing microphone is not fatal,
// call proceeds without local audio.
func (c *Client) MakeCall(ctx context.Context, number string) error {
	c.mu.Lock()
	if !c.initialized {
		c.unlock()
		return ErrNotInitialized
	}
	if !c.registered {
		c.unlock()
		return ErrNotRegistered
	}
	if c.calls.current() != nil {
		c.unlock()
		return ErrCallInProgress
	}

	target := c.cfg.TargetURI(number)
	cl := c.newCallLocked(DirectionOutgoing, number)
	if err := cl.fsm.fire(evInviteSent); err != nil {
		c.unlock()
		return err
	}
	c.calls.store(cl)
	c.emitStateLocked()
	c.unlock()

	log := c.log.With().Str("call_id", cl.id).Str("target", target).Logger()

	local := c.acquireLocal(ctx)

	c.mu.Lock()
	if _, live := c.liveCallLocked(cl.id); !live {
		// Hung up while waiting on microphone
		c.unlock()
		stopStream(local)
		return nil
	}
	cl.localStream = local
	c.unlock()

	log.Info().Msg("Sending invite")
	sess, err := c.engine.Invite(ctx, target, local)
	if err != nil {
		err = classifyInviteError(target, err)
		log.Error().Err(err).Msg("Invite failed")

		c.mu.Lock()
		cl.fsm.terminate(CallOutcome{Kind: OutcomeFailed, Reason: err.Error()})
		c.events.emitError(err)
		c.unlock()
		return err
	}

	c.mu.Lock()
	if _, live := c.liveCallLocked(cl.id); !live {
		c.unlock()
		// Hung up while invite was in flight. Local state is already cleaned.
		c.endSession(ctx, sess, callOutgoing)
		return nil
	}
	cl.session = sess
	c.unlock()

	sess.OnStateChange(func(ev SessionEvent) {
		c.handleSessionEvent(cl.id, ev)
	})
	sess.OnDTMF(func(digit rune) {
		c.handleDTMF(cl.id, digit)
	})
	return nil
}

// AnswerCall accepts pending incoming call
func (c *Client) AnswerCall(ctx context.Context) error {
	c.mu.Lock()
	cl := c.calls.current()
	if cl == nil || !cl.fsm.is(callIncoming) {
		c.unlock()
		return ErrNoIncomingSession
	}
	sess := cl.session
	c.unlock()

	local := c.acquireLocal(ctx)

	c.mu.Lock()
	if _, live := c.liveCallLocked(cl.id); !live {
		c.unlock()
		stopStream(local)
		return ErrNoIncomingSession
	}
	cl.localStream = local
	c.unlock()

	if err := sess.Accept(ctx, local); err != nil {
		err = classifyInviteError(cl.remoteNumber, err)
		c.log.Error().Err(err).Str("call_id", cl.id).Msg("Answer failed")

		c.mu.Lock()
		cl.fsm.terminate(CallOutcome{Kind: OutcomeFailed, Reason: err.Error()})
		c.events.emitError(err)
		c.unlock()
		return err
	}

	c.mu.Lock()
	defer c.unlock()
	if cl.fsm.is(callIncoming) {
		c.acceptLocked(cl)
	}
	return nil
}

// Decline rejects pending incoming call
func (c *Client) Decline(ctx context.Context) error {
	c.mu.Lock()
	cl := c.calls.current()
	if cl == nil || !cl.fsm.is(callIncoming) {
		c.unlock()
		return ErrNoIncomingSession
	}
	sess := cl.session
	cl.fsm.terminate(CallOutcome{Kind: OutcomeRejected, Reason: "declined"})
	c.unlock()

	// Call is already cleaned locally, remote side times out on its own
	if err := sess.Reject(ctx, 603, "Decline"); err != nil {
		c.log.Warn().Err(err).Str("call_id", cl.id).Msg("Reject failed")
	}
	return nil
}

// Hangup ends current call whatever its state. It never fails: protocol errors
// are logged and client always ends idle.
func (c *Client) Hangup(ctx context.Context) {
	c.mu.Lock()
	cl := c.calls.current()
	if cl == nil {
		c.unlock()
		return
	}
	sess := cl.session
	state := cl.fsm.current()
	cl.fsm.terminate(localOutcome(state))
	c.unlock()

	c.endSession(ctx, sess, state)
}

// endSession runs protocol exchange ending session in given call state
func (c *Client) endSession(ctx context.Context, sess Session, state string) {
	if sess == nil {
		return
	}

	log := c.log.With().Str("session_id", sess.ID()).Logger()
	switch state {
	case callOutgoing:
		err := sess.Cancel(ctx)
		if err == nil {
			return
		}
		// Remote may have answered already. Leaving it would keep call alive on remote side.
		log.Warn().Err(err).Msg("Cancel failed, sending BYE")
		if err := sess.Bye(ctx); err != nil {
			log.Error().Err(err).Msg("BYE after failed cancel failed")
		}
	case callIncoming:
		if err := sess.Reject(ctx, 603, "Decline"); err != nil {
			log.Warn().Err(err).Msg("Reject failed")
		}
	case callEstablished:
		if err := sess.Bye(ctx); err != nil {
			log.Warn().Err(err).Msg("BYE failed")
		}
	}
}

// ToggleMute flips mute of active call. Tracks are disabled, not removed.
func (c *Client) ToggleMute() bool {
	c.mu.Lock()
	defer c.unlock()

	cl := c.calls.current()
	if cl == nil || !cl.fsm.is(callEstablished) {
		return false
	}
	cl.muted = !cl.muted
	if cl.localStream != nil {
		cl.localStream.SetAudioEnabled(!cl.muted)
	}
	c.emitStateLocked()
	return true
}

// ToggleHold flips hold of active call with re-INVITE. When renegotiation fails
// flag still flips and result reports HoldLocalOnly mode. Toggle while previous
// re-INVITE is in flight fails with ErrHoldInProgress.
func (c *Client) ToggleHold(ctx context.Context) HoldResult {
	c.mu.Lock()
	cl := c.calls.current()
	if cl == nil || !cl.fsm.is(callEstablished) {
		c.unlock()
		return HoldResult{Err: ErrNoActiveCall}
	}
	if cl.holdPending {
		res := HoldResult{OnHold: cl.onHold, Mode: cl.holdMode, Err: ErrHoldInProgress}
		c.unlock()
		return res
	}
	cl.holdPending = true
	hold := !cl.onHold
	sess := cl.session
	c.unlock()

	err := sess.Hold(ctx, hold)

	c.mu.Lock()
	defer c.unlock()
	cl.holdPending = false
	if _, live := c.liveCallLocked(cl.id); !live || !cl.fsm.is(callEstablished) {
		return HoldResult{Err: ErrNoActiveCall}
	}

	res := HoldResult{OK: true, OnHold: hold, Err: err}
	switch {
	case err != nil:
		res.Mode = HoldLocalOnly
		c.log.Warn().Err(err).Bool("hold", hold).Str("call_id", cl.id).Msg("Hold renegotiation failed, media state changed only locally")
	case hold:
		res.Mode = HoldRenegotiated
	default:
		res.Mode = HoldNone
	}

	cl.onHold = hold
	cl.holdMode = res.Mode
	c.emitStateLocked()
	return res
}

// EnableMicrophone acquires microphone and attaches it to current call.
// Without call it only checks that microphone can be acquired.
func (c *Client) EnableMicrophone(ctx context.Context) bool {
	c.mu.Lock()
	cl := c.calls.current()
	if cl != nil && hasLiveTrack(cl.localStream) {
		c.unlock()
		return true
	}
	c.unlock()

	if c.devices == nil {
		return false
	}
	stream, err := c.devices.GetUserMedia(ctx, media.Constraints{Audio: true})
	if err != nil {
		c.log.Warn().Err(err).Msg("Microphone not available")
		return false
	}

	if cl == nil {
		stopStream(stream)
		return true
	}

	c.mu.Lock()
	sess := cl.session
	if _, live := c.liveCallLocked(cl.id); !live {
		c.unlock()
		stopStream(stream)
		return false
	}
	stream.SetAudioEnabled(!cl.muted)
	c.unlock()

	if sess != nil {
		if err := sess.SetLocalStream(stream); err != nil {
			c.log.Warn().Err(err).Str("call_id", cl.id).Msg("Failed to attach microphone")
			stopStream(stream)
			return false
		}
	}

	c.mu.Lock()
	defer c.unlock()
	if _, live := c.liveCallLocked(cl.id); !live {
		stopStream(stream)
		return false
	}
	old := cl.localStream
	cl.localStream = stream
	stopStream(old)
	c.emitStateLocked()
	return true
}

// SendDTMF sends digits on active call. All digits must be valid keypad tones.
func (c *Client) SendDTMF(ctx context.Context, digits string) bool {
	if digits == "" {
		return false
	}
	for _, d := range digits {
		if !media.IsDTMF(d) {
			return false
		}
	}

	c.mu.Lock()
	cl := c.calls.current()
	if cl == nil || !cl.fsm.is(callEstablished) {
		c.unlock()
		return false
	}
	sess := cl.session
	c.unlock()

	for _, d := range digits {
		if err := sess.SendDTMF(ctx, d); err != nil {
			c.log.Warn().Err(err).Str("digit", string(d)).Msg("Failed to send DTMF")
			return false
		}
	}
	return true
}

// State returns copy of current call state
func (c *Client) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Calls returns live calls
func (c *Client) Calls() []CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.calls.active()
	infos := make([]CallInfo, 0, len(active))
	for _, cl := range active {
		infos = append(infos, cl.info())
	}
	return infos
}

// History returns records of recently terminated calls, oldest first
func (c *Client) History() []CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls.history()
}

func (c *Client) newCallLocked(dir Direction, remoteNumber string) *call {
	var cl *call
	cl = newCall(dir, remoteNumber, c.now(), callHooks{
		established: func() { c.onEstablishedLocked(cl) },
		terminated:  func(o CallOutcome) { c.onTerminatedLocked(cl, o) },
	})
	return cl
}

func (c *Client) liveCallLocked(id string) (*call, bool) {
	cl, ok := c.calls.load(id)
	if !ok || cl.fsm.terminated() {
		return nil, false
	}
	return cl, true
}

func (c *Client) handleSessionEvent(id string, ev SessionEvent) {
	c.mu.Lock()
	defer c.unlock()

	cl, live := c.liveCallLocked(id)
	if !live {
		return
	}

	log := c.log.With().Str("call_id", id).Str("state", ev.State.String()).Logger()
	switch ev.State {
	case SessionEstablished:
		c.acceptLocked(cl)
	case SessionTerminated:
		outcome := sessionOutcome(cl.fsm.current(), ev)
		log.Info().Str("outcome", outcome.String()).Msg("Session terminated")
		cl.fsm.terminate(outcome)
		if ev.Err != nil && (ev.Cause == CauseFailed || ev.Cause == CauseRefused) {
			c.events.emitError(ev.Err)
		}
	}
}

// handleDTMF passes remote digit to observers while call is established
func (c *Client) handleDTMF(id string, digit rune) {
	c.mu.Lock()
	defer c.unlock()

	cl, live := c.liveCallLocked(id)
	if !live || !cl.fsm.is(callEstablished) {
		return
	}
	c.events.emitDTMF(digit)
}

func (c *Client) acceptLocked(cl *call) {
	if err := cl.fsm.fire(evAccepted); err != nil {
		c.log.Debug().Err(err).Str("call_id", cl.id).Msg("Accept ignored")
		return
	}
	c.emitStateLocked()
}

func (c *Client) onEstablishedLocked(cl *call) {
	now := c.now()
	cl.timers.AnsweredAt = now
	cl.startTime = now
	cl.duration = 0
	cl.outcome = &CallOutcome{Kind: OutcomeEstablished}

	if cl.session != nil {
		cl.remoteStream = cl.session.RemoteStream()
	}
	if c.sink != nil && cl.remoteStream != nil {
		if err := c.sink.Attach(cl.remoteStream); err != nil {
			c.log.Warn().Err(err).Str("call_id", cl.id).Msg("Failed to attach remote audio")
		}
	}

	t := startDurationTicker(c.tickInterval, func(done <-chan struct{}) {
		c.mu.Lock()
		defer c.unlock()
		select {
		case <-done:
			// Stopped while waiting on lock
			return
		default:
		}
		cl.elapsed(c.now())
		if c.onTick != nil {
			c.onTick(cl.id)
		}
		c.emitStateLocked()
	})
	cl.stopTicker = t.stop
}

func (c *Client) onTerminatedLocked(cl *call, outcome CallOutcome) {
	if cl.stopTicker != nil {
		cl.stopTicker()
		cl.stopTicker = nil
	}

	now := c.now()
	cl.timers.HangupAt = now
	duration := cl.elapsed(now)
	cl.outcome = &outcome

	if c.sink != nil && cl.remoteStream != nil {
		c.sink.Detach(cl.remoteStream)
	}
	if err := stopStream(cl.localStream); err != nil {
		c.log.Warn().Err(err).Str("call_id", cl.id).Msg("Failed to stop local stream")
	}

	rec, _ := c.calls.remove(cl.id)
	c.log.Info().
		Str("call_id", cl.id).
		Str("direction", string(cl.direction)).
		Str("outcome", outcome.String()).
		Int("duration", duration).
		Msg("Call terminated")

	// Terminal snapshot keeps final duration and outcome, reset follows
	terminal := CallState{
		IsRegistered: c.registered,
		RemoteNumber: cl.remoteNumber,
		CallDuration: duration,
		Outcome:      &outcome,
	}
	if !cl.startTime.IsZero() {
		st := cl.startTime
		terminal.CallStartTime = &st
	}
	c.events.emitCallState(terminal)
	c.emitStateLocked()

	for _, r := range c.recorders {
		r := r
		c.events.run(func() {
			if err := r.RecordCall(context.Background(), rec); err != nil {
				c.log.Error().Err(err).Str("call_id", rec.ID).Msg("Failed to record call")
			}
		})
	}
}

func (c *Client) emitStateLocked() {
	c.events.emitCallState(c.snapshotLocked())
}

func (c *Client) snapshotLocked() CallState {
	s := CallState{IsRegistered: c.registered}
	cl := c.calls.current()
	if cl == nil {
		return s
	}

	s.RemoteNumber = cl.remoteNumber
	s.IncomingCall = cl.fsm.is(callIncoming)
	s.LocalStream = cl.localStream
	if cl.fsm.is(callEstablished) {
		st := cl.startTime
		s.IsCallActive = true
		s.CallStartTime = &st
		s.CallDuration = cl.duration
		s.IsMuted = cl.muted
		s.IsOnHold = cl.onHold
		s.HoldMode = cl.holdMode
		s.RemoteStream = cl.remoteStream
	}
	return s
}

func (c *Client) acquireLocal(ctx context.Context) *media.Stream {
	if c.devices == nil {
		c.log.Warn().Msg("No capture devices configured, continuing without local audio")
		return nil
	}
	stream, err := c.devices.GetUserMedia(ctx, media.Constraints{Audio: true})
	if err != nil {
		c.log.Warn().Err(err).Msg("Microphone not available, continuing without local audio")
		return nil
	}
	return stream
}

// engineHandler adapts engine callbacks to client
type engineHandler struct {
	c *Client
}

func (h *engineHandler) HandleInvite(s Session) {
	c := h.c
	log := c.log.With().Str("session_id", s.ID()).Str("from", s.RemoteUser()).Logger()

	c.mu.Lock()
	if !c.initialized {
		c.unlock()
		if err := s.Reject(context.Background(), 480, "Temporarily Unavailable"); err != nil {
			log.Warn().Err(err).Msg("Reject failed")
		}
		return
	}
	if c.calls.current() != nil {
		c.unlock()
		log.Info().Msg("Busy, rejecting incoming call")
		if err := s.Reject(context.Background(), 486, "Busy Here"); err != nil {
			log.Warn().Err(err).Msg("Reject busy failed")
		}
		return
	}

	cl := c.newCallLocked(DirectionIncoming, s.RemoteUser())
	cl.session = s
	cl.timers.ReceivedAt = cl.timers.CreatedAt
	if err := cl.fsm.fire(evInviteReceived); err != nil {
		c.unlock()
		log.Error().Err(err).Msg("Failed to track incoming call")
		return
	}
	c.calls.store(cl)
	c.events.emitIncoming(cl.remoteNumber, s)
	c.emitStateLocked()
	c.unlock()

	log.Info().Msg("Incoming call")
	s.OnStateChange(func(ev SessionEvent) {
		c.handleSessionEvent(cl.id, ev)
	})
	s.OnDTMF(func(digit rune) {
		c.handleDTMF(cl.id, digit)
	})
}

func (h *engineHandler) HandleDisconnect(err error) {
	c := h.c
	c.log.Error().Err(err).Msg("Transport disconnected")

	c.mu.Lock()
	defer c.unlock()
	reason := "transport disconnected"
	if err != nil {
		reason = err.Error()
	}
	for _, cl := range c.calls.active() {
		cl.fsm.terminate(CallOutcome{Kind: OutcomeFailed, Reason: reason})
	}
	if c.registered {
		c.registered = false
		c.events.emitRegistration(false)
		c.emitStateLocked()
	}
	if err == nil {
		err = errors.New("webphone: transport disconnected")
	}
	c.events.emitError(err)
}

// localOutcome is outcome of call ended by us in given state
func localOutcome(state string) CallOutcome {
	switch state {
	case callOutgoing:
		return CallOutcome{Kind: OutcomeCanceledBeforeAnswer}
	case callIncoming:
		return CallOutcome{Kind: OutcomeRejected, Reason: "declined"}
	}
	return CallOutcome{Kind: OutcomeLocalEnded}
}

func sessionOutcome(state string, ev SessionEvent) CallOutcome {
	reason := ""
	if ev.Err != nil {
		reason = ev.Err.Error()
	}
	switch ev.Cause {
	case CauseLocal:
		return localOutcome(state)
	case CauseRemoteBye:
		return CallOutcome{Kind: OutcomeRemoteEnded}
	case CauseRemoteCancel:
		return CallOutcome{Kind: OutcomeCanceledBeforeAnswer, Reason: "remote canceled"}
	case CauseRefused:
		return CallOutcome{Kind: OutcomeRejected, Reason: reason}
	}
	return CallOutcome{Kind: OutcomeFailed, Reason: reason}
}

// classifyInviteError maps engine failure to user actionable errors
func classifyInviteError(target string, err error) error {
	var inviteErr *InviteError
	if errors.As(err, &inviteErr) {
		return err
	}

	var kind error
	var respErr *ResponseError
	switch {
	case errors.Is(err, media.ErrDeviceNotFound):
		kind = ErrNoMicrophone
	case errors.Is(err, media.ErrPermissionDenied):
		kind = ErrMicrophonePermissionDenied
	case errors.Is(err, media.ErrDeviceBusy):
		kind = ErrMicrophoneBusy
	case errors.Is(err, media.ErrNoCommonCodec):
		kind = ErrIncompatibleCodecs
	case errors.As(err, &respErr) && respErr.StatusCode == 488:
		kind = ErrIncompatibleCodecs
	}
	return &InviteError{Target: target, Kind: kind, Err: err}
}

func hasLiveTrack(s *media.Stream) bool {
	if s == nil {
		return false
	}
	for _, t := range s.AudioTracks() {
		if !t.Stopped() {
			return true
		}
	}
	return false
}

func stopStream(s *media.Stream) error {
	if s == nil {
		return nil
	}
	return s.Stop()
}
