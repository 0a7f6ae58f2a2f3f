// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/arnaldorodrigues/webphone"
	"github.com/arnaldorodrigues/webphone/media"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
)

var ErrSessionTerminated = errors.New("sipengine: session terminated")

// sipDialog is part of sipgo client and server dialog we drive in both directions
type sipDialog interface {
	Do(ctx context.Context, req *sip.Request) (*sip.Response, error)
	WriteRequest(req *sip.Request) error
	Bye(ctx context.Context) error
}

// session keeps media and state shared by inbound and outbound dialogs.
// State events are buffered until listener is set so none is lost between
// dialog creation and OnStateChange.
type session struct {
	id         string
	direction  webphone.Direction
	remoteUser string

	engine *Engine
	log    zerolog.Logger

	rtp    *media.RTPSession
	remote *media.Stream

	// emitMu keeps events delivered in order they were produced
	emitMu   sync.Mutex
	mu       sync.Mutex
	state    webphone.SessionState
	listener func(ev webphone.SessionEvent)
	pending  []webphone.SessionEvent
	onDTMF   func(digit rune)

	local      *media.Stream
	sendCancel context.CancelFunc
	onHold     bool
	sdpVersion uint64

	done     chan struct{}
	doneOnce sync.Once
}

func (s *session) init(e *Engine, dir webphone.Direction, id string, remoteUser string, rtpSess *media.RTPSession) {
	s.id = id
	s.direction = dir
	s.remoteUser = remoteUser
	s.engine = e
	s.rtp = rtpSess
	s.remote = media.NewStream(media.NewAudioTrack("remote", rtpSess))
	s.state = webphone.SessionEstablishing
	s.sdpVersion = 1
	s.done = make(chan struct{})
	s.log = e.log.With().Str("session_id", id).Str("direction", string(dir)).Logger()
	rtpSess.OnDTMF(s.receivedDTMF)
}

func (s *session) ID() string { return s.id }

func (s *session) Direction() webphone.Direction { return s.direction }

func (s *session) RemoteUser() string { return s.remoteUser }

func (s *session) RemoteStream() *media.Stream { return s.remote }

func (s *session) State() webphone.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) OnStateChange(fn func(ev webphone.SessionEvent)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.listener = fn
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range pending {
		fn(ev)
	}
}

// OnDTMF sets listener of digits received from remote, both as RFC 4733
// events and SIP INFO. Digits without listener are dropped.
func (s *session) OnDTMF(fn func(digit rune)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDTMF = fn
}

func (s *session) receivedDTMF(digit rune) {
	s.mu.Lock()
	fn := s.onDTMF
	s.mu.Unlock()

	s.log.Info().Str("digit", string(digit)).Msg("Received DTMF")
	if fn != nil {
		fn(digit)
	}
}

func (s *session) emit(ev webphone.SessionEvent) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.state == webphone.SessionTerminated {
		s.mu.Unlock()
		return
	}
	s.state = ev.State
	l := s.listener
	if l == nil {
		s.pending = append(s.pending, ev)
	}
	s.mu.Unlock()

	if l != nil {
		l(ev)
	}
}

func (s *session) established() {
	s.emit(webphone.SessionEvent{State: webphone.SessionEstablished})
}

// terminate reports final state once and releases media
func (s *session) terminate(cause webphone.TerminationCause, err error) {
	if s.State() == webphone.SessionTerminated {
		return
	}
	s.log.Debug().Int("cause", int(cause)).AnErr("reason", err).Msg("Session terminated")
	s.emit(webphone.SessionEvent{State: webphone.SessionTerminated, Cause: cause, Err: err})
	s.release()
}

func (s *session) release() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		cancel := s.sendCancel
		s.sendCancel = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if err := s.remote.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("Closing remote stream")
		}
		s.rtp.Close()
		close(s.done)
	})
}

func (s *session) terminated() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// SetLocalStream replaces stream sent to remote. Previous one is left to caller.
func (s *session) SetLocalStream(st *media.Stream) error {
	if s.terminated() {
		return ErrSessionTerminated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = st
	if s.state == webphone.SessionEstablished {
		s.startSendingUnsafe()
	}
	return nil
}

func (s *session) startSending(local *media.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = local
	s.startSendingUnsafe()
}

func (s *session) startSendingUnsafe() {
	if s.sendCancel != nil {
		s.sendCancel()
		s.sendCancel = nil
	}
	if s.local == nil {
		return
	}
	tracks := s.local.AudioTracks()
	if len(tracks) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.sendCancel = cancel
	track := tracks[0]
	go func() {
		if err := s.rtp.SendTrack(ctx, track); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("Sending local audio stopped")
		}
	}()
}

// localSDP builds our description with given direction and next version
func (s *session) localSDP(dir media.Direction) ([]byte, error) {
	s.mu.Lock()
	version := s.sdpVersion
	s.sdpVersion++
	s.mu.Unlock()

	return media.MarshalSDP(media.Description{
		IP:        s.engine.mediaIP,
		Port:      s.rtp.LocalAddr().Port,
		Codecs:    s.engine.codecs,
		Direction: dir,
	}, version)
}

// applyRemote negotiates remote SDP body against our codecs
func (s *session) applyRemote(body []byte) (media.Description, error) {
	if len(body) == 0 {
		return media.Description{}, fmt.Errorf("no sdp present")
	}
	desc, err := media.UnmarshalSDP(body)
	if err != nil {
		return desc, err
	}
	return desc, s.rtp.Apply(desc, s.engine.codecs)
}

// hold sends re-INVITE changing media direction
func (s *session) hold(ctx context.Context, d sipDialog, target sip.Uri, hold bool) error {
	if s.State() != webphone.SessionEstablished {
		return fmt.Errorf("sipengine: hold requires established session")
	}

	body, err := s.localSDP(media.HoldDirection(hold))
	if err != nil {
		return err
	}

	req := sip.NewRequest(sip.INVITE, target)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody(body)
	s.engine.route(req)

	res, err := d.Do(ctx, req)
	if err != nil {
		return err
	}

	if !res.IsSuccess() {
		// Non 2xx is acknowledged by transaction layer
		return &webphone.ResponseError{StatusCode: int(res.StatusCode), Reason: res.Reason}
	}

	ack := newAckFor2xx(req, res)
	s.engine.route(ack)
	if err := d.WriteRequest(ack); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send ACK for re-INVITE")
	}

	if body := res.Body(); len(body) > 0 {
		if _, err := s.applyRemote(body); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.onHold = hold
	s.mu.Unlock()
	s.log.Info().Bool("hold", hold).Msg("Media direction renegotiated")
	return nil
}

// newAckFor2xx builds ACK for 2xx answer of in-dialog INVITE. It is sent by
// us and not by transaction layer (RFC 3261 13.2.2.4).
func newAckFor2xx(req *sip.Request, res *sip.Response) *sip.Request {
	recipient := &req.Recipient
	if contact := res.Contact(); contact != nil {
		recipient = &contact.Address
	}

	ack := sip.NewRequest(sip.ACK, *recipient.Clone())
	ack.SipVersion = req.SipVersion
	if h := req.From(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := res.To(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := req.CallID(); h != nil {
		ack.AppendHeader(sip.HeaderClone(h))
	}
	if h := req.CSeq(); h != nil {
		cseq := sip.HeaderClone(h).(*sip.CSeqHeader)
		cseq.MethodName = sip.ACK
		ack.AppendHeader(cseq)
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	ack.SetTransport(req.Transport())
	return ack
}

// handleMediaUpdate answers remote re-INVITE keeping our hold state
func (s *session) handleMediaUpdate(req *sip.Request, tx sip.ServerTransaction) error {
	desc, err := s.applyRemote(req.Body())
	if err != nil {
		s.log.Info().Err(err).Msg("Rejecting media update")
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptableHere, "Not Acceptable Here", nil))
	}

	s.mu.Lock()
	onHold := s.onHold
	s.mu.Unlock()

	body, err := s.localSDP(answerDirection(desc.Direction, onHold))
	if err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusInternalServerError, "Internal Server Error", nil))
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", body)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	return tx.Respond(res)
}

// answerDirection mirrors remote offer direction (RFC 3264 6.1)
func answerDirection(remote media.Direction, localHold bool) media.Direction {
	switch remote {
	case media.DirectionSendOnly:
		if localHold {
			return media.DirectionInactive
		}
		return media.DirectionRecvOnly
	case media.DirectionRecvOnly:
		return media.DirectionSendOnly
	case media.DirectionInactive:
		return media.DirectionInactive
	}
	return media.HoldDirection(localHold)
}

// sendDTMF uses RFC 4733 events when negotiated, otherwise SIP INFO
func (s *session) sendDTMF(ctx context.Context, d sipDialog, target sip.Uri, digit rune) error {
	if !media.IsDTMF(digit) {
		return fmt.Errorf("sipengine: invalid dtmf digit %q", digit)
	}
	if s.State() != webphone.SessionEstablished {
		return fmt.Errorf("sipengine: dtmf requires established session")
	}

	if s.rtp.CanDTMF() {
		return s.rtp.WriteDTMF(digit)
	}

	req := sip.NewRequest(sip.INFO, target)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/dtmf-relay"))
	req.SetBody(dtmfInfoBody(digit))
	s.engine.route(req)

	res, err := d.Do(ctx, req)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return &webphone.ResponseError{StatusCode: int(res.StatusCode), Reason: res.Reason}
	}
	return nil
}

func dtmfInfoBody(digit rune) []byte {
	return []byte(fmt.Sprintf("Signal=%c\r\nDuration=160\r\n", digit))
}

// parseDTMFInfo reads Signal from application/dtmf-relay body
func parseDTMFInfo(body []byte) (rune, bool) {
	for _, line := range strings.Split(string(body), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "signal") {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) != 1 {
			continue
		}
		r := rune(v[0])
		if media.IsDTMF(r) {
			return r, true
		}
	}
	return 0, false
}

func (s *session) readSIPInfoDTMF(req *sip.Request, tx sip.ServerTransaction) error {
	digit, ok := parseDTMFInfo(req.Body())
	if !ok {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Bad Request", nil))
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		return err
	}
	s.receivedDTMF(digit)
	return nil
}
