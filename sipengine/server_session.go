// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/arnaldorodrigues/webphone"
	"github.com/arnaldorodrigues/webphone/media"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// serverSession represents inbound call
type serverSession struct {
	session
	dialog *sipgo.DialogServerSession

	// finalSent is set once we started final response to INVITE
	finalSent atomic.Bool
}

func newServerSession(e *Engine, dialog *sipgo.DialogServerSession, rtpSess *media.RTPSession) *serverSession {
	s := &serverSession{
		dialog: dialog,
	}
	remoteUser := ""
	if from := dialog.InviteRequest.From(); from != nil {
		remoteUser = from.Address.User
	}
	s.init(e, webphone.DirectionIncoming, dialog.ID, remoteUser, rtpSess)
	return s
}

// serve blocks until session is released. Dialog ending before our final
// response means remote canceled or INVITE transaction died.
func (s *serverSession) serve() {
	select {
	case <-s.dialog.Context().Done():
		if !s.finalSent.Load() {
			s.log.Info().AnErr("cause", context.Cause(s.dialog.Context())).Msg("Remote canceled invite")
			s.terminate(webphone.CauseRemoteCancel, nil)
			return
		}
	case <-s.done:
		return
	}
	<-s.done
}

func (s *serverSession) close() {
	s.release()
	s.dialog.Close()
}

func (s *serverSession) Accept(ctx context.Context, local *media.Stream) error {
	if !s.finalSent.CompareAndSwap(false, true) {
		return fmt.Errorf("sipengine: invite already answered")
	}

	if _, err := s.applyRemote(s.dialog.InviteRequest.Body()); err != nil {
		if rerr := s.dialog.Respond(sip.StatusNotAcceptableHere, "Not Acceptable Here", nil); rerr != nil {
			s.log.Warn().Err(rerr).Msg("Failed to respond 488")
		}
		s.terminate(webphone.CauseFailed, err)
		return err
	}

	body, err := s.localSDP(media.DirectionSendRecv)
	if err != nil {
		s.dialog.Respond(sip.StatusInternalServerError, "Internal Server Error", nil)
		s.terminate(webphone.CauseFailed, err)
		return err
	}

	// Returns once ACK confirmed dialog or retransmissions timed out
	if err := s.dialog.RespondSDP(body); err != nil {
		s.terminate(webphone.CauseFailed, err)
		return err
	}
	if s.terminated() {
		return ErrSessionTerminated
	}

	s.startSending(local)
	s.established()
	return nil
}

func (s *serverSession) Reject(ctx context.Context, code int, reason string) error {
	if !s.finalSent.CompareAndSwap(false, true) {
		return fmt.Errorf("sipengine: invite already answered")
	}
	err := s.dialog.Respond(code, reason, nil)
	s.terminate(webphone.CauseLocal, nil)
	return err
}

func (s *serverSession) Cancel(ctx context.Context) error {
	return fmt.Errorf("sipengine: cancel on incoming session")
}

func (s *serverSession) Bye(ctx context.Context) error {
	if s.State() != webphone.SessionEstablished {
		return fmt.Errorf("sipengine: bye on unanswered session")
	}
	err := s.dialog.Bye(ctx)
	s.terminate(webphone.CauseLocal, nil)
	return err
}

func (s *serverSession) Hold(ctx context.Context, hold bool) error {
	return s.hold(ctx, s.dialog, s.remoteTarget(), hold)
}

func (s *serverSession) SendDTMF(ctx context.Context, digit rune) error {
	return s.sendDTMF(ctx, s.dialog, s.remoteTarget(), digit)
}

func (s *serverSession) remoteTarget() sip.Uri {
	if cont := s.dialog.InviteRequest.Contact(); cont != nil {
		return cont.Address
	}
	return s.dialog.InviteRequest.From().Address
}

func (s *serverSession) handleReInvite(req *sip.Request, tx sip.ServerTransaction) error {
	if err := s.dialog.ReadRequest(req, tx); err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}
	return s.handleMediaUpdate(req, tx)
}
