// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arnaldorodrigues/webphone"
	"github.com/arnaldorodrigues/webphone/media"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

var errAnsweredBeforeCancel = errors.New("sipengine: call answered before cancel")

// clientSession represents outbound call
type clientSession struct {
	session
	dialog *sipgo.DialogClientSession

	waitCtx    context.Context
	waitCancel context.CancelFunc
	waitDone   chan struct{}
	answered   atomic.Bool
}

func newClientSession(e *Engine, dialog *sipgo.DialogClientSession, rtpSess *media.RTPSession, remoteUser string, local *media.Stream) *clientSession {
	s := &clientSession{
		dialog:   dialog,
		waitDone: make(chan struct{}),
	}
	s.init(e, webphone.DirectionOutgoing, uuid.NewString(), remoteUser, rtpSess)
	s.local = local
	s.waitCtx, s.waitCancel = context.WithCancel(context.Background())
	return s
}

// waitAnswer runs until final response. Canceling waitCtx sends CANCEL.
func (s *clientSession) waitAnswer(username, password string) {
	defer close(s.waitDone)
	defer s.waitCancel()

	err := s.dialog.WaitAnswer(s.waitCtx, sipgo.AnswerOptions{
		Username: username,
		Password: password,
	})
	if err != nil {
		if s.waitCtx.Err() != nil {
			s.canceled()
			return
		}
		s.dialog.Close()

		if res := dialogResponse(err); res != nil {
			s.terminate(webphone.CauseRefused, &webphone.ResponseError{
				StatusCode: res.StatusCode,
				Reason:     res.Reason,
			})
			return
		}
		s.terminate(webphone.CauseFailed, err)
		return
	}
	s.answered.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, mediaErr := s.applyRemote(s.dialog.InviteResponse.Body())
	if err := s.dialog.Ack(ctx); err != nil {
		s.dialog.Close()
		s.terminate(webphone.CauseFailed, fmt.Errorf("sending ack: %w", err))
		return
	}

	if mediaErr != nil {
		// Dialog is confirmed but no media can flow
		if err := s.dialog.Bye(ctx); err != nil {
			s.log.Warn().Err(err).Msg("BYE after media failure failed")
		}
		s.dialog.Close()
		s.terminate(webphone.CauseFailed, mediaErr)
		return
	}

	cache := s.engine.cache.client
	id := s.dialog.ID
	if err := cache.DialogStore(ctx, id, s); err != nil {
		s.log.Error().Err(err).Msg("Failed to store in dialog cache")
	}
	go func() {
		<-s.done
		cache.DialogDelete(context.Background(), id)
		s.dialog.Close()
	}()

	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	s.startSending(local)
	s.established()
}

// canceled finishes local cancel. Remote may have answered while CANCEL was
// in flight, then dialog is confirmed and closed with BYE.
func (s *clientSession) canceled() {
	defer s.dialog.Close()
	defer s.terminate(webphone.CauseLocal, nil)

	res := s.dialog.InviteResponse
	if res == nil || !res.IsSuccess() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info().Msg("Answered while canceling, sending BYE")
	if err := s.dialog.Ack(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to ACK late answer")
		return
	}
	if err := s.dialog.Bye(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to BYE late answer")
	}
}

// dialogResponse extracts final non 2xx response from dialog error
func dialogResponse(err error) *sip.Response {
	var resErr *sipgo.ErrDialogResponse
	if errors.As(err, &resErr) && resErr != nil {
		return resErr.Res
	}
	var resErrVal sipgo.ErrDialogResponse
	if errors.As(err, &resErrVal) {
		return resErrVal.Res
	}
	return nil
}

func (s *clientSession) Accept(ctx context.Context, local *media.Stream) error {
	return fmt.Errorf("sipengine: accept on outgoing session")
}

func (s *clientSession) Reject(ctx context.Context, code int, reason string) error {
	return fmt.Errorf("sipengine: reject on outgoing session")
}

// Cancel stops pending INVITE. It fails when remote answered meanwhile.
func (s *clientSession) Cancel(ctx context.Context) error {
	s.waitCancel()
	select {
	case <-s.waitDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.answered.Load() {
		return errAnsweredBeforeCancel
	}
	return nil
}

func (s *clientSession) Bye(ctx context.Context) error {
	if !s.answered.Load() {
		return fmt.Errorf("sipengine: bye on unanswered session")
	}
	// Answer may still be in ACK phase
	select {
	case <-s.waitDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := s.dialog.Bye(ctx)
	s.terminate(webphone.CauseLocal, nil)
	return err
}

func (s *clientSession) Hold(ctx context.Context, hold bool) error {
	return s.hold(ctx, s.dialog, s.remoteTarget(), hold)
}

func (s *clientSession) SendDTMF(ctx context.Context, digit rune) error {
	return s.sendDTMF(ctx, s.dialog, s.remoteTarget(), digit)
}

func (s *clientSession) remoteTarget() sip.Uri {
	if res := s.dialog.InviteResponse; res != nil {
		if cont := res.Contact(); cont != nil {
			return cont.Address
		}
	}
	return s.dialog.InviteRequest.Recipient
}

func (s *clientSession) handleReInvite(req *sip.Request, tx sip.ServerTransaction) error {
	if err := s.dialog.ReadRequest(req, tx); err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}
	return s.handleMediaUpdate(req, tx)
}
