// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arnaldorodrigues/webphone"
	"github.com/arnaldorodrigues/webphone/media"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotStarted    = errors.New("sipengine: engine not started")
	ErrNotRegistered = errors.New("sipengine: not registered")
)

var (
	_ webphone.Engine  = (*Engine)(nil)
	_ webphone.Session = (*clientSession)(nil)
	_ webphone.Session = (*serverSession)(nil)
)

type Option func(e *Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithCodecs sets codecs offered and accepted, in preference order
func WithCodecs(codecs ...media.Codec) Option {
	return func(e *Engine) {
		e.codecs = codecs
	}
}

// WithMediaIP sets IP used for RTP binding and SDP connection address
func WithMediaIP(ip net.IP) Option {
	return func(e *Engine) {
		e.mediaIP = ip
	}
}

// WithRegisterExpiry sets Expires requested on REGISTER
func WithRegisterExpiry(d time.Duration) Option {
	return func(e *Engine) {
		e.expiry = d
	}
}

// WithRetryInterval forces re-register interval instead of one derived from granted expiry
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.retryInterval = d
	}
}

func WithUserAgent(name string) Option {
	return func(e *Engine) {
		e.userAgent = name
	}
}

// Engine is sipgo based implementation of webphone.Engine. It connects as
// websocket client to PBX and receives inbound requests over same connection.
type Engine struct {
	log           zerolog.Logger
	codecs        []media.Codec
	mediaIP       net.IP
	expiry        time.Duration
	retryInterval time.Duration
	userAgent     string

	mu        sync.Mutex
	cfg       webphone.SessionConfig
	handler   webphone.EngineHandler
	ua        *sipgo.UserAgent
	client    *sipgo.Client
	server    *sipgo.Server
	contact   sip.ContactHeader
	dialogUA  *sipgo.DialogUA
	reg       *registerTransaction
	regCancel context.CancelFunc
	regDone   chan struct{}

	cache dialogCachePool
}

func New(opts ...Option) *Engine {
	e := &Engine{
		log:       log.Logger,
		codecs:    media.DefaultCodecs,
		expiry:    600 * time.Second,
		userAgent: "webphone",
		cache:     newDialogCachePool(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Start(ctx context.Context, cfg webphone.SessionConfig, h webphone.EngineHandler) error {
	e.mu.Lock()
	if e.ua != nil {
		e.mu.Unlock()
		return fmt.Errorf("sipengine: already started")
	}
	e.mu.Unlock()

	if e.mediaIP == nil {
		ip, err := outboundIP(cfg.WSServer, cfg.WSPort)
		if err != nil {
			return fmt.Errorf("resolving media ip: %w", err)
		}
		e.mediaIP = ip
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(e.userAgent),
		sipgo.WithUserAgentHostname(cfg.Server),
		sipgo.WithUserAgenTLSConfig(&tls.Config{ServerName: cfg.WSServer}),
	)
	if err != nil {
		return fmt.Errorf("creating user agent: %w", err)
	}

	// Websocket peers can not reach us on Via host, so it is only informative
	hostname := strings.Split(uuid.NewString(), "-")[0] + ".invalid"
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(hostname),
		sipgo.WithClientNAT(),
	)
	if err != nil {
		ua.Close()
		return fmt.Errorf("creating client: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	contact := sip.ContactHeader{DisplayName: cfg.DisplayName}
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s;transport=%s", cfg.Username, hostname, cfg.Transport()), &contact.Address); err != nil {
		ua.Close()
		return fmt.Errorf("building contact: %w", err)
	}

	e.mu.Lock()
	e.cfg = cfg
	e.handler = h
	e.ua = ua
	e.client = client
	e.server = server
	e.contact = contact
	// Peer Contact is not reachable over websocket, in-dialog requests go to message source
	e.dialogUA = &sipgo.DialogUA{
		Client:         client,
		ContactHDR:     contact,
		RewriteContact: true,
	}
	e.mu.Unlock()

	e.serveHandlers(server)

	// Connection is opened lazily by first request. OPTIONS proves websocket is reachable.
	if err := e.ping(ctx); err != nil {
		e.Stop(context.Background())
		return err
	}

	e.log.Info().Str("url", cfg.WebSocketURL()).Msg("Transport connected")
	return nil
}

func (e *Engine) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg := e.config()
	req := sip.NewRequest(sip.OPTIONS, e.serverURI())
	aor := fmt.Sprintf("<%s>", cfg.AOR())
	req.AppendHeader(sip.NewHeader("From", aor+";tag="+sip.GenerateTagN(16)))
	req.AppendHeader(sip.NewHeader("To", aor))
	e.route(req)

	res, err := e.getClient().Do(ctx, req)
	if err != nil {
		return fmt.Errorf("options ping: %w", err)
	}
	e.log.Debug().Int("status", int(res.StatusCode)).Msg("OPTIONS answered")
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.stopRegisterLoop()

	var errs []error
	e.cache.client.DialogRange(ctx, func(id string, s *clientSession) bool {
		s.terminate(webphone.CauseFailed, fmt.Errorf("sipengine: engine stopped"))
		return true
	})
	e.cache.server.DialogRange(ctx, func(id string, s *serverSession) bool {
		s.terminate(webphone.CauseFailed, fmt.Errorf("sipengine: engine stopped"))
		return true
	})

	e.mu.Lock()
	ua := e.ua
	e.ua, e.client, e.server, e.reg, e.dialogUA = nil, nil, nil, nil, nil
	e.handler = nil
	e.mu.Unlock()

	if ua != nil {
		if err := ua.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) Register(ctx context.Context) error {
	e.mu.Lock()
	client := e.client
	cfg := e.cfg
	contact := e.contact
	e.mu.Unlock()
	if client == nil {
		return ErrNotStarted
	}

	var recipient sip.Uri
	if err := sip.ParseUri("sip:"+cfg.Server, &recipient); err != nil {
		return fmt.Errorf("parsing registrar uri: %w", err)
	}

	t := newRegisterTransaction(client, recipient, contact, registerOptions{
		AOR:           cfg.AOR(),
		Username:      cfg.Username,
		Password:      cfg.Password,
		Transport:     cfg.Transport(),
		ProxyHost:     e.proxyHost(),
		Expiry:        e.expiry,
		RetryInterval: e.retryInterval,
		AllowHeaders:  []string{"INVITE", "ACK", "CANCEL", "BYE", "INFO", "OPTIONS"},
	}, e.log)

	if err := t.Register(ctx); err != nil {
		return err
	}

	e.stopRegisterLoop()
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.mu.Lock()
	e.reg = t
	e.regCancel = cancel
	e.regDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		err := t.QualifyLoop(loopCtx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		e.log.Error().Err(err).Msg("Registration refresh failed")
		if h := e.getHandler(); h != nil {
			h.HandleDisconnect(err)
		}
	}()
	return nil
}

func (e *Engine) Unregister(ctx context.Context) error {
	e.mu.Lock()
	t := e.reg
	e.reg = nil
	e.mu.Unlock()
	e.stopRegisterLoop()

	if t == nil {
		return ErrNotRegistered
	}
	return t.Unregister(ctx)
}

func (e *Engine) stopRegisterLoop() {
	e.mu.Lock()
	cancel, done := e.regCancel, e.regDone
	e.regCancel, e.regDone = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Invite sends INVITE with local offer. Answer is awaited in background.
func (e *Engine) Invite(ctx context.Context, target string, local *media.Stream) (webphone.Session, error) {
	e.mu.Lock()
	dialogUA := e.dialogUA
	cfg := e.cfg
	e.mu.Unlock()
	if dialogUA == nil {
		return nil, ErrNotStarted
	}

	var recipient sip.Uri
	if err := sip.ParseUri(target, &recipient); err != nil {
		return nil, fmt.Errorf("parsing target %q: %w", target, err)
	}

	rtpSess, err := media.ListenRTP(e.mediaIP)
	if err != nil {
		return nil, err
	}

	offer, err := media.MarshalSDP(media.Description{
		IP:        e.mediaIP,
		Port:      rtpSess.LocalAddr().Port,
		Codecs:    e.codecs,
		Direction: media.DirectionSendRecv,
	}, 1)
	if err != nil {
		rtpSess.Close()
		return nil, err
	}

	route, err := e.routeHeader()
	if err != nil {
		rtpSess.Close()
		return nil, err
	}

	from := &sip.FromHeader{DisplayName: cfg.DisplayName, Params: sip.NewParams()}
	if err := sip.ParseUri(cfg.AOR(), &from.Address); err != nil {
		rtpSess.Close()
		return nil, err
	}
	from.Params.Add("tag", sip.GenerateTagN(16))

	req := sip.NewRequest(sip.INVITE, recipient)
	req.AppendHeader(from)
	req.AppendHeader(route)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody(offer)
	e.route(req)

	dialog, err := dialogUA.WriteInvite(ctx, req)
	if err != nil {
		rtpSess.Close()
		return nil, err
	}

	s := newClientSession(e, dialog, rtpSess, recipient.User, local)
	s.log.Info().Str("target", target).Msg("Invite sent")
	go s.waitAnswer(cfg.Username, cfg.Password)
	return s, nil
}

func (e *Engine) serveHandlers(server *sipgo.Server) {
	errHandler := func(f func(req *sip.Request, tx sip.ServerTransaction) error) sipgo.RequestHandler {
		return func(req *sip.Request, tx sip.ServerTransaction) {
			if err := f(req, tx); err != nil {
				e.log.Error().Err(err).Str("req.method", req.Method.String()).Msg("Failed to handle request")
			}
		}
	}

	server.OnInvite(errHandler(e.handleInvite))

	server.OnCancel(func(req *sip.Request, tx sip.ServerTransaction) {
		// Matching INVITE transaction is canceled by transaction layer
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil))
	})

	server.OnAck(errHandler(func(req *sip.Request, tx sip.ServerTransaction) error {
		d, err := e.cache.MatchDialogServer(req)
		if err != nil {
			// Normally ACK on negative response or re-INVITE answer
			return nil
		}
		return d.dialog.ReadAck(req, tx)
	}))

	server.OnBye(errHandler(func(req *sip.Request, tx sip.ServerTransaction) error {
		sd, cd, err := e.cache.MatchDialog(req)
		if err != nil {
			return respondNoDialog(req, tx, err)
		}

		if cd != nil {
			defer cd.terminate(webphone.CauseRemoteBye, nil)
			return cd.dialog.ReadBye(req, tx)
		}
		defer sd.terminate(webphone.CauseRemoteBye, nil)
		return sd.dialog.ReadBye(req, tx)
	}))

	server.OnInfo(errHandler(func(req *sip.Request, tx sip.ServerTransaction) error {
		if ct := req.ContentType(); ct == nil || ct.Value() != "application/dtmf-relay" {
			return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable", nil))
		}

		sd, cd, err := e.cache.MatchDialog(req)
		if err != nil {
			return respondNoDialog(req, tx, err)
		}
		if cd != nil {
			return cd.readSIPInfoDTMF(req, tx)
		}
		return sd.readSIPInfoDTMF(req, tx)
	}))

	server.OnOptions(errHandler(func(req *sip.Request, tx sip.ServerTransaction) error {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	}))
}

func (e *Engine) handleInvite(req *sip.Request, tx sip.ServerTransaction) error {
	if id, err := sip.DialogIDFromRequestUAS(req); err == nil {
		return e.handleReInvite(req, tx, id)
	}

	h := e.getHandler()
	if h == nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable", nil))
	}

	e.mu.Lock()
	dialogUA := e.dialogUA
	e.mu.Unlock()
	if dialogUA == nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable", nil))
	}

	dialog, err := dialogUA.ReadInvite(req, tx)
	if err != nil {
		return fmt.Errorf("handling new INVITE failed: %w", err)
	}

	rtpSess, err := media.ListenRTP(e.mediaIP)
	if err != nil {
		dialog.Respond(sip.StatusInternalServerError, "Internal Server Error", nil)
		dialog.Close()
		return err
	}

	s := newServerSession(e, dialog, rtpSess)
	defer s.close()

	if err := dialog.Respond(sip.StatusRinging, "Ringing", nil); err != nil {
		s.terminate(webphone.CauseFailed, err)
		return fmt.Errorf("sending ringing: %w", err)
	}

	if err := e.cache.server.DialogStore(context.Background(), s.id, s); err != nil {
		return fmt.Errorf("failed to store server dialog: %w", err)
	}
	defer func() {
		if err := e.cache.server.DialogDelete(context.Background(), s.id); err != nil {
			e.log.Error().Err(err).Msg("Failed to delete server dialog")
		}
	}()

	s.log.Info().Str("from", s.RemoteUser()).Msg("Incoming invite")
	h.HandleInvite(s)

	// Handler returns immediately. Keep transaction handler alive until dialog ends.
	s.serve()
	return nil
}

func (e *Engine) handleReInvite(req *sip.Request, tx sip.ServerTransaction, id string) error {
	ctx := context.Background()
	s, err := e.cache.server.DialogLoad(ctx, id)
	if err == nil {
		return s.handleReInvite(req, tx)
	}

	cid, err := sip.DialogIDFromRequestUAC(req)
	if err != nil {
		e.log.Info().Err(err).Msg("Reinvite failed to read request dialog ID")
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Bad Request", nil))
	}
	c, err := e.cache.client.DialogLoad(ctx, cid)
	if err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil))
	}
	return c.handleReInvite(req, tx)
}

func respondNoDialog(req *sip.Request, tx sip.ServerTransaction, err error) error {
	if errors.Is(err, sipgo.ErrDialogDoesNotExists) {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, err.Error(), nil))
	}
	return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
}

func (e *Engine) config() webphone.SessionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) getClient() *sipgo.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

func (e *Engine) getHandler() webphone.EngineHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

func (e *Engine) serverURI() sip.Uri {
	cfg := e.config()
	return sip.Uri{Scheme: "sip", Host: cfg.Server}
}

// proxyHost is websocket server address all requests are sent to
func (e *Engine) proxyHost() string {
	cfg := e.config()
	return net.JoinHostPort(cfg.WSServer, strconv.Itoa(cfg.WSPort))
}

// route sends request over websocket connection regardless of request uri
func (e *Engine) route(req *sip.Request) {
	req.SetTransport(sip.NetworkToUpper(e.config().Transport()))
	req.SetDestination(e.proxyHost())
}

// routeHeader is loose route to websocket server used by dialogs built by sipgo
func (e *Engine) routeHeader() (*sip.RouteHeader, error) {
	cfg := e.config()
	h := &sip.RouteHeader{}
	uri := fmt.Sprintf("sip:%s;transport=%s;lr", e.proxyHost(), cfg.Transport())
	if err := sip.ParseUri(uri, &h.Address); err != nil {
		return nil, fmt.Errorf("building route: %w", err)
	}
	return h, nil
}

// outboundIP finds local interface used to reach host
func outboundIP(host string, port int) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local addr %s", conn.LocalAddr())
	}
	return addr.IP, nil
}
