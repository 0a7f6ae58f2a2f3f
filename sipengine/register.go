// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arnaldorodrigues/webphone"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"github.com/rs/zerolog"
)

type registerOptions struct {
	AOR string
	// Digest auth
	Username string
	Password string

	Transport string
	ProxyHost string

	// Expiry is for Expires header
	Expiry time.Duration
	// RetryInterval overrides interval before next REGISTER is sent
	RetryInterval time.Duration
	AllowHeaders  []string
}

// registerTransaction keeps one binding of contact to AOR
type registerTransaction struct {
	opts   registerOptions
	origin *sip.Request

	client *sipgo.Client
	log    zerolog.Logger

	expiry time.Duration
}

func newRegisterTransaction(client *sipgo.Client, recipient sip.Uri, contact sip.ContactHeader, opts registerOptions, log zerolog.Logger) *registerTransaction {
	req := sip.NewRequest(sip.REGISTER, recipient)
	aor := fmt.Sprintf("<%s>", opts.AOR)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(&contact)

	if opts.Transport != "" {
		req.SetTransport(sip.NetworkToUpper(opts.Transport))
	}
	if opts.ProxyHost != "" {
		req.SetDestination(opts.ProxyHost)
	}
	if opts.Expiry > 0 {
		expires := sip.ExpiresHeader(opts.Expiry.Seconds())
		req.AppendHeader(&expires)
	}
	if opts.AllowHeaders != nil {
		req.AppendHeader(sip.NewHeader("Allow", strings.Join(opts.AllowHeaders, ", ")))
	}

	return &registerTransaction{
		origin: req,
		opts:   opts,
		client: client,
		log:    log.With().Str("caller", "Register").Logger(),
		expiry: opts.Expiry,
	}
}

func (t *registerTransaction) Register(ctx context.Context) error {
	req := t.origin
	res, err := t.doRequest(ctx, req)
	if err != nil {
		return &webphone.RegistrationError{Err: err}
	}

	if res.StatusCode != sip.StatusOK {
		return &webphone.RegistrationError{
			StatusCode: int(res.StatusCode),
			Reason:     res.Reason,
		}
	}

	// https://datatracker.ietf.org/doc/html/rfc3581#section-9
	if via := res.Via(); via != nil {
		if rport, _ := via.Params.Get("rport"); rport != "" {
			contact := *req.Contact().Clone()
			if p, err := strconv.Atoi(rport); err == nil {
				contact.Address.Port = p
			}
			if received, _ := via.Params.Get("received"); received != "" {
				contact.Address.Host = received
			}
			req.ReplaceHeader(&contact)
		}
	}

	t.expiry = grantedExpiry(res, t.opts.Expiry)
	t.log.Info().Str("aor", t.opts.AOR).Dur("expiry", t.expiry).Msg("Registered")
	return nil
}

// QualifyLoop refreshes binding until context is done or refresh fails
func (t *registerTransaction) QualifyLoop(ctx context.Context) error {
	retry := t.calcRetry(t.expiry)
	return t.reregisterLoop(ctx, retry)
}

func (t *registerTransaction) reregisterLoop(ctx context.Context, retry time.Duration) error {
	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		expiry := t.expiry
		if err := t.Register(ctx); err != nil {
			return err
		}

		if t.expiry != expiry {
			retry = t.calcRetry(t.expiry)
			t.log.Info().Dur("expiry_old", expiry).Dur("expiry_new", t.expiry).Dur("retry", retry).Msg("Register expiry changed")
			ticker.Reset(retry)
		}
	}
}

func (t *registerTransaction) calcRetry(expiry time.Duration) time.Duration {
	if t.opts.RetryInterval != 0 {
		return t.opts.RetryInterval
	}

	calc := expiry.Seconds() * 0.75
	retry := time.Duration(calc) * time.Second

	if retry == 0 {
		retry = 30 * time.Second
	}
	return retry
}

func (t *registerTransaction) Unregister(ctx context.Context) error {
	req := t.origin

	req.RemoveHeader("Expires")
	req.RemoveHeader("Contact")
	req.AppendHeader(sip.NewHeader("Contact", "*"))
	expires := sip.ExpiresHeader(0)
	req.AppendHeader(&expires)

	res, err := t.doRequest(ctx, req)
	if err != nil {
		return err
	}
	if res.StatusCode != sip.StatusOK {
		return &webphone.ResponseError{StatusCode: int(res.StatusCode), Reason: res.Reason}
	}
	t.log.Info().Str("aor", t.opts.AOR).Msg("Unregistered")
	return nil
}

// doRequest sends REGISTER and answers digest challenge once
func (t *registerTransaction) doRequest(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	req.RemoveHeader("Via")
	req.RemoveHeader("Authorization")
	req.RemoveHeader("Proxy-Authorization")
	res, err := t.client.Do(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return nil, fmt.Errorf("fail to get response req=%q: %w", req.StartLine(), err)
	}

	if res.StatusCode != sip.StatusUnauthorized && res.StatusCode != sip.StatusProxyAuthRequired {
		return res, nil
	}

	hdr, err := authorize(req, res, t.opts.Username, t.opts.Password)
	if err != nil {
		return nil, err
	}

	req.RemoveHeader("Via")
	req.AppendHeader(hdr)
	res, err = t.client.Do(ctx, req, sipgo.ClientRequestIncreaseCSEQ, sipgo.ClientRequestAddVia)
	if err != nil {
		return nil, fmt.Errorf("fail to get response req=%q: %w", req.StartLine(), err)
	}
	return res, nil
}

// authorize answers 401/407 challenge of res to req with digest credentials
func authorize(req *sip.Request, res *sip.Response, username, password string) (sip.Header, error) {
	challengeHDR, authHDR := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		challengeHDR, authHDR = "Proxy-Authenticate", "Proxy-Authorization"
	}

	h := res.GetHeader(challengeHDR)
	if h == nil {
		return nil, fmt.Errorf("received %d but no %s header", res.StatusCode, challengeHDR)
	}

	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing auth challenge: %w", err)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("computing digest: %w", err)
	}
	return sip.NewHeader(authHDR, cred.String()), nil
}

// grantedExpiry reads expiry registrar granted. Contact expires param wins over Expires header.
func grantedExpiry(res *sip.Response, requested time.Duration) time.Duration {
	if h := res.GetHeader("Contact"); h != nil {
		if v := parseContactExpires(h.Value()); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	if h := res.GetHeader("Expires"); h != nil {
		if v, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return requested
}

// parseContactExpires extracts expires param from Contact value, ex <sip:alice@host>;expires=3600
func parseContactExpires(contact string) int {
	lower := strings.ToLower(contact)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contact[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> \t"); end > 0 {
		rest = rest[:end]
	}

	val, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return val
}
