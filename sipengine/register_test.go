// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegisterRequest(t *testing.T) *sip.Request {
	var recipient sip.Uri
	require.NoError(t, sip.ParseUri("sip:pbx.example.com", &recipient))
	return sip.NewRequest(sip.REGISTER, recipient)
}

func TestRegisterCalcRetry(t *testing.T) {
	tr := &registerTransaction{}
	assert.Equal(t, 450*time.Second, tr.calcRetry(600*time.Second))
	assert.Equal(t, 45*time.Second, tr.calcRetry(60*time.Second))
	assert.Equal(t, 30*time.Second, tr.calcRetry(0))

	tr.opts.RetryInterval = 5 * time.Second
	assert.Equal(t, 5*time.Second, tr.calcRetry(600*time.Second))
}

func TestRegisterParseContactExpires(t *testing.T) {
	assert.Equal(t, 3600, parseContactExpires("<sip:alice@host>;expires=3600"))
	assert.Equal(t, 120, parseContactExpires("<sip:alice@host;transport=ws>;EXPIRES=120;q=0.5"))
	assert.Equal(t, 0, parseContactExpires("<sip:alice@host>"))
	assert.Equal(t, 0, parseContactExpires("<sip:alice@host>;expires=abc"))
}

func TestRegisterGrantedExpiry(t *testing.T) {
	req := testRegisterRequest(t)

	t.Run("ContactParam", func(t *testing.T) {
		res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		res.AppendHeader(sip.NewHeader("Contact", "<sip:alice@x.invalid>;expires=120"))
		res.AppendHeader(sip.NewHeader("Expires", "300"))
		assert.Equal(t, 120*time.Second, grantedExpiry(res, 600*time.Second))
	})

	t.Run("ExpiresHeader", func(t *testing.T) {
		res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		res.AppendHeader(sip.NewHeader("Expires", "300"))
		assert.Equal(t, 300*time.Second, grantedExpiry(res, 600*time.Second))
	})

	t.Run("Requested", func(t *testing.T) {
		res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
		assert.Equal(t, 600*time.Second, grantedExpiry(res, 600*time.Second))
	})
}

func TestRegisterAuthorize(t *testing.T) {
	req := testRegisterRequest(t)

	t.Run("WWWAuthenticate", func(t *testing.T) {
		res := sip.NewResponseFromRequest(req, sip.StatusUnauthorized, "Unauthorized", nil)
		res.AppendHeader(sip.NewHeader("WWW-Authenticate", `Digest realm="pbx", nonce="abc123", algorithm=MD5`))

		h, err := authorize(req, res, "alice", "secret")
		require.NoError(t, err)
		assert.Equal(t, "Authorization", h.Name())
		assert.Contains(t, h.Value(), `username="alice"`)
		assert.Contains(t, h.Value(), `realm="pbx"`)
		assert.Contains(t, h.Value(), `nonce="abc123"`)
		assert.Contains(t, h.Value(), "response=")
	})

	t.Run("ProxyAuthenticate", func(t *testing.T) {
		res := sip.NewResponseFromRequest(req, sip.StatusProxyAuthRequired, "Proxy Authentication Required", nil)
		res.AppendHeader(sip.NewHeader("Proxy-Authenticate", `Digest realm="pbx", nonce="n0nce", algorithm=MD5`))

		h, err := authorize(req, res, "alice", "secret")
		require.NoError(t, err)
		assert.Equal(t, "Proxy-Authorization", h.Name())
	})

	t.Run("MissingChallenge", func(t *testing.T) {
		res := sip.NewResponseFromRequest(req, sip.StatusUnauthorized, "Unauthorized", nil)
		_, err := authorize(req, res, "alice", "secret")
		require.Error(t, err)
	})
}
