// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"testing"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialogCacheMap(t *testing.T) {
	ctx := context.Background()
	cache := &dialogCacheMap[*serverSession]{}

	_, err := cache.DialogLoad(ctx, "missing")
	require.ErrorIs(t, err, sipgo.ErrDialogDoesNotExists)

	s1, s2 := &serverSession{}, &serverSession{}
	require.NoError(t, cache.DialogStore(ctx, "a", s1))
	require.NoError(t, cache.DialogStore(ctx, "b", s2))

	got, err := cache.DialogLoad(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, s1, got)

	ids := map[string]bool{}
	cache.DialogRange(ctx, func(id string, v *serverSession) bool {
		ids[id] = true
		return true
	})
	assert.Equal(t, map[string]bool{"a": true, "b": true}, ids)

	require.NoError(t, cache.DialogDelete(ctx, "a"))
	_, err = cache.DialogLoad(ctx, "a")
	require.ErrorIs(t, err, sipgo.ErrDialogDoesNotExists)
}

func byeRequest(t *testing.T, fromTag, toTag string) *sip.Request {
	var target sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@pbx.example.com", &target))
	req := sip.NewRequest(sip.BYE, target)
	req.AppendHeader(sip.NewHeader("Call-ID", "call-1"))
	from, to := "<sip:bob@pbx.example.com>", "<sip:alice@pbx.example.com>"
	if fromTag != "" {
		from += ";tag=" + fromTag
	}
	if toTag != "" {
		to += ";tag=" + toTag
	}
	req.AppendHeader(sip.NewHeader("From", from))
	req.AppendHeader(sip.NewHeader("To", to))
	return req
}

func TestDialogCachePoolMatchDialog(t *testing.T) {
	ctx := context.Background()
	pool := newDialogCachePool()

	// Inbound call: we are UAS, remote tag is in From
	sd := &serverSession{}
	require.NoError(t, pool.server.DialogStore(ctx, sip.DialogIDMake("call-1", "ours", "theirs"), sd))
	gotS, gotC, err := pool.MatchDialog(byeRequest(t, "theirs", "ours"))
	require.NoError(t, err)
	assert.Same(t, sd, gotS)
	assert.Nil(t, gotC)

	// Outbound call: id is built from response, remote tag is in To
	res := sip.NewResponseFromRequest(byeRequest(t, "mine", "peer"), sip.StatusOK, "OK", nil)
	clientID, err := sip.DialogIDFromResponse(res)
	require.NoError(t, err)
	cd := &clientSession{}
	require.NoError(t, pool.client.DialogStore(ctx, clientID, cd))

	gotS, gotC, err = pool.MatchDialog(byeRequest(t, "peer", "mine"))
	require.NoError(t, err)
	assert.Nil(t, gotS)
	assert.Same(t, cd, gotC)

	_, _, err = pool.MatchDialog(byeRequest(t, "other", "mine"))
	require.ErrorIs(t, err, sipgo.ErrDialogDoesNotExists)

	_, _, err = pool.MatchDialog(byeRequest(t, "peer", ""))
	require.ErrorIs(t, err, sipgo.ErrDialogOutsideDialog)
}
