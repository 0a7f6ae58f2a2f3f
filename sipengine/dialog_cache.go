// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"errors"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

type DialogCache[T any] interface {
	DialogStore(ctx context.Context, id string, v T) error
	DialogLoad(ctx context.Context, id string) (T, error)
	DialogDelete(ctx context.Context, id string) error
	DialogRange(ctx context.Context, f func(id string, v T) bool) error
}

// Non optimized for now
type dialogCacheMap[T any] struct{ sync.Map }

func (m *dialogCacheMap[T]) DialogStore(ctx context.Context, id string, v T) error {
	m.Store(id, v)
	return nil
}

func (m *dialogCacheMap[T]) DialogDelete(ctx context.Context, id string) error {
	m.Delete(id)
	return nil
}

func (m *dialogCacheMap[T]) DialogLoad(ctx context.Context, id string) (T, error) {
	d, ok := m.Load(id)
	if !ok {
		var t T
		return t, sipgo.ErrDialogDoesNotExists
	}
	return d.(T), nil
}

func (m *dialogCacheMap[T]) DialogRange(ctx context.Context, f func(id string, v T) bool) error {
	m.Range(func(key, value any) bool {
		return f(key.(string), value.(T))
	})
	return nil
}

type dialogCachePool struct {
	client DialogCache[*clientSession]
	server DialogCache[*serverSession]
}

func newDialogCachePool() dialogCachePool {
	return dialogCachePool{
		client: &dialogCacheMap[*clientSession]{},
		server: &dialogCacheMap[*serverSession]{},
	}
}

func (p *dialogCachePool) MatchDialogClient(req *sip.Request) (*clientSession, error) {
	id, err := sip.DialogIDFromRequestUAC(req)
	if err != nil {
		return nil, errors.Join(err, sipgo.ErrDialogOutsideDialog)
	}
	return p.client.DialogLoad(context.Background(), id)
}

func (p *dialogCachePool) MatchDialogServer(req *sip.Request) (*serverSession, error) {
	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return nil, errors.Join(err, sipgo.ErrDialogOutsideDialog)
	}
	return p.server.DialogLoad(context.Background(), id)
}

// MatchDialog finds dialog of in-dialog request. Exactly one of results is non nil on success.
func (p *dialogCachePool) MatchDialog(req *sip.Request) (*serverSession, *clientSession, error) {
	sd, err := p.MatchDialogServer(req)
	if err != nil {
		if !errors.Is(err, sipgo.ErrDialogDoesNotExists) {
			return nil, nil, err
		}
		cd, err := p.MatchDialogClient(req)
		return nil, cd, err
	}
	return sd, nil, nil
}
