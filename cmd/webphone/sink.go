// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"sync"

	"github.com/arnaldorodrigues/webphone/media"
	"github.com/rs/zerolog"
)

// drainSink plays remote audio nowhere. It keeps reading remote track so
// incoming RTP is consumed and counts samples for debugging.
type drainSink struct {
	log zerolog.Logger

	mu      sync.Mutex
	streams map[string]chan struct{}
}

func newDrainSink(log zerolog.Logger) *drainSink {
	return &drainSink{
		log:     log,
		streams: make(map[string]chan struct{}),
	}
}

func (d *drainSink) Attach(s *media.Stream) error {
	tracks := s.AudioTracks()
	if len(tracks) == 0 {
		return nil
	}

	d.mu.Lock()
	if _, ok := d.streams[s.ID()]; ok {
		d.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	d.streams[s.ID()] = stop
	d.mu.Unlock()

	go d.drain(tracks[0], stop)
	return nil
}

func (d *drainSink) Detach(s *media.Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if stop, ok := d.streams[s.ID()]; ok {
		close(stop)
		delete(d.streams, s.ID())
	}
}

func (d *drainSink) drain(t *media.Track, stop chan struct{}) {
	buf := make([]int16, 160)
	total := 0
	defer func() {
		d.log.Debug().Str("track", t.ID()).Int("samples", total).Msg("Remote audio drained")
	}()
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := t.ReadPCM(buf)
		if err != nil {
			return
		}
		total += n
	}
}
