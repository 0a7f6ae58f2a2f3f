// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// Device errors returned by Devices implementations.
	// Caller should match them with errors.Is
	ErrDeviceNotFound   = errors.New("media: audio input device not found")
	ErrPermissionDenied = errors.New("media: permission to audio input denied")
	ErrDeviceBusy       = errors.New("media: audio input device busy")
)

// Devices gives access to host capture devices. Acquisition may block on user
// permission prompt, so caller should pass context with timeout if needed.
type Devices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

type Constraints struct {
	Audio bool
}

// Source produces or consumes PCM audio behind a track.
// For local tracks this is microphone capture, for remote tracks RTP receiver.
type Source interface {
	// ReadPCM reads 16 bit linear samples
	ReadPCM(samples []int16) (int, error)
	Close() error
}

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
)

// Track is single media track. Disabling track keeps it attached but produces silence.
// Stopping track releases underlying source and it can not be restarted.
type Track struct {
	id    string
	kind  TrackKind
	label string
	src   Source

	enabled  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func NewAudioTrack(label string, src Source) *Track {
	t := &Track{
		id:    uuid.NewString(),
		kind:  TrackKindAudio,
		label: label,
		src:   src,
	}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string      { return t.id }
func (t *Track) Kind() TrackKind { return t.kind }
func (t *Track) Label() string   { return t.label }

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *Track) Stopped() bool {
	return t.stopped.Load()
}

// Stop releases source. Only first call reaches the source.
func (t *Track) Stop() error {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		if t.src != nil {
			t.stopErr = t.src.Close()
		}
	})
	return t.stopErr
}

// ReadPCM reads from source. Disabled track returns silence of same size,
// stopped track returns io.EOF.
func (t *Track) ReadPCM(samples []int16) (int, error) {
	if t.stopped.Load() || t.src == nil {
		return 0, io.EOF
	}

	n, err := t.src.ReadPCM(samples)
	if !t.enabled.Load() {
		clear(samples[:n])
	}
	return n, err
}

// Stream groups tracks captured or received together
type Stream struct {
	id     string
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{
		id:     uuid.NewString(),
		tracks: tracks,
	}
}

func (s *Stream) ID() string {
	return s.id
}

// Tracks returns copy of track list
func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []*Track {
	tracks := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.kind == TrackKindAudio {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// SetAudioEnabled enables or disables all audio tracks without removing them
func (s *Stream) SetAudioEnabled(enabled bool) {
	for _, t := range s.AudioTracks() {
		t.SetEnabled(enabled)
	}
}

// Stop stops all tracks
func (s *Stream) Stop() error {
	var errs []error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
