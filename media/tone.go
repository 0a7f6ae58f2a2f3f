// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
)

var (
	tones sync.Map
)

// loadTonePCM generates one second of dual tone, cached per rate and frequencies
func loadTonePCM(sampleRate int, freq1, freq2 float64) []int16 {
	key := [3]float64{float64(sampleRate), freq1, freq2}
	if v, ok := tones.Load(key); ok {
		return v.([]int16)
	}

	const volume = 0.3
	pcm := make([]int16, sampleRate)
	for i := range pcm {
		t := float64(i) / float64(sampleRate)
		// Combine the two sine waves and normalize
		sample := volume * (math.Sin(2*math.Pi*freq1*t) + math.Sin(2*math.Pi*freq2*t)) / 2.0
		pcm[i] = int16(sample * math.MaxInt16)
	}
	tones.Store(key, pcm)
	return pcm
}

// ToneSource is endless dual frequency tone. It stands in for microphone
// where no capture device exists.
type ToneSource struct {
	pcm    []int16
	pos    int
	mu     sync.Mutex
	closed atomic.Bool
}

// NewToneSource creates 350+440Hz tone at 8kHz, same as north american dial tone
func NewToneSource() *ToneSource {
	return &ToneSource{pcm: loadTonePCM(8000, 350, 440)}
}

func (s *ToneSource) ReadPCM(samples []int16) (int, error) {
	if s.closed.Load() {
		return 0, io.EOF
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range samples {
		samples[i] = s.pcm[s.pos]
		s.pos = (s.pos + 1) % len(s.pcm)
	}
	return len(samples), nil
}

func (s *ToneSource) Close() error {
	s.closed.Store(true)
	return nil
}

// ToneDevices hands out tone streams as user media
type ToneDevices struct{}

func (ToneDevices) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if !c.Audio {
		return nil, ErrDeviceNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewStream(NewAudioTrack("tone", NewToneSource())), nil
}
