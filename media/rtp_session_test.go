// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeRTP(t *testing.T, codecs []Codec) (a *RTPSession, b *RTPSession) {
	ip := net.IPv4(127, 0, 0, 1)
	a, err := ListenRTP(ip)
	require.NoError(t, err)
	b, err = ListenRTP(ip)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	require.NoError(t, a.Apply(Description{IP: ip, Port: b.LocalAddr().Port, Codecs: codecs}, DefaultCodecs))
	require.NoError(t, b.Apply(Description{IP: ip, Port: a.LocalAddr().Port, Codecs: codecs}, DefaultCodecs))
	return a, b
}

func TestRTPSessionPCMRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecAudioUlaw, CodecAudioAlaw} {
		t.Run(codec.Name, func(t *testing.T) {
			a, b := pipeRTP(t, []Codec{codec})
			assert.Equal(t, codec.Name, a.Codec().Name)

			frame := make([]int16, codec.Samples())
			for i := range frame {
				frame[i] = 1000
			}
			require.NoError(t, a.WritePCM(frame))

			b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			out := make([]int16, codec.Samples())
			n, err := b.ReadPCM(out)
			require.NoError(t, err)
			require.Equal(t, codec.Samples(), n)
			for _, v := range out[:n] {
				assert.InDelta(t, 1000, v, 64)
			}
		})
	}
}

func TestRTPSessionShortBuffer(t *testing.T) {
	a, b := pipeRTP(t, []Codec{CodecAudioUlaw})
	require.NoError(t, a.WritePCM(make([]int16, 160)))

	b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := b.ReadPCM(make([]int16, 10))
	require.ErrorIs(t, err, io.ErrShortBuffer)
}

func TestRTPSessionWriteDTMF(t *testing.T) {
	ip := net.IPv4(127, 0, 0, 1)
	raw, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	require.NoError(t, err)
	defer raw.Close()

	sess, err := ListenRTP(ip)
	require.NoError(t, err)
	defer sess.Close()

	telEvent := CodecTelephoneEvent8000
	telEvent.PayloadType = 96
	require.NoError(t, sess.Apply(Description{
		IP:     ip,
		Port:   raw.LocalAddr().(*net.UDPAddr).Port,
		Codecs: []Codec{CodecAudioUlaw, telEvent},
	}, DefaultCodecs))
	require.True(t, sess.CanDTMF())

	require.NoError(t, sess.WriteDTMF('5'))

	raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, RTPBufSize)
	var ts uint32
	for i := 0; i < 7; i++ {
		n, _, err := raw.ReadFrom(buf)
		require.NoError(t, err)

		pkt := rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(buf[:n]))
		assert.Equal(t, uint8(96), pkt.PayloadType)
		assert.Equal(t, i == 0, pkt.Marker)
		if i == 0 {
			ts = pkt.Timestamp
		}
		assert.Equal(t, ts, pkt.Timestamp, "all events of one digit share timestamp")

		ev, err := UnmarshalTelephoneEvent(pkt.Payload)
		require.NoError(t, err)
		digit, ok := ev.Digit()
		require.True(t, ok)
		assert.Equal(t, '5', digit)
		assert.Equal(t, i >= 4, ev.End)
	}
}

func TestRTPSessionReceiveDTMF(t *testing.T) {
	telEvent := CodecTelephoneEvent8000
	telEvent.PayloadType = 101
	a, b := pipeRTP(t, []Codec{CodecAudioUlaw, telEvent})

	digits := make(chan rune, 4)
	b.OnDTMF(func(digit rune) { digits <- digit })

	require.NoError(t, a.WriteDTMF('7'))
	require.NoError(t, a.WritePCM(make([]int16, 160)))

	// Audio frame after digit unblocks reader
	b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := b.ReadPCM(make([]int16, 160))
	require.NoError(t, err)
	assert.Equal(t, 160, n)

	require.Len(t, digits, 1, "repeated end packets report digit once")
	assert.Equal(t, '7', <-digits)
}

func TestRTPSessionDTMFNotNegotiated(t *testing.T) {
	a, _ := pipeRTP(t, []Codec{CodecAudioUlaw})
	assert.False(t, a.CanDTMF())
	assert.Error(t, a.WriteDTMF('1'))
}

func TestRTPSessionClosed(t *testing.T) {
	a, b := pipeRTP(t, []Codec{CodecAudioUlaw})
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.WritePCM(make([]int16, 160)), ErrRTPSessionClosed)

	go func() {
		time.Sleep(50 * time.Millisecond)
		b.Close()
	}()
	_, err := b.ReadPCM(make([]int16, 160))
	assert.ErrorIs(t, err, io.EOF)
}

type countingSource struct {
	reads  int
	closed int
}

func (s *countingSource) ReadPCM(samples []int16) (int, error) {
	s.reads++
	for i := range samples {
		samples[i] = 500
	}
	return len(samples), nil
}

func (s *countingSource) Close() error {
	s.closed++
	return nil
}

func TestRTPSessionSendTrack(t *testing.T) {
	a, b := pipeRTP(t, []Codec{CodecAudioUlaw})
	src := &countingSource{}
	track := NewAudioTrack("mic", src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.SendTrack(ctx, track) }()

	b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out := make([]int16, 160)
	n, err := b.ReadPCM(out)
	require.NoError(t, err)
	assert.Equal(t, 160, n)

	// Stopped track ends streaming
	require.NoError(t, track.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send track did not finish")
	}
	cancel()
	assert.Equal(t, 1, src.closed)
}
