// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

const RTPBufSize = 1500

var ErrRTPSessionClosed = errors.New("media: rtp session closed")

// RTPSession is single audio RTP flow. It packetizes local PCM into G711 RTP,
// writes RFC 4733 DTMF events and depacketizes remote audio and digits.
// Remote side must be applied before writing.
type RTPSession struct {
	conn net.PacketConn

	mu    sync.Mutex
	raddr net.Addr
	codec Codec
	dtmf  *Codec

	ssrc      uint32
	seq       uint16
	timestamp uint32

	onDTMF func(digit rune)
	// only touched by reader
	dtmfRecv dtmfReceiver

	closed atomic.Bool
}

// ListenRTP binds UDP socket on ephemeral port
func ListenRTP(ip net.IP) (*RTPSession, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("media: rtp listen failed: %w", err)
	}
	return NewRTPSession(conn), nil
}

func NewRTPSession(conn net.PacketConn) *RTPSession {
	return &RTPSession{
		conn:      conn,
		codec:     CodecAudioUlaw,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
	}
}

func (s *RTPSession) LocalAddr() *net.UDPAddr {
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Apply negotiates codecs against remote description and sets remote address
func (s *RTPSession) Apply(remote Description, local []Codec) error {
	codec, dtmf, err := NegotiateCodecs(local, remote.Codecs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.raddr = remote.Addr()
	s.codec = codec
	s.dtmf = dtmf

	log.Debug().
		Str("codec", codec.String()).
		Str("localAddr", s.conn.LocalAddr().String()).
		Str("remoteAddr", s.raddr.String()).
		Msg("RTP session updated")
	return nil
}

func (s *RTPSession) Codec() Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// CanDTMF reports whether telephone-event was negotiated
func (s *RTPSession) CanDTMF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dtmf != nil
}

// WritePCM encodes one frame of samples with negotiated codec
func (s *RTPSession) WritePCM(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := make([]byte, len(samples))
	switch s.codec.PayloadType {
	case CodecAudioAlaw.PayloadType:
		for i, v := range samples {
			payload[i] = g711.EncodeAlawFrame(v)
		}
	default:
		for i, v := range samples {
			payload[i] = g711.EncodeUlawFrame(v)
		}
	}

	err := s.writePacketUnsafe(s.codec.PayloadType, false, s.timestamp, payload)
	s.timestamp += uint32(len(samples))
	return err
}

// WriteDTMF sends full event series for digit. It blocks for event duration.
func (s *RTPSession) WriteDTMF(digit rune) error {
	events, err := telephoneEvents(digit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.dtmf == nil {
		s.mu.Unlock()
		return fmt.Errorf("media: telephone-event not negotiated")
	}
	pt := s.dtmf.PayloadType
	ts := s.timestamp
	s.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for i, ev := range events {
		s.mu.Lock()
		err := s.writePacketUnsafe(pt, i == 0, ts, ev.Marshal())
		s.mu.Unlock()
		if err != nil {
			return err
		}
		if i < len(events)-1 {
			<-ticker.C
		}
	}

	s.mu.Lock()
	s.timestamp += uint32(events[len(events)-1].Duration)
	s.mu.Unlock()
	return nil
}

func (s *RTPSession) writePacketUnsafe(pt uint8, marker bool, ts uint32, payload []byte) error {
	if s.closed.Load() {
		return ErrRTPSessionClosed
	}
	if s.raddr == nil {
		return fmt.Errorf("media: remote rtp address not set")
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: s.seq,
			Timestamp:      ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	s.seq++

	_, err = s.conn.WriteTo(data, s.raddr)
	return err
}

// OnDTMF sets listener of digits received as telephone-event. It is called
// from ReadPCM goroutine.
func (s *RTPSession) OnDTMF(fn func(digit rune)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDTMF = fn
}

// ReadPCM reads next audio packet and decodes it. Telephone events are passed
// to OnDTMF listener and unknown payloads are skipped.
// This makes RTP session usable as remote track Source.
func (s *RTPSession) ReadPCM(samples []int16) (int, error) {
	buf := make([]byte, RTPBufSize)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.closed.Load() {
				return 0, io.EOF
			}
			return 0, err
		}

		pkt := rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Debug().Err(err).Msg("Dropping malformed RTP packet")
			continue
		}

		s.mu.Lock()
		codec, dtmf, onDTMF := s.codec, s.dtmf, s.onDTMF
		s.mu.Unlock()

		if dtmf != nil && pkt.PayloadType == dtmf.PayloadType {
			if digit, ok := s.dtmfRecv.receive(pkt.Timestamp, pkt.Payload); ok && onDTMF != nil {
				onDTMF(digit)
			}
			continue
		}
		if pkt.PayloadType != codec.PayloadType {
			continue
		}

		if len(pkt.Payload) > len(samples) {
			return 0, io.ErrShortBuffer
		}

		for i, b := range pkt.Payload {
			if codec.PayloadType == CodecAudioAlaw.PayloadType {
				samples[i] = g711.DecodeAlawFrame(b)
				continue
			}
			samples[i] = g711.DecodeUlawFrame(b)
		}
		return len(pkt.Payload), nil
	}
}

// SendTrack streams track frames paced by codec frame duration until context is done or track ends
func (s *RTPSession) SendTrack(ctx context.Context, t *Track) error {
	codec := s.Codec()
	frame := make([]int16, codec.Samples())
	ticker := time.NewTicker(codec.SampleDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := t.ReadPCM(frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}

		if err := s.WritePCM(frame[:n]); err != nil {
			if errors.Is(err, ErrRTPSessionClosed) {
				return nil
			}
			return err
		}
	}
}

func (s *RTPSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}
