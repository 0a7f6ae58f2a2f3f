// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// Here are some codec constants that can be reused
	CodecAudioUlaw          = Codec{Name: "PCMU", PayloadType: 0, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
	CodecAudioAlaw          = Codec{Name: "PCMA", PayloadType: 8, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
	CodecTelephoneEvent8000 = Codec{Name: "telephone-event", PayloadType: 101, SampleRate: 8000, SampleDur: 20 * time.Millisecond}

	// DefaultCodecs is offered when caller does not provide own list
	DefaultCodecs = []Codec{CodecAudioUlaw, CodecAudioAlaw, CodecTelephoneEvent8000}
)

// ErrNoCommonCodec is returned when offer and answer share no audio codec.
var ErrNoCommonCodec = errors.New("media: no common audio codec")

type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

func (c Codec) String() string {
	return fmt.Sprintf("%s pt=%d rate=%d dur=%s", c.Name, c.PayloadType, c.SampleRate, c.SampleDur.String())
}

// SampleTimestamp is RTP timestamp increment for one frame
func (c Codec) SampleTimestamp() uint32 {
	return uint32(float64(c.SampleRate) * c.SampleDur.Seconds())
}

// Samples per frame. For 8000 rate and 20ms this is 160.
func (c Codec) Samples() int {
	return int(c.SampleTimestamp())
}

func (c Codec) IsDTMF() bool {
	return c.Name == CodecTelephoneEvent8000.Name
}

func (c Codec) rtpmap() string {
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.SampleRate)
}

func (c Codec) format() string {
	return strconv.Itoa(int(c.PayloadType))
}

// CodecFromPayloadType maps static or our dynamic payload types.
func CodecFromPayloadType(pt uint8) (Codec, bool) {
	for _, c := range DefaultCodecs {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// codecFromRTPMap resolves dynamic payload types announced with rtpmap, ex "101 telephone-event/8000"
func codecFromRTPMap(pt uint8, name string) (Codec, bool) {
	for _, c := range DefaultCodecs {
		if name == c.Name {
			c.PayloadType = pt
			return c, true
		}
	}
	return Codec{}, false
}

// NegotiateCodecs keeps local preference order and returns common audio codec and optional DTMF codec
func NegotiateCodecs(local []Codec, remote []Codec) (audio Codec, dtmf *Codec, err error) {
	found := false
	for _, l := range local {
		for _, r := range remote {
			if l.Name != r.Name || l.SampleRate != r.SampleRate {
				continue
			}

			if l.IsDTMF() {
				if dtmf == nil {
					c := r
					dtmf = &c
				}
				continue
			}

			if !found {
				// Remote payload type wins as this is what remote expects to receive
				audio = r
				found = true
			}
		}
	}

	if !found {
		return audio, nil, ErrNoCommonCodec
	}
	return audio, dtmf, nil
}
