// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Keypad digits indexed by RFC 4733 event code
const dtmfDigits = "0123456789*#ABCD"

const (
	dtmfVolume = 10
	// Samples per 20ms frame at 8000Hz telephone-event clock
	dtmfFrameSamples = 160
	dtmfUpdates      = 4
	dtmfEndRepeats   = 3
)

// IsDTMF reports whether char is a valid keypad tone
func IsDTMF(char rune) bool {
	_, ok := dtmfCode(char)
	return ok
}

func dtmfCode(digit rune) (uint8, bool) {
	i := strings.IndexRune(dtmfDigits, digit)
	if i < 0 {
		return 0, false
	}
	return uint8(i), true
}

// TelephoneEvent is RFC 4733 named event payload
type TelephoneEvent struct {
	Code     uint8
	End      bool
	Volume   uint8
	Duration uint16
}

// Digit returns keypad digit of event. Non keypad events return false.
func (ev TelephoneEvent) Digit() (rune, bool) {
	if int(ev.Code) >= len(dtmfDigits) {
		return 0, false
	}
	return rune(dtmfDigits[ev.Code]), true
}

func (ev TelephoneEvent) String() string {
	return fmt.Sprintf("code=%d end=%v volume=%d duration=%d", ev.Code, ev.End, ev.Volume, ev.Duration)
}

// Marshal encodes event into 4 byte RTP payload
func (ev TelephoneEvent) Marshal() []byte {
	b := make([]byte, 4)
	b[0] = ev.Code
	b[1] = ev.Volume & 0x3F
	if ev.End {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], ev.Duration)
	return b
}

func UnmarshalTelephoneEvent(payload []byte) (TelephoneEvent, error) {
	if len(payload) < 4 {
		return TelephoneEvent{}, fmt.Errorf("media: telephone-event payload too short: %d", len(payload))
	}
	return TelephoneEvent{
		Code:     payload[0],
		End:      payload[1]&0x80 != 0,
		Volume:   payload[1] & 0x3F,
		Duration: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// telephoneEvents is packet series of one digit. Duration grows by one frame
// with every update and end packet is repeated without growing it.
func telephoneEvents(digit rune) ([]TelephoneEvent, error) {
	code, ok := dtmfCode(digit)
	if !ok {
		return nil, fmt.Errorf("invalid DTMF digit %q", digit)
	}

	events := make([]TelephoneEvent, 0, dtmfUpdates+dtmfEndRepeats)
	for i := 1; i <= dtmfUpdates; i++ {
		events = append(events, TelephoneEvent{
			Code:     code,
			Volume:   dtmfVolume,
			Duration: uint16(i * dtmfFrameSamples),
		})
	}
	end := TelephoneEvent{
		Code:     code,
		End:      true,
		Volume:   dtmfVolume,
		Duration: uint16((dtmfUpdates + 1) * dtmfFrameSamples),
	}
	for i := 0; i < dtmfEndRepeats; i++ {
		events = append(events, end)
	}
	return events, nil
}

// dtmfReceiver reports each received digit once. All packets of one event
// share RTP timestamp so repeated end packets are matched by it.
type dtmfReceiver struct {
	lastTS  uint32
	hasLast bool
}

func (r *dtmfReceiver) receive(timestamp uint32, payload []byte) (rune, bool) {
	ev, err := UnmarshalTelephoneEvent(payload)
	if err != nil || !ev.End {
		return 0, false
	}
	if r.hasLast && r.lastTS == timestamp {
		return 0, false
	}
	r.lastTS, r.hasLast = timestamp, true
	return ev.Digit()
}
