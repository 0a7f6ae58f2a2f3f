// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Direction is SDP media direction attribute
type Direction string

const (
	DirectionSendRecv Direction = "sendrecv"
	DirectionSendOnly Direction = "sendonly"
	DirectionRecvOnly Direction = "recvonly"
	DirectionInactive Direction = "inactive"
)

// HoldDirection is direction we offer when putting remote on hold (RFC 3264 8.4)
func HoldDirection(hold bool) Direction {
	if hold {
		return DirectionSendOnly
	}
	return DirectionSendRecv
}

// Description is audio part of SDP we care about
type Description struct {
	IP        net.IP
	Port      int
	Codecs    []Codec
	Direction Direction
}

func (d Description) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: d.IP, Port: d.Port}
}

// MarshalSDP generates SDP with single audio media
func MarshalSDP(d Description, version uint64) ([]byte, error) {
	if d.IP == nil {
		return nil, fmt.Errorf("sdp: missing connection address")
	}
	if len(d.Codecs) == 0 {
		return nil, fmt.Errorf("sdp: no codecs")
	}

	addrType := "IP4"
	if d.IP.To4() == nil {
		addrType = "IP6"
	}

	direction := d.Direction
	if direction == "" {
		direction = DirectionSendRecv
	}

	formats := make([]string, 0, len(d.Codecs))
	attrs := make([]sdp.Attribute, 0, len(d.Codecs)+3)
	for _, c := range d.Codecs {
		formats = append(formats, c.format())
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: c.rtpmap()})
		if c.IsDTMF() {
			attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: c.format() + " 0-16"})
		}
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: "maxptime", Value: "20"},
		sdp.Attribute{Key: string(direction)},
	)

	sessID := uint64(time.Now().UnixNano() / 1e6)
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: d.IP.String(),
		},
		SessionName: "webphone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: d.IP.String()},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: d.Port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}

	return desc.Marshal()
}

// UnmarshalSDP reads first audio media of SDP
func UnmarshalSDP(body []byte) (Description, error) {
	d := Description{}
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return d, fmt.Errorf("sdp: parse failed: %w", err)
	}

	var md *sdp.MediaDescription
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			md = m
			break
		}
	}
	if md == nil {
		return d, fmt.Errorf("sdp: no audio media")
	}

	d.Port = md.MediaName.Port.Value

	addr := ""
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		addr = md.ConnectionInformation.Address.Address
	} else if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		addr = sd.ConnectionInformation.Address.Address
	}
	// Address may carry TTL, ex 224.2.1.1/127
	addr, _, _ = strings.Cut(addr, "/")
	d.IP = net.ParseIP(addr)
	if d.IP == nil {
		return d, fmt.Errorf("sdp: invalid connection address %q", addr)
	}

	rtpmaps := map[uint8]string{}
	for _, a := range md.Attributes {
		switch a.Key {
		case "rtpmap":
			ptStr, rest, ok := strings.Cut(a.Value, " ")
			if !ok {
				continue
			}
			pt, err := strconv.Atoi(ptStr)
			if err != nil {
				continue
			}
			name, _, _ := strings.Cut(rest, "/")
			rtpmaps[uint8(pt)] = name
		case string(DirectionSendRecv), string(DirectionSendOnly), string(DirectionRecvOnly), string(DirectionInactive):
			d.Direction = Direction(a.Key)
		}
	}
	if d.Direction == "" {
		d.Direction = DirectionSendRecv
		for _, a := range sd.Attributes {
			switch a.Key {
			case string(DirectionSendOnly), string(DirectionRecvOnly), string(DirectionInactive):
				d.Direction = Direction(a.Key)
			}
		}
	}

	for _, f := range md.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil || pt > 127 {
			continue
		}

		if name, ok := rtpmaps[uint8(pt)]; ok {
			if c, ok := codecFromRTPMap(uint8(pt), name); ok {
				d.Codecs = append(d.Codecs, c)
			}
			continue
		}
		if c, ok := CodecFromPayloadType(uint8(pt)); ok {
			d.Codecs = append(d.Codecs, c)
		}
	}

	return d, nil
}
