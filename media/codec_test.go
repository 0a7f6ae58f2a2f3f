// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecSamples(t *testing.T) {
	assert.Equal(t, 160, CodecAudioUlaw.Samples())
	assert.Equal(t, uint32(160), CodecAudioAlaw.SampleTimestamp())
	assert.True(t, CodecTelephoneEvent8000.IsDTMF())
	assert.False(t, CodecAudioUlaw.IsDTMF())
}

func TestNegotiateCodecs(t *testing.T) {
	t.Run("LocalPreference", func(t *testing.T) {
		audio, dtmf, err := NegotiateCodecs(DefaultCodecs, []Codec{CodecAudioAlaw, CodecAudioUlaw})
		require.NoError(t, err)
		assert.Equal(t, "PCMU", audio.Name)
		assert.Nil(t, dtmf)
	})

	t.Run("RemoteDynamicPayload", func(t *testing.T) {
		tel := CodecTelephoneEvent8000
		tel.PayloadType = 96
		audio, dtmf, err := NegotiateCodecs(DefaultCodecs, []Codec{CodecAudioAlaw, tel})
		require.NoError(t, err)
		assert.Equal(t, "PCMA", audio.Name)
		require.NotNil(t, dtmf)
		assert.Equal(t, uint8(96), dtmf.PayloadType)
	})

	t.Run("NoCommon", func(t *testing.T) {
		opus := Codec{Name: "opus", PayloadType: 111, SampleRate: 48000}
		_, _, err := NegotiateCodecs(DefaultCodecs, []Codec{opus, CodecTelephoneEvent8000})
		require.ErrorIs(t, err, ErrNoCommonCodec)
	})
}

func TestCodecFromPayloadType(t *testing.T) {
	c, ok := CodecFromPayloadType(8)
	require.True(t, ok)
	assert.Equal(t, "PCMA", c.Name)

	_, ok = CodecFromPayloadType(18)
	assert.False(t, ok)
}
