// Copyright 2025 The wirecall Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ph2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		fh   frameHeader
	}{
		{
			name: "data frame",
			fh:   frameHeader{length: 5, typ: frameData, flags: flagEndStream, streamID: 1},
		},
		{
			name: "headers frame",
			fh:   frameHeader{length: 1024, typ: frameHeaders, flags: flagEndHeaders | flagEndStream, streamID: 3},
		},
		{
			name: "settings frame",
			fh:   frameHeader{length: 36, typ: frameSettings, streamID: 0},
		},
		{
			name: "ping frame",
			fh:   frameHeader{length: 8, typ: framePing, flags: flagAck, streamID: 0},
		},
		{
			name: "window update",
			fh:   frameHeader{length: 4, typ: frameWindowUpdate, streamID: 2147483647},
		},
		{
			name: "max length",
			fh:   frameHeader{length: maxPayloadSize, typ: frameGoAway, streamID: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := appendFrameHeader(nil, tt.fh)
			assert.Len(t, b, headerLength)

			got, err := decodeFrameHeader(b, maxPayloadSize)
			assert.NoError(t, err)
			assert.Equal(t, tt.fh, got)
		})
	}
}

func TestFrameHeaderReject(t *testing.T) {
	valid := appendFrameHeader(nil, frameHeader{length: 16, typ: frameData, streamID: 1})

	t.Run("short header", func(t *testing.T) {
		_, err := decodeFrameHeader(valid[:8], maxPayloadSize)
		assert.Error(t, err)
	})

	t.Run("reserved bit set", func(t *testing.T) {
		mutated := bytes.Clone(valid)
		mutated[5] |= 0x80
		_, err := decodeFrameHeader(mutated, maxPayloadSize)
		assert.ErrorIs(t, err, errFrameReservedBit)
	})

	t.Run("length exceeds max frame size", func(t *testing.T) {
		mutated := bytes.Clone(valid)
		mutated[0], mutated[1], mutated[2] = 0xFF, 0xFF, 0xFF
		_, err := decodeFrameHeader(mutated, defaultMaxFrameSize)
		assert.ErrorIs(t, err, errFrameLength)
	})
}

func TestFrameReader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(appendFrameHeader(nil, frameHeader{length: 5, typ: frameData, flags: flagEndStream, streamID: 1}))
	buf.WriteString("hello")
	buf.Write(appendFrameHeader(nil, frameHeader{length: 4, typ: frameRSTStream, streamID: 3}))
	buf.Write([]byte{0x00, 0x00, 0x00, 0x08})

	fr := newFrameReader(&buf, defaultMaxFrameSize)

	fh, payload, err := fr.next()
	assert.NoError(t, err)
	assert.Equal(t, uint8(frameData), fh.typ)
	assert.Equal(t, []byte("hello"), payload)

	fh, payload, err = fr.next()
	assert.NoError(t, err)
	assert.Equal(t, uint8(frameRSTStream), fh.typ)
	assert.Equal(t, uint32(3), fh.streamID)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x08}, payload)
}

func TestStripPadding(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		flags   uint8
		want    []byte
		invalid bool
	}{
		{
			name:  "not padded",
			input: []byte("data"),
			want:  []byte("data"),
		},
		{
			name:  "padded",
			input: append([]byte{3}, append([]byte("data"), 0, 0, 0)...),
			flags: flagPadded,
			want:  []byte("data"),
		},
		{
			name:    "empty padded frame",
			input:   nil,
			flags:   flagPadded,
			invalid: true,
		},
		{
			name:    "padding longer than payload",
			input:   []byte{9, 'x'},
			flags:   flagPadded,
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stripPadding(tt.input, tt.flags)
			if tt.invalid {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	st := Settings{
		HeaderTableSize:      8192,
		EnablePush:           false,
		MaxConcurrentStreams: 64,
		InitialWindowSize:    1 << 20,
		MaxFrameSize:         32768,
		MaxHeaderListSize:    128 * 1024,
	}

	var got Settings
	assert.NoError(t, decodeSettings(&got, encodeSettings(st)))
	assert.Equal(t, st, got)
}

func TestSettingsReject(t *testing.T) {
	t.Run("truncated payload", func(t *testing.T) {
		var st Settings
		assert.Error(t, decodeSettings(&st, []byte{0x00, 0x04, 0x00}))
	})

	t.Run("window size overflow", func(t *testing.T) {
		var st Settings
		b := []byte{0x00, 0x04, 0x80, 0x00, 0x00, 0x00}
		assert.Error(t, decodeSettings(&st, b))
	})

	t.Run("max frame size below minimum", func(t *testing.T) {
		var st Settings
		b := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x01}
		assert.Error(t, decodeSettings(&st, b))
	})

	t.Run("unknown identifier ignored", func(t *testing.T) {
		var st Settings
		b := []byte{0xFF, 0xFF, 0x00, 0x00, 0x00, 0x01}
		assert.NoError(t, decodeSettings(&st, b))
	})
}

func TestGoAwayRoundTrip(t *testing.T) {
	b := encodeGoAway(7, ErrCodeEnhanceYourCalm, []byte("slow down"))

	lastStreamID, code, debug, err := decodeGoAway(b)
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), lastStreamID)
	assert.Equal(t, ErrCodeEnhanceYourCalm, code)
	assert.Equal(t, []byte("slow down"), debug)

	_, _, _, err = decodeGoAway(b[:6])
	assert.Error(t, err)
}
