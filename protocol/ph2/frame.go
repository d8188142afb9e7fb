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
	"encoding/binary"
	"io"
)

var (
	errFrameLength      = newError("invalid frame length")
	errFrameReservedBit = newError("reserved bit set")
	errFramePadding     = newError("invalid padding")
	errFramePayload     = newError("invalid frame payload")
)

// frameHeader 所有帧共享的 9 字节头部 布局如下
//
// +-----------------------------------------------+
// |                 Length (24)                   |
// +---------------+---------------+---------------+
// |   Type (8)    |   Flags (8)   |
// +-+-------------+---------------+-------------------------------+
// |R|                 Stream Identifier (31)                      |
// +-+-------------------------------------------------------------+
// |                   Frame Payload (0...)                      ...
// +---------------------------------------------------------------+
//
// * Length (24 bits): 帧负载的长度（不包括 9 字节头部）
// * Type (8 bits): 帧类型（如 0x0=DATA 0x1=HEADERS 等）
// * Flags (8 bits): 帧标志（如 END_STREAM、PADDED 等）
// * R (1 bit): 保留位 必须为 0
// * Stream Identifier (31 bits): 流标识符（0 表示与整个连接相关 如控制帧）
type frameHeader struct {
	length   uint32
	typ      uint8
	flags    uint8
	streamID uint32
}

// decodeFrameHeader 解析帧头部
//
// 保留位被置位 或者 Length 超过协商的最大帧长度 均视为协议异常
func decodeFrameHeader(b []byte, maxFrameSize uint32) (frameHeader, error) {
	var fh frameHeader
	if len(b) < headerLength {
		return fh, errFrameLength
	}

	fh.length = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	fh.typ = b[3]
	fh.flags = b[4]

	raw := binary.BigEndian.Uint32(b[5:9])
	if raw&^uint32(streamIDMask) != 0 {
		return fh, errFrameReservedBit
	}
	fh.streamID = raw & streamIDMask

	if fh.length > maxFrameSize {
		return fh, errFrameLength
	}
	return fh, nil
}

// appendFrameHeader 序列化帧头部
func appendFrameHeader(dst []byte, fh frameHeader) []byte {
	dst = append(dst,
		byte(fh.length>>16),
		byte(fh.length>>8),
		byte(fh.length),
		fh.typ,
		fh.flags,
	)
	return binary.BigEndian.AppendUint32(dst, fh.streamID&streamIDMask)
}

// frameReader 从底层流中逐帧读取
//
// 每条链接有且仅有一个 reader 任务持有 frameReader 无需加锁
type frameReader struct {
	r   io.Reader
	hdr [headerLength]byte

	// maxFrameSize 本端通告的最大帧长度 对端不允许超过
	maxFrameSize uint32

	// payload 按最大帧长度复用 避免每帧分配
	payload []byte
}

func newFrameReader(r io.Reader, maxFrameSize uint32) *frameReader {
	return &frameReader{
		r:            r,
		maxFrameSize: maxFrameSize,
	}
}

// next 读取一帧 返回的 payload 在下一次 next 调用前有效
func (fr *frameReader) next() (frameHeader, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return frameHeader{}, nil, err
	}

	fh, err := decodeFrameHeader(fr.hdr[:], fr.maxFrameSize)
	if err != nil {
		return fh, nil, err
	}

	if cap(fr.payload) < int(fh.length) {
		fr.payload = make([]byte, fh.length)
	}
	payload := fr.payload[:fh.length]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return fh, nil, err
	}
	return fh, payload, nil
}

// stripPadding 剔除 DATA/HEADERS/PUSH_PROMISE 帧的填充内容
func stripPadding(b []byte, flags uint8) ([]byte, error) {
	if flags&flagPadded == 0 {
		return b, nil
	}
	if len(b) < 1 {
		return nil, errFramePadding
	}
	padLen := int(b[0])
	if padLen >= len(b) {
		return nil, errFramePadding
	}
	return b[1 : len(b)-padLen], nil
}

// stripPriority 剔除 HEADERS 帧中的优先级信息
//
// +-+-------------+-----------------------------------------------+
// |E|                 Stream Dependency? (31)                     |
// +-+-------------+-----------------------------------------------+
// |  Weight? (8)  |
// +---------------+-----------------------------------------------+
func stripPriority(b []byte, flags uint8) ([]byte, error) {
	if flags&flagPriority == 0 {
		return b, nil
	}
	if len(b) < 5 {
		return nil, errFramePayload
	}
	return b[5:], nil
}

// encodeSettings 序列化 SETTINGS 帧 payload 每项 6 字节
//
// +-------------------------------+
// |       Identifier (16)         |
// +-------------------------------+-------------------------------+
// |                        Value (32)                             |
// +---------------------------------------------------------------+
func encodeSettings(st Settings) []byte {
	var b []byte
	appendSetting := func(id uint16, v uint32) {
		b = binary.BigEndian.AppendUint16(b, id)
		b = binary.BigEndian.AppendUint32(b, v)
	}

	appendSetting(settingHeaderTableSize, st.HeaderTableSize)
	if st.EnablePush {
		appendSetting(settingEnablePush, 1)
	} else {
		appendSetting(settingEnablePush, 0)
	}
	appendSetting(settingMaxConcurrentStreams, st.MaxConcurrentStreams)
	appendSetting(settingInitialWindowSize, st.InitialWindowSize)
	appendSetting(settingMaxFrameSize, st.MaxFrameSize)
	appendSetting(settingMaxHeaderListSize, st.MaxHeaderListSize)
	return b
}

// decodeSettings 解析 SETTINGS 帧 payload 并合并至 st
//
// 未知的 Identifier 按标准要求静默忽略
func decodeSettings(st *Settings, b []byte) error {
	if len(b)%6 != 0 {
		return errFramePayload
	}

	for len(b) > 0 {
		id := binary.BigEndian.Uint16(b[0:2])
		v := binary.BigEndian.Uint32(b[2:6])
		b = b[6:]

		switch id {
		case settingHeaderTableSize:
			st.HeaderTableSize = v
		case settingEnablePush:
			if v > 1 {
				return errFramePayload
			}
			st.EnablePush = v == 1
		case settingMaxConcurrentStreams:
			st.MaxConcurrentStreams = v
		case settingInitialWindowSize:
			if v > maxWindowSize {
				return errFramePayload
			}
			st.InitialWindowSize = v
		case settingMaxFrameSize:
			if v < defaultMaxFrameSize || v > maxPayloadSize {
				return errFramePayload
			}
			st.MaxFrameSize = v
		case settingMaxHeaderListSize:
			st.MaxHeaderListSize = v
		}
	}
	return nil
}

// encodeGoAway 序列化 GOAWAY 帧 payload
//
// +-+-------------------------------------------------------------+
// |R|                  Last-Stream-ID (31)                        |
// +-+-------------------------------------------------------------+
// |                      Error Code (32)                          |
// +---------------------------------------------------------------+
// |                  Additional Debug Data (*)                    |
// +---------------------------------------------------------------+
func encodeGoAway(lastStreamID, code uint32, debug []byte) []byte {
	b := make([]byte, 0, 8+len(debug))
	b = binary.BigEndian.AppendUint32(b, lastStreamID&streamIDMask)
	b = binary.BigEndian.AppendUint32(b, code)
	return append(b, debug...)
}

func decodeGoAway(b []byte) (lastStreamID, code uint32, debug []byte, err error) {
	if len(b) < 8 {
		return 0, 0, nil, errFramePayload
	}
	lastStreamID = binary.BigEndian.Uint32(b[0:4]) & streamIDMask
	code = binary.BigEndian.Uint32(b[4:8])
	return lastStreamID, code, b[8:], nil
}
