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

package pws

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// RFC 6455 定义的帧布局
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
//	| Masking-key (continued)       |          Payload Data         |
//	+-------------------------------- - - - - - - - - - - - - - - - +
//
// 客户端发出的帧必须掩码 服务端发出的帧必须不掩码
// RSV1 在协商出 permessage-deflate 后标记消息的首个分片已压缩
type frame struct {
	fin     bool
	rsv1    bool
	opcode  uint8
	payload []byte
}

var (
	errFrameMasked   = newError("masked frame from server")
	errFrameReserved = newError("reserved bits set")
	errFrameControl  = newError("invalid control frame")
)

// frameReader 逐帧读取 由唯一的 reader 任务持有
type frameReader struct {
	r   io.Reader
	hdr [8]byte

	// maxMessageSize 单条消息的字节上限 防御对端恶意超长消息
	maxMessageSize int64
}

func newFrameReader(r io.Reader, maxMessageSize int64) *frameReader {
	return &frameReader{r: r, maxMessageSize: maxMessageSize}
}

// next 读取一帧 permessageDeflate 决定 RSV1 是否合法
func (fr *frameReader) next(permessageDeflate bool) (frame, error) {
	var f frame

	if _, err := io.ReadFull(fr.r, fr.hdr[:2]); err != nil {
		return f, err
	}

	b0, b1 := fr.hdr[0], fr.hdr[1]
	f.fin = b0&0x80 != 0
	f.rsv1 = b0&0x40 != 0
	f.opcode = b0 & 0x0f

	if b0&0x30 != 0 {
		return f, errFrameReserved
	}
	if f.rsv1 && !permessageDeflate {
		return f, errFrameReserved
	}
	if b1&0x80 != 0 {
		return f, errFrameMasked
	}

	length := int64(b1 & 0x7f)
	switch length {
	case 126:
		if _, err := io.ReadFull(fr.r, fr.hdr[:2]); err != nil {
			return f, err
		}
		length = int64(binary.BigEndian.Uint16(fr.hdr[:2]))
	case 127:
		if _, err := io.ReadFull(fr.r, fr.hdr[:8]); err != nil {
			return f, err
		}
		n := binary.BigEndian.Uint64(fr.hdr[:8])
		if n > 1<<62 {
			return f, newError("frame too large")
		}
		length = int64(n)
	}

	if f.opcode >= opClose {
		// 控制帧不允许分片 payload 不超过 125 字节
		if !f.fin || length > maxControlPayload {
			return f, errFrameControl
		}
	}
	if length > fr.maxMessageSize {
		return f, newError("frame exceeds message size limit")
	}

	f.payload = make([]byte, length)
	if _, err := io.ReadFull(fr.r, f.payload); err != nil {
		return f, err
	}
	return f, nil
}

// frameWriter 逐帧写出 由唯一的 writer 任务持有 客户端帧全部掩码
type frameWriter struct {
	w   io.Writer
	hdr [14]byte
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

// write 写出一帧 payload 会被掩码处理 调用方不允许复用传入的切片
func (fw *frameWriter) write(f frame) error {
	b0 := f.opcode
	if f.fin {
		b0 |= 0x80
	}
	if f.rsv1 {
		b0 |= 0x40
	}
	fw.hdr[0] = b0

	n := 2
	length := len(f.payload)
	switch {
	case length < 126:
		fw.hdr[1] = 0x80 | byte(length)
	case length <= 0xFFFF:
		fw.hdr[1] = 0x80 | 126
		binary.BigEndian.PutUint16(fw.hdr[2:4], uint16(length))
		n = 4
	default:
		fw.hdr[1] = 0x80 | 127
		binary.BigEndian.PutUint64(fw.hdr[2:10], uint64(length))
		n = 10
	}

	var mask [4]byte
	rand.Read(mask[:])
	copy(fw.hdr[n:], mask[:])
	n += 4

	if _, err := fw.w.Write(fw.hdr[:n]); err != nil {
		return err
	}

	maskBytes(mask, f.payload)
	_, err := fw.w.Write(f.payload)
	return err
}

// maskBytes 按 RFC 6455 对 payload 做异或掩码
func maskBytes(mask [4]byte, p []byte) {
	for i := range p {
		p[i] ^= mask[i&3]
	}
}

// encodeClosePayload 序列化 Close 帧 payload 即 2 字节状态码加原因
func encodeClosePayload(code int, reason string) []byte {
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b[:2], uint16(code))
	copy(b[2:], reason)
	return b
}

// decodeClosePayload 解析 Close 帧 payload 空 payload 视为 1000
func decodeClosePayload(p []byte) (int, string, error) {
	if len(p) == 0 {
		return CloseNormal, "", nil
	}
	if len(p) == 1 {
		return 0, "", errFrameControl
	}

	code := int(binary.BigEndian.Uint16(p[:2]))
	if code < 1000 || code > 4999 {
		return 0, "", newError("invalid close code %d", code)
	}
	return code, string(p[2:]), nil
}
