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

package ph1

import (
	"io"

	"github.com/wirecall/wirecall/protocol"
)

// emptyBody 无 body 的响应
type emptyBody struct{}

func (*emptyBody) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (*emptyBody) Close() error {
	return nil
}

// fixedBody Content-Length 定长 body
//
// 读满声明的字节数即 EOF 对端提前关闭视为 PrematureEOF 且链接不可复用
type fixedBody struct {
	e      *Exchange
	remain int64
	closed bool
}

func (b *fixedBody) Read(p []byte) (int, error) {
	if b.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remain {
		p = p[:b.remain]
	}

	n, err := b.e.br.Read(p)
	b.remain -= int64(n)
	if err == io.EOF && b.remain > 0 {
		b.e.reusable = false
		return n, protocol.NewError(protocol.KindPrematureEOF, newError("unexpected EOF with %d bytes unread", b.remain))
	}
	if b.remain == 0 {
		b.e.finish()
		return n, nil
	}
	return n, err
}

// Close 提前关闭时链接上残留未读字节 不可复用
func (b *fixedBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.remain > 0 {
		b.e.reusable = false
	}
	return nil
}

// chunkedBody chunked 编码 body
//
// 如果一个 HTTP 消息的 Transfer-Encoding 消息头的值为 chunked 那其消息体由数量未定的块组成 并以最后一个大小为 0 的块为结束
// 每一个非空的块都以该块包含数据的字节数（字节数以十六进制表示）开始并跟随一个 CRLF 然后是数据本身 最后块 CRLF 结束
//
//	chunked-body   = *chunk
//	                 last-chunk
//	                 trailer-section
//	                 CRLF
//
//	chunk          = chunk-size [ chunk-ext ] CRLF
//	                 chunk-data CRLF
//	chunk-size     = 1*HEXDIG
//	last-chunk     = 1*("0") [ chunk-ext ] CRLF
type chunkedBody struct {
	e      *Exchange
	remain int64 // 当前 chunk 剩余字节
	done   bool
	closed bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}

	if b.remain == 0 {
		if err := b.nextChunk(); err != nil {
			return 0, err
		}
		if b.done {
			return 0, io.EOF
		}
	}

	if int64(len(p)) > b.remain {
		p = p[:b.remain]
	}
	n, err := b.e.br.Read(p)
	b.remain -= int64(n)
	if err == io.EOF {
		b.e.reusable = false
		return n, protocol.NewError(protocol.KindPrematureEOF, newError("unexpected EOF inside chunk"))
	}

	// chunk 数据后跟随一个 CRLF
	if b.remain == 0 && err == nil {
		if cerr := b.expectCRLF(); cerr != nil {
			return n, cerr
		}
	}
	return n, err
}

// nextChunk 解析下一个 chunk-size 行 chunk-ext 按标准要求剔除
func (b *chunkedBody) nextChunk() error {
	line, err := b.e.readLine()
	if err != nil {
		b.e.reusable = false
		return protocol.NewError(protocol.KindPrematureEOF, err)
	}

	// 剔除 chunk-ext
	for i := 0; i < len(line); i++ {
		if line[i] == ';' {
			line = line[:i]
			break
		}
	}

	size, err := parseHexUint(line)
	if err != nil {
		b.e.reusable = false
		return protocol.NewError(protocol.KindProtocol, err)
	}

	if size == 0 {
		// trailer-section 读取至空行
		for {
			tl, err := b.e.readLine()
			if err != nil {
				b.e.reusable = false
				return protocol.NewError(protocol.KindPrematureEOF, err)
			}
			if tl == "" {
				break
			}
		}
		b.done = true
		b.e.finish()
		return nil
	}

	b.remain = int64(size)
	return nil
}

func (b *chunkedBody) expectCRLF() error {
	crlf := make([]byte, 2)
	if _, err := io.ReadFull(b.e.br, crlf); err != nil {
		b.e.reusable = false
		return protocol.NewError(protocol.KindPrematureEOF, err)
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		b.e.reusable = false
		return protocol.NewError(protocol.KindProtocol, newError("malformed chunk terminator"))
	}
	return nil
}

// Close 提前关闭时链接不可复用
func (b *chunkedBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if !b.done {
		b.e.reusable = false
	}
	return nil
}

// untilCloseBody 读取至链接关闭的 body 链接不可复用
type untilCloseBody struct {
	e *Exchange
}

func (b *untilCloseBody) Read(p []byte) (int, error) {
	n, err := b.e.br.Read(p)
	if err == io.EOF {
		b.e.finish()
	}
	return n, err
}

func (b *untilCloseBody) Close() error {
	return nil
}

// parseHexUint 将 16 进制所代表的字节解析成 uint64 数据类型
func parseHexUint(v string) (uint64, error) {
	if len(v) == 0 {
		return 0, newError("empty hex number for chunk length")
	}

	var n uint64
	for i := 0; i < len(v); i++ {
		b := v[i]
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, newError("invalid byte in chunk length")
		}
		if i == 16 {
			return 0, newError("http chunk length too large")
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}
