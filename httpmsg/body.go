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

package httpmsg

import (
	"bytes"
	"io"
	"sync"
)

// BodyKind RequestBody 的变体类型
type BodyKind uint8

const (
	// BodyAbsent 无 body
	BodyAbsent BodyKind = iota

	// BodyBuffered 内存中的完整 body 可重放
	BodyBuffered

	// BodyStreamKind 一次性流式 body 不可重放
	BodyStreamKind

	// BodyDuplex 双工 body 在响应头到达后仍可继续产生字节
	// 仅 HTTP/2 与 upgrade 路径支持
	BodyDuplex
)

// RequestBody 请求体
//
// ContentLength 为 -1 时代表长度未知 HTTP/1.1 使用 chunked 编码传输
// Replayable 决定了在收到首个响应字节前失败时 调用是否允许在新路由上重试
type RequestBody struct {
	kind          BodyKind
	contentType   string
	contentLength int64
	replayable    bool

	buf    []byte
	source func() io.Reader

	mut      sync.Mutex
	consumed bool
}

// NewBufferedBody 构造内存 body 天然可重放
func NewBufferedBody(contentType string, b []byte) *RequestBody {
	return &RequestBody{
		kind:          BodyBuffered,
		contentType:   contentType,
		contentLength: int64(len(b)),
		replayable:    true,
		buf:           b,
	}
}

// NewStreamBody 构造一次性流式 body
//
// contentLength 未知时传入 -1 source 仅允许消费一次
func NewStreamBody(contentType string, contentLength int64, source func() io.Reader) *RequestBody {
	return &RequestBody{
		kind:          BodyStreamKind,
		contentType:   contentType,
		contentLength: contentLength,
		source:        source,
	}
}

// NewReplayableStreamBody 构造可重放的流式 body
//
// 调用方保证 source 每次调用均能产出相同的字节序列
func NewReplayableStreamBody(contentType string, contentLength int64, source func() io.Reader) *RequestBody {
	return &RequestBody{
		kind:          BodyStreamKind,
		contentType:   contentType,
		contentLength: contentLength,
		replayable:    true,
		source:        source,
	}
}

// NewDuplexBody 构造双工 body
//
// source 在响应头到达后仍可继续产出数据 直到返回 io.EOF
func NewDuplexBody(contentType string, source func() io.Reader) *RequestBody {
	return &RequestBody{
		kind:          BodyDuplex,
		contentType:   contentType,
		contentLength: -1,
		source:        source,
	}
}

// Kind 返回 body 变体类型 nil 视为 BodyAbsent
func (b *RequestBody) Kind() BodyKind {
	if b == nil {
		return BodyAbsent
	}
	return b.kind
}

// ContentType 返回 Content-Type
func (b *RequestBody) ContentType() string {
	if b == nil {
		return ""
	}
	return b.contentType
}

// ContentLength 返回内容长度 -1 代表未知
func (b *RequestBody) ContentLength() int64 {
	if b == nil {
		return 0
	}
	return b.contentLength
}

// Replayable 返回 body 是否允许重放
func (b *RequestBody) Replayable() bool {
	if b == nil {
		return true // 无 body 的请求总是可以重试
	}
	return b.replayable
}

// Duplex 返回 body 是否为双工模式
func (b *RequestBody) Duplex() bool {
	return b != nil && b.kind == BodyDuplex
}

// NewReader 返回 body 的读取流
//
// 非重放 body 仅允许调用一次 第二次调用返回错误
func (b *RequestBody) NewReader() (io.Reader, error) {
	if b == nil || b.kind == BodyAbsent {
		return bytes.NewReader(nil), nil
	}
	if b.kind == BodyBuffered {
		return bytes.NewReader(b.buf), nil
	}

	b.mut.Lock()
	defer b.mut.Unlock()
	if b.consumed && !b.replayable {
		return nil, newError("one-shot body already consumed")
	}
	b.consumed = true
	return b.source(), nil
}
