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

package transport

import (
	"io"
	"net"
	"sync/atomic"
	"time"
)

// Stream 代表一条双工字节流
//
// TCP 裸流与 TLS 流均实现本接口 协议引擎不感知底层差异
// 任意时刻至多一个任务向 Stream 写入 读取由每条链接唯一的 reader 任务执行
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Stats Stream 的读写统计
type Stats struct {
	BytesRead    uint64
	BytesWritten uint64
}

// CountingStream 包装 Stream 并统计读写字节数
type CountingStream struct {
	Stream

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// NewCountingStream 包装并返回 *CountingStream
func NewCountingStream(s Stream) *CountingStream {
	return &CountingStream{Stream: s}
}

func (cs *CountingStream) Read(p []byte) (int, error) {
	n, err := cs.Stream.Read(p)
	cs.bytesRead.Add(uint64(n))
	return n, err
}

func (cs *CountingStream) Write(p []byte) (int, error) {
	n, err := cs.Stream.Write(p)
	cs.bytesWritten.Add(uint64(n))
	return n, err
}

// Stats 返回当前统计快照
func (cs *CountingStream) Stats() Stats {
	return Stats{
		BytesRead:    cs.bytesRead.Load(),
		BytesWritten: cs.bytesWritten.Load(),
	}
}
