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

package connpool

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/wirecall/wirecall/internal/fasttime"
	"github.com/wirecall/wirecall/metrics"
	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/protocol/ph2"
	"github.com/wirecall/wirecall/route"
	"github.com/wirecall/wirecall/transport"
)

func newError(format string, args ...any) error {
	format = "connpool: " + format
	return errors.Errorf(format, args...)
}

// Connection 池化的传输链接
//
// HTTP/1 链接同一时刻至多承载一次 Exchange HTTP/2 链接可承载
// min(对端 MaxConcurrentStreams, 本端上限) 条并发流
type Connection struct {
	Route  route.Route
	Proto  protocol.Proto
	Stream *transport.CountingStream

	// H2 仅在 Proto 为 HTTP/2 时非空
	H2 *ph2.Conn

	mut        sync.Mutex
	busy       bool // H1 独占标记
	noNew      bool // 不再承接新的 Exchange
	closed     bool
	idleAtUnix int64
}

// NewConnection 构造池化链接
func NewConnection(r route.Route, proto protocol.Proto, s *transport.CountingStream, h2conn *ph2.Conn) *Connection {
	metrics.IncConnections(string(proto))
	return &Connection{
		Route:      r,
		Proto:      proto,
		Stream:     s,
		H2:         h2conn,
		idleAtUnix: fasttime.UnixTimestamp(),
	}
}

// Multiplexed 返回链接是否支持多路复用
func (c *Connection) Multiplexed() bool {
	return c.H2 != nil
}

// Acquire 尝试独占承接一次 H1 Exchange 或确认 H2 可承接新流
func (c *Connection) Acquire() bool {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.closed || c.noNew {
		return false
	}
	if c.H2 != nil {
		return c.H2.CanTakeNewStream()
	}
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

// Release 归还链接 H1 链接回到空闲态
func (c *Connection) Release() {
	c.mut.Lock()
	c.busy = false
	c.idleAtUnix = fasttime.UnixTimestamp()
	c.mut.Unlock()
}

// MarkNoNewExchanges 标记链接不再承接新的 Exchange
func (c *Connection) MarkNoNewExchanges() {
	c.mut.Lock()
	c.noNew = true
	c.mut.Unlock()
}

// IdleAt 返回链接最近一次归为空闲的时间戳
func (c *Connection) IdleAt() int64 {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.idleAtUnix
}

// Idle 返回链接当前是否空闲
func (c *Connection) Idle() bool {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.H2 != nil {
		return c.H2.ActiveStreams() == 0
	}
	return !c.busy
}

// ActiveStreams 返回 H2 链接的活跃流数 H1 链接返回 0 或 1
func (c *Connection) ActiveStreams() int {
	if c.H2 != nil {
		return c.H2.ActiveStreams()
	}

	c.mut.Lock()
	defer c.mut.Unlock()
	if c.busy {
		return 1
	}
	return 0
}

// Healthy 返回链接是否可承接新的 Exchange
//
// doExtensiveChecks 为真时对空闲的 H1 链接做可读性探测
// 空闲链接上出现可读字节（或 EOF）意味着对端已经发出 FIN 链接应当被剔除
func (c *Connection) Healthy(doExtensiveChecks bool) bool {
	c.mut.Lock()
	if c.closed || c.noNew {
		c.mut.Unlock()
		return false
	}
	c.mut.Unlock()

	if c.H2 != nil {
		return c.H2.Healthy()
	}
	if !doExtensiveChecks {
		return true
	}
	return !c.readable()
}

// readable 探测空闲链接上是否有可读字节
func (c *Connection) readable() bool {
	if err := c.Stream.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return true
	}
	defer c.Stream.SetReadDeadline(time.Time{})

	var probe [1]byte
	n, err := c.Stream.Read(probe[:])
	if n > 0 || err == io.EOF || err == nil {
		return true
	}
	return false
}

// Close 关闭链接
func (c *Connection) Close() error {
	c.mut.Lock()
	if c.closed {
		c.mut.Unlock()
		return nil
	}
	c.closed = true
	c.mut.Unlock()

	metrics.DecConnections(string(c.Proto))
	if c.H2 != nil {
		return c.H2.Close()
	}
	return c.Stream.Close()
}
