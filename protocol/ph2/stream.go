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
	"io"
	"sync"
	"time"

	"github.com/wirecall/wirecall/metrics"
	"github.com/wirecall/wirecall/protocol"
)

var (
	errReadTimeout  = protocol.NewError(protocol.KindTimeout, newError("stream read timeout"))
	errWriteTimeout = protocol.NewError(protocol.KindTimeout, newError("stream write timeout"))
)

// streamState 流的生命周期状态
//
// 状态机转换遵循 RFC 7540 Section 5.1
//
//	             +--------+
//	     send H  |        |  recv H
//	    ,--------|  idle  |--------.
//	   /         |        |         \
//	  v          +--------+          v
//	+----------+          +----------+
//	|   open   |          |   open   |
//	+----------+          +----------+
//	     |   send ES / recv ES   |
//	     v                       v
//	+----------------+  +----------------+
//	| half-closed(L) |  | half-closed(R) |
//	+----------------+  +----------------+
//	     |      recv ES / send ES / RST  |
//	     v                       v
//	           +-----------+
//	           |  closed   |
//	           +-----------+
type streamState uint8

const (
	stateIdle streamState = iota
	stateOpen
	stateHalfClosedLocal
	stateHalfClosedRemote
	stateClosed
)

var stateNames = map[streamState]string{
	stateIdle:             "idle",
	stateOpen:             "open",
	stateHalfClosedLocal:  "half-closed(local)",
	stateHalfClosedRemote: "half-closed(remote)",
	stateClosed:           "closed",
}

func (s streamState) String() string {
	return stateNames[s]
}

// Stream HTTP/2 逻辑流
//
// Stream 由发起调用的一方独占持有 链接仅保留按 id 索引的弱引用
// 流不允许跨链接复用
type Stream struct {
	id   uint32
	conn *Conn

	mut  sync.Mutex
	cond *sync.Cond

	state streamState

	// 接收侧
	recvBuf    bytes.Buffer
	recvClosed bool // 已收到 END_STREAM
	headers    []headerField
	headersOK  bool
	trailers   []headerField

	// recv 本端通告的流级接收窗口 由链接状态锁保护
	recv *recvWindow

	// 发送侧
	sendWindow *sendWindow
	sentEnd    bool

	// err 首个被记录的错误 双方同时关闭时先到者保留
	err error

	readDeadline  time.Time
	writeDeadline time.Time

	readBytes  int64
	wroteBytes int64
}

func newStream(id uint32, conn *Conn, sendWindowSize int64) *Stream {
	st := &Stream{
		id:         id,
		conn:       conn,
		sendWindow: newSendWindow(sendWindowSize),
	}
	st.cond = sync.NewCond(&st.mut)
	metrics.IncStreams()
	return st
}

// ID 返回流标识
func (st *Stream) ID() uint32 {
	return st.id
}

// SetReadDeadline 设置读超时
func (st *Stream) SetReadDeadline(t time.Time) {
	st.mut.Lock()
	st.readDeadline = t
	st.mut.Unlock()
	st.cond.Broadcast()
}

// SetWriteDeadline 设置写超时
func (st *Stream) SetWriteDeadline(t time.Time) {
	st.mut.Lock()
	st.writeDeadline = t
	st.mut.Unlock()
}

// onSentHeaders 本端发出 HEADERS 后的状态迁移 由 conn 在 writer 锁内调用
func (st *Stream) onSentHeaders(endStream bool) {
	st.mut.Lock()
	defer st.mut.Unlock()

	st.state = stateOpen
	if endStream {
		st.sentEnd = true
		st.state = stateHalfClosedLocal
	}
}

// onRecvHeaders 收到响应 HEADERS 后的处理
//
// 1xx 信息响应会被跳过 不作为最终响应头交付
func (st *Stream) onRecvHeaders(fields []headerField, endStream bool) error {
	st.mut.Lock()
	defer st.mut.Unlock()

	switch st.state {
	case stateOpen, stateHalfClosedLocal:
	default:
		return newError("HEADERS in state %s", st.state)
	}

	if !st.headersOK {
		if isInformational(fields) && !endStream {
			st.cond.Broadcast()
			return nil
		}
		st.headers = fields
		st.headersOK = true
	} else {
		// 第二次 HEADERS 为 trailers 必须携带 END_STREAM
		if !endStream {
			return newError("trailers without END_STREAM")
		}
		st.trailers = fields
	}

	if endStream {
		st.recvClosed = true
		st.transitRecvClosedLocked()
	}
	st.cond.Broadcast()
	return nil
}

// onRecvData 收到 DATA 后的处理 流已在本端结束时静默丢弃
func (st *Stream) onRecvData(b []byte, endStream bool) error {
	st.mut.Lock()
	defer st.mut.Unlock()

	switch st.state {
	case stateOpen, stateHalfClosedLocal:
	case stateClosed, stateHalfClosedRemote:
		// 本端已经完成读取 静默丢弃
		return nil
	default:
		return newError("DATA in state %s", st.state)
	}

	if st.err == nil {
		st.recvBuf.Write(b)
		st.readBytes += int64(len(b))
	}
	if endStream {
		st.recvClosed = true
		st.transitRecvClosedLocked()
	}
	st.cond.Broadcast()
	return nil
}

// onRecvReset 收到 RST_STREAM 后的处理
func (st *Stream) onRecvReset(code uint32) {
	kind := protocol.KindStreamReset
	if code == ErrCodeRefusedStream {
		kind = protocol.KindRefusedStream
	}
	st.fail(protocol.NewCodeError(kind, code, newError("stream reset by peer: %s", ErrCodeName(code))))
}

// transitRecvClosedLocked 接收半区关闭后的状态迁移
func (st *Stream) transitRecvClosedLocked() {
	switch st.state {
	case stateOpen:
		st.state = stateHalfClosedRemote
	case stateHalfClosedLocal:
		st.state = stateClosed
		metrics.DecStreams()
	}
}

// transitSendClosed 发送半区关闭后的状态迁移
func (st *Stream) transitSendClosed() {
	st.mut.Lock()
	defer st.mut.Unlock()

	st.sentEnd = true
	switch st.state {
	case stateOpen:
		st.state = stateHalfClosedLocal
	case stateHalfClosedRemote:
		st.state = stateClosed
		metrics.DecStreams()
	}
}

// fail 以给定错误终结流 仅首个错误被保留
func (st *Stream) fail(err error) {
	st.mut.Lock()
	if st.err == nil {
		st.err = err
	}
	if st.state != stateClosed {
		st.state = stateClosed
		metrics.DecStreams()
	}
	st.mut.Unlock()

	st.cond.Broadcast()
	st.sendWindow.fail(err)
}

// Err 返回流记录的首个错误
func (st *Stream) Err() error {
	st.mut.Lock()
	defer st.mut.Unlock()
	return st.err
}

// WaitHeaders 阻塞等待最终响应头
func (st *Stream) WaitHeaders() ([]headerField, error) {
	st.mut.Lock()
	defer st.mut.Unlock()

	for {
		if st.headersOK {
			return st.headers, nil
		}
		if st.err != nil {
			return nil, st.err
		}
		if !st.readDeadline.IsZero() && time.Now().After(st.readDeadline) {
			st.conn.markDegraded()
			return nil, errReadTimeout
		}
		st.waitLocked(st.readDeadline)
	}
}

// waitLocked 在条件变量上等待 deadline 非零时定时唤醒
func (st *Stream) waitLocked(deadline time.Time) {
	if deadline.IsZero() {
		st.cond.Wait()
		return
	}

	timer := time.AfterFunc(time.Until(deadline), st.cond.Broadcast)
	defer timer.Stop()
	st.cond.Wait()
}

// Read 读取响应 body 字节 消费后向对端补齐接收窗口
func (st *Stream) Read(p []byte) (int, error) {
	st.mut.Lock()
	for {
		if st.recvBuf.Len() > 0 {
			break
		}
		if st.err != nil {
			err := st.err
			st.mut.Unlock()
			return 0, err
		}
		if st.recvClosed {
			st.mut.Unlock()
			return 0, io.EOF
		}
		if !st.readDeadline.IsZero() && time.Now().After(st.readDeadline) {
			st.mut.Unlock()
			st.conn.markDegraded()
			return 0, errReadTimeout
		}
		st.waitLocked(st.readDeadline)
	}

	n, _ := st.recvBuf.Read(p)
	st.mut.Unlock()

	// 消费确认必须在流锁之外进行 避免与链接状态锁交叉
	st.conn.releaseRecv(st.id, int64(n))
	return n, nil
}

// Trailers 返回响应 trailers 仅在 body 读取完毕后有效
func (st *Stream) Trailers() []headerField {
	st.mut.Lock()
	defer st.mut.Unlock()
	return st.trailers
}

// WriteData 写出请求 body 字节
//
// 按 min(链接窗口, 流窗口, 对端最大帧长度) 切割 信用耗尽时阻塞
func (st *Stream) WriteData(p []byte, endStream bool) error {
	st.mut.Lock()
	switch st.state {
	case stateOpen, stateHalfClosedRemote:
	case stateHalfClosedLocal, stateClosed:
		err := st.err
		state := st.state
		st.mut.Unlock()
		if err != nil {
			return err
		}
		return protocol.NewCodeError(protocol.KindProtocol, ErrCodeStreamClosed,
			newError("DATA in state %s", state))
	default:
		st.mut.Unlock()
		return newError("DATA in state idle")
	}
	deadline := st.writeDeadline
	st.mut.Unlock()

	for len(p) > 0 || endStream {
		maxLen := int64(len(p))
		if maxLen > 0 {
			if limit := int64(st.conn.peerMaxFrameSize()); maxLen > limit {
				maxLen = limit
			}

			// 先取流级信用 再取链接级信用 多取的部分需要归还
			n, err := st.sendWindow.take(maxLen, deadline)
			if err != nil {
				st.conn.markDegraded()
				return err
			}
			m, err := st.conn.connSendWindow.take(n, deadline)
			if err != nil {
				_ = st.sendWindow.add(n)
				st.conn.markDegraded()
				return err
			}
			if m < n {
				_ = st.sendWindow.add(n - m)
			}
			maxLen = m
		}

		chunk := p[:maxLen]
		p = p[maxLen:]
		fin := endStream && len(p) == 0

		if err := st.conn.writeData(st.id, chunk, fin); err != nil {
			return err
		}
		st.wroteBytes += int64(len(chunk))

		if fin {
			st.transitSendClosed()
			return nil
		}
	}
	return nil
}

// WriteTrailers 以 trailers 结束发送半区
func (st *Stream) WriteTrailers(fields []headerField) error {
	if err := st.conn.writeHeaders(st.id, fields, true); err != nil {
		return err
	}
	st.transitSendClosed()
	return nil
}

// CloseSend 结束发送半区
func (st *Stream) CloseSend() error {
	return st.WriteData(nil, true)
}

// Cancel 取消流 发送 RST_STREAM(CANCEL) 并唤醒所有阻塞方
//
// 幂等 允许任意线程调用
func (st *Stream) Cancel() {
	st.Reset(ErrCodeCancel, protocol.NewCodeError(protocol.KindCanceled, ErrCodeCancel, newError("stream canceled")))
}

// Reset 以给定错误码重置流
func (st *Stream) Reset(code uint32, cause error) {
	st.mut.Lock()
	done := st.state == stateClosed
	st.mut.Unlock()
	if done && st.Err() != nil {
		return
	}

	st.fail(cause)
	_ = st.conn.writeRSTStream(st.id, code)
	st.conn.removeStream(st.id)
}

// isInformational 判断是否为 1xx 信息响应
func isInformational(fields []headerField) bool {
	for _, f := range fields {
		if f.Name == headerStatus {
			return len(f.Value) == 3 && f.Value[0] == '1'
		}
	}
	return false
}
