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
	"bytes"
	"sync"
	"time"

	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/internal/rescue"
	"github.com/wirecall/wirecall/metrics"
	"github.com/wirecall/wirecall/protocol"
)

const (
	// PROTO 协议名 用于指标与日志
	PROTO = "WebSocket"

	// maxMessageSize 单条入站消息的字节上限
	maxMessageSize = 64 * 1024 * 1024
)

// outMessage 出站队列中的一条消息
type outMessage struct {
	opcode  uint8
	payload []byte

	// close 专用
	code   int
	reason string
}

// Socket 一条 WebSocket 链接
//
// 底层 sink 由唯一的 writer 任务持有 source 由唯一的 reader 任务持有
// 公开的 Send / Close 均为向出站队列投递消息 消息回调在 reader 任务上触发
// 关闭与失败回调的触发线程见 Listener
type Socket struct {
	sock     httpmsg.Socket
	ext      Extensions
	listener Listener
	opt      Options

	fr  *frameReader
	fw  *frameWriter
	def *deflater
	inf *inflater

	mut         sync.Mutex
	cond        *sync.Cond
	queue       []outMessage
	queuedBytes int64

	sentClose  bool // close 已入队
	wroteClose bool // close 已写出
	recvClose  bool // 收到对端 close

	closeCode   int
	closeReason string

	failed error
	done   bool

	closingEmitted bool
	closedEmitted  bool
	failureEmitted bool

	closeTimer *time.Timer

	pingMut     sync.Mutex
	pingPending bool
	pingSentAt  time.Time
	pongCount   int64

	// 分片重组状态 仅 reader 任务访问
	assembling bool
	msgOpcode  uint8
	msgDeflate bool
	msgBuf     bytes.Buffer
}

// New 在 upgrade 移交的双工流上构建 WebSocket
func New(sock httpmsg.Socket, ext Extensions, listener Listener, opt Options) *Socket {
	opt = opt.normalize()
	if listener == nil {
		listener = NopListener{}
	}

	s := &Socket{
		sock:     sock,
		ext:      ext,
		listener: listener,
		opt:      opt,
		fr:       newFrameReader(sock, maxMessageSize),
		fw:       newFrameWriter(sock),
	}
	s.cond = sync.NewCond(&s.mut)
	if ext.PermessageDeflate {
		s.def = newDeflater(ext.ClientNoContextTakeover)
		s.inf = newInflater(ext.ServerNoContextTakeover)
	}

	go s.writerLoop()
	go s.readerLoop()
	if opt.PingInterval > 0 {
		go s.pingLoop()
	}
	return s
}

// Send 投递一条文本消息
//
// 队列超过字节上限时返回 false 调用方应当停止投递直至队列排空
func (s *Socket) Send(text string) bool {
	return s.enqueue(outMessage{opcode: opText, payload: []byte(text)}, false)
}

// SendBytes 投递一条二进制消息
func (s *Socket) SendBytes(data []byte) bool {
	p := make([]byte, len(data))
	copy(p, data)
	return s.enqueue(outMessage{opcode: opBinary, payload: p}, false)
}

// QueueSize 返回出站队列中待发送的字节数
func (s *Socket) QueueSize() int64 {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.queuedBytes
}

// Close 发起关闭握手
//
// 入队的消息会先于 close 帧排空 对端在硬取消时限内未应答时
// 链接被取消 OnClosing（如尚未触发）与 OnFailure 相继触发
// 原因必须不超过 123 个 UTF-8 字节 状态码必须位于 [1000, 4999]
func (s *Socket) Close(code int, reason string) bool {
	if code < 1000 || code > 4999 {
		return false
	}
	if len(reason) > maxCloseReasonBytes {
		return false
	}

	ok := s.enqueue(outMessage{opcode: opClose, code: code, reason: reason}, false)
	if !ok {
		return false
	}

	s.mut.Lock()
	s.sentClose = true
	if !s.recvClose {
		s.closeCode = code
		s.closeReason = reason
	}
	if s.closeTimer == nil {
		s.closeTimer = time.AfterFunc(s.opt.CloseTimeout, s.onCloseTimeout)
	}
	s.mut.Unlock()
	return true
}

// Cancel 立即取消链接 不执行关闭握手
//
// 幂等 允许任意线程调用
func (s *Socket) Cancel() {
	s.fail(protocol.NewError(protocol.KindCanceled, newError("socket canceled")))
}

// enqueue 投递消息 priority 消息（pong）插队到首个数据消息之前
func (s *Socket) enqueue(m outMessage, priority bool) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.done || s.failed != nil || s.sentClose {
		return false
	}
	if !priority && s.queuedBytes+int64(len(m.payload)) > s.opt.MaxQueueSize {
		return false
	}

	if priority {
		s.queue = append([]outMessage{m}, s.queue...)
	} else {
		s.queue = append(s.queue, m)
	}
	s.queuedBytes += int64(len(m.payload))
	s.cond.Broadcast()
	return true
}

// writerLoop 唯一的 writer 任务
func (s *Socket) writerLoop() {
	defer rescue.HandleCrash()

	for {
		s.mut.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if s.done {
			s.mut.Unlock()
			return
		}
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.mut.Unlock()

		err := s.writeMessage(m)

		// 写出完成后才计为队列排空
		s.mut.Lock()
		s.queuedBytes -= int64(len(m.payload))
		s.mut.Unlock()

		if err != nil {
			s.fail(err)
			return
		}

		if m.opcode == opClose {
			s.mut.Lock()
			s.wroteClose = true
			finished := s.recvClose
			code, reason := s.closeCode, s.closeReason
			s.mut.Unlock()

			if finished {
				s.finishClosed(code, reason)
				return
			}
		}
	}
}

// writeMessage 写出一条消息 达到压缩阈值的数据消息在协商成功后压缩
func (s *Socket) writeMessage(m outMessage) error {
	f := frame{fin: true, opcode: m.opcode}

	switch m.opcode {
	case opClose:
		f.payload = encodeClosePayload(m.code, m.reason)

	case opText, opBinary:
		f.payload = m.payload
		if s.def != nil && len(m.payload) >= s.opt.MinimumDeflateSize {
			compressed, err := s.def.deflate(m.payload)
			if err != nil {
				return err
			}
			f.rsv1 = true
			f.payload = compressed
		}

	default:
		f.payload = m.payload
	}

	return s.fw.write(f)
}

// readerLoop 唯一的 reader 任务
func (s *Socket) readerLoop() {
	defer rescue.HandleCrash()

	for {
		f, err := s.fr.next(s.ext.PermessageDeflate)
		if err != nil {
			s.mut.Lock()
			done := s.done
			s.mut.Unlock()
			if !done {
				s.fail(protocol.NewError(protocol.KindPrematureEOF, err))
			}
			return
		}

		if err := s.handleFrame(f); err != nil {
			s.fail(protocol.NewError(protocol.KindProtocol, err))
			return
		}

		s.mut.Lock()
		done := s.done
		s.mut.Unlock()
		if done {
			return
		}
	}
}

// handleFrame 处理一帧 控制帧允许穿插在数据分片之间
func (s *Socket) handleFrame(f frame) error {
	switch f.opcode {
	case opPing:
		s.enqueue(outMessage{opcode: opPong, payload: f.payload}, true)
		return nil

	case opPong:
		s.pingMut.Lock()
		s.pingPending = false
		s.pongCount++
		s.pingMut.Unlock()
		return nil

	case opClose:
		return s.handleClose(f)

	case opText, opBinary:
		if s.assembling {
			return newError("data frame while reassembling")
		}
		s.assembling = true
		s.msgOpcode = f.opcode
		s.msgDeflate = f.rsv1
		s.msgBuf.Reset()
		s.msgBuf.Write(f.payload)

	case opContinuation:
		if !s.assembling {
			return newError("continuation without initial frame")
		}
		if f.rsv1 {
			return errFrameReserved
		}
		s.msgBuf.Write(f.payload)

	default:
		return newError("unknown opcode %#x", f.opcode)
	}

	if s.msgBuf.Len() > maxMessageSize {
		return newError("message too large")
	}
	if !f.fin {
		return nil
	}

	// 分片重组完毕 压缩消息在此解压后交付
	s.assembling = false
	payload := s.msgBuf.Bytes()
	if s.msgDeflate {
		inflated, err := s.inf.inflate(payload, maxMessageSize)
		if err != nil {
			return err
		}
		payload = inflated
	}

	if s.msgOpcode == opText {
		s.listener.OnTextMessage(s, string(payload))
	} else {
		p := make([]byte, len(payload))
		copy(p, payload)
		s.listener.OnBinaryMessage(s, p)
	}
	return nil
}

// handleClose 处理对端的 close 帧
func (s *Socket) handleClose(f frame) error {
	code, reason, err := decodeClosePayload(f.payload)
	if err != nil {
		return err
	}

	s.mut.Lock()
	s.recvClose = true
	s.closeCode = code
	s.closeReason = reason
	alreadyClosing := s.closingEmitted
	s.closingEmitted = true
	wrote := s.wroteClose
	sent := s.sentClose
	s.mut.Unlock()

	if !alreadyClosing {
		s.listener.OnClosing(s, code, reason)
	}

	if wrote {
		s.finishClosed(code, reason)
		return nil
	}
	if !sent {
		// 对端先发起关闭 回应同样的状态码
		s.enqueue(outMessage{opcode: opClose, code: code, reason: reason}, true)
		s.mut.Lock()
		s.sentClose = true
		s.mut.Unlock()
	}
	return nil
}

// pingLoop 周期性活性探测
//
// 上一枚 ping 超过一个周期未收到 pong 时 以超时错误终结链接
// 错误信息携带此前成功的 ping/pong 次数
func (s *Socket) pingLoop() {
	defer rescue.HandleCrash()

	ticker := time.NewTicker(s.opt.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.mut.Lock()
		done := s.done
		s.mut.Unlock()
		if done {
			return
		}

		s.pingMut.Lock()
		pending := s.pingPending
		age := time.Since(s.pingSentAt)
		count := s.pongCount
		s.pingMut.Unlock()

		if pending && age >= s.opt.PingInterval {
			s.fail(protocol.NewError(protocol.KindTimeout,
				newError("sent ping but did not receive pong within %s (after %d successful ping/pongs)",
					s.opt.PingInterval, count)))
			return
		}

		s.pingMut.Lock()
		s.pingPending = true
		s.pingSentAt = time.Now()
		s.pingMut.Unlock()

		metrics.IncPing(PROTO)
		s.enqueue(outMessage{opcode: opPing}, true)
	}
}

// onCloseTimeout 关闭握手超时 取消链接
func (s *Socket) onCloseTimeout() {
	s.mut.Lock()
	if s.done {
		s.mut.Unlock()
		return
	}
	alreadyClosing := s.closingEmitted
	s.closingEmitted = true
	code, reason := s.closeCode, s.closeReason
	s.mut.Unlock()

	if !alreadyClosing {
		s.listener.OnClosing(s, code, reason)
	}
	s.fail(protocol.NewError(protocol.KindTimeout, newError("close handshake timed out")))
}

// fail 以错误终结链接 幂等
func (s *Socket) fail(err error) {
	s.mut.Lock()
	if s.done {
		s.mut.Unlock()
		return
	}
	s.done = true
	s.failed = err
	emit := !s.failureEmitted && !s.closedEmitted
	s.failureEmitted = true
	timer := s.closeTimer
	s.mut.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.cond.Broadcast()
	_ = s.sock.Close()

	if emit {
		s.listener.OnFailure(s, err)
	}
}

// finishClosed 双向关闭握手完成 幂等
func (s *Socket) finishClosed(code int, reason string) {
	s.mut.Lock()
	if s.done {
		s.mut.Unlock()
		return
	}
	s.done = true
	emit := !s.closedEmitted && !s.failureEmitted
	s.closedEmitted = true
	timer := s.closeTimer
	s.mut.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.cond.Broadcast()
	_ = s.sock.Close()

	if emit {
		s.listener.OnClosed(s, code, reason)
	}
}

// Err 返回链接终结时的错误
func (s *Socket) Err() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.failed
}
