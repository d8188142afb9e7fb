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
	"bufio"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wirecall/wirecall/common"
	"github.com/wirecall/wirecall/internal/bufpool"
	"github.com/wirecall/wirecall/internal/rescue"
	"github.com/wirecall/wirecall/logger"
	"github.com/wirecall/wirecall/metrics"
	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/transport"
)

// Role 链接的角色
//
// 同一套帧处理代码按角色选择 StreamID 的奇偶分配以及前言的收发方向
type Role uint8

const (
	// RoleClient 客户端 主动发起的流使用奇数 id
	RoleClient Role = iota

	// RoleServer 服务端 推送流使用偶数 id 仅用于进程内对端
	RoleServer
)

type option struct {
	settings     Settings
	pingInterval time.Duration
	ackTimeout   time.Duration
	maxStreams   uint32
}

type Option func(o *option)

// WithSettings 覆盖本端 SETTINGS
func WithSettings(st Settings) Option {
	return func(o *option) {
		o.settings = st
	}
}

// WithPingInterval 设置空闲链接的保活 ping 周期 0 代表禁用
func WithPingInterval(d time.Duration) Option {
	return func(o *option) {
		o.pingInterval = d
	}
}

// WithSettingsAckTimeout 设置 SETTINGS 确认超时
func WithSettingsAckTimeout(d time.Duration) Option {
	return func(o *option) {
		o.ackTimeout = d
	}
}

// WithMaxConcurrentStreams 设置本端发起流的并发上限
func WithMaxConcurrentStreams(n uint32) Option {
	return func(o *option) {
		o.maxStreams = n
	}
}

// Conn HTTP/2 链接
//
// 每条链接持有两把锁
//
//   - wmut: 序列化所有出站字节写入 HPACK 编码器的动态表状态与
//     帧的发送顺序强绑定 因此编码也在此锁内进行
//   - mut: 覆盖流表 / SETTINGS / 流控窗口 任何阻塞 I/O 期间不允许持有
//
// 两把锁同时需要时 先取 wmut 后取 mut
// 帧的读取由唯一的 reader 任务执行 reader 永不阻塞在应用层代码上
type Conn struct {
	stream transport.Stream
	role   Role
	opt    *option

	wmut sync.Mutex
	bw   *bufio.Writer
	henc *headerEncoder

	mut               sync.Mutex
	streams           map[uint32]*Stream
	nextStreamID      uint32
	ourSettings       Settings
	peerSettings      Settings
	connRecv          *recvWindow
	goAwaySent        bool
	goAwayRecvd       bool
	lastGoodStreamID  uint32
	processedStreamID uint32
	closed            bool
	closeErr          error

	connSendWindow *sendWindow

	hdec *headerDecoder
	fr   *frameReader

	settingsAckTimer *time.Timer

	pingMut         sync.Mutex
	pingOutstanding bool
	pingSentAt      time.Time
	pingData        [8]byte

	degradedPings atomic.Int64
	lastActive    atomic.Int64

	readerDone chan struct{}
	closeOnce  sync.Once
}

// NewConn 在已建立的双工流上构建 HTTP/2 链接
//
// 客户端角色发送 24 字节前言与 SETTINGS 帧 并启动唯一的 reader 任务
func NewConn(s transport.Stream, role Role, opts ...Option) (*Conn, error) {
	opt := &option{
		settings:   DefaultSettings(),
		ackTimeout: 5 * time.Second,
		maxStreams: 128,
	}
	for _, f := range opts {
		f(opt)
	}

	c := &Conn{
		stream:         s,
		role:           role,
		opt:            opt,
		bw:             bufio.NewWriterSize(s, common.ReadWriteBlockSize),
		henc:           newHeaderEncoder(),
		streams:        make(map[uint32]*Stream),
		ourSettings: opt.settings,
		peerSettings: Settings{
			HeaderTableSize:      defaultHeaderTableSize,
			EnablePush:           true,
			MaxConcurrentStreams: maxWindowSize,
			InitialWindowSize:    defaultWindowSize,
			MaxFrameSize:         defaultMaxFrameSize,
		},
		connRecv:       newRecvWindow(defaultWindowSize),
		connSendWindow: newSendWindow(defaultWindowSize),
		readerDone:     make(chan struct{}),
	}
	c.hdec = newHeaderDecoder(opt.settings.HeaderTableSize, opt.settings.MaxHeaderListSize)
	c.fr = newFrameReader(bufio.NewReaderSize(s, common.ReadWriteBlockSize), opt.settings.MaxFrameSize)
	c.touch()

	switch role {
	case RoleClient:
		c.nextStreamID = 1
		if err := c.handshakeClient(); err != nil {
			return nil, err
		}
	case RoleServer:
		c.nextStreamID = 2
		if err := c.handshakeServer(); err != nil {
			return nil, err
		}
	}

	// 对 SETTINGS 确认设置时限 在时限内未收到确认则以 SETTINGS_TIMEOUT 关闭链接
	c.settingsAckTimer = time.AfterFunc(opt.ackTimeout, func() {
		c.connError(ErrCodeSettingsTimeout, protocol.NewCodeError(
			protocol.KindTimeout, ErrCodeSettingsTimeout, newError("settings ack timeout")))
	})

	go c.readLoop()
	if opt.pingInterval > 0 {
		go c.keepaliveLoop()
	}
	return c, nil
}

func (c *Conn) handshakeClient() error {
	c.wmut.Lock()
	defer c.wmut.Unlock()

	if _, err := c.bw.Write(connPreface); err != nil {
		return err
	}
	if err := c.writeFrameLocked(frameHeader{typ: frameSettings}, encodeSettings(c.ourSettings)); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) handshakeServer() error {
	// 服务端需要先校验客户端前言
	preface := make([]byte, len(connPreface))
	if _, err := io.ReadFull(c.stream, preface); err != nil {
		return err
	}
	if string(preface) != string(connPreface) {
		return newError("invalid connection preface")
	}

	c.wmut.Lock()
	defer c.wmut.Unlock()
	if err := c.writeFrameLocked(frameHeader{typ: frameSettings}, encodeSettings(c.ourSettings)); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive 返回链接最后一次收发帧的时间
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// writeFrameLocked 序列化并写出一帧 调用方必须持有 wmut
func (c *Conn) writeFrameLocked(fh frameHeader, payload []byte) error {
	fh.length = uint32(len(payload))
	hdr := appendFrameHeader(make([]byte, 0, headerLength), fh)
	if _, err := c.bw.Write(hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.bw.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) writeFrame(fh frameHeader, payload []byte) error {
	c.wmut.Lock()
	defer c.wmut.Unlock()

	if err := c.writeFrameLocked(fh, payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

// NewStream 发起一个新流 写出 HEADERS（以及必要的 CONTINUATION）
//
// StreamID 的分配 / 流表的登记 / 帧的写出必须原子完成 否则并发发起的
// 两个流可能以乱序的 id 到达对端 因此整个过程持有 wmut 状态锁后取
func (c *Conn) NewStream(fields []headerField, endStream bool) (*Stream, error) {
	c.wmut.Lock()
	defer c.wmut.Unlock()

	c.mut.Lock()
	if c.closed {
		err := c.closeErr
		c.mut.Unlock()
		if err == nil {
			err = newError("connection closed")
		}
		return nil, err
	}
	if c.goAwaySent || c.goAwayRecvd {
		c.mut.Unlock()
		return nil, protocol.NewCodeError(protocol.KindRefusedStream, ErrCodeRefusedStream,
			newError("connection is shutting down"))
	}
	if uint32(len(c.streams)) >= c.maxConcurrentLocked() {
		c.mut.Unlock()
		return nil, protocol.NewCodeError(protocol.KindRefusedStream, ErrCodeRefusedStream,
			newError("too many concurrent streams"))
	}

	id := c.nextStreamID
	c.nextStreamID += 2
	st := newStream(id, c, int64(c.peerSettings.InitialWindowSize))
	st.recv = newRecvWindow(int64(c.ourSettings.InitialWindowSize))
	c.streams[id] = st
	c.mut.Unlock()

	if err := c.writeHeadersLocked(id, fields, endStream); err != nil {
		c.removeStream(id)
		return nil, err
	}
	st.onSentHeaders(endStream)
	return st, nil
}

func (c *Conn) maxConcurrentLocked() uint32 {
	n := c.peerSettings.MaxConcurrentStreams
	if c.opt.maxStreams < n {
		n = c.opt.maxStreams
	}
	return n
}

// writeHeadersLocked 编码并写出 Header 块 超长时切割为 CONTINUATION
func (c *Conn) writeHeadersLocked(id uint32, fields []headerField, endStream bool) error {
	block, err := c.henc.encode(fields)
	if err != nil {
		return err
	}

	maxFrame := int(c.peerMaxFrameSize())
	first := true
	for first || len(block) > 0 {
		chunk := block
		if len(chunk) > maxFrame {
			chunk = chunk[:maxFrame]
		}
		block = block[len(chunk):]

		var fh frameHeader
		fh.streamID = id
		if first {
			fh.typ = frameHeaders
			if endStream {
				fh.flags |= flagEndStream
			}
		} else {
			fh.typ = frameContinuation
		}
		if len(block) == 0 {
			fh.flags |= flagEndHeaders
		}

		if err := c.writeFrameLocked(fh, chunk); err != nil {
			return err
		}
		first = false
	}
	return c.bw.Flush()
}

// writeHeaders 写出 trailers 等后续 Header 块
func (c *Conn) writeHeaders(id uint32, fields []headerField, endStream bool) error {
	c.wmut.Lock()
	defer c.wmut.Unlock()
	return c.writeHeadersLocked(id, fields, endStream)
}

// writeData 写出一帧 DATA
//
// 调用方已经完成流控信用的扣减 DATA 布局如下
//
// +---------------+
// |Pad Length? (8)|
// +---------------+-----------------------------------------------+
// |                            Data (*)                         ...
// +---------------------------------------------------------------+
// |                           Padding (*)                       ...
// +---------------------------------------------------------------+
func (c *Conn) writeData(id uint32, p []byte, endStream bool) error {
	var fh frameHeader
	fh.typ = frameData
	fh.streamID = id
	if endStream {
		fh.flags |= flagEndStream
	}
	return c.writeFrame(fh, p)
}

func (c *Conn) writeRSTStream(id, code uint32) error {
	payload := binary.BigEndian.AppendUint32(nil, code)
	return c.writeFrame(frameHeader{typ: frameRSTStream, streamID: id}, payload)
}

func (c *Conn) writeWindowUpdate(id uint32, delta uint32) error {
	payload := binary.BigEndian.AppendUint32(nil, delta)
	return c.writeFrame(frameHeader{typ: frameWindowUpdate, streamID: id}, payload)
}

func (c *Conn) writePing(ack bool, data [8]byte) error {
	var fh frameHeader
	fh.typ = framePing
	if ack {
		fh.flags |= flagAck
	}
	return c.writeFrame(fh, data[:])
}

// removeStream 从流表中摘除流
func (c *Conn) removeStream(id uint32) {
	c.mut.Lock()
	delete(c.streams, id)
	c.mut.Unlock()
}

// getStream 按 id 查找流
func (c *Conn) getStream(id uint32) *Stream {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.streams[id]
}

// releaseRecv 应用层消费 n 字节后补齐接收窗口
//
// WINDOW_UPDATE 的增量计算在状态锁内完成 帧的写出在锁外进行
func (c *Conn) releaseRecv(id uint32, n int64) {
	c.mut.Lock()
	connDelta := c.connRecv.release(n)
	var streamDelta int64
	if st, ok := c.streams[id]; ok && st.recv != nil {
		streamDelta = st.recv.release(n)
	}
	c.mut.Unlock()

	if connDelta > 0 {
		_ = c.writeWindowUpdate(0, uint32(connDelta))
	}
	if streamDelta > 0 {
		_ = c.writeWindowUpdate(id, uint32(streamDelta))
	}
}

// readLoop 唯一的 reader 任务 逐帧读取并分发
func (c *Conn) readLoop() {
	defer rescue.HandleCrash()
	defer close(c.readerDone)

	for {
		fh, payload, err := c.fr.next()
		if err != nil {
			// 帧长度超过本端通告的最大帧长度 以 FRAME_SIZE_ERROR 关闭链接
			if err == errFrameLength {
				c.connError(ErrCodeFrameSize, protocol.NewCodeError(protocol.KindProtocol, ErrCodeFrameSize, err))
				return
			}
			c.shutdown(protocol.NewError(protocol.KindPrematureEOF, err))
			return
		}
		c.touch()

		if err := c.dispatch(fh, payload); err != nil {
			code := ErrCodeProtocol
			kind := protocol.KindProtocol
			if protocol.KindOf(err) == protocol.KindFlowControl {
				code = ErrCodeFlowControl
				kind = protocol.KindFlowControl
			}
			c.connError(code, protocol.NewCodeError(kind, code, err))
			return
		}

		c.mut.Lock()
		done := c.closed
		c.mut.Unlock()
		if done {
			return
		}
	}
}

func (c *Conn) dispatch(fh frameHeader, payload []byte) error {
	switch fh.typ {
	case frameData:
		return c.handleData(fh, payload)

	case frameHeaders:
		return c.handleHeaders(fh, payload)

	case frameSettings:
		return c.handleSettings(fh, payload)

	case framePing:
		return c.handlePing(fh, payload)

	case frameRSTStream:
		return c.handleRSTStream(fh, payload)

	case frameWindowUpdate:
		return c.handleWindowUpdate(fh, payload)

	case frameGoAway:
		return c.handleGoAway(fh, payload)

	case framePriority:
		if len(payload) != 5 {
			return errFramePayload
		}
		return nil

	case framePushPromise:
		// 客户端通过 SETTINGS_ENABLE_PUSH=0 禁用了推送
		return newError("unexpected PUSH_PROMISE")

	case frameContinuation:
		// CONTINUATION 仅允许紧随 HEADERS 在 handleHeaders 内消费
		return newError("orphan CONTINUATION")
	}

	// 扩展帧类型 静默忽略
	return nil
}

func (c *Conn) handleData(fh frameHeader, payload []byte) error {
	if fh.streamID == 0 {
		return newError("DATA on stream 0")
	}

	// 流控按未剔除填充的完整 payload 计账
	n := int64(len(payload))
	c.mut.Lock()
	if !c.connRecv.recv(n) {
		c.mut.Unlock()
		return protocol.NewCodeError(protocol.KindFlowControl, ErrCodeFlowControl,
			newError("connection flow-control window exceeded"))
	}
	st := c.streams[fh.streamID]
	if st != nil && st.recv != nil {
		if !st.recv.recv(n) {
			c.mut.Unlock()
			return protocol.NewCodeError(protocol.KindFlowControl, ErrCodeFlowControl,
				newError("stream %d flow-control window exceeded", fh.streamID))
		}
	}
	c.mut.Unlock()

	data, err := stripPadding(payload, fh.flags)
	if err != nil {
		return err
	}

	if st == nil {
		// 流已经不存在（可能刚被重置）对应的窗口信用立即归还
		c.releaseRecv(fh.streamID, n)
		return nil
	}

	endStream := fh.flags&flagEndStream != 0
	if err := st.onRecvData(data, endStream); err != nil {
		return err
	}

	// 填充字节不会交付给应用层 其信用立即归还
	if padding := n - int64(len(data)); padding > 0 {
		c.releaseRecv(fh.streamID, padding)
	}

	if endStream {
		c.finishIfClosed(st)
	}
	return nil
}

// handleHeaders 处理 HEADERS 帧 并就地拼接后续 CONTINUATION
//
// 同一个 Header 块的传输不允许被其他流的帧打断 因此 reader 在此同步
// 消费 CONTINUATION 任何其他帧的出现都是协议异常
func (c *Conn) handleHeaders(fh frameHeader, payload []byte) error {
	if fh.streamID == 0 {
		return newError("HEADERS on stream 0")
	}

	data, err := stripPadding(payload, fh.flags)
	if err != nil {
		return err
	}
	data, err = stripPriority(data, fh.flags)
	if err != nil {
		return err
	}

	buf := bufpool.Acquire()
	defer bufpool.Release(buf)
	buf.Write(data)

	endHeaders := fh.flags&flagEndHeaders != 0
	for !endHeaders {
		cfh, cpayload, err := c.fr.next()
		if err != nil {
			return err
		}
		if cfh.typ != frameContinuation || cfh.streamID != fh.streamID {
			return newError("header block interleaved by frame type %d stream %d", cfh.typ, cfh.streamID)
		}
		if buf.Len()+len(cpayload) > common.MaxHeaderBlockSize {
			return newError("header block too large")
		}
		buf.Write(cpayload)
		endHeaders = cfh.flags&flagEndHeaders != 0
	}

	fields, err := c.hdec.decode(buf.Bytes())
	if err != nil {
		return protocol.NewCodeError(protocol.KindProtocol, ErrCodeCompression, err)
	}

	st := c.getStream(fh.streamID)
	if st == nil {
		// 流可能刚被本端重置 其后续 Header 块直接丢弃
		return nil
	}

	endStream := fh.flags&flagEndStream != 0
	if err := st.onRecvHeaders(fields, endStream); err != nil {
		return err
	}
	if endStream {
		c.finishIfClosed(st)
	}

	c.mut.Lock()
	if fh.streamID > c.processedStreamID {
		c.processedStreamID = fh.streamID
	}
	c.mut.Unlock()
	return nil
}

func (c *Conn) handleSettings(fh frameHeader, payload []byte) error {
	if fh.streamID != 0 {
		return newError("SETTINGS on stream %d", fh.streamID)
	}

	if fh.flags&flagAck != 0 {
		if len(payload) != 0 {
			return errFramePayload
		}
		if c.settingsAckTimer != nil {
			c.settingsAckTimer.Stop()
		}
		return nil
	}

	c.mut.Lock()
	oldInitial := int64(c.peerSettings.InitialWindowSize)
	if err := decodeSettings(&c.peerSettings, payload); err != nil {
		c.mut.Unlock()
		return err
	}
	newInitial := int64(c.peerSettings.InitialWindowSize)
	tableSize := c.peerSettings.HeaderTableSize

	// INITIAL_WINDOW_SIZE 的变更回溯调整所有打开流的发送窗口
	// 差值可能令窗口变为负数 发送方会一直阻塞至信用重新为正
	var windows []*sendWindow
	if delta := newInitial - oldInitial; delta != 0 {
		for _, st := range c.streams {
			windows = append(windows, st.sendWindow)
		}
		c.mut.Unlock()
		for _, w := range windows {
			if err := w.add(delta); err != nil {
				return err
			}
		}
	} else {
		c.mut.Unlock()
	}

	// 确认帧与编码器动态表上限的调整都在 writer 锁内完成
	c.wmut.Lock()
	c.henc.setMaxTableSize(tableSize)
	err := c.writeFrameLocked(frameHeader{typ: frameSettings, flags: flagAck}, nil)
	if err == nil {
		err = c.bw.Flush()
	}
	c.wmut.Unlock()
	return err
}

func (c *Conn) handlePing(fh frameHeader, payload []byte) error {
	if len(payload) != 8 {
		return errFramePayload
	}

	var data [8]byte
	copy(data[:], payload)

	if fh.flags&flagAck != 0 {
		c.pingMut.Lock()
		if c.pingOutstanding && data == c.pingData {
			c.pingOutstanding = false
		}
		c.pingMut.Unlock()
		return nil
	}

	// 对端的 ping 立即回应
	metrics.IncPing(PROTO)
	return c.writePing(true, data)
}

func (c *Conn) handleRSTStream(fh frameHeader, payload []byte) error {
	if fh.streamID == 0 {
		return newError("RST_STREAM on stream 0")
	}
	if len(payload) != 4 {
		return errFramePayload
	}

	st := c.getStream(fh.streamID)
	if st == nil {
		return nil
	}
	st.onRecvReset(binary.BigEndian.Uint32(payload))
	c.removeStream(fh.streamID)
	return nil
}

func (c *Conn) handleWindowUpdate(fh frameHeader, payload []byte) error {
	if len(payload) != 4 {
		return errFramePayload
	}
	delta := int64(binary.BigEndian.Uint32(payload) & streamIDMask)
	if delta == 0 {
		return newError("WINDOW_UPDATE with zero increment")
	}

	if fh.streamID == 0 {
		return c.connSendWindow.add(delta)
	}

	st := c.getStream(fh.streamID)
	if st == nil {
		return nil
	}
	return st.sendWindow.add(delta)
}

func (c *Conn) handleGoAway(fh frameHeader, payload []byte) error {
	if fh.streamID != 0 {
		return newError("GOAWAY on stream %d", fh.streamID)
	}
	lastStreamID, code, debug, err := decodeGoAway(payload)
	if err != nil {
		return err
	}
	if len(debug) > 0 {
		logger.Warnf("http2: goaway received, code=%s debug=%q", ErrCodeName(code), debug)
	}

	c.mut.Lock()
	c.goAwayRecvd = true
	c.lastGoodStreamID = lastStreamID

	// id 大于 lastGoodStreamID 的流未被对端处理 以可重试错误失败
	var refused []*Stream
	for id, st := range c.streams {
		if id > lastStreamID {
			refused = append(refused, st)
			delete(c.streams, id)
		}
	}
	c.mut.Unlock()

	for _, st := range refused {
		st.fail(protocol.NewCodeError(protocol.KindRefusedStream, ErrCodeRefusedStream,
			newError("stream %d refused by GOAWAY", st.id)))
	}
	return nil
}

// finishIfClosed 流两个半区均关闭后从流表摘除
func (c *Conn) finishIfClosed(st *Stream) {
	st.mut.Lock()
	done := st.state == stateClosed
	st.mut.Unlock()
	if done {
		c.removeStream(st.id)
	}
}

// keepaliveLoop 空闲保活
//
// 周期性地对空闲链接发送 PING 超过一个周期未获确认的 ping 将链接判定为
// 不健康 关闭链接且所有流收到 I/O 错误
func (c *Conn) keepaliveLoop() {
	defer rescue.HandleCrash()

	ticker := time.NewTicker(c.opt.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.readerDone:
			return
		case <-ticker.C:
		}

		c.pingMut.Lock()
		outstanding := c.pingOutstanding
		age := time.Since(c.pingSentAt)
		c.pingMut.Unlock()

		if outstanding && age >= c.opt.pingInterval {
			c.connError(ErrCodeNo, protocol.NewError(protocol.KindTimeout,
				newError("ping unacknowledged for %s", age)))
			return
		}

		if idle := time.Since(c.LastActive()); idle >= c.opt.pingInterval && !outstanding {
			c.sendPing()
		}
	}
}

// sendPing 发出一枚带时间戳的 PING
func (c *Conn) sendPing() {
	c.pingMut.Lock()
	if c.pingOutstanding {
		c.pingMut.Unlock()
		return
	}
	c.pingOutstanding = true
	c.pingSentAt = time.Now()
	binary.BigEndian.PutUint64(c.pingData[:], uint64(c.pingSentAt.UnixNano()))
	data := c.pingData
	c.pingMut.Unlock()

	metrics.IncPing(PROTO)
	_ = c.writePing(false, data)
}

// markDegraded 流超时后递增退化计数 并以带外 PING 探测链接活性
func (c *Conn) markDegraded() {
	c.degradedPings.Add(1)
	c.sendPing()
}

// DegradedPings 返回链接的退化探测次数
func (c *Conn) DegradedPings() int64 {
	return c.degradedPings.Load()
}

// ActiveStreams 返回当前活跃流数
func (c *Conn) ActiveStreams() int {
	c.mut.Lock()
	defer c.mut.Unlock()
	return len(c.streams)
}

// CanTakeNewStream 返回链接是否还能承接新流
func (c *Conn) CanTakeNewStream() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.closed || c.goAwaySent || c.goAwayRecvd {
		return false
	}
	return uint32(len(c.streams)) < c.maxConcurrentLocked()
}

// Healthy 返回链接是否健康
func (c *Conn) Healthy() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return !c.closed && !c.goAwayRecvd
}

func (c *Conn) peerMaxFrameSize() uint32 {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.peerSettings.MaxFrameSize
}

// Shutdown 优雅关闭 发送 GOAWAY 后不再发起新流 存量流继续完成
func (c *Conn) Shutdown() error {
	c.mut.Lock()
	if c.goAwaySent || c.closed {
		c.mut.Unlock()
		return nil
	}
	c.goAwaySent = true
	last := c.processedStreamID
	c.mut.Unlock()

	return c.writeFrame(frameHeader{typ: frameGoAway}, encodeGoAway(last, ErrCodeNo, nil))
}

// connError 链接级错误 发送 GOAWAY 后关闭 所有流以同一原因失败
func (c *Conn) connError(code uint32, err error) {
	c.mut.Lock()
	if !c.goAwaySent && !c.closed {
		c.goAwaySent = true
		last := c.processedStreamID
		c.mut.Unlock()
		_ = c.writeFrame(frameHeader{typ: frameGoAway}, encodeGoAway(last, code, []byte(err.Error())))
	} else {
		c.mut.Unlock()
	}
	c.shutdown(err)
}

// shutdown 终结链接 幂等
func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mut.Lock()
		c.closed = true
		c.closeErr = err
		streams := make([]*Stream, 0, len(c.streams))
		for _, st := range c.streams {
			streams = append(streams, st)
		}
		c.streams = make(map[uint32]*Stream)
		c.mut.Unlock()

		for _, st := range streams {
			st.fail(err)
		}
		c.connSendWindow.fail(err)
		if c.settingsAckTimer != nil {
			c.settingsAckTimer.Stop()
		}
		_ = c.stream.Close()
	})
}

// Close 直接关闭链接
func (c *Conn) Close() error {
	c.shutdown(newError("connection closed"))
	return nil
}
