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
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordListener 记录回调 供断言
type recordListener struct {
	mut      sync.Mutex
	texts    []string
	binaries [][]byte
	closing  []int
	closed   []int
	failures []error

	onFailure chan struct{}
	onClosed  chan struct{}
}

func newRecordListener() *recordListener {
	return &recordListener{
		onFailure: make(chan struct{}, 1),
		onClosed:  make(chan struct{}, 1),
	}
}

func (l *recordListener) OnTextMessage(_ *Socket, text string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.texts = append(l.texts, text)
}

func (l *recordListener) OnBinaryMessage(_ *Socket, data []byte) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.binaries = append(l.binaries, data)
}

func (l *recordListener) OnClosing(_ *Socket, code int, _ string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.closing = append(l.closing, code)
}

func (l *recordListener) OnClosed(_ *Socket, code int, _ string) {
	l.mut.Lock()
	l.closed = append(l.closed, code)
	l.mut.Unlock()

	select {
	case l.onClosed <- struct{}{}:
	default:
	}
}

func (l *recordListener) OnFailure(_ *Socket, err error) {
	l.mut.Lock()
	l.failures = append(l.failures, err)
	l.mut.Unlock()

	select {
	case l.onFailure <- struct{}{}:
	default:
	}
}

// testWSPeer 服务端侧的帧驱动
type testWSPeer struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func newWSPipe(t *testing.T, ext Extensions, listener Listener, opt Options) (*Socket, *testWSPeer) {
	clientEnd, serverEnd := net.Pipe()
	s := New(clientEnd, ext, listener, opt)
	t.Cleanup(func() {
		_ = clientEnd.Close()
		_ = serverEnd.Close()
	})
	return s, &testWSPeer{t: t, conn: serverEnd, br: bufio.NewReader(serverEnd)}
}

// readFrame 读取一个客户端帧并还原掩码
func (p *testWSPeer) readFrame() (uint8, bool, []byte, error) {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(p.br, hdr); err != nil {
		return 0, false, nil, err
	}

	opcode := hdr[0] & 0x0f
	fin := hdr[0]&0x80 != 0
	length := int(hdr[1] & 0x7f)
	switch length {
	case 126:
		ext := make([]byte, 2)
		if _, err := io.ReadFull(p.br, ext); err != nil {
			return 0, false, nil, err
		}
		length = int(ext[0])<<8 | int(ext[1])
	case 127:
		ext := make([]byte, 8)
		if _, err := io.ReadFull(p.br, ext); err != nil {
			return 0, false, nil, err
		}
		length = 0
		for _, b := range ext {
			length = length<<8 | int(b)
		}
	}

	var mask [4]byte
	if _, err := io.ReadFull(p.br, mask[:]); err != nil {
		return 0, false, nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(p.br, payload); err != nil {
		return 0, false, nil, err
	}
	maskBytes(mask, payload)
	return opcode, fin, payload, nil
}

func (p *testWSPeer) write(b []byte) {
	_, err := p.conn.Write(b)
	require.NoError(p.t, err)
}

func TestSocketSendAndReceive(t *testing.T) {
	listener := newRecordListener()
	s, peer := newWSPipe(t, Extensions{}, listener, Options{})

	require.True(t, s.Send("hello"))

	opcode, fin, payload, err := peer.readFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(opText), opcode)
	assert.True(t, fin)
	assert.Equal(t, "hello", string(payload))

	// 服务端分片下发 控制帧穿插其间
	peer.write(serverFrame(false, false, opText, []byte("wo")))
	peer.write(serverFrame(true, false, opPing, []byte("ka")))
	peer.write(serverFrame(true, false, opContinuation, []byte("rld")))

	// ping 被回应为 pong
	opcode, _, payload, err = peer.readFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(opPong), opcode)
	assert.Equal(t, "ka", string(payload))

	assert.Eventually(t, func() bool {
		listener.mut.Lock()
		defer listener.mut.Unlock()
		return len(listener.texts) == 1 && listener.texts[0] == "world"
	}, time.Second, 10*time.Millisecond)
}

func TestSocketDeflateMessage(t *testing.T) {
	listener := newRecordListener()
	ext := Extensions{PermessageDeflate: true}
	s, peer := newWSPipe(t, ext, listener, Options{MinimumDeflateSize: 8})

	// 达到压缩阈值的消息以 RSV1 发出
	msg := "compress me compress me compress me"
	require.True(t, s.Send(msg))

	hdr := make([]byte, 1)
	_, err := io.ReadFull(peer.br, hdr)
	require.NoError(t, err)
	assert.NotZero(t, hdr[0]&0x40, "expected RSV1 on compressed message")

	// 服务端压缩下发
	def := newDeflater(false)
	compressed, err := def.deflate([]byte("from server"))
	require.NoError(t, err)
	peer.write(serverFrame(true, true, opText, compressed))

	assert.Eventually(t, func() bool {
		listener.mut.Lock()
		defer listener.mut.Unlock()
		return len(listener.texts) == 1 && listener.texts[0] == "from server"
	}, time.Second, 10*time.Millisecond)
}

func TestSocketCloseHandshake(t *testing.T) {
	listener := newRecordListener()
	s, peer := newWSPipe(t, Extensions{}, listener, Options{})

	require.True(t, s.Close(1000, "bye"))
	assert.False(t, s.Send("after close"))

	opcode, _, payload, err := peer.readFrame()
	require.NoError(t, err)
	require.Equal(t, uint8(opClose), opcode)
	code, reason, err := decodeClosePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, 1000, code)
	assert.Equal(t, "bye", reason)

	// 对端应答 close 握手完成 OnClosed 触发
	peer.write(serverFrame(true, false, opClose, encodeClosePayload(1000, "bye")))

	select {
	case <-listener.onClosed:
	case <-time.After(time.Second):
		t.Fatal("expected OnClosed")
	}

	listener.mut.Lock()
	defer listener.mut.Unlock()
	assert.Equal(t, []int{1000}, listener.closing)
	assert.Equal(t, []int{1000}, listener.closed)
	assert.Empty(t, listener.failures)
}

func TestSocketCloseValidation(t *testing.T) {
	listener := newRecordListener()
	s, _ := newWSPipe(t, Extensions{}, listener, Options{})

	assert.False(t, s.Close(999, ""))
	assert.False(t, s.Close(5000, ""))
	assert.False(t, s.Close(1000, string(bytes.Repeat([]byte("x"), 124))))
}

// TestSocketCloseTimeout 对端不应答 close 时 在硬取消时限附近失败
func TestSocketCloseTimeout(t *testing.T) {
	listener := newRecordListener()
	s, peer := newWSPipe(t, Extensions{}, listener, Options{CloseTimeout: 500 * time.Millisecond})

	// 对端读取 close 帧但从不应答
	go func() {
		for {
			if _, _, _, err := peer.readFrame(); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	require.True(t, s.Close(1000, "bye"))

	select {
	case <-listener.onFailure:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnFailure after close timeout")
	}

	elapsed := time.Since(start)
	assert.InDelta(t, 500*time.Millisecond, elapsed, float64(250*time.Millisecond))

	listener.mut.Lock()
	defer listener.mut.Unlock()
	assert.Len(t, listener.closing, 1, "OnClosing fires on hard cancel if not yet emitted")
	assert.Len(t, listener.failures, 1)
	assert.Empty(t, listener.closed)
}

// TestSocketPingTimeout 未获 pong 的 ping 以超时错误终结链接
func TestSocketPingTimeout(t *testing.T) {
	listener := newRecordListener()
	s, peer := newWSPipe(t, Extensions{}, listener, Options{PingInterval: 50 * time.Millisecond})

	go func() {
		for {
			if _, _, _, err := peer.readFrame(); err != nil {
				return
			}
		}
	}()

	select {
	case <-listener.onFailure:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnFailure after ping timeout")
	}

	assert.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "pong")
}

func TestSocketQueueCap(t *testing.T) {
	listener := newRecordListener()
	s, _ := newWSPipe(t, Extensions{}, listener, Options{MaxQueueSize: 8})

	// net.Pipe 无缓冲 第一条消息会滞留在队列中
	assert.True(t, s.Send("12345678"))
	assert.False(t, s.Send("overflow"))
}

func TestSocketPeerInitiatedClose(t *testing.T) {
	listener := newRecordListener()
	s, peer := newWSPipe(t, Extensions{}, listener, Options{})
	_ = s

	peer.write(serverFrame(true, false, opClose, encodeClosePayload(1001, "going away")))

	// 本端回应同样的状态码 随后握手完成
	opcode, _, payload, err := peer.readFrame()
	require.NoError(t, err)
	require.Equal(t, uint8(opClose), opcode)
	code, _, err := decodeClosePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, 1001, code)

	select {
	case <-listener.onClosed:
	case <-time.After(time.Second):
		t.Fatal("expected OnClosed")
	}

	listener.mut.Lock()
	defer listener.mut.Unlock()
	assert.Equal(t, []int{1001}, listener.closing)
}