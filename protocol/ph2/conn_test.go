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
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPeer 测试用的进程内对端 直接以原始帧驱动
type testPeer struct {
	t    *testing.T
	conn net.Conn
	fr   *frameReader
	henc *headerEncoder

	mut sync.Mutex // 序列化对端的帧写出
}

// newTestPeer 完成服务端侧的握手 读取前言与客户端 SETTINGS 并进行确认
func newTestPeer(t *testing.T, conn net.Conn, settings Settings) *testPeer {
	p := &testPeer{
		t:    t,
		conn: conn,
		fr:   newFrameReader(conn, maxPayloadSize),
		henc: newHeaderEncoder(),
	}

	preface := make([]byte, len(connPreface))
	_, err := io.ReadFull(conn, preface)
	require.NoError(t, err)
	require.Equal(t, string(connPreface), string(preface))

	fh, _, err := p.fr.next()
	require.NoError(t, err)
	require.Equal(t, uint8(frameSettings), fh.typ)

	// SETTINGS 与确认合并为一次写出 net.Pipe 没有缓冲 分两次写出时第二次写
	// 会与客户端 reader 回写的 SETTINGS 确认互相阻塞
	payload := encodeSettings(settings)
	b := appendFrameHeader(nil, frameHeader{typ: frameSettings, length: uint32(len(payload))})
	b = append(b, payload...)
	b = appendFrameHeader(b, frameHeader{typ: frameSettings, flags: flagAck})
	_, err = conn.Write(b)
	require.NoError(t, err)
	return p
}

func (p *testPeer) writeFrame(fh frameHeader, payload []byte) {
	p.mut.Lock()
	defer p.mut.Unlock()

	fh.length = uint32(len(payload))
	b := appendFrameHeader(nil, fh)
	b = append(b, payload...)
	_, err := p.conn.Write(b)
	require.NoError(p.t, err)
}

// writeHeaders 以单帧写出响应头
func (p *testPeer) writeHeaders(streamID uint32, endStream bool, fields ...headerField) {
	p.mut.Lock()
	block, err := p.henc.encode(fields)
	require.NoError(p.t, err)
	cloned := append([]byte{}, block...)
	p.mut.Unlock()

	flags := uint8(flagEndHeaders)
	if endStream {
		flags |= flagEndStream
	}
	p.writeFrame(frameHeader{typ: frameHeaders, flags: flags, streamID: streamID}, cloned)
}

func (p *testPeer) writeData(streamID uint32, endStream bool, data []byte) {
	var flags uint8
	if endStream {
		flags |= flagEndStream
	}
	p.writeFrame(frameHeader{typ: frameData, flags: flags, streamID: streamID}, data)
}

func (p *testPeer) writeWindowUpdate(streamID uint32, delta uint32) {
	payload := binary.BigEndian.AppendUint32(nil, delta)
	p.writeFrame(frameHeader{typ: frameWindowUpdate, streamID: streamID}, payload)
}

func statusFields(status string) []headerField {
	return []headerField{{Name: headerStatus, Value: status}}
}

func dialTestConn(t *testing.T, settings Settings, opts ...Option) (*Conn, *testPeer) {
	clientEnd, serverEnd := net.Pipe()

	peerCh := make(chan *testPeer, 1)
	go func() {
		peerCh <- newTestPeer(t, serverEnd, settings)
	}()

	conn, err := NewConn(clientEnd, RoleClient, opts...)
	require.NoError(t, err)
	peer := <-peerCh

	t.Cleanup(func() {
		_ = conn.Close()
		_ = serverEnd.Close()
	})
	return conn, peer
}

func getFields(req ...headerField) []headerField {
	fields := []headerField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":path", Value: "/"},
		{Name: ":authority", Value: "example.com"},
	}
	return append(fields, req...)
}

// TestConnConcurrentStreams 同一链接上的两个并发流 DATA 帧交织到达
func TestConnConcurrentStreams(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings())

	// 对端任务 读取两个流的 HEADERS 后交织返回两个响应
	go func() {
		got := 0
		for got < 2 {
			fh, _, err := peer.fr.next()
			require.NoError(t, err)
			if fh.typ == frameHeaders {
				got++
			}
		}

		peer.writeHeaders(1, false, statusFields("200")...)
		peer.writeHeaders(3, false, statusFields("200")...)
		peer.writeData(1, false, []byte("he"))
		peer.writeData(3, false, []byte("wo"))
		peer.writeData(1, false, []byte("l"))
		peer.writeData(3, true, []byte("rld"))
		peer.writeData(1, true, []byte("lo"))
	}()

	var wg sync.WaitGroup
	bodies := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			st, err := conn.NewStream(getFields(), true)
			require.NoError(t, err)

			fields, err := st.WaitHeaders()
			require.NoError(t, err)
			assert.Equal(t, "200", fields[0].Value)

			b, err := io.ReadAll(st)
			require.NoError(t, err)
			bodies[i] = string(b)
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"hello", "world"}, bodies)
	assert.Eventually(t, func() bool {
		return conn.ActiveStreams() == 0
	}, time.Second, 10*time.Millisecond)
}

// TestConnFlowControlBackpressure 流窗口耗尽后发送方阻塞
// 对端的 WINDOW_UPDATE 使其恢复 全部字节按序到达
func TestConnFlowControlBackpressure(t *testing.T) {
	settings := DefaultSettings()
	settings.InitialWindowSize = 16
	conn, peer := dialTestConn(t, settings)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	var received []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			fh, body, err := peer.fr.next()
			require.NoError(t, err)

			switch fh.typ {
			case frameData:
				received = append(received, body...)
				// 逐帧补齐流级与链接级窗口
				peer.writeWindowUpdate(fh.streamID, uint32(len(body)))
				peer.writeWindowUpdate(0, uint32(len(body)))
				if fh.flags&flagEndStream != 0 {
					peer.writeHeaders(fh.streamID, true, statusFields("200")...)
					return
				}
			}
		}
	}()

	st, err := conn.NewStream(getFields(), false)
	require.NoError(t, err)
	require.NoError(t, st.WriteData(payload, true))

	fields, err := st.WaitHeaders()
	require.NoError(t, err)
	assert.Equal(t, "200", fields[0].Value)

	<-done
	assert.Equal(t, payload, received)
}

// TestStreamDataAfterLocalClose half-closed(local) 状态下发送 DATA 为协议错误
func TestStreamDataAfterLocalClose(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings())

	go func() {
		for {
			if _, _, err := peer.fr.next(); err != nil {
				return
			}
		}
	}()

	st, err := conn.NewStream(getFields(), true)
	require.NoError(t, err)

	err = st.WriteData([]byte("late"), false)
	assert.Error(t, err)
}

// TestConnGoAway GOAWAY 之后高位流以可重试错误失败 且不再接受新流
func TestConnGoAway(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings())

	go func() {
		headers := 0
		for headers < 2 {
			fh, _, err := peer.fr.next()
			require.NoError(t, err)
			if fh.typ == frameHeaders {
				headers++
			}
		}
		// 仅处理流 1 流 3 被拒绝
		peer.writeFrame(frameHeader{typ: frameGoAway}, encodeGoAway(1, ErrCodeNo, nil))
		peer.writeHeaders(1, true, statusFields("200")...)
	}()

	st1, err := conn.NewStream(getFields(), true)
	require.NoError(t, err)
	st3, err := conn.NewStream(getFields(), true)
	require.NoError(t, err)

	_, err = st1.WaitHeaders()
	assert.NoError(t, err)

	_, err = st3.WaitHeaders()
	require.Error(t, err)

	assert.False(t, conn.CanTakeNewStream())
	_, err = conn.NewStream(getFields(), true)
	assert.Error(t, err)
}

// TestConnRefusedStream RST_STREAM(REFUSED_STREAM) 携带对应错误码
func TestConnRefusedStream(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings())

	go func() {
		for {
			fh, _, err := peer.fr.next()
			if err != nil {
				return
			}
			if fh.typ == frameHeaders {
				payload := binary.BigEndian.AppendUint32(nil, ErrCodeRefusedStream)
				peer.writeFrame(frameHeader{typ: frameRSTStream, streamID: fh.streamID}, payload)
			}
		}
	}()

	st, err := conn.NewStream(getFields(), true)
	require.NoError(t, err)

	_, err = st.WaitHeaders()
	require.Error(t, err)
}

// TestConnPingKeepalive 对端应答 ping 时链接保持健康
func TestConnPingKeepalive(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings(), WithPingInterval(50*time.Millisecond))

	go func() {
		for {
			fh, payload, err := peer.fr.next()
			if err != nil {
				return
			}
			if fh.typ == framePing && fh.flags&flagAck == 0 {
				var data [8]byte
				copy(data[:], payload)
				peer.writeFrame(frameHeader{typ: framePing, flags: flagAck}, data[:])
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	assert.True(t, conn.Healthy())
}

// TestConnPingTimeout 未获应答的 ping 令链接被判定不健康并关闭
func TestConnPingTimeout(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings(), WithPingInterval(50*time.Millisecond))

	// 对端读取但从不应答 ping
	go func() {
		for {
			if _, _, err := peer.fr.next(); err != nil {
				return
			}
		}
	}()

	assert.Eventually(t, func() bool {
		return !conn.Healthy()
	}, time.Second, 10*time.Millisecond)
}

// TestConnWindowUpdateTrigger 消费超过初始窗口一半后发出 WINDOW_UPDATE
func TestConnWindowUpdateTrigger(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings())

	updates := make(chan uint32, 16)
	go func() {
		for {
			fh, payload, err := peer.fr.next()
			if err != nil {
				return
			}
			switch fh.typ {
			case frameHeaders:
				peer.writeHeaders(1, false, statusFields("200")...)
				// 三帧共 40000 字节 超过 65535 的一半
				chunk := make([]byte, defaultMaxFrameSize)
				peer.writeData(1, false, chunk)
				peer.writeData(1, false, chunk)
				peer.writeData(1, true, chunk[:40000-2*defaultMaxFrameSize])
			case frameWindowUpdate:
				updates <- fh.streamID
				_ = payload
			}
		}
	}()

	st, err := conn.NewStream(getFields(), true)
	require.NoError(t, err)
	_, err = st.WaitHeaders()
	require.NoError(t, err)

	b, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Len(t, b, 40000)

	// 链接级与流级窗口均应收到补齐
	seen := map[uint32]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case id := <-updates:
			seen[id] = true
		case <-timeout:
			t.Fatal("expected WINDOW_UPDATE for connection and stream")
		}
	}
	assert.True(t, seen[0])
	assert.True(t, seen[1])
}

// TestConnFlowControlViolation 对端超发 DATA 时以 FLOW_CONTROL_ERROR 关闭链接
func TestConnFlowControlViolation(t *testing.T) {
	conn, peer := dialTestConn(t, DefaultSettings())

	goaway := make(chan uint32, 1)
	go func() {
		for {
			fh, payload, err := peer.fr.next()
			if err != nil {
				return
			}
			switch fh.typ {
			case frameHeaders:
				peer.writeHeaders(1, false, statusFields("200")...)
				// 独立任务超发 DATA 不占用读取循环
				// 违规后链接会被对端关闭 写失败是预期内的
				go func() {
					chunk := make([]byte, defaultMaxFrameSize)
					for i := 0; i < 5; i++ {
						fh := frameHeader{typ: frameData, streamID: 1, length: uint32(len(chunk))}
						b := append(appendFrameHeader(nil, fh), chunk...)
						if _, err := peer.conn.Write(b); err != nil {
							return
						}
					}
				}()
			case frameGoAway:
				_, code, _, _ := decodeGoAway(payload)
				goaway <- code
				return
			}
		}
	}()

	st, err := conn.NewStream(getFields(), true)
	require.NoError(t, err)
	_, err = st.WaitHeaders()
	require.NoError(t, err)

	select {
	case code := <-goaway:
		assert.Equal(t, ErrCodeFlowControl, code)
	case <-time.After(time.Second):
		t.Fatal("expected FLOW_CONTROL_ERROR goaway")
	}
}
