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
	"bufio"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/protocol"
)

func newRequest(t *testing.T, method, target string, header *httpmsg.Header, body *httpmsg.RequestBody) *httpmsg.Request {
	u, err := httpmsg.NewURLForm("http", "example.com", 0, target)
	require.NoError(t, err)
	req, err := httpmsg.NewRequest(method, u, header, body)
	require.NoError(t, err)
	return req
}

// serve 在对端按脚本应答 返回收到的原始请求字节
func serve(t *testing.T, conn net.Conn, response string) <-chan string {
	got := make(chan string, 1)
	go func() {
		br := bufio.NewReader(conn)

		var sb strings.Builder
		for {
			line, err := br.ReadString('\n')
			require.NoError(t, err)
			sb.WriteString(line)
			if line == "\r\n" {
				break
			}
		}

		// Content-Length 声明的请求 body 一并读取
		raw := sb.String()
		if i := strings.Index(raw, "Content-Length: "); i >= 0 {
			var n int
			_, err := strconvSscanf(raw[i+len("Content-Length: "):], &n)
			require.NoError(t, err)
			body := make([]byte, n)
			_, err = io.ReadFull(br, body)
			require.NoError(t, err)
			sb.Write(body)
		}

		got <- sb.String()
		_, err := conn.Write([]byte(response))
		require.NoError(t, err)
	}()
	return got
}

// strconvSscanf 从字符串头部解析十进制数
func strconvSscanf(s string, n *int) (int, error) {
	v := 0
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		v = v*10 + int(s[i]-'0')
		i++
	}
	if i == 0 {
		return 0, newError("no digits")
	}
	*n = v
	return i, nil
}

func TestExchangeGet(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	got := serve(t, serverEnd, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")

	ex := NewExchange(clientEnd)
	req := newRequest(t, "GET", "/", nil, nil)
	require.NoError(t, ex.WriteRequest(req))

	raw := <-got
	assert.True(t, strings.HasPrefix(raw, "GET / HTTP/1.1\r\n"))
	assert.Contains(t, raw, "Host: example.com\r\n")

	resp, err := ex.ReadResponse(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "HTTP/1.1", resp.Proto)
	assert.Equal(t, int64(5), resp.Body.ContentLength())

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	assert.True(t, ex.Reusable())
}

func TestExchangeChunkedResponse(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	response := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	serve(t, serverEnd, response)

	ex := NewExchange(clientEnd)
	req := newRequest(t, "GET", "/stream", nil, nil)
	require.NoError(t, ex.WriteRequest(req))

	resp, err := ex.ReadResponse(req)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), resp.Body.ContentLength())

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
	assert.True(t, ex.Reusable())
}

func TestExchangeChunkedRequestBody(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	raw := make(chan string, 1)
	go func() {
		br := bufio.NewReader(serverEnd)
		var sb strings.Builder
		for {
			line, err := br.ReadString('\n')
			require.NoError(t, err)
			sb.WriteString(line)
			if strings.HasSuffix(sb.String(), "0\r\n\r\n") {
				break
			}
		}
		raw <- sb.String()
		_, _ = serverEnd.Write([]byte("HTTP/1.1 204 No Content\r\n\r\n"))
	}()

	body := httpmsg.NewStreamBody("text/plain", -1, func() io.Reader {
		return strings.NewReader("hello chunked")
	})
	req := newRequest(t, "POST", "/upload", nil, body)

	ex := NewExchange(clientEnd)
	require.NoError(t, ex.WriteRequest(req))
	assert.True(t, ex.BodyStarted())

	got := <-raw
	assert.Contains(t, got, "Transfer-Encoding: chunked\r\n")
	assert.Contains(t, got, "d\r\nhello chunked\r\n")
	assert.Contains(t, got, "0\r\n\r\n")

	resp, err := ex.ReadResponse(req)
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.True(t, ex.Reusable())
}

func TestExchangeUpgrade(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	response := "HTTP/1.1 101 Switching Protocols\r\nConnection: upgrade\r\nUpgrade: foo\r\n\r\n"
	serve(t, serverEnd, response)

	header := httpmsg.NewHeader()
	header.Add("Connection", "upgrade")
	header.Add("Upgrade", "foo")
	req := newRequest(t, "GET", "/", header, nil)

	ex := NewExchange(clientEnd)
	require.NoError(t, ex.WriteRequest(req))

	resp, err := ex.ReadResponse(req)
	require.NoError(t, err)
	require.NotNil(t, resp.Socket)
	assert.False(t, ex.Reusable())

	// 双工流上的字节原样往返
	echo := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := io.ReadFull(serverEnd, buf)
		require.NoError(t, err)
		echo <- buf
		_, _ = serverEnd.Write([]byte("pong"))
	}()

	_, err = resp.Socket.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), <-echo)

	buf := make([]byte, 4)
	_, err = io.ReadFull(resp.Socket, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))
}

func TestExchangeNon101WithUpgradeRequest(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	serve(t, serverEnd, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")

	header := httpmsg.NewHeader()
	header.Add("Connection", "upgrade")
	header.Add("Upgrade", "foo")
	req := newRequest(t, "GET", "/", header, nil)

	ex := NewExchange(clientEnd)
	require.NoError(t, ex.WriteRequest(req))

	resp, err := ex.ReadResponse(req)
	require.NoError(t, err)
	assert.Nil(t, resp.Socket)

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))
}

func TestExchangeReadToClose(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	go func() {
		br := bufio.NewReader(serverEnd)
		for {
			line, err := br.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
		}
		_, _ = serverEnd.Write([]byte("HTTP/1.1 200 OK\r\n\r\nuntil close"))
		_ = serverEnd.Close()
	}()

	ex := NewExchange(clientEnd)
	req := newRequest(t, "GET", "/", nil, nil)
	require.NoError(t, ex.WriteRequest(req))

	resp, err := ex.ReadResponse(req)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), resp.Body.ContentLength())

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "until close", string(b))
	assert.False(t, ex.Reusable())
}

func TestExchangePrematureEOF(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()

	go func() {
		br := bufio.NewReader(serverEnd)
		for {
			line, err := br.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
		}
		_, _ = serverEnd.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc"))
		_ = serverEnd.Close()
	}()

	ex := NewExchange(clientEnd)
	req := newRequest(t, "GET", "/", nil, nil)
	require.NoError(t, ex.WriteRequest(req))

	resp, err := ex.ReadResponse(req)
	require.NoError(t, err)

	_, err = io.ReadAll(resp.Body)
	require.Error(t, err)
	assert.Equal(t, protocol.KindPrematureEOF, protocol.KindOf(err))
	assert.False(t, ex.Reusable())
}

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		proto   string
		code    int
		reason  string
		invalid bool
	}{
		{
			name:   "http11",
			line:   "HTTP/1.1 200 OK",
			proto:  "HTTP/1.1",
			code:   200,
			reason: "OK",
		},
		{
			name:   "http10",
			line:   "HTTP/1.0 404 Not Found",
			proto:  "HTTP/1.0",
			code:   404,
			reason: "Not Found",
		},
		{
			name:   "icy treated as http10",
			line:   "ICY 200 OK",
			proto:  "HTTP/1.0",
			code:   200,
			reason: "OK",
		},
		{
			name:  "no reason phrase",
			line:  "HTTP/1.1 204",
			proto: "HTTP/1.1",
			code:  204,
		},
		{
			name:    "missing code",
			line:    "HTTP/1.1 ",
			invalid: true,
		},
		{
			name:    "two digit code",
			line:    "HTTP/1.1 99 Weird",
			invalid: true,
		},
		{
			name:    "garbage code",
			line:    "HTTP/1.1 2x0 OK",
			invalid: true,
		},
		{
			name:    "unknown protocol",
			line:    "SPDY/3 200 OK",
			invalid: true,
		},
		{
			name:    "code not followed by space",
			line:    "HTTP/1.1 200OK",
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proto, code, reason, err := parseStatusLine(tt.line)
			if tt.invalid {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.proto, proto)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestParseHexUint(t *testing.T) {
	n, err := parseHexUint("1A")
	assert.NoError(t, err)
	assert.Equal(t, uint64(26), n)

	_, err = parseHexUint("")
	assert.Error(t, err)
	_, err = parseHexUint("xyz")
	assert.Error(t, err)
	_, err = parseHexUint("11111111111111111")
	assert.Error(t, err)
}
