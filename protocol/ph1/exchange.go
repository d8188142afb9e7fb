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
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/wirecall/wirecall/common"
	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/transport"
)

func newError(format string, args ...any) error {
	format = "http1: " + format
	return errors.Errorf(format, args...)
}

const (
	PROTO = "HTTP/1.1"
)

var (
	errMalformedStatus = newError("malformed status line")
	errHeaderTooLarge  = newError("header section too large")
)

// exchange 的执行阶段
type state uint8

const (
	// stateIdle 尚未写出请求
	stateIdle state = iota

	// stateWroteRequest 请求已经完整写出
	stateWroteRequest

	// stateReadResponse 响应头已经读取 body 读取中
	stateReadResponse

	// stateDone 响应 body 读取完毕
	stateDone
)

// Exchange 一次 HTTP/1.1 请求响应对
//
// Exchange 独占持有一条链接 响应完整读取前链接不允许归还连接池
// 不使用 pipelining
type Exchange struct {
	s  transport.Stream
	br *bufio.Reader
	bw *bufio.Writer

	state       state
	reusable    bool
	upgraded    bool
	bodyStarted atomic.Bool
}

// NewExchange 在链接上构建 Exchange
func NewExchange(s transport.Stream) *Exchange {
	return &Exchange{
		s:        s,
		br:       bufio.NewReaderSize(s, common.ReadWriteBlockSize),
		bw:       bufio.NewWriterSize(s, common.ReadWriteBlockSize),
		reusable: true,
	}
}

// BodyStarted 返回请求 body 是否已经开始传输
func (e *Exchange) BodyStarted() bool {
	return e.bodyStarted.Load()
}

// Reusable 返回链接在本次 Exchange 结束后是否可复用
func (e *Exchange) Reusable() bool {
	return e.reusable && !e.upgraded && e.state == stateDone
}

// Cancel 取消 Exchange 直接关闭底层链接 双向读写同时中止
//
// 幂等 允许任意线程调用
func (e *Exchange) Cancel() {
	e.reusable = false
	_ = e.s.Close()
}

// WriteRequest 写出请求行 / Header / body
//
// 请求行样例
//
//	GET /index.html HTTP/1.1
//	Host: www.example.com
//	Accept-Encoding: gzip
//
// Content-Length 与 Transfer-Encoding: chunked 按 body 的长度声明选择
// upgrade 请求上 Sec-WebSocket-Extensions 的归属由调用驱动层与 pws.Handshake 校验
// WriteRequest 本身按原样写出所有 Header 不做此项检查
func (e *Exchange) WriteRequest(req *httpmsg.Request) error {
	if e.state != stateIdle {
		return newError("request already written")
	}

	sb := bytebufferpool.Get()
	defer bytebufferpool.Put(sb)
	sb.WriteString(req.Method)
	sb.WriteString(" ")
	sb.WriteString(req.URL.Target)
	sb.WriteString(" HTTP/1.1\r\n")

	if !req.Header.Has("Host") {
		sb.WriteString("Host: ")
		sb.WriteString(req.URL.Authority())
		sb.WriteString("\r\n")
	}

	chunked := false
	switch req.Body.Kind() {
	case httpmsg.BodyAbsent:
	case httpmsg.BodyBuffered:
		sb.WriteString("Content-Length: ")
		sb.WriteString(strconv.FormatInt(req.Body.ContentLength(), 10))
		sb.WriteString("\r\n")
	default:
		if n := req.Body.ContentLength(); n >= 0 {
			sb.WriteString("Content-Length: ")
			sb.WriteString(strconv.FormatInt(n, 10))
			sb.WriteString("\r\n")
		} else if !req.IsUpgrade() {
			chunked = true
			sb.WriteString("Transfer-Encoding: chunked\r\n")
		}
	}
	if ct := req.Body.ContentType(); ct != "" && !req.Header.Has("Content-Type") {
		sb.WriteString("Content-Type: ")
		sb.WriteString(ct)
		sb.WriteString("\r\n")
	}

	for _, f := range req.Header.Fields() {
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")

	if _, err := e.bw.Write(sb.B); err != nil {
		return err
	}
	if err := e.bw.Flush(); err != nil {
		return err
	}

	if req.Body.Kind() != httpmsg.BodyAbsent {
		if err := e.writeBody(req, chunked); err != nil {
			return err
		}
	}

	e.state = stateWroteRequest
	return nil
}

// writeBody 写出请求 body 长度未知时使用 chunked 编码
func (e *Exchange) writeBody(req *httpmsg.Request, chunked bool) error {
	r, err := req.Body.NewReader()
	if err != nil {
		return err
	}

	buf := make([]byte, common.ReadWriteBlockSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			e.bodyStarted.Store(true)
			if chunked {
				if _, err := e.bw.WriteString(strconv.FormatInt(int64(n), 16)); err != nil {
					return err
				}
				if _, err := e.bw.WriteString("\r\n"); err != nil {
					return err
				}
				if _, err := e.bw.Write(buf[:n]); err != nil {
					return err
				}
				if _, err := e.bw.WriteString("\r\n"); err != nil {
					return err
				}
			} else {
				if _, err := e.bw.Write(buf[:n]); err != nil {
					return err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if chunked {
		// chunked body 以 0 长度块结束
		if _, err := e.bw.WriteString("0\r\n\r\n"); err != nil {
			return err
		}
	}
	return e.bw.Flush()
}

// ReadResponse 读取状态行 / Header 并根据选择规则构建 body 流
//
// 状态行样例
//
//	HTTP/1.1 200 OK
//	HTTP/1.0 404 Not Found
//	ICY 200 OK
//
// ICY 前缀是流媒体服务器的历史遗留 统一按 HTTP/1.0 处理
//
// body 的选择规则按序为
//
//	(a) 1xx / 204 / 304 / HEAD 请求 无 body
//	(b) Transfer-Encoding: chunked  chunked 流
//	(c) Content-Length: N           定长流
//	(d) 其余                        读取至链接关闭 且链接不可复用
func (e *Exchange) ReadResponse(req *httpmsg.Request) (*httpmsg.Response, error) {
	if e.state != stateWroteRequest {
		return nil, newError("request not written")
	}

	for {
		resp, err := e.readResponseOnce(req)
		if err != nil {
			return nil, err
		}

		// 1xx 信息响应被跳过 101 除外
		if resp.StatusCode >= 100 && resp.StatusCode < 200 && resp.StatusCode != 101 {
			continue
		}
		return resp, nil
	}
}

func (e *Exchange) readResponseOnce(req *httpmsg.Request) (*httpmsg.Response, error) {
	statusLine, err := e.readLine()
	if err != nil {
		e.reusable = false
		return nil, protocol.NewError(protocol.KindPrematureEOF, err)
	}

	proto, code, reason, err := parseStatusLine(statusLine)
	if err != nil {
		e.reusable = false
		return nil, protocol.NewError(protocol.KindProtocol, err)
	}

	header := httpmsg.NewHeader()
	total := 0
	for {
		line, err := e.readLine()
		if err != nil {
			e.reusable = false
			return nil, protocol.NewError(protocol.KindPrematureEOF, err)
		}
		if line == "" {
			break
		}
		total += len(line)
		if total > common.MaxHeaderBlockSize {
			return nil, protocol.NewError(protocol.KindProtocol, errHeaderTooLarge)
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || name != strings.TrimRight(name, " \t") {
			e.reusable = false
			return nil, protocol.NewError(protocol.KindProtocol, newError("malformed header line %q", line))
		}
		header.Add(name, strings.Trim(value, " \t"))
	}

	resp := &httpmsg.Response{
		StatusCode: code,
		Reason:     reason,
		Proto:      proto,
		Header:     header,
	}

	// HTTP/1.0 响应默认不保持链接
	if proto == "HTTP/1.0" && !header.EqualValue("Connection", "keep-alive") {
		e.reusable = false
	}
	if header.EqualValue("Connection", "close") {
		e.reusable = false
	}

	// upgrade 成功后底层双工流整体移交给调用方 链接不可复用
	if code == 101 {
		if req.IsUpgrade() && resp.Header.EqualValue("Connection", "upgrade") {
			e.upgraded = true
			e.state = stateDone
			resp.Socket = &upgradeSocket{br: e.br, s: e.s}
			return resp, nil
		}
	}

	// selectBody 对无 body 的响应直接置为 stateDone 因此先推进至 stateReadResponse
	e.state = stateReadResponse
	body, length := e.selectBody(req, resp)
	resp.Body = httpmsg.NewBodyStream(body, header.Get("Content-Type"), length)
	return resp, nil
}

// selectBody 按选择规则构建 body 读取流
func (e *Exchange) selectBody(req *httpmsg.Request, resp *httpmsg.Response) (io.ReadCloser, int64) {
	code := resp.StatusCode
	if req.Method == "HEAD" || (code >= 100 && code < 200) || code == 204 || code == 304 {
		e.state = stateDone
		return &emptyBody{}, 0
	}

	if te := resp.Header.Get("Transfer-Encoding"); strings.EqualFold(te, "chunked") {
		return &chunkedBody{e: e}, -1
	}

	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			if n == 0 {
				e.state = stateDone
				return &emptyBody{}, 0
			}
			return &fixedBody{e: e, remain: n}, n
		}
	}

	// 无法确定长度 读取至链接关闭
	e.reusable = false
	return &untilCloseBody{e: e}, -1
}

// readLine 读取一行并剔除 CRLF
func (e *Exchange) readLine() (string, error) {
	var sb strings.Builder
	for {
		line, more, err := e.br.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(line)
		if sb.Len() > common.MaxHeaderBlockSize {
			return "", errHeaderTooLarge
		}
		if !more {
			return sb.String(), nil
		}
	}
}

// parseStatusLine 解析状态行 容忍 ICY 前缀 拒绝非 3 位状态码
func parseStatusLine(line string) (proto string, code int, reason string, err error) {
	var rest string
	switch {
	case strings.HasPrefix(line, "HTTP/1.1 "):
		proto = "HTTP/1.1"
		rest = line[len("HTTP/1.1 "):]

	case strings.HasPrefix(line, "HTTP/1.0 "):
		proto = "HTTP/1.0"
		rest = line[len("HTTP/1.0 "):]

	case strings.HasPrefix(line, "ICY "):
		// Shoutcast 等流媒体服务器的非标状态行 按 HTTP/1.0 处理
		proto = "HTTP/1.0"
		rest = line[len("ICY "):]

	default:
		return "", 0, "", errMalformedStatus
	}

	if len(rest) < 3 {
		return "", 0, "", errMalformedStatus
	}
	code, cerr := strconv.Atoi(rest[:3])
	if cerr != nil || code < 100 {
		return "", 0, "", errMalformedStatus
	}
	if len(rest) > 3 {
		if rest[3] != ' ' {
			return "", 0, "", errMalformedStatus
		}
		reason = rest[4:]
	}
	return proto, code, reason, nil
}

// finish body 完整读取后的收尾
func (e *Exchange) finish() {
	e.state = stateDone
}
