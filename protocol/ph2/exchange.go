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
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wirecall/wirecall/common"
	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/protocol"
)

// connectionHeaders HTTP/1.x 专属的逐跳 Header 禁止出现在 HTTP/2 请求中
var connectionHeaders = map[string]struct{}{
	"connection":        {},
	"keep-alive":        {},
	"proxy-connection":  {},
	"transfer-encoding": {},
	"upgrade":           {},
	"host":              {},
}

// Exchange 单次 HTTP/2 请求响应对
type Exchange struct {
	st  *Stream
	req *httpmsg.Request

	bodyStarted atomic.Bool
}

// NewExchange 在链接上发起一次 Exchange 即写出请求 HEADERS
func (c *Conn) NewExchange(req *httpmsg.Request) (*Exchange, error) {
	fields := requestFields(req)
	endStream := req.Body.Kind() == httpmsg.BodyAbsent

	st, err := c.NewStream(fields, endStream)
	if err != nil {
		return nil, err
	}
	return &Exchange{st: st, req: req}, nil
}

// requestFields 将请求转换为 HeaderField 列表
//
// 伪头部必须位于常规头部之前 名称必须为小写 Host 由 :authority 取代
// 逐跳 Header 被静默剔除
func requestFields(req *httpmsg.Request) []headerField {
	fields := make([]headerField, 0, req.Header.Len()+5)
	fields = append(fields,
		headerField{Name: headerMethod, Value: req.Method},
		headerField{Name: headerScheme, Value: req.URL.Scheme},
	)
	if req.Method != "CONNECT" {
		fields = append(fields, headerField{Name: headerPath, Value: req.URL.Target})
	}
	fields = append(fields, headerField{Name: headerAuthority, Value: req.URL.Authority()})

	for _, f := range req.Header.Fields() {
		name := strings.ToLower(f.Name)
		if _, ok := connectionHeaders[name]; ok {
			continue
		}
		fields = append(fields, headerField{Name: name, Value: f.Value})
	}

	if ct := req.Body.ContentType(); ct != "" && !req.Header.Has("Content-Type") {
		fields = append(fields, headerField{Name: "content-type", Value: ct})
	}
	if n := req.Body.ContentLength(); n >= 0 && req.Body.Kind() != httpmsg.BodyAbsent {
		fields = append(fields, headerField{Name: "content-length", Value: strconv.FormatInt(n, 10)})
	}
	return fields
}

// SetReadDeadline 设置响应读取超时
func (e *Exchange) SetReadDeadline(t time.Time) {
	e.st.SetReadDeadline(t)
}

// SetWriteDeadline 设置请求写入超时
func (e *Exchange) SetWriteDeadline(t time.Time) {
	e.st.SetWriteDeadline(t)
}

// BodyStarted 返回请求 body 是否已经开始传输
//
// REFUSED_STREAM 与 GOAWAY 仅在 body 尚未开始时允许重放
func (e *Exchange) BodyStarted() bool {
	return e.bodyStarted.Load()
}

// WriteBody 写出请求 body 并关闭发送半区
//
// 双工 body 允许在响应头到达后继续产生字节 因此调用方可将本方法放入
// 独立任务执行
func (e *Exchange) WriteBody() error {
	if e.req.Body.Kind() == httpmsg.BodyAbsent {
		return nil
	}

	r, err := e.req.Body.NewReader()
	if err != nil {
		return err
	}

	buf := make([]byte, common.ReadWriteBlockSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			e.bodyStarted.Store(true)
			if werr := e.st.WriteData(buf[:n], false); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return e.st.CloseSend()
		}
		if rerr != nil {
			e.st.Cancel()
			return rerr
		}
	}
}

// ReadResponse 阻塞等待响应头 返回惰性 body 流
func (e *Exchange) ReadResponse() (*httpmsg.Response, error) {
	fields, err := e.st.WaitHeaders()
	if err != nil {
		return nil, err
	}

	resp := &httpmsg.Response{
		Proto:  PROTO,
		Header: httpmsg.NewHeader(),
	}

	for _, f := range fields {
		if f.Name == headerStatus {
			code, err := strconv.Atoi(f.Value)
			if err != nil || code < 100 || code > 999 {
				return nil, protocol.NewCodeError(protocol.KindProtocol, ErrCodeProtocol,
					newError("invalid :status %q", f.Value))
			}
			resp.StatusCode = code
			continue
		}
		if strings.HasPrefix(f.Name, ":") {
			return nil, protocol.NewCodeError(protocol.KindProtocol, ErrCodeProtocol,
				newError("unexpected pseudo header %q", f.Name))
		}
		resp.Header.Add(f.Name, f.Value)
	}
	if resp.StatusCode == 0 {
		return nil, protocol.NewCodeError(protocol.KindProtocol, ErrCodeProtocol,
			newError("missing :status"))
	}

	contentLength := int64(-1)
	if v := resp.Header.Get("content-length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			contentLength = n
		}
	}
	resp.Body = httpmsg.NewBodyStream(
		&exchangeBody{st: e.st},
		resp.Header.Get("content-type"),
		contentLength,
	)
	return resp, nil
}

// Trailers 返回响应 trailers 仅在 body 读取完毕后有效
func (e *Exchange) Trailers() *httpmsg.Header {
	fields := e.st.Trailers()
	if len(fields) == 0 {
		return nil
	}
	h := httpmsg.NewHeader()
	for _, f := range fields {
		h.Add(f.Name, f.Value)
	}
	return h
}

// Cancel 取消 Exchange 幂等 允许任意线程调用
func (e *Exchange) Cancel() {
	e.st.Cancel()
}

// exchangeBody 将 Stream 适配为响应 body 流
type exchangeBody struct {
	st *Stream
}

func (b *exchangeBody) Read(p []byte) (int, error) {
	return b.st.Read(p)
}

// Close 提前关闭 body 未读完时重置流
func (b *exchangeBody) Close() error {
	b.st.mut.Lock()
	drained := b.st.recvClosed && b.st.recvBuf.Len() == 0
	b.st.mut.Unlock()

	if !drained {
		b.st.Cancel()
	}
	b.st.conn.finishIfClosed(b.st)
	return nil
}
