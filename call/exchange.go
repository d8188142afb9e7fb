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

package call

import (
	"io"
	"time"

	"github.com/wirecall/wirecall/connpool"
	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/internal/rescue"
	"github.com/wirecall/wirecall/protocol/ph1"
)

// exchangeH1 在独占链接上执行一次 HTTP/1.1 Exchange
func (cl *Call) exchangeH1(req *httpmsg.Request, conn *connpool.Connection) (*httpmsg.Response, error) {
	events := cl.client.events
	conf := cl.client.conf

	ex := ph1.NewExchange(conn.Stream)
	if err := cl.setCurrent(ex); err != nil {
		cl.releaseBroken(conn)
		return nil, err
	}

	if conf.WriteTimeout > 0 {
		_ = conn.Stream.SetWriteDeadline(time.Now().Add(conf.WriteTimeout))
	}

	events.RequestHeadersStart(cl)
	hasBody := req.Body.Kind() != httpmsg.BodyAbsent
	if hasBody {
		events.RequestBodyStart(cl)
	}
	err := ex.WriteRequest(req)
	cl.bodyStarted = ex.BodyStarted()
	if err != nil {
		cl.releaseBroken(conn)
		return nil, err
	}
	events.RequestHeadersEnd(cl, req)
	if hasBody {
		events.RequestBodyEnd(cl, req.Body.ContentLength())
	}

	if conf.ReadTimeout > 0 {
		_ = conn.Stream.SetReadDeadline(time.Now().Add(conf.ReadTimeout))
	}

	events.ResponseHeadersStart(cl)
	resp, err := ex.ReadResponse(req)
	if err != nil {
		cl.releaseBroken(conn)
		return nil, err
	}
	events.ResponseHeadersEnd(cl, resp)

	// upgrade 成功 底层双工流整体移交 链接不再回池
	if resp.Socket != nil {
		conn.MarkNoNewExchanges()
		cl.client.pool.Remove(conn)
		events.SocketSinkStart(cl)
		events.SocketSourceStart(cl)
		return resp, nil
	}

	resp.Body = cl.watchBody(resp, func(ok bool) {
		// Exchange 自身记录 body 是否被完整消费 半途关闭的链接不可复用
		if ex.Reusable() {
			_ = conn.Stream.SetReadDeadline(time.Time{})
			_ = conn.Stream.SetWriteDeadline(time.Time{})
			conn.Release()
		} else {
			cl.releaseBroken(conn)
		}
		events.ConnectionReleased(cl)
	})
	return resp, nil
}

// exchangeH2 在多路复用链接上执行一次 HTTP/2 Exchange
func (cl *Call) exchangeH2(req *httpmsg.Request, conn *connpool.Connection) (*httpmsg.Response, error) {
	events := cl.client.events
	conf := cl.client.conf

	ex, err := conn.H2.NewExchange(req)
	if err != nil {
		return nil, err
	}
	if err := cl.setCurrent(ex); err != nil {
		return nil, err
	}

	if conf.WriteTimeout > 0 {
		ex.SetWriteDeadline(time.Now().Add(conf.WriteTimeout))
	}
	if conf.ReadTimeout > 0 {
		ex.SetReadDeadline(time.Now().Add(conf.ReadTimeout))
	}

	events.RequestHeadersStart(cl)
	events.RequestHeadersEnd(cl, req)

	hasBody := req.Body.Kind() != httpmsg.BodyAbsent
	writeErr := make(chan error, 1)
	if hasBody {
		events.RequestBodyStart(cl)
		if req.Body.Duplex() {
			// 双工 body 在响应头到达后仍可继续产生字节 独立任务推进
			go func() {
				defer rescue.HandleCrash()
				writeErr <- ex.WriteBody()
			}()
		} else {
			err := ex.WriteBody()
			cl.bodyStarted = ex.BodyStarted()
			if err != nil {
				ex.Cancel()
				return nil, err
			}
			events.RequestBodyEnd(cl, req.Body.ContentLength())
		}
	}

	events.ResponseHeadersStart(cl)
	resp, err := ex.ReadResponse()
	cl.bodyStarted = cl.bodyStarted || ex.BodyStarted()
	if err != nil {
		ex.Cancel()
		return nil, err
	}
	events.ResponseHeadersEnd(cl, resp)

	resp.Body = cl.watchBody(resp, func(ok bool) {
		if hasBody && req.Body.Duplex() {
			select {
			case <-writeErr:
			default:
				ex.Cancel()
			}
		}
		events.ConnectionReleased(cl)
	})
	return resp, nil
}

// releaseBroken 将链接标记为不可复用并摘除关闭
func (cl *Call) releaseBroken(conn *connpool.Connection) {
	conn.MarkNoNewExchanges()
	cl.client.pool.Remove(conn)
	_ = conn.Close()
}

// watchBody 包装响应 body 以触发事件并在读取完毕后归还链接
func (cl *Call) watchBody(resp *httpmsg.Response, onDone func(ok bool)) *httpmsg.BodyStream {
	watcher := &bodyWatcher{
		call:   cl,
		inner:  resp.Body,
		onDone: onDone,

		// 空 body 无需读取即视为读尽
		finished: resp.Body.ContentLength() == 0,
	}
	return httpmsg.NewBodyStream(watcher, resp.Body.ContentType(), resp.Body.ContentLength())
}

// bodyWatcher 响应 body 的包装流
//
// 首次读取触发 ResponseBodyStart 读尽触发 ResponseBodyEnd
// Close 时按读取是否完整决定链接归还或关闭
type bodyWatcher struct {
	call   *Call
	inner  *httpmsg.BodyStream
	onDone func(ok bool)

	started  bool
	finished bool
	closed   bool
	count    int64
}

func (w *bodyWatcher) Read(p []byte) (int, error) {
	if !w.started {
		w.started = true
		w.call.client.events.ResponseBodyStart(w.call)
	}

	n, err := w.inner.Read(p)
	w.count += int64(n)
	if err == io.EOF && !w.finished {
		w.finished = true
		w.call.client.events.ResponseBodyEnd(w.call, w.count)
	}
	return n, err
}

func (w *bodyWatcher) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.inner.Close()
	w.onDone(w.finished)
	return err
}
