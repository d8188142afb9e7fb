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
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wirecall/wirecall/connpool"
	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/internal/tracekit"
	"github.com/wirecall/wirecall/logger"
	"github.com/wirecall/wirecall/metrics"
	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/route"
)

const (
	// maxFollowUps 重定向与认证重试的总次数上限
	maxFollowUps = 20
)

// canceler 正在执行的 Exchange 的取消句柄
type canceler interface {
	Cancel()
}

// Call 一次逻辑调用 驱动请求经由规划器 / 链接池 / Exchange 直至响应
//
// Call 仅允许执行一次 Cancel 幂等且允许任意线程调用
type Call struct {
	// ID 调用的唯一标识 用于日志与事件关联
	ID string

	client *Client
	req    *httpmsg.Request

	mut      sync.Mutex
	canceled bool
	current  canceler

	executed    atomic.Bool
	bodyStarted bool
	retried408  bool
}

func newCall(c *Client, req *httpmsg.Request) *Call {
	return &Call{
		ID:     uuid.NewString(),
		client: c,
		req:    req,
	}
}

// Request 返回调用的原始请求
func (cl *Call) Request() *httpmsg.Request {
	return cl.req
}

// Cancel 取消调用
//
// HTTP/2 发送 RST_STREAM(CANCEL) 并唤醒所有等待数据或信用的任务
// HTTP/1 直接关闭底层链接 双向读写同时中止
func (cl *Call) Cancel() {
	cl.mut.Lock()
	cl.canceled = true
	cur := cl.current
	cl.mut.Unlock()

	if cur != nil {
		cur.Cancel()
	}
}

// Canceled 返回调用是否已被取消
func (cl *Call) Canceled() bool {
	cl.mut.Lock()
	defer cl.mut.Unlock()
	return cl.canceled
}

// setCurrent 登记当前活跃的 Exchange 取消已经发生时立即终止它
func (cl *Call) setCurrent(x canceler) error {
	cl.mut.Lock()
	cl.current = x
	canceled := cl.canceled
	cl.mut.Unlock()

	if canceled {
		if x != nil {
			x.Cancel()
		}
		return protocol.NewError(protocol.KindCanceled, newError("call canceled"))
	}
	return nil
}

// Execute 执行调用 阻塞直至响应头可用或调用失败
//
// 返回的响应持有惰性 body 流 调用方负责读取并关闭
func (cl *Call) Execute(ctx context.Context) (*httpmsg.Response, error) {
	if !cl.executed.CompareAndSwap(false, true) {
		return nil, newError("call already executed")
	}

	// upgrade 请求不允许调用方直接携带 Sec-WebSocket-Extensions
	// 该 Header 由 WebSocket 层独占管理
	if cl.req.IsUpgrade() && cl.req.Header.Has("Sec-WebSocket-Extensions") && !cl.req.Header.Has("Sec-WebSocket-Key") {
		return nil, protocol.NewError(protocol.KindMalformed,
			newError("Sec-WebSocket-Extensions is owned by the websocket layer"))
	}

	events := cl.client.events
	events.CallStart(cl)
	metrics.IncCall()

	if cl.client.conf.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cl.client.conf.CallTimeout)
		defer cancel()
	}

	// ctx 终止（含 CallTimeout 超时）时取消调用 超时本身不触发单独的监听事件
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			cl.Cancel()
		case <-watchDone:
		}
	}()

	req := cl.req
	if cl.client.conf.EnableTracing && !req.Header.Has(tracekit.HeaderTraceParent) {
		header := req.Header.Clone()
		header.Set(tracekit.HeaderTraceParent, tracekit.New().Encode())
		if derived, err := req.Derive(req.Method, req.URL, header, req.Body); err == nil {
			req = derived
		}
	}

	followUps := 0
	for {
		resp, err := cl.runOnce(ctx, req)
		if err != nil {
			if cl.Canceled() {
				err = protocol.NewError(protocol.KindCanceled, err)
			}
			metrics.IncCallFailure(protocol.KindOf(err).String())
			events.CallFailed(cl, err)
			return nil, err
		}

		next, err := cl.followup(resp, req)
		if err != nil {
			_ = resp.Body.Close()
			metrics.IncCallFailure(protocol.KindOf(err).String())
			events.CallFailed(cl, err)
			return nil, err
		}
		if next == nil {
			events.CallEnd(cl)
			return resp, nil
		}

		followUps++
		if followUps > maxFollowUps {
			_ = resp.Body.Close()
			err := protocol.NewError(protocol.KindProtocol, newError("too many follow-up requests: %d", followUps))
			events.CallFailed(cl, err)
			return nil, err
		}

		logger.Debugf("call %s: follow-up #%d after status %d", cl.ID, followUps, resp.StatusCode)
		_ = resp.Body.Close()
		req = next
	}
}

// runOnce 驱动单个请求（不含 followup）直至拿到响应或耗尽路由
func (cl *Call) runOnce(ctx context.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
	addr, err := cl.client.addressOf(req, cl)
	if err != nil {
		return nil, err
	}
	planner := route.NewPlanner(addr)

	for {
		resp, err := cl.attempt(ctx, req, addr, planner)
		if err == nil {
			return resp, nil
		}
		if !cl.retryable(req, err, planner) {
			return nil, err
		}

		metrics.IncRetry()
		logger.Debugf("call %s: retrying on next route after %v", cl.ID, err)
	}
}

// retryable 裁决失败后是否换路由重试
//
// 必要条件
//   - 调用未被取消 且配置允许建链失败重试
//   - 错误属于可换路由重试的类别 且请求 body 可重放
//   - REFUSED_STREAM 还要求请求 body 尚未开始传输
//   - 规划器还有候选路由
func (cl *Call) retryable(req *httpmsg.Request, err error, planner *route.Planner) bool {
	if cl.Canceled() {
		return false
	}
	if !cl.client.conf.RetryOnConnectionFailure {
		return false
	}
	if !protocol.RouteRetryable(err) {
		return false
	}
	if protocol.KindOf(err) == protocol.KindRefusedStream && cl.bodyStarted {
		return false
	}
	if !req.Body.Replayable() {
		return false
	}
	return planner.HasNext()
}

// attempt 获取链接并执行一次 Exchange
func (cl *Call) attempt(ctx context.Context, req *httpmsg.Request, addr *route.Address, planner *route.Planner) (*httpmsg.Response, error) {
	conn, err := cl.findConnection(ctx, addr, planner)
	if err != nil {
		return nil, err
	}
	cl.client.events.ConnectionAcquired(cl)
	cl.bodyStarted = false

	if conn.Multiplexed() {
		return cl.exchangeH2(req, conn)
	}
	return cl.exchangeH1(req, conn)
}

// findConnection 优先复用池内链接 否则按规划器建链
//
// 等待建链名额期间可能有其他调用完成了建链 因此拿到名额后会再次查询池
// 实现 HTTP/2 链接的合并复用
func (cl *Call) findConnection(ctx context.Context, addr *route.Address, planner *route.Planner) (*connpool.Connection, error) {
	if conn := cl.client.pool.Get(addr); conn != nil {
		return conn, nil
	}

	cl.client.pool.AcquireDialSlot(addr)
	defer cl.client.pool.ReleaseDialSlot(addr)

	if conn := cl.client.pool.Get(addr); conn != nil {
		return conn, nil
	}

	r, err := planner.Next(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := cl.raceConnect(ctx, r, planner)
	if err != nil {
		return nil, err
	}

	// H1 链接先标记独占再入池 避免竞争方拿到同一条链接
	if !conn.Multiplexed() {
		conn.Acquire()
	}
	cl.client.pool.Put(conn)
	return conn, nil
}
