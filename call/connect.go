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
	"time"

	"github.com/wirecall/wirecall/connpool"
	"github.com/wirecall/wirecall/internal/rescue"
	"github.com/wirecall/wirecall/metrics"
	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/protocol/ph2"
	"github.com/wirecall/wirecall/route"
	"github.com/wirecall/wirecall/transport"
)

const (
	// fastFollowDelay 第二条路由的起跑延迟 即 happy-eyeballs 间隔
	fastFollowDelay = 250 * time.Millisecond
)

// raceConnect 对至多两条路由并发建链 先完成 TLS 的一方胜出
//
// 第一条路由起跑 fastFollowDelay 后仍未完成时 第二条路由加入竞速
// 败者尚未起跑的路由归还规划器作为 deferred 已起跑的路由完成后即关闭
func (cl *Call) raceConnect(ctx context.Context, first route.Route, planner *route.Planner) (*connpool.Connection, error) {
	type result struct {
		conn *connpool.Connection
		r    route.Route
		err  error
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, 2)
	inFlight := 1
	go func() {
		defer rescue.HandleCrash()
		conn, err := cl.connect(raceCtx, first)
		results <- result{conn: conn, r: first, err: err}
	}()

	var timer <-chan time.Time
	if planner.HasNext() {
		timer = time.After(fastFollowDelay)
	}

	var lastErr error
	for inFlight > 0 {
		select {
		case <-timer:
			timer = nil
			second, err := planner.Next(ctx)
			if err != nil {
				continue
			}
			inFlight++
			go func() {
				defer rescue.HandleCrash()
				conn, cerr := cl.connect(raceCtx, second)
				results <- result{conn: conn, r: second, err: cerr}
			}()

		case res := <-results:
			inFlight--
			if res.err != nil {
				if raceCtx.Err() == nil {
					// 真实失败 记入失败记忆
					planner.MarkFailed(res.r, res.err)
					lastErr = res.err
				} else {
					// 因竞速取消而中断 路由保留为 deferred
					planner.Defer(res.r)
				}
				continue
			}

			// 胜者确定 仍在途的建链由 ctx 取消 其产物随后关闭
			cancel()
			remain := inFlight
			go func() {
				defer rescue.HandleCrash()
				for i := 0; i < remain; i++ {
					loser := <-results
					if loser.conn != nil {
						_ = loser.conn.Close()
					}
				}
			}()
			return res.conn, nil
		}
	}

	if lastErr == nil {
		lastErr = protocol.NewError(protocol.KindConnect, newError("connect failed"))
	}
	return nil, lastErr
}

// connect 对单条路由执行 TCP 与 TLS 建链
func (cl *Call) connect(ctx context.Context, r route.Route) (*connpool.Connection, error) {
	events := cl.client.events
	conf := cl.client.conf

	if conf.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.ConnectTimeout)
		defer cancel()
	}

	events.ConnectStart(cl, r.Target)
	tcp, err := cl.client.dialer.DialTCP(ctx, r.Target)
	if err != nil {
		metrics.IncDial(false)
		return nil, protocol.NewError(protocol.KindConnect, err)
	}
	events.ConnectEnd(cl, r.Target)

	var stream transport.Stream = tcp
	proto := protocol.ProtoHTTP11

	if r.Address.Scheme == "https" {
		events.SecureConnectStart(cl)
		res, err := r.Address.TLS.Handshake(ctx, tcp, r.Address.Host, r.Address.ALPNProtos())
		if err != nil {
			metrics.IncDial(false)
			_ = tcp.Close()
			return nil, protocol.NewError(protocol.KindConnect, err)
		}
		events.SecureConnectEnd(cl, res.ALPN)

		stream = res.Stream
		proto = protocol.FromALPN(res.ALPN)
	}
	metrics.IncDial(true)

	cs := transport.NewCountingStream(stream)
	var h2conn *ph2.Conn
	if proto == protocol.ProtoHTTP2 {
		h2conn, err = ph2.NewConn(cs, ph2.RoleClient, ph2.WithPingInterval(conf.PingInterval))
		if err != nil {
			_ = cs.Close()
			return nil, protocol.NewError(protocol.KindConnect, err)
		}
	}
	return connpool.NewConnection(r, proto, cs, h2conn), nil
}
