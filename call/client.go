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
	"net/netip"

	"github.com/pkg/errors"

	"github.com/wirecall/wirecall/connpool"
	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/route"
	"github.com/wirecall/wirecall/transport"
)

func newError(format string, args ...any) error {
	format = "call: " + format
	return errors.Errorf(format, args...)
}

// Authenticator 401 / 407 的认证回调
//
// 返回携带凭证的新请求 返回 nil 代表放弃认证
type Authenticator interface {
	Authenticate(resp *httpmsg.Response, req *httpmsg.Request) (*httpmsg.Request, error)
}

// Client HTTP 客户端
//
// Client 持有链接池 允许多个任务并发发起调用
type Client struct {
	conf     Config
	pool     *connpool.Pool
	dialer   *transport.Dialer
	tls      transport.TLSTransport
	resolver transport.Resolver
	auth     Authenticator
	events   EventListener
}

type ClientOption func(c *Client)

// WithTLSTransport 指定 TLS 传输 默认使用标准库实现
func WithTLSTransport(t transport.TLSTransport) ClientOption {
	return func(c *Client) {
		c.tls = t
	}
}

// WithResolver 指定解析器
func WithResolver(r transport.Resolver) ClientOption {
	return func(c *Client) {
		c.resolver = r
	}
}

// WithAuthenticator 指定认证器
func WithAuthenticator(a Authenticator) ClientOption {
	return func(c *Client) {
		c.auth = a
	}
}

// WithEvents 指定事件回调
func WithEvents(l EventListener) ClientOption {
	return func(c *Client) {
		c.events = l
	}
}

// NewClient 构造 Client
func NewClient(conf Config, opts ...ClientOption) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		conf:     conf,
		pool:     connpool.New(conf.MaxIdleConnections, conf.KeepAliveDuration),
		dialer:   &transport.Dialer{Timeout: conf.ConnectTimeout},
		tls:      &transport.StdTLSTransport{},
		resolver: transport.SystemResolver{},
		events:   NopEvents{},
	}
	for _, f := range opts {
		f(c)
	}
	return c, nil
}

// Pool 返回链接池 仅用于诊断与测试
func (c *Client) Pool() *connpool.Pool {
	return c.pool
}

// NewCall 构造一次调用
func (c *Client) NewCall(req *httpmsg.Request) *Call {
	return newCall(c, req)
}

// Do 发起调用并等待响应
func (c *Client) Do(ctx context.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
	return c.NewCall(req).Execute(ctx)
}

// addressOf 为请求构造共享链接所需的 Address
//
// upgrade 依赖 HTTP/1.1 的 101 语义 此类请求不参与 h2 协商
func (c *Client) addressOf(req *httpmsg.Request, cl *Call) (*route.Address, error) {
	protos := c.conf.Protos()
	if req.IsUpgrade() {
		protos = []protocol.Proto{protocol.ProtoHTTP11}
	}
	return route.NewAddress(
		req.URL.Scheme,
		req.URL.Host,
		req.URL.Port,
		route.WithProtocols(protos...),
		route.WithTLSTransport(c.tls),
		route.WithResolver(&eventResolver{inner: c.resolver, call: cl}),
	)
}

// eventResolver 包装解析器以触发 DNS 事件
type eventResolver struct {
	inner transport.Resolver
	call  *Call
}

func (r *eventResolver) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	r.call.client.events.DNSStart(r.call, host)
	addrs, err := r.inner.LookupAddrs(ctx, host)
	r.call.client.events.DNSEnd(r.call, host, addrs)
	return addrs, err
}
