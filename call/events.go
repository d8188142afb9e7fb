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
	"net/netip"

	"github.com/wirecall/wirecall/httpmsg"
)

// EventListener 单次调用的事件回调
//
// 回调顺序
//
//	CallStart
//	DNSStart -> DNSEnd
//	ConnectStart -> ConnectEnd
//	SecureConnectStart -> SecureConnectEnd
//	ConnectionAcquired
//	RequestHeadersStart -> RequestHeadersEnd
//	[RequestBodyStart -> RequestBodyEnd]
//	ResponseHeadersStart -> ResponseHeadersEnd
//	[ResponseBodyStart -> ResponseBodyEnd]
//	ConnectionReleased
//	CallEnd | CallFailed
//
// upgrade 成功时在响应头事件之后追加 SocketSinkStart / SocketSourceStart
// 以及对应的 End 事件
//
// 回调在调用任务上同步执行 实现方不允许阻塞
type EventListener interface {
	CallStart(c *Call)
	DNSStart(c *Call, host string)
	DNSEnd(c *Call, host string, addrs []netip.Addr)
	ConnectStart(c *Call, target netip.AddrPort)
	ConnectEnd(c *Call, target netip.AddrPort)
	SecureConnectStart(c *Call)
	SecureConnectEnd(c *Call, alpn string)
	ConnectionAcquired(c *Call)
	RequestHeadersStart(c *Call)
	RequestHeadersEnd(c *Call, req *httpmsg.Request)
	RequestBodyStart(c *Call)
	RequestBodyEnd(c *Call, byteCount int64)
	ResponseHeadersStart(c *Call)
	ResponseHeadersEnd(c *Call, resp *httpmsg.Response)
	ResponseBodyStart(c *Call)
	ResponseBodyEnd(c *Call, byteCount int64)
	SocketSinkStart(c *Call)
	SocketSinkEnd(c *Call)
	SocketSourceStart(c *Call)
	SocketSourceEnd(c *Call)
	ConnectionReleased(c *Call)
	CallEnd(c *Call)
	CallFailed(c *Call, err error)
}

// NopEvents 空实现 供调用方嵌入
type NopEvents struct{}

func (NopEvents) CallStart(*Call)                                {}
func (NopEvents) DNSStart(*Call, string)                         {}
func (NopEvents) DNSEnd(*Call, string, []netip.Addr)             {}
func (NopEvents) ConnectStart(*Call, netip.AddrPort)             {}
func (NopEvents) ConnectEnd(*Call, netip.AddrPort)               {}
func (NopEvents) SecureConnectStart(*Call)                       {}
func (NopEvents) SecureConnectEnd(*Call, string)                 {}
func (NopEvents) ConnectionAcquired(*Call)                       {}
func (NopEvents) RequestHeadersStart(*Call)                      {}
func (NopEvents) RequestHeadersEnd(*Call, *httpmsg.Request)      {}
func (NopEvents) RequestBodyStart(*Call)                         {}
func (NopEvents) RequestBodyEnd(*Call, int64)                    {}
func (NopEvents) ResponseHeadersStart(*Call)                     {}
func (NopEvents) ResponseHeadersEnd(*Call, *httpmsg.Response)    {}
func (NopEvents) ResponseBodyStart(*Call)                        {}
func (NopEvents) ResponseBodyEnd(*Call, int64)                   {}
func (NopEvents) SocketSinkStart(*Call)                          {}
func (NopEvents) SocketSinkEnd(*Call)                            {}
func (NopEvents) SocketSourceStart(*Call)                        {}
func (NopEvents) SocketSourceEnd(*Call)                          {}
func (NopEvents) ConnectionReleased(*Call)                       {}
func (NopEvents) CallEnd(*Call)                                  {}
func (NopEvents) CallFailed(*Call, error)                        {}
