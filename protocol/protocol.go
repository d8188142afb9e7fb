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

package protocol

// Proto 应用层协议版本
type Proto string

const (
	ProtoHTTP10 Proto = "HTTP/1.0"
	ProtoHTTP11 Proto = "HTTP/1.1"
	ProtoHTTP2  Proto = "HTTP/2"
)

const (
	// ALPNH2 TLS ALPN 中 HTTP/2 的协议名
	ALPNH2 = "h2"

	// ALPNHTTP11 TLS ALPN 中 HTTP/1.1 的协议名
	ALPNHTTP11 = "http/1.1"
)

// ALPN 返回协议在 TLS ALPN 协商中的名称
func (p Proto) ALPN() string {
	if p == ProtoHTTP2 {
		return ALPNH2
	}
	return ALPNHTTP11
}

// FromALPN 将 ALPN 协商结果映射为协议版本 空值按 HTTP/1.1 处理
func FromALPN(alpn string) Proto {
	if alpn == ALPNH2 {
		return ProtoHTTP2
	}
	return ProtoHTTP11
}

// Multiplexing 返回协议是否支持单链接多路复用
func (p Proto) Multiplexing() bool {
	return p == ProtoHTTP2
}
