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

package route

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"golang.org/x/net/idna"

	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/transport"
)

func newError(format string, args ...any) error {
	format = "route: " + format
	return errors.Errorf(format, args...)
}

// Proxy 代理候选 Direct 为真时直连目标
type Proxy struct {
	Direct   bool
	HostPort string
}

// DirectProxy 直连
var DirectProxy = Proxy{Direct: true}

// ConnSpec TLS 握手参数集 对协议引擎不透明 仅作为回退序列的单元
type ConnSpec struct {
	Name string
}

// DefaultConnSpecs 默认的握手参数回退序列
var DefaultConnSpecs = []ConnSpec{{Name: "modern_tls"}, {Name: "compatible_tls"}}

// Address 汇集了两次调用共享链接所必须一致的全部参数
//
// Scheme / Host / Port / 解析器 / TLS 传输 / 协议集 / 握手参数序列 / 代理集
// 任何一项不同的两个地址不允许共享链接
type Address struct {
	Scheme string

	// Host 规范化主机名 IDN 域名在构造时转换为 Punycode 形式
	Host string
	Port int

	Resolver  transport.Resolver
	TLS       transport.TLSTransport
	Protocols []protocol.Proto
	Specs     []ConnSpec
	Proxies   []Proxy
}

// NewAddress 构造 Address 并完成主机名的 ASCII 规范化
func NewAddress(scheme, host string, port int, opts ...AddressOption) (*Address, error) {
	// IP 字面量不做 IDNA 转换
	ascii := host
	if _, err := netip.ParseAddr(host); err != nil {
		ascii, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, protocol.NewError(protocol.KindMalformed, newError("invalid host %q", host))
		}
	}

	addr := &Address{
		Scheme:    scheme,
		Host:      ascii,
		Port:      port,
		Resolver:  transport.SystemResolver{},
		Protocols: []protocol.Proto{protocol.ProtoHTTP2, protocol.ProtoHTTP11},
		Specs:     DefaultConnSpecs,
		Proxies:   []Proxy{DirectProxy},
	}
	for _, f := range opts {
		f(addr)
	}

	if scheme != "https" {
		// 明文链接无 TLS 回退序列 也无法通过 ALPN 协商 h2
		addr.Specs = []ConnSpec{{Name: "cleartext"}}
		addr.Protocols = []protocol.Proto{protocol.ProtoHTTP11}
	}
	return addr, nil
}

type AddressOption func(a *Address)

// WithResolver 指定解析器
func WithResolver(r transport.Resolver) AddressOption {
	return func(a *Address) {
		a.Resolver = r
	}
}

// WithTLSTransport 指定 TLS 传输
func WithTLSTransport(t transport.TLSTransport) AddressOption {
	return func(a *Address) {
		a.TLS = t
	}
}

// WithProtocols 指定允许的协议集 顺序即偏好
func WithProtocols(protos ...protocol.Proto) AddressOption {
	return func(a *Address) {
		a.Protocols = protos
	}
}

// WithProxies 指定代理候选序列
func WithProxies(proxies ...Proxy) AddressOption {
	return func(a *Address) {
		a.Proxies = proxies
	}
}

// WithConnSpecs 指定握手参数回退序列
func WithConnSpecs(specs ...ConnSpec) AddressOption {
	return func(a *Address) {
		a.Specs = specs
	}
}

// SupportsH2 返回地址是否允许协商 HTTP/2
func (a *Address) SupportsH2() bool {
	for _, p := range a.Protocols {
		if p == protocol.ProtoHTTP2 {
			return true
		}
	}
	return false
}

// ALPNProtos 返回按偏好排序的 ALPN 候选
func (a *Address) ALPNProtos() []string {
	protos := make([]string, 0, len(a.Protocols))
	for _, p := range a.Protocols {
		protos = append(protos, p.ALPN())
	}
	return protos
}

// HostPort 返回 host:port 形式的地址
func (a *Address) HostPort() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// Key 返回地址的池索引键
//
// 两次调用的 Key 相等是共享链接的必要条件
func (a *Address) Key() uint64 {
	var sb strings.Builder
	sb.WriteString(a.Scheme)
	sb.WriteByte('|')
	sb.WriteString(a.HostPort())
	for _, p := range a.Protocols {
		sb.WriteByte('|')
		sb.WriteString(string(p))
	}
	for _, s := range a.Specs {
		sb.WriteByte('|')
		sb.WriteString(s.Name)
	}
	for _, p := range a.Proxies {
		sb.WriteByte('|')
		if p.Direct {
			sb.WriteString("direct")
		} else {
			sb.WriteString(p.HostPort)
		}
	}
	return xxhash.Sum64String(sb.String())
}

// Equal 判断两个地址是否完全等价
func (a *Address) Equal(o *Address) bool {
	if a.Scheme != o.Scheme || a.Host != o.Host || a.Port != o.Port {
		return false
	}
	if len(a.Protocols) != len(o.Protocols) || len(a.Specs) != len(o.Specs) || len(a.Proxies) != len(o.Proxies) {
		return false
	}
	for i := range a.Protocols {
		if a.Protocols[i] != o.Protocols[i] {
			return false
		}
	}
	for i := range a.Specs {
		if a.Specs[i] != o.Specs[i] {
			return false
		}
	}
	for i := range a.Proxies {
		if a.Proxies[i] != o.Proxies[i] {
			return false
		}
	}
	return true
}
