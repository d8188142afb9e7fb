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
	"context"
	"net/netip"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/wirecall/wirecall/protocol"
)

// Route 一条具体的建链路由
type Route struct {
	Address *Address
	Proxy   Proxy
	Target  netip.AddrPort
	Spec    ConnSpec
}

// String 返回路由的可读形式 用于日志
func (r Route) String() string {
	var sb strings.Builder
	sb.WriteString(r.Target.String())
	if !r.Proxy.Direct {
		sb.WriteString(" via ")
		sb.WriteString(r.Proxy.HostPort)
	}
	sb.WriteByte('/')
	sb.WriteString(r.Spec.Name)
	return sb.String()
}

// failKey 失败记忆的单元 即 (IP, spec) 对
type failKey struct {
	addr netip.Addr
	spec string
}

// Planner 路由规划器
//
// 以 代理 x 已解析 IP x 握手参数 的顺序产出候选路由
// DNS 在某个代理的首个路由被请求时才惰性解析 结果在调用内缓存
// 建链失败的 (IP, spec) 对会被记忆 后续重试时跳过
//
// Planner 线程不安全 由单个调用驱动任务独占
type Planner struct {
	address *Address

	proxyIdx int
	ips      []netip.Addr
	ipIdx    int
	specIdx  int

	// deferred TLS 回退等场景下半途让位的路由 耗尽新路由后优先复用
	deferred []Route

	failed map[failKey]struct{}
	errs   *multierror.Error
}

// NewPlanner 构造 Planner
func NewPlanner(address *Address) *Planner {
	return &Planner{
		address: address,
		failed:  make(map[failKey]struct{}),
	}
}

// HasNext 返回是否还有候选路由
func (p *Planner) HasNext() bool {
	if len(p.deferred) > 0 {
		return true
	}
	if p.ips != nil {
		if p.ipIdx < len(p.ips) || p.specIdx+1 < len(p.address.Specs) {
			return true
		}
		// 当前代理已耗尽 仅剩后续代理
		return p.proxyIdx+1 < len(p.address.Proxies)
	}
	return p.proxyIdx < len(p.address.Proxies)
}

// Next 产出下一条路由
//
// 推进顺序为 下一个 IP -> 下一个握手参数 -> 下一个代理
// 新路由耗尽后回收 deferred 路由 全部耗尽时返回聚合的历史失败
func (p *Planner) Next(ctx context.Context) (Route, error) {
	for {
		route, ok, err := p.nextFresh(ctx)
		if err != nil {
			return Route{}, err
		}
		if ok {
			if p.isFailed(route) {
				continue
			}
			return route, nil
		}

		if len(p.deferred) > 0 {
			route := p.deferred[0]
			p.deferred = p.deferred[1:]
			return route, nil
		}

		err = p.errs.ErrorOrNil()
		if err == nil {
			err = newError("exhausted all routes for %s", p.address.HostPort())
		}
		return Route{}, protocol.NewError(protocol.KindConnect, err)
	}
}

// nextFresh 产出下一条全新路由
func (p *Planner) nextFresh(ctx context.Context) (Route, bool, error) {
	for {
		// 当前代理的 IP 列表未解析时惰性解析
		if p.ips == nil {
			if p.proxyIdx >= len(p.address.Proxies) {
				return Route{}, false, nil
			}

			host, port := p.dialTarget(p.address.Proxies[p.proxyIdx])
			ips, err := p.address.Resolver.LookupAddrs(ctx, host)
			if err != nil {
				// DNS 失败尝试下一个代理 均失败后由 Next 聚合上抛
				p.errs = multierror.Append(p.errs, protocol.NewError(protocol.KindDNS, err))
				p.proxyIdx++
				continue
			}
			_ = port
			p.ips = ips
			p.ipIdx = 0
			p.specIdx = 0
		}

		if p.ipIdx >= len(p.ips) {
			// 当前参数集下所有 IP 均已尝试 推进到下一个参数集
			p.specIdx++
			p.ipIdx = 0
			if p.specIdx >= len(p.address.Specs) {
				// 当前代理耗尽 推进到下一个代理
				p.proxyIdx++
				p.ips = nil
				continue
			}
		}

		proxy := p.address.Proxies[p.proxyIdx]
		_, port := p.dialTarget(proxy)
		route := Route{
			Address: p.address,
			Proxy:   proxy,
			Target:  netip.AddrPortFrom(p.ips[p.ipIdx], uint16(port)),
			Spec:    p.address.Specs[p.specIdx],
		}
		p.ipIdx++
		return route, true, nil
	}
}

// dialTarget 返回建链的目标主机与端口 走代理时为代理地址
func (p *Planner) dialTarget(proxy Proxy) (string, int) {
	if proxy.Direct {
		return p.address.Host, p.address.Port
	}

	host, portStr, ok := strings.Cut(proxy.HostPort, ":")
	if !ok {
		return proxy.HostPort, 8080
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 8080
	}
	return host, port
}

// Defer 归还一条半途让位的路由 例如 happy-eyeballs 竞速的败者
func (p *Planner) Defer(route Route) {
	p.deferred = append(p.deferred, route)
}

// MarkFailed 记录路由失败 后续产出会跳过同样的 (IP, spec) 对
func (p *Planner) MarkFailed(route Route, err error) {
	p.failed[failKey{addr: route.Target.Addr(), spec: route.Spec.Name}] = struct{}{}
	if err != nil {
		p.errs = multierror.Append(p.errs, err)
	}
}

func (p *Planner) isFailed(route Route) bool {
	_, ok := p.failed[failKey{addr: route.Target.Addr(), spec: route.Spec.Name}]
	return ok
}
