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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirecall/wirecall/protocol"
)

// fakeResolver 固定解析结果 记录解析次数
type fakeResolver struct {
	addrs map[string][]netip.Addr
	calls int
}

func (r *fakeResolver) LookupAddrs(_ context.Context, host string) ([]netip.Addr, error) {
	r.calls++
	addrs, ok := r.addrs[host]
	if !ok {
		return nil, newError("no such host %q", host)
	}
	return addrs, nil
}

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func TestAddressPunycodeHost(t *testing.T) {
	addr, err := NewAddress("https", "☃.net", 443)
	require.NoError(t, err)
	assert.Equal(t, "xn--n3h.net", addr.Host)
	assert.Equal(t, "xn--n3h.net:443", addr.HostPort())
}

func TestAddressKey(t *testing.T) {
	a, err := NewAddress("https", "example.com", 443)
	require.NoError(t, err)
	b, err := NewAddress("https", "example.com", 443)
	require.NoError(t, err)
	c, err := NewAddress("https", "example.com", 8443)
	require.NoError(t, err)
	d, err := NewAddress("https", "example.com", 443, WithProtocols(protocol.ProtoHTTP11))
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key())
	assert.True(t, a.Equal(b))
	assert.NotEqual(t, a.Key(), c.Key())
	assert.NotEqual(t, a.Key(), d.Key())
}

func TestAddressCleartextDowngrade(t *testing.T) {
	addr, err := NewAddress("http", "example.com", 80)
	require.NoError(t, err)

	// 明文链接无法经 ALPN 协商 h2
	assert.False(t, addr.SupportsH2())
	assert.Equal(t, []ConnSpec{{Name: "cleartext"}}, addr.Specs)
}

func TestPlannerOrder(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{
		"example.com": {mustAddr("10.0.0.1"), mustAddr("10.0.0.2")},
	}}
	addr, err := NewAddress("https", "example.com", 443, WithResolver(resolver))
	require.NoError(t, err)

	p := NewPlanner(addr)
	ctx := context.Background()

	// 推进顺序 下一个 IP -> 下一个握手参数
	var got []string
	for i := 0; i < 4; i++ {
		require.True(t, p.HasNext())
		r, err := p.Next(ctx)
		require.NoError(t, err)
		got = append(got, r.Target.Addr().String()+"/"+r.Spec.Name)
	}
	assert.Equal(t, []string{
		"10.0.0.1/modern_tls",
		"10.0.0.2/modern_tls",
		"10.0.0.1/compatible_tls",
		"10.0.0.2/compatible_tls",
	}, got)

	// DNS 仅在首个路由被请求时解析一次
	assert.Equal(t, 1, resolver.calls)

	// 全部耗尽后返回聚合错误
	_, err = p.Next(ctx)
	assert.Error(t, err)
}

func TestPlannerSkipsFailedPairs(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{
		"example.com": {mustAddr("10.0.0.1"), mustAddr("10.0.0.2")},
	}}
	addr, err := NewAddress("https", "example.com", 443,
		WithResolver(resolver), WithConnSpecs(ConnSpec{Name: "modern_tls"}))
	require.NoError(t, err)

	ctx := context.Background()

	p := NewPlanner(addr)
	r1, err := p.Next(ctx)
	require.NoError(t, err)
	p.MarkFailed(r1, newError("connection refused"))

	// 同一规划器继续产出 下一条路由换用另一个 IP
	r2, err := p.Next(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Target, r2.Target)
}

func TestPlannerDeferred(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{
		"example.com": {mustAddr("10.0.0.1")},
	}}
	addr, err := NewAddress("https", "example.com", 443,
		WithResolver(resolver), WithConnSpecs(ConnSpec{Name: "modern_tls"}))
	require.NoError(t, err)

	ctx := context.Background()
	p := NewPlanner(addr)

	r1, err := p.Next(ctx)
	require.NoError(t, err)

	// 半途让位的路由在新路由耗尽后被回收
	p.Defer(r1)
	require.True(t, p.HasNext())
	r2, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestPlannerDNSFailureTriesNextProxy(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{
		"proxy.example.com": {mustAddr("10.1.0.1")},
	}}
	addr, err := NewAddress("https", "unresolvable.example.com", 443,
		WithResolver(resolver),
		WithConnSpecs(ConnSpec{Name: "modern_tls"}),
		WithProxies(DirectProxy, Proxy{HostPort: "proxy.example.com:3128"}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	p := NewPlanner(addr)

	// 直连解析失败 回退至代理
	r, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.1", r.Target.Addr().String())
	assert.Equal(t, uint16(3128), r.Target.Port())
	assert.False(t, r.Proxy.Direct)
}

func TestPlannerAllDNSFailed(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{}}
	addr, err := NewAddress("https", "unresolvable.example.com", 443, WithResolver(resolver))
	require.NoError(t, err)

	p := NewPlanner(addr)
	_, err = p.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, protocol.KindConnect, protocol.KindOf(err))
}
