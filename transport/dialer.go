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

package transport

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "transport: " + format
	return errors.Errorf(format, args...)
}

// Resolver 可插拔的域名解析器
type Resolver interface {
	LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver 使用系统解析器
type SystemResolver struct{}

func (SystemResolver) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	// host 本身已是 IP 时跳过解析
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, newError("no addresses for host %q", host)
	}
	return addrs, nil
}

// Dialer TCP 建链器
type Dialer struct {
	// Timeout 单次建链超时 0 代表不限制
	Timeout time.Duration
}

// DialTCP 建立 TCP 链接
func (d *Dialer) DialTCP(ctx context.Context, addrPort netip.AddrPort) (Stream, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addrPort.String())
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}
