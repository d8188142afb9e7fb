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

package httpmsg

import (
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// URLForm 是 URL 在协议引擎中的规范形态
//
// URL 的解析与规范化（IDNA/Punycode、百分号编码、公共后缀）由上层协作方完成
// 协议引擎仅消费解析结果 Fragment 在进入引擎前已被丢弃
type URLForm struct {
	// Scheme 仅允许 http / https WebSocket 的 ws / wss 在进入引擎前被映射
	Scheme string

	// Host 规范化后的主机名 对于 IDN 域名为其 Punycode 形式
	Host string

	// Port 端口号 构造时若为 0 则按 Scheme 取默认值
	Port int

	// Target 百分号编码后的 path + query 以 `/` 开头
	Target string
}

// NewURLForm 构造 URLForm 并补全默认端口
func NewURLForm(scheme, host string, port int, target string) (*URLForm, error) {
	scheme = MapWebSocketScheme(strings.ToLower(scheme))
	switch scheme {
	case "http", "https":
	default:
		return nil, newError("unsupported scheme %q", scheme)
	}

	if host == "" {
		return nil, newError("empty host")
	}

	// IDN 域名统一转换为 Punycode 形式 写上 wire 的 Host 与 :authority
	// 均使用 ASCII 主机名 IP 字面量不做转换
	if _, err := netip.ParseAddr(host); err != nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, newError("invalid host %q", host)
		}
		host = ascii
	}
	if port == 0 {
		port = DefaultPort(scheme)
	}
	if port < 1 || port > 65535 {
		return nil, newError("invalid port %d", port)
	}
	if target == "" {
		target = "/"
	}
	return &URLForm{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Target: target,
	}, nil
}

// MapWebSocketScheme 将 ws / wss 映射为 http / https
func MapWebSocketScheme(scheme string) string {
	switch scheme {
	case "ws":
		return "http"
	case "wss":
		return "https"
	}
	return scheme
}

// DefaultPort 返回 Scheme 的默认端口
func DefaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// IsTLS 返回是否需要 TLS 传输
func (u *URLForm) IsTLS() bool {
	return u.Scheme == "https"
}

// HostPort 返回 host:port 形式的地址
func (u *URLForm) HostPort() string {
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// Authority 返回写入 Host Header 或 :authority 伪头部的值
//
// 默认端口不显式携带
func (u *URLForm) Authority() string {
	if u.Port == DefaultPort(u.Scheme) {
		return u.Host
	}
	return u.HostPort()
}

// SameHostPort 判断两个 URL 是否指向同一个 host:port
func (u *URLForm) SameHostPort(o *URLForm) bool {
	return strings.EqualFold(u.Host, o.Host) && u.Port == o.Port && u.Scheme == o.Scheme
}

// String 返回完整的 URL 字符串
func (u *URLForm) String() string {
	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	sb.WriteString(u.Host)
	if u.Port != DefaultPort(u.Scheme) {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(u.Port))
	}
	sb.WriteString(u.Target)
	return sb.String()
}
