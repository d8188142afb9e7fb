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
	"crypto/tls"
	"crypto/x509"
)

// HandshakeResult TLS 握手结果
type HandshakeResult struct {
	// Stream 握手完成后的加密双工流
	Stream Stream

	// ALPN 协商出的应用层协议 可能为空
	ALPN string

	// PeerCerts 对端证书链 供上层做证书校验 / pinning
	PeerCerts []*x509.Certificate
}

// TLSTransport 可插拔的 TLS 传输
//
// 证书校验 pinning 与握手细节由实现方负责 协议引擎仅传入 ALPN 候选列表
// 并消费协商结果
type TLSTransport interface {
	Handshake(ctx context.Context, tcp Stream, serverName string, alpnProtos []string) (*HandshakeResult, error)
}

// StdTLSTransport 基于标准库 crypto/tls 的默认实现
type StdTLSTransport struct {
	// Config 基础配置 每次握手时派生 不会被修改
	Config *tls.Config
}

// Handshake 执行 TLS 握手并返回协商结果
func (t *StdTLSTransport) Handshake(ctx context.Context, tcp Stream, serverName string, alpnProtos []string) (*HandshakeResult, error) {
	cfg := &tls.Config{}
	if t.Config != nil {
		cfg = t.Config.Clone()
	}
	cfg.ServerName = serverName
	cfg.NextProtos = alpnProtos

	conn := tls.Client(tlsNetConn{tcp}, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	state := conn.ConnectionState()
	return &HandshakeResult{
		Stream:    conn,
		ALPN:      state.NegotiatedProtocol,
		PeerCerts: state.PeerCertificates,
	}, nil
}

// tlsNetConn 将 Stream 适配为 net.Conn
type tlsNetConn struct {
	Stream
}
