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
	"time"

	"github.com/wirecall/wirecall/confengine"
	"github.com/wirecall/wirecall/connpool"
	"github.com/wirecall/wirecall/protocol"
)

// Config 客户端配置 超时类配置取 0 代表不限制 KeepAliveDuration 取 0 时沿用链接池默认值
type Config struct {
	ConnectTimeout time.Duration `config:"connectTimeout"`
	ReadTimeout    time.Duration `config:"readTimeout"`
	WriteTimeout   time.Duration `config:"writeTimeout"`
	CallTimeout    time.Duration `config:"callTimeout"`

	// PingInterval HTTP/2 与 WebSocket 的保活 ping 周期 0 代表禁用
	PingInterval time.Duration `config:"pingInterval"`

	FollowRedirects          bool `config:"followRedirects"`
	FollowSSLRedirects       bool `config:"followSslRedirects"`
	RetryOnConnectionFailure bool `config:"retryOnConnectionFailure"`

	MaxIdleConnections int           `config:"maxIdleConnections"`
	KeepAliveDuration  time.Duration `config:"keepAliveDuration"`

	// Protocols 允许的协议集 顺序即偏好 仅允许 h2 与 http/1.1
	Protocols []string `config:"protocols"`

	// MinimumDeflateSize WebSocket 压缩阈值
	MinimumDeflateSize int `config:"minimumDeflateSize"`

	// EnableTracing 在出站请求上注入 traceparent
	EnableTracing bool `config:"enableTracing"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:           10 * time.Second,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             10 * time.Second,
		FollowRedirects:          true,
		FollowSSLRedirects:       true,
		RetryOnConnectionFailure: true,
		MaxIdleConnections:       connpool.DefaultMaxIdle,
		KeepAliveDuration:        connpool.DefaultKeepAlive,
		Protocols:                []string{protocol.ALPNH2, protocol.ALPNHTTP11},
	}
}

// Validate 校验配置
//
// protocols 必须是 {h2, http/1.1} 的非空有序子集 且必须包含 http/1.1
// 除非仅声明 h2 即 TLS-only 模式 http/1.0 永远不允许出现
func (c *Config) Validate() error {
	if len(c.Protocols) == 0 {
		return newError("protocols must not be empty")
	}

	hasHTTP11 := false
	for _, p := range c.Protocols {
		switch p {
		case protocol.ALPNH2:
		case protocol.ALPNHTTP11:
			hasHTTP11 = true
		default:
			return newError("unsupported protocol %q", p)
		}
	}
	if !hasHTTP11 && !(len(c.Protocols) == 1 && c.Protocols[0] == protocol.ALPNH2) {
		return newError("protocols must contain http/1.1")
	}

	if c.MaxIdleConnections < 0 {
		return newError("maxIdleConnections must be positive")
	}
	return nil
}

// Protos 返回配置的协议集
func (c *Config) Protos() []protocol.Proto {
	protos := make([]protocol.Proto, 0, len(c.Protocols))
	for _, p := range c.Protocols {
		protos = append(protos, protocol.FromALPN(p))
	}
	return protos
}

// LoadConfig 从 YAML 文件加载配置 未声明的字段沿用默认值
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()

	cfg, err := confengine.LoadConfigPath(path)
	if err != nil {
		return conf, err
	}
	// ucfg 按下标把数组合并进已有切片 声明了 protocols 时需整体替换默认值
	if cfg.Has("protocols") {
		conf.Protocols = nil
	}
	if err := cfg.Unpack(&conf); err != nil {
		return conf, err
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}
