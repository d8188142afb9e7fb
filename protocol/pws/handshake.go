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

package pws

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/protocol"
)

// Extensions 协商结果
type Extensions struct {
	PermessageDeflate       bool
	ClientNoContextTakeover bool
	ServerNoContextTakeover bool
}

// NewKey 生成 Sec-WebSocket-Key 即 16 随机字节的 base64
func NewKey() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

// AcceptKey 计算握手响应中的 Sec-WebSocket-Accept
//
// accept = base64(sha1(key || magicGUID))
func AcceptKey(key string) string {
	h := sha1.Sum([]byte(key + magicGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

// Handshake 在请求上补齐 WebSocket 握手 Header 返回新请求与 key
//
//	GET /chat HTTP/1.1
//	Connection: upgrade
//	Upgrade: websocket
//	Sec-WebSocket-Key: <16 随机字节的 base64>
//	Sec-WebSocket-Version: 13
//	Sec-WebSocket-Extensions: permessage-deflate
func Handshake(req *httpmsg.Request) (*httpmsg.Request, string, error) {
	if req.Header.Has("Sec-WebSocket-Extensions") {
		return nil, "", protocol.NewError(protocol.KindMalformed,
			newError("Sec-WebSocket-Extensions is owned by the websocket layer"))
	}
	key := NewKey()

	header := req.Header.Clone()
	header.Set("Connection", "upgrade")
	header.Set("Upgrade", "websocket")
	header.Set("Sec-WebSocket-Key", key)
	header.Set("Sec-WebSocket-Version", "13")
	header.Set("Sec-WebSocket-Extensions", "permessage-deflate")

	decorated, err := req.Derive(req.Method, req.URL, header, nil)
	if err != nil {
		return nil, "", err
	}
	return decorated, key, nil
}

// Verify 校验握手响应 任何一项不匹配都以协议错误使调用失败
//
// 校验项
//   - 状态码为 101
//   - Connection 等于 Upgrade
//   - Upgrade 等于 websocket
//   - Sec-WebSocket-Accept 等于 base64(sha1(key || magicGUID))
func Verify(resp *httpmsg.Response, key string) (Extensions, error) {
	var ext Extensions

	if resp.StatusCode != 101 {
		return ext, protocol.NewError(protocol.KindProtocol,
			newError("expected status 101 but was %d", resp.StatusCode))
	}
	if !resp.Header.EqualValue("Connection", "Upgrade") {
		return ext, protocol.NewError(protocol.KindProtocol,
			newError("expected Connection: Upgrade but was %q", resp.Header.Get("Connection")))
	}
	if !resp.Header.EqualValue("Upgrade", "websocket") {
		return ext, protocol.NewError(protocol.KindProtocol,
			newError("expected Upgrade: websocket but was %q", resp.Header.Get("Upgrade")))
	}
	if accept := resp.Header.Get("Sec-WebSocket-Accept"); accept != AcceptKey(key) {
		return ext, protocol.NewError(protocol.KindProtocol,
			newError("Sec-WebSocket-Accept mismatch"))
	}

	return parseExtensions(resp.Header.Values("Sec-WebSocket-Extensions"))
}

// parseExtensions 解析响应中的 Sec-WebSocket-Extensions
//
// 拒绝的情况
//   - 未知扩展或未知参数
//   - client_max_window_bits 本端从不通告 出现即异常
//   - server_max_window_bits 超出 [8, 15]
func parseExtensions(values []string) (Extensions, error) {
	var ext Extensions

	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}

			params := strings.Split(item, ";")
			name := strings.TrimSpace(params[0])
			if !strings.EqualFold(name, "permessage-deflate") {
				return ext, protocol.NewError(protocol.KindProtocol,
					newError("unexpected extension %q", name))
			}
			ext.PermessageDeflate = true

			for _, param := range params[1:] {
				k, v, _ := strings.Cut(strings.TrimSpace(param), "=")
				switch strings.ToLower(strings.TrimSpace(k)) {
				case "client_no_context_takeover":
					ext.ClientNoContextTakeover = true

				case "server_no_context_takeover":
					ext.ServerNoContextTakeover = true

				case "client_max_window_bits":
					// 本端从不通告此参数 响应中出现即为异常
					return ext, protocol.NewError(protocol.KindProtocol,
						newError("unexpected client_max_window_bits"))

				case "server_max_window_bits":
					bits, err := strconv.Atoi(strings.Trim(strings.TrimSpace(v), `"`))
					if err != nil || bits < 8 || bits > 15 {
						return ext, protocol.NewError(protocol.KindProtocol,
							newError("invalid server_max_window_bits %q", v))
					}

				default:
					return ext, protocol.NewError(protocol.KindProtocol,
						newError("unexpected extension parameter %q", k))
				}
			}
		}
	}
	return ext, nil
}
