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
	"context"

	"github.com/wirecall/wirecall/httpmsg"
	"github.com/wirecall/wirecall/protocol"
	"github.com/wirecall/wirecall/protocol/pws"
)

// NewWebSocket 发起 WebSocket 握手并返回已经启动的 Socket
//
// 请求的 URL 允许使用 ws / wss scheme 进入引擎前被映射为 http / https
// 握手经由 HTTP/1.1 upgrade 路径完成 成功后底层双工流移交给 WebSocket 层
func (c *Client) NewWebSocket(ctx context.Context, req *httpmsg.Request, listener pws.Listener) (*pws.Socket, error) {
	decorated, key, err := pws.Handshake(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(ctx, decorated)
	if err != nil {
		return nil, err
	}

	ext, err := pws.Verify(resp, key)
	if err != nil {
		if resp.Socket != nil {
			_ = resp.Socket.Close()
		} else {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	if resp.Socket == nil {
		_ = resp.Body.Close()
		return nil, protocol.NewError(protocol.KindProtocol, newError("handshake response carried no socket"))
	}

	return pws.New(resp.Socket, ext, listener, pws.Options{
		PingInterval:       c.conf.PingInterval,
		MinimumDeflateSize: c.conf.MinimumDeflateSize,
	}), nil
}
