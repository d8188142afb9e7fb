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
	"bytes"
	"compress/flate"
	"io"
)

// RFC 7692 permessage-deflate
//
// 压缩消息剥离了 DEFLATE 流尾部的 00 00 FF FF 空存储块 解压前需要补回
// context takeover 模式下 DEFLATE 滑动窗口跨消息保留 双方字典保持同步
// no_context_takeover 模式下每条消息独立压缩
var deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

// deflater 出站消息压缩器 由唯一的 writer 任务持有
type deflater struct {
	buf bytes.Buffer
	fw  *flate.Writer

	// resetPerMessage 协商出 client_no_context_takeover 后每条消息重置字典
	resetPerMessage bool
}

func newDeflater(resetPerMessage bool) *deflater {
	return &deflater{resetPerMessage: resetPerMessage}
}

// deflate 压缩一条完整消息 返回的字节在下一次调用前有效
func (d *deflater) deflate(p []byte) ([]byte, error) {
	d.buf.Reset()
	if d.fw == nil {
		fw, err := flate.NewWriter(&d.buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		d.fw = fw
	} else if d.resetPerMessage {
		d.fw.Reset(&d.buf)
	}

	if _, err := d.fw.Write(p); err != nil {
		return nil, err
	}
	if err := d.fw.Flush(); err != nil {
		return nil, err
	}

	out := d.buf.Bytes()
	if bytes.HasSuffix(out, deflateTail) {
		out = out[:len(out)-len(deflateTail)]
	}
	return out, nil
}

// inflaterWindowSize DEFLATE 滑动窗口上限
const inflaterWindowSize = 32 * 1024

// inflater 入站消息解压器 由唯一的 reader 任务持有
//
// 消息在压缩侧以 Flush 对齐 每条消息都是一段可独立解码的块序列
// context takeover 模式下维护最近 32KB 的明文窗口作为下一条消息的预置字典
type inflater struct {
	dict []byte

	// resetPerMessage 协商出 server_no_context_takeover 后每条消息独立
	resetPerMessage bool
}

func newInflater(resetPerMessage bool) *inflater {
	return &inflater{resetPerMessage: resetPerMessage}
}

// inflate 解压一条完整消息
func (i *inflater) inflate(p []byte, limit int64) ([]byte, error) {
	src := io.MultiReader(bytes.NewReader(p), bytes.NewReader(deflateTail))

	var fr io.ReadCloser
	if len(i.dict) == 0 || i.resetPerMessage {
		fr = flate.NewReader(src)
	} else {
		fr = flate.NewReaderDict(src, i.dict)
	}
	defer fr.Close()

	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := fr.Read(buf)
		out.Write(buf[:n])
		if int64(out.Len()) > limit {
			return nil, newError("inflated message exceeds size limit")
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// 输入耗尽 当前消息已经完整解出
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if !i.resetPerMessage {
		i.dict = appendWindow(i.dict, out.Bytes())
	}
	return out.Bytes(), nil
}

// appendWindow 追加明文并保留最近 32KB
func appendWindow(dict, p []byte) []byte {
	dict = append(dict, p...)
	if len(dict) > inflaterWindowSize {
		dict = append(dict[:0:0], dict[len(dict)-inflaterWindowSize:]...)
	}
	return dict
}
