// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package interpreter

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkFilter strips model scratchpad segments delimited by <think>...</think>
// from a token stream. The filter is stateful across chunks so a tag split
// over two chunks never leaks.
type ThinkFilter struct {
	inThink bool
	pending string
}

// NewThinkFilter returns a fresh filter.
func NewThinkFilter() *ThinkFilter {
	return &ThinkFilter{}
}

// Feed processes one chunk and returns the text safe to emit so far.
// Bytes that could be the start of a split tag are held back until the
// next chunk or Flush resolves them.
func (f *ThinkFilter) Feed(chunk string) string {
	f.pending += chunk
	var out strings.Builder

	for {
		if f.inThink {
			idx := strings.Index(f.pending, thinkClose)
			if idx < 0 {
				// Keep only what could still complete the close tag
				f.pending = tailPartial(f.pending, thinkClose)
				return out.String()
			}
			f.pending = f.pending[idx+len(thinkClose):]
			f.inThink = false
			continue
		}

		idx := strings.Index(f.pending, thinkOpen)
		if idx < 0 {
			emit := f.pending
			hold := tailPartial(f.pending, thinkOpen)
			emit = emit[:len(emit)-len(hold)]
			f.pending = hold
			out.WriteString(emit)
			return out.String()
		}
		out.WriteString(f.pending[:idx])
		f.pending = f.pending[idx+len(thinkOpen):]
		f.inThink = true
	}
}

// Flush returns any held-back text. Text inside an unterminated think
// segment is dropped.
func (f *ThinkFilter) Flush() string {
	if f.inThink {
		f.pending = ""
		return ""
	}
	out := f.pending
	f.pending = ""
	return out
}

// StripThink removes all think segments from a complete string.
func StripThink(s string) string {
	f := NewThinkFilter()
	return f.Feed(s) + f.Flush()
}

// tailPartial returns the longest suffix of s that is a proper prefix of tag.
func tailPartial(s, tag string) string {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return s[len(s)-n:]
		}
	}
	return ""
}
