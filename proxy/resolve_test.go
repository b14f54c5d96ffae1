// Copyright (c) 2025 Bob Vawter (bob@vawter.org)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// SPDX-License-Identifier: MIT

package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveFirstIP(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	ip, err := resolveFirstIP(ctx, "localhost")
	r.NoError(err)
	r.Contains([]string{"127.0.0.1", "::1"}, ip)

	ip, err = resolveFirstIP(ctx, "127.0.0.1")
	r.NoError(err)
	r.Equal("127.0.0.1", ip)

	_, err = resolveFirstIP(ctx, "")
	r.Error(err)

	_, err = resolveFirstIP(ctx, "host.invalid")
	r.Error(err)
}
