// Copyright 2025 The BRRTRouter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoveryInterceptor_BeforeNeverPanicsItself(t *testing.T) {
	r := NewRecoveryInterceptor(nil)
	require.Nil(t, r.Before(&Request{}))
}

func TestRecoveryInterceptor_AfterPassesResponseThrough(t *testing.T) {
	r := NewRecoveryInterceptor(nil)
	resp := &Response{Status: 201}
	require.Same(t, resp, r.After(&Request{}, resp, 0))
}
