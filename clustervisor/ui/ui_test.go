// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyMarkup(t *testing.T) {
	assert.Equal(t, "[%AQ%N] Quit [%AH%N] Help",
		markup([]string{"[Q] Quit", "[H] Help"}))
	assert.Equal(t, "[%A+%N] 10%% more", markup([]string{"[+] 10% more"}))
}

func TestPad(t *testing.T) {
	assert.Equal(t, "bob_            ", pad([]rune("bob_")))
	assert.Equal(t, "<defghijklmnopq_", pad([]rune("abcdefghijklmnopq_")))
	assert.Len(t, pad([]rune("a very long user name indeed")), fieldWidth)
}
