// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package atlas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRequestIsIdempotent(t *testing.T) {
	var r RequestRegistry
	who := NewRequester()
	r.Request(who, 1, ReasonRender)
	r.Request(who, 7, ReasonCollision)
	assert.Equal(t, 1, r.RefCount())
	p, reason := r.Top()
	assert.Equal(t, float32(7), p)
	assert.Equal(t, ReasonCollision, reason)

	// оновлення вниз теж застосовується
	r.Request(who, 2, ReasonPrefetch)
	assert.Equal(t, float32(2), r.CumulativePriority())
	assert.Equal(t, 1, r.RefCount())
}

func TestRegistryManyRequesters(t *testing.T) {
	var r RequestRegistry
	const n = 8
	whos := make([]Requester, n)
	for i := range whos {
		whos[i] = NewRequester()
		r.Request(whos[i], float32(i), ReasonRender)
	}
	require.Equal(t, n, r.RefCount())
	for _, who := range whos {
		assert.True(t, r.Cancel(who, ReasonRender))
	}
	assert.Zero(t, r.RefCount())
	assert.Nil(t, r.head)
	assert.Zero(t, r.CumulativePriority())
}

func TestRegistryPriorityIsMax(t *testing.T) {
	var r RequestRegistry
	a, b, c := NewRequester(), NewRequester(), NewRequester()
	r.Request(a, 1, ReasonRender)
	r.Request(b, 5, ReasonRender)
	r.Request(c, 2, ReasonRender)
	assert.Equal(t, float32(5), r.CumulativePriority())

	r.Cancel(b, ReasonRender)
	assert.Equal(t, float32(2), r.CumulativePriority())
	assert.Equal(t, 2, r.RefCount())
}

func TestRegistryCancelUnknown(t *testing.T) {
	var r RequestRegistry
	r.Request(NewRequester(), 3, ReasonRender)
	assert.False(t, r.Cancel(NewRequester(), ReasonRender))
	assert.Equal(t, 1, r.RefCount())

	var nilReg *RequestRegistry
	assert.Zero(t, nilReg.RefCount())
	assert.Zero(t, nilReg.CumulativePriority())
}
