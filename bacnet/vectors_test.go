// Copyright 2025 Edgeo SCADA
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

package bacnet

import (
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type vector struct {
	Name  string `yaml:"name"`
	Hex   string `yaml:"hex"`
	Kind  string `yaml:"kind"`
	Inner string `yaml:"inner"`
}

type vectorFile struct {
	Values []vector `yaml:"values"`
	APDUs  []vector `yaml:"apdus"`
	NPDUs  []vector `yaml:"npdus"`
	BVLCs  []vector `yaml:"bvlcs"`
}

func loadVectors(t *testing.T) vectorFile {
	t.Helper()
	raw, err := os.ReadFile("testdata/vectors.yaml")
	require.NoError(t, err)
	var f vectorFile
	require.NoError(t, yaml.Unmarshal(raw, &f))
	return f
}

func (v vector) bytes(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString(v.Hex)
	require.NoError(t, err)
	return b
}

func TestVectors(t *testing.T) {
	f := loadVectors(t)
	require.NotEmpty(t, f.Values)

	t.Run("values", func(t *testing.T) {
		for _, v := range f.Values {
			t.Run(v.Name, func(t *testing.T) {
				data := v.bytes(t)
				tag, n, err := ReadTag(data, 0)
				require.NoError(t, err)
				value, err := Decode(tag, data[n:])
				require.NoError(t, err)
				assert.Equal(t, v.Kind, value.AppTag().String())

				enc, err := EncodeApplication(value)
				require.NoError(t, err)
				assert.Equal(t, data, enc)
			})
		}
	})

	t.Run("apdus", func(t *testing.T) {
		for _, v := range f.APDUs {
			t.Run(v.Name, func(t *testing.T) {
				data := v.bytes(t)
				a, err := DecodeAPDU(data)
				require.NoError(t, err)
				assert.Equal(t, v.Kind, a.Type.String())

				enc, err := a.Encode()
				require.NoError(t, err)
				assert.Equal(t, data, enc)
			})
		}
	})

	t.Run("npdus", func(t *testing.T) {
		for _, v := range f.NPDUs {
			t.Run(v.Name, func(t *testing.T) {
				data := v.bytes(t)
				n, apdu, err := DecodeNPDU(data)
				require.NoError(t, err)
				assert.Equal(t, v.Inner, hex.EncodeToString(apdu))

				enc, err := n.Encode(apdu)
				require.NoError(t, err)
				assert.Equal(t, data, enc)
			})
		}
	})

	t.Run("bvlcs", func(t *testing.T) {
		for _, v := range f.BVLCs {
			t.Run(v.Name, func(t *testing.T) {
				data := v.bytes(t)
				b, err := DecodeBVLC(data)
				require.NoError(t, err)
				assert.Equal(t, v.Kind, b.Function.String())
				assert.Equal(t, v.Inner, hex.EncodeToString(b.NPDU))

				enc, err := EncodeBVLC(b.Function, b.NPDU)
				require.NoError(t, err)
				assert.Equal(t, data, enc)
			})
		}
	})
}
