// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package bencode

// Bytes is a raw byte string that passes through bencode encoding
// unmodified, for fields whose exact on-wire bytes must be preserved (e.g.
// to recompute a hash over them later).
type Bytes []byte

var (
	_ Unmarshaler = &Bytes{}
	_ Marshaler   = &Bytes{}
	_ Marshaler   = Bytes{}
)

// UnmarshalBencode unmarshalls a raw bencoded string into its constituent bytes.
func (bts *Bytes) UnmarshalBencode(b []byte) error {
	*bts = append([]byte(nil), b...)
	return nil
}

// MarshalBencode marshalls bts back out verbatim.
func (bts Bytes) MarshalBencode() ([]byte, error) {
	return bts, nil
}
