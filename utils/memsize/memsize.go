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

// Package memsize provides human-readable byte/bit size formatting and
// named unit constants, used for logging the torrent's total size.
package memsize

import "fmt"

// Byte unit constants.
const (
	B  uint64 = 1
	KB        = B * 1024
	MB        = KB * 1024
	GB        = MB * 1024
	TB        = GB * 1024
)

// Bit unit constants.
const (
	Bit  uint64 = 1
	Kbit        = Bit * 1024
	Mbit        = Kbit * 1024
	Gbit        = Mbit * 1024
	Tbit        = Gbit * 1024
)

// Format renders bytes as a human-readable string, e.g. "256.00KB".
func Format(bytes uint64) string {
	return format(bytes, B, KB, MB, GB, TB, "B", "KB", "MB", "GB", "TB")
}

// BitFormat renders bits as a human-readable string, e.g. "256.00Kbit".
func BitFormat(bits uint64) string {
	return format(bits, Bit, Kbit, Mbit, Gbit, Tbit, "bit", "Kbit", "Mbit", "Gbit", "Tbit")
}

func format(n, unit, k, m, g, t uint64, unitName, kName, mName, gName, tName string) string {
	switch {
	case n == 0:
		return fmt.Sprintf("0%s", unitName)
	case n >= t:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(t), tName)
	case n >= g:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(g), gName)
	case n >= m:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(m), mName)
	case n >= k:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(k), kName)
	default:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(unit), unitName)
	}
}
