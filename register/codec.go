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

package register

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"
)

// FloatToWords encodes f as IEEE-754 big-endian and returns the words
// low word first, high word second. Meter clients expect this swapped order.
func FloatToWords(f float32) [2]uint16 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], math.Float32bits(f))
	return [2]uint16{
		binary.BigEndian.Uint16(buf[2:4]),
		binary.BigEndian.Uint16(buf[0:2]),
	}
}

// WordsToFloat is the inverse of FloatToWords.
func WordsToFloat(low, high uint16) float32 {
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], high)
	binary.BigEndian.PutUint16(buf[2:4], low)
	return math.Float32frombits(binary.BigEndian.Uint32(buf[:]))
}

// Int64ToWords encodes v as four big-endian words, most significant first.
func Int64ToWords(v int64) [4]uint16 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return [4]uint16{
		binary.BigEndian.Uint16(buf[0:2]),
		binary.BigEndian.Uint16(buf[2:4]),
		binary.BigEndian.Uint16(buf[4:6]),
		binary.BigEndian.Uint16(buf[6:8]),
	}
}

// WordsToInt64 is the inverse of Int64ToWords.
func WordsToInt64(w0, w1, w2, w3 uint16) int64 {
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[0:2], w0)
	binary.BigEndian.PutUint16(buf[2:4], w1)
	binary.BigEndian.PutUint16(buf[4:6], w2)
	binary.BigEndian.PutUint16(buf[6:8], w3)
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// TimestampToWords splits the low 32 bits of a Unix time into words, high word
// first. Note the order is the opposite of FloatToWords.
func TimestampToWords(seconds int64) [2]uint16 {
	return [2]uint16{
		uint16((seconds >> 16) & 0xFFFF),
		uint16(seconds & 0xFFFF),
	}
}

// WordsToTimestamp is the inverse of TimestampToWords.
func WordsToTimestamp(high, low uint16) int64 {
	return int64(uint32(high)<<16 | uint32(low))
}

// Encode converts a generated value into the words for data type t.
// DATETIME ignores v and encodes now. Integer types truncate v; INT16 and
// INT16U are additionally clamped to [0, 65535].
func Encode(t DataType, v float64, now time.Time) []uint16 {
	switch t.Canonical() {
	case TypeInt16, TypeInt16U:
		return []uint16{clampWord(math.Floor(v))}
	case TypeInt64:
		w := Int64ToWords(truncInt64(v))
		return w[:]
	case TypeDateTime:
		w := TimestampToWords(now.Unix())
		return w[:]
	default:
		w := FloatToWords(float32(v))
		return w[:]
	}
}

// Decode converts the words of a data type back into a number. words must
// hold at least t.Width() entries; missing words read as zero.
func Decode(t DataType, words []uint16) float64 {
	w := make([]uint16, t.Width())
	copy(w, words)

	switch t.Canonical() {
	case TypeInt16, TypeInt16U:
		return float64(w[0])
	case TypeInt64:
		return float64(WordsToInt64(w[0], w[1], w[2], w[3]))
	case TypeDateTime:
		return float64(WordsToTimestamp(w[0], w[1]))
	default:
		return float64(WordsToFloat(w[0], w[1]))
	}
}

// DecodeValue decodes words into a typed value and its display string.
// Integer types yield int64, DATETIME yields Unix seconds shown as RFC 3339,
// and everything else yields float64 shown with four decimals. Words that
// decode to NaN or an infinity yield a nil value.
func DecodeValue(t DataType, words []uint16) (interface{}, string) {
	w := make([]uint16, t.Width())
	copy(w, words)

	switch t.Canonical() {
	case TypeInt16, TypeInt16U:
		return int64(w[0]), strconv.FormatUint(uint64(w[0]), 10)
	case TypeInt64:
		v := WordsToInt64(w[0], w[1], w[2], w[3])
		return v, strconv.FormatInt(v, 10)
	case TypeDateTime:
		ts := WordsToTimestamp(w[0], w[1])
		return ts, time.Unix(ts, 0).Format(time.RFC3339)
	default:
		f := float64(WordsToFloat(w[0], w[1]))
		display := strconv.FormatFloat(f, 'f', 4, 64)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, display
		}
		return f, display
	}
}

func clampWord(v float64) uint16 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}

// truncInt64 truncates toward zero; NaN becomes 0 and out-of-range values
// saturate at the int64 limits.
func truncInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(v)
	}
}
