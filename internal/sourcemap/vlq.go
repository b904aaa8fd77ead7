package sourcemap

import (
	"errors"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Index = func() [128]int8 {
	var idx [128]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base64Chars); i++ {
		idx[base64Chars[i]] = int8(i)
	}
	return idx
}()

var errInvalidVLQ = errors.New("sourcemap: invalid base64 VLQ")

// writeVLQ appends the base64 VLQ encoding of v.
func writeVLQ(b *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 0x1f
		u >>= 5
		if u > 0 {
			digit |= 0x20
		}
		b.WriteByte(base64Chars[digit])
		if u == 0 {
			return
		}
	}
}

// readVLQ decodes one value from s starting at i and returns the next offset.
func readVLQ(s string, i int) (int, int, error) {
	var (
		result int
		shift  uint
	)
	for {
		if i >= len(s) || s[i] >= 128 {
			return 0, i, errInvalidVLQ
		}
		digit := int(base64Index[s[i]])
		if digit < 0 {
			return 0, i, errInvalidVLQ
		}
		i++
		result |= (digit & 0x1f) << shift
		if digit&0x20 == 0 {
			break
		}
		shift += 5
	}
	if result&1 == 1 {
		return -(result >> 1), i, nil
	}
	return result >> 1, i, nil
}
