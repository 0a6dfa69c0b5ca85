// Package fourcc handles the 4-character pixel format codes used by
// capture drivers. A code like "YUYV" is uppercased and packed into a
// uint32 tag, least significant byte first, which is the byte order
// V4L2 and most capture hardware expect on the wire.
package fourcc

import (
	"fmt"
	"strings"
)

// Code is a packed 4-character pixel format tag.
type Code uint32

// Common capture formats.
const (
	YUYV = Code('Y') | Code('U')<<8 | Code('Y')<<16 | Code('V')<<24
	UYVY = Code('U') | Code('Y')<<8 | Code('V')<<16 | Code('Y')<<24
	NV12 = Code('N') | Code('V')<<8 | Code('1')<<16 | Code('2')<<24
	MJPG = Code('M') | Code('J')<<8 | Code('P')<<16 | Code('G')<<24
	RGB3 = Code('R') | Code('G')<<8 | Code('B')<<16 | Code('3')<<24
	BGR3 = Code('B') | Code('G')<<8 | Code('R')<<16 | Code('3')<<24
)

// Parse packs a 4-character code into a tag. The code is uppercased
// first, so "yuyv" and "YUYV" produce the same tag. Codes that are not
// exactly 4 characters are rejected.
func Parse(s string) (Code, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%q is not a valid FOURCC: want 4 characters, got %d", s, len(s))
	}
	u := strings.ToUpper(s)
	return Code(u[0]) | Code(u[1])<<8 | Code(u[2])<<16 | Code(u[3])<<24, nil
}

// String unpacks the tag back into its 4-character form.
func (c Code) String() string {
	return string([]byte{byte(c), byte(c >> 8), byte(c >> 16), byte(c >> 24)})
}
