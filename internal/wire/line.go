package wire

import "bytes"

// NextLine extracts the first CRLF-terminated line from buf, if any.
// It returns the line (without the CRLF), the remainder of buf, and whether
// a line was found. It never allocates beyond the two returned slices, which
// alias buf.
func NextLine(buf []byte) (line []byte, rest []byte, ok bool) {
	n := bytes.Index(buf, crlfBytes)
	if n == -1 {
		return nil, buf, false
	}
	return buf[:n], buf[n+len(crlfBytes):], true
}
