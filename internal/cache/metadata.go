package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// metadata is the parsed form of a cache/metadata/<fingerprint> file:
// spec.md's three lines, expiration_date / url / hits.
type metadata struct {
	ExpirationUnix int64
	URL            string
	Hits           int
}

func (m metadata) encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "expiration_date:%d\r\n", m.ExpirationUnix)
	fmt.Fprintf(&b, "url:%s\r\n", m.URL)
	fmt.Fprintf(&b, "hits:%d\r\n", m.Hits)
	return []byte(b.String())
}

func parseMetadata(raw []byte) (metadata, error) {
	var m metadata
	lines := strings.Split(string(raw), "\r\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			return metadata{}, fmt.Errorf("malformed metadata line %q", line)
		}
		switch kv[0] {
		case "expiration_date":
			n, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return metadata{}, fmt.Errorf("bad expiration_date: %w", err)
			}
			m.ExpirationUnix = n
		case "url":
			m.URL = kv[1]
		case "hits":
			n, err := strconv.Atoi(kv[1])
			if err != nil {
				return metadata{}, fmt.Errorf("bad hits: %w", err)
			}
			m.Hits = n
		}
	}
	return m, nil
}
