package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Headers is an insertion-ordered, case-sensitive header accumulator. Real
// HTTP header names are case-insensitive, but this proxy treats them
// case-sensitively end to end (spec.md §9) — a conscious, recorded choice,
// not an oversight.
type Headers struct {
	order []string
	value map[string]string
}

// NewHeaders returns an empty header accumulator.
func NewHeaders() *Headers {
	return &Headers{value: make(map[string]string)}
}

// Set records name:value, overwriting any previous value for the same name
// without disturbing its position in iteration order (last-seen-wins, as
// spec.md's RequestContext requires).
func (h *Headers) Set(name, value string) {
	if _, exists := h.value[name]; !exists {
		h.order = append(h.order, name)
	}
	h.value[name] = value
}

// Get returns the current value for name and whether it was present.
func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.value[name]
	return v, ok
}

// GetOr returns the current value for name, or fallback if absent.
func (h *Headers) GetOr(name, fallback string) string {
	if v, ok := h.value[name]; ok {
		return v
	}
	return fallback
}

// Len returns the number of distinct headers accumulated so far.
func (h *Headers) Len() int {
	return len(h.order)
}

// Each calls fn once per header in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	for _, name := range h.order {
		fn(name, h.value[name])
	}
}

// ContentLength returns the parsed Content-Length, defaulting to 0 when the
// header is absent — spec.md §4.3 treats a missing Content-Length as zero.
func (h *Headers) ContentLength() (int, error) {
	raw, ok := h.Get("Content-Length")
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid Content-Length %q", raw)
	}
	return n, nil
}

// ParseHeaderLine splits "Name: value" into its two parts. A line with no
// colon is a protocol violation.
func ParseHeaderLine(line string) (name, value string, err error) {
	i := strings.IndexByte(line, ':')
	if i == -1 {
		return "", "", fmt.Errorf("invalid header line %q", line)
	}
	name = strings.TrimRight(line[:i], " \t")
	value = strings.TrimLeft(line[i+1:], " \t")
	return name, value, nil
}

// AddHeaderLine parses line and stores it into h, enforcing the
// MaxHeaderCount cap from spec.md §4.3.
func AddHeaderLine(line string, h *Headers) error {
	if h.Len() >= MaxHeaderCount {
		return fmt.Errorf("too many headers")
	}
	name, value, err := ParseHeaderLine(line)
	if err != nil {
		return err
	}
	h.Set(name, value)
	return nil
}

// CacheControlMaxAge parses a Cache-Control header value looking for a
// positive max-age directive. It returns (seconds, true) only when max-age
// is present and a positive integer — everything else (no-store, no-cache,
// private, non-positive max-age, or the header's absence) yields (0, false).
func CacheControlMaxAge(headers *Headers) (int, bool) {
	raw, ok := headers.Get("Cache-Control")
	if !ok {
		return 0, false
	}
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || !strings.EqualFold(kv[0], "max-age") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
