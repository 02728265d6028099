package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitAbsoluteURI splits an absolute-form GET target
// ("http://host[:port]/path") into host, port (defaulting to 80) and an
// origin-form path. A URI with no "//" is rejected per spec.md §4.3's
// 400 Bad request edge case.
func SplitAbsoluteURI(uri string) (host string, port int, path string, err error) {
	rest := uri
	if i := strings.Index(rest, "//"); i != -1 {
		rest = rest[i+2:]
	} else {
		return "", 0, "", fmt.Errorf("URI missing authority separator: %q", uri)
	}

	hostport := rest
	path = "/"
	if i := strings.IndexByte(rest, '/'); i != -1 {
		hostport = rest[:i]
		path = rest[i:]
	}

	host, port, err = SplitHostPort(hostport, 80)
	if err != nil {
		return "", 0, "", err
	}
	return host, port, path, nil
}

// SplitHostPort splits "host[:port]" into host and port, defaulting to
// defaultPort when no port is present — used for both absolute-form GET
// authorities and CONNECT targets.
func SplitHostPort(hostport string, defaultPort int) (host string, port int, err error) {
	if i := strings.LastIndexByte(hostport, ':'); i != -1 {
		p, perr := strconv.Atoi(hostport[i+1:])
		if perr != nil {
			return "", 0, fmt.Errorf("invalid port in %q", hostport)
		}
		return hostport[:i], p, nil
	}
	if hostport == "" {
		return "", 0, fmt.Errorf("empty host")
	}
	return hostport, defaultPort, nil
}
