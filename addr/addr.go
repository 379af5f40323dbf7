package addr

import (
	"net"
	"strconv"

	"github.com/ringdb/ring-go-driver/internal/xerrors"
)

// Addr identifies a cluster node by IP (or resolvable name) and port.
// Addr is comparable and usable as a map key.
type Addr struct {
	Host string
	Port int
}

func New(host string, port int) Addr {
	return Addr{Host: host, Port: port}
}

// Parse parses "host" or "host:port" forms, applying defaultPort when
// the port is omitted.
func Parse(s string, defaultPort int) (Addr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{Host: s, Port: defaultPort}, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Addr{}, xerrors.Errorf("addr: invalid port in %q: %w", s, err)
	}

	return Addr{Host: host, Port: p}, nil
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Addr) IsZero() bool {
	return a.Host == "" && a.Port == 0
}
