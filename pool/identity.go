package pool

import (
	"fmt"
	"net"
	"strconv"
)

// Identity names one Redis server (and logical database). Connections are
// shared per Identity.
type Identity struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ParseIdentity builds an Identity from a host:port address.
func ParseIdentity(addr string) (Identity, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Identity{}, fmt.Errorf("parse redis address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Identity{}, fmt.Errorf("parse redis address %q: invalid port", addr)
	}
	return Identity{Host: host, Port: port}, nil
}

// Addr returns the dialable host:port.
func (id Identity) Addr() string {
	return net.JoinHostPort(id.Host, strconv.Itoa(id.Port))
}

// String is the pool key. The password is not part of it.
func (id Identity) String() string {
	return fmt.Sprintf("%s/%d", id.Addr(), id.DB)
}
