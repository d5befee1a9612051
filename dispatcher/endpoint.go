// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dispatcher

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/z5labs/forkserve/gateway"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen queue length used when none is configured.
const DefaultBacklog = 1024

// Endpoint is a bound and listening IPv4 TCP socket.
type Endpoint struct {
	ln *net.TCPListener

	// ServerName is the fully qualified name of the bound address.
	ServerName string
	Port       int
}

// ListenError is returned when the listening socket can not be set up.
type ListenError struct {
	Addr  string
	Cause error
}

// Error implements the error interface.
func (e ListenError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %s", e.Addr, e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e ListenError) Unwrap() error {
	return e.Cause
}

// Listen binds host:port with SO_REUSEADDR and starts listening with the
// given backlog. An empty host binds every interface. The socket is
// close-on-exec so worker processes never inherit it.
func Listen(ctx context.Context, host string, port, backlog int) (*Endpoint, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, ListenError{Addr: addr, Cause: err}
	}

	ln, err := listen(ip, port, backlog)
	if err != nil {
		return nil, ListenError{Addr: addr, Cause: err}
	}

	bound := ln.Addr().(*net.TCPAddr)
	ep := &Endpoint{
		ln:         ln,
		ServerName: fqdn(ctx, net.DefaultResolver, bound.IP),
		Port:       bound.Port,
	}
	return ep, nil
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if host == "" {
		return net.IPv4zero, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("not an ipv4 address: %s", host)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ip4 := addr.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no ipv4 address found for %s", host)
}

func listen(ip net.IP, port, backlog int) (*net.TCPListener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	// closes fd, net.FileListener holds its own duplicate
	f := os.NewFile(uintptr(fd), "forkserve-listener")
	defer f.Close()

	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		return nil, os.NewSyscallError("setsockopt", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip.To4())
	err = unix.Bind(fd, sa)
	if err != nil {
		return nil, os.NewSyscallError("bind", err)
	}

	err = unix.Listen(fd, backlog)
	if err != nil {
		return nil, os.NewSyscallError("listen", err)
	}

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

type resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// fqdn names ip the way clients would address the server. The
// unspecified address is named after the machine itself, qualified
// through its own addresses when the resolver knows them.
func fqdn(ctx context.Context, r resolver, ip net.IP) string {
	if !ip.IsUnspecified() {
		name, ok := reverseName(ctx, r, ip.String())
		if !ok {
			return ip.String()
		}
		return name
	}

	host, err := os.Hostname()
	if err != nil {
		return ip.String()
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return host
	}
	for _, addr := range addrs {
		name, ok := reverseName(ctx, r, addr)
		if ok && strings.Contains(name, ".") {
			return name
		}
	}
	return host
}

// reverseName prefers a dotted name among the names addr resolves to.
func reverseName(ctx context.Context, r resolver, addr string) (string, bool) {
	names, err := r.LookupAddr(ctx, addr)
	if err != nil || len(names) == 0 {
		return "", false
	}
	for _, name := range names {
		name = strings.TrimSuffix(name, ".")
		if strings.Contains(name, ".") {
			return name, true
		}
	}
	return strings.TrimSuffix(names[0], "."), true
}

// Addr returns the bound address.
func (ep *Endpoint) Addr() net.Addr {
	return ep.ln.Addr()
}

// ServerInfo returns the name and port reported to applications.
func (ep *Endpoint) ServerInfo() gateway.ServerInfo {
	return gateway.ServerInfo{Name: ep.ServerName, Port: ep.Port}
}

// AcceptTCP waits for the next connection.
func (ep *Endpoint) AcceptTCP() (*net.TCPConn, error) {
	return ep.ln.AcceptTCP()
}

// Close stops listening.
func (ep *Endpoint) Close() error {
	return ep.ln.Close()
}
