//go:build unix

package hub

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenTCP opens a non-blocking, raw IPv4 TCP listening socket on port.
// The reactor (internal/reactor) operates directly on OS descriptors, so
// the listener and every accepted peer socket are raw fds rather than
// net.Conn — mixing Go's own netpoller with a second epoll instance over
// the same descriptors would race both pollers against each other.
func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("hub: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("hub: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("hub: bind port %d: %w", port, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("hub: listen: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("hub: set listener non-blocking: %w", err)
	}

	return fd, nil
}

// acceptOne accepts a single pending connection on listenFD. Returns
// (-1, "", unix.EAGAIN) when the listening socket has no pending
// connection right now — a normal outcome, not a failure, for a caller
// that only calls accept after the Readiness Poller reports the listener
// readable (spec.md §4.D "Descriptor exhaustion on accept: fail the
// accept, do not crash the listener" covers the other non-fatal cases).
func acceptOne(listenFD int) (fd int, peerAddr string, err error) {
	nfd, sa, err := unix.Accept(listenFD)
	if err != nil {
		return -1, "", err
	}

	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, "", fmt.Errorf("hub: set accepted socket non-blocking: %w", err)
	}

	return nfd, sockaddrToString(sa), nil
}

func sockaddrToString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3])
		return ip.String()
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return ip.String()
	default:
		return ""
	}
}

// readFD performs one non-blocking read attempt. unix.EAGAIN means no data
// is available right now, not an error the caller should treat as fatal.
func readFD(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// writeFD performs one non-blocking write attempt, returning however many
// bytes were actually accepted by the kernel (possibly fewer than
// len(buf); spec.md §4.D treats a short write as the normal partial-write
// case, retried next tick).
func writeFD(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

// localPort returns the port a listening socket was actually bound to,
// useful for tests that bind port 0 and need the OS-assigned port back.
func localPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("hub: getsockname: %w", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("hub: unexpected sockaddr type %T", sa)
	}
	return in4.Port, nil
}
