//go:build !linux && unix

package reactor

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// NewPoller builds the portable poll(2)-backed Poller used on non-Linux
// unix targets. Same golang.org/x/sys/unix family as the Linux epoll
// backend, chosen here because unix.Poll (unlike epoll) is available
// across BSD/Darwin without a kqueue-specific event struct. A self-pipe is
// opened alongside the interest set so SetInterest can synthesize an
// immediate wakeup when a descriptor's interest mask gains the Close bit
// (spec.md §4.B), the classic self-pipe trick for poll-family backends
// that have no native eventfd equivalent.
func NewPoller() (Poller, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	return &pollPoller{
		interest: make(map[Descriptor]EventMask),
		wakeR:    fds[0],
		wakeW:    fds[1],
	}, nil
}

type pollPoller struct {
	interest map[Descriptor]EventMask
	wakeR    int
	wakeW    int
}

// wake forces the next (or an in-flight) unix.Poll to return immediately.
func (p *pollPoller) wake() {
	_, _ = unix.Write(p.wakeW, []byte{1})
}

// drainWake empties the self-pipe after a wakeup has been observed.
func (p *pollPoller) drainWake() {
	buf := make([]byte, 64)
	for {
		_, err := unix.Read(p.wakeR, buf)
		if err != nil {
			return
		}
	}
}

func maskToPoll(mask EventMask) int16 {
	var ev int16
	if mask.Any(Readable) {
		ev |= unix.POLLIN
	}
	if mask.Any(Writable) {
		ev |= unix.POLLOUT
	}
	return ev
}

func pollToMask(ev int16) EventMask {
	var mask EventMask
	if ev&unix.POLLIN != 0 {
		mask |= Readable
	}
	if ev&unix.POLLOUT != 0 {
		mask |= Writable
	}
	if ev&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		mask |= Error
	}
	return mask
}

func (p *pollPoller) AddFD(d Descriptor, mask EventMask) error {
	p.interest[d] = mask
	return nil
}

func (p *pollPoller) RemoveFD(d Descriptor) error {
	delete(p.interest, d)
	return nil
}

func (p *pollPoller) SetInterest(d Descriptor, mask EventMask) error {
	if _, ok := p.interest[d]; !ok {
		return fmt.Errorf("poll: descriptor %d not tracked", d)
	}
	p.interest[d] = mask
	if mask.Any(Close) {
		// The close-requested bit carries no POLLIN/POLLOUT translation of
		// its own (spec.md §4.B); it must still force an immediate Poll
		// return even when no OS-level readiness fired for d.
		p.wake()
	}
	return nil
}

func (p *pollPoller) Poll(timeout time.Duration) ([]ReadyEvent, error) {
	fds := make([]unix.PollFd, 0, len(p.interest)+1)
	for d, mask := range p.interest {
		fds = append(fds, unix.PollFd{Fd: int32(d), Events: maskToPoll(mask)})
	}

	sort.Slice(fds, func(i, j int) bool { return fds[i].Fd < fds[j].Fd })

	fds = append(fds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})

	n, err := unix.Poll(fds, msec(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poll: %w", err)
	}

	if n == 0 {
		return nil, nil
	}

	ready := make([]ReadyEvent, 0, n)
	for _, fd := range fds {
		if fd.Revents == 0 {
			continue
		}
		if int(fd.Fd) == p.wakeR {
			p.drainWake()
			continue
		}
		ready = append(ready, ReadyEvent{
			Descriptor: Descriptor(fd.Fd),
			Revents:    pollToMask(fd.Revents),
		})
	}

	return ready, nil
}

func (p *pollPoller) Close() error {
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	p.interest = nil
	return nil
}
