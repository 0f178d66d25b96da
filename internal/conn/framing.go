package conn

import (
	"errors"
	"fmt"
)

// Sentinel is the single-byte frame terminator the DC protocol uses. The
// multiplexer itself is protocol-agnostic; this package is the one layer
// that knows the terminator is '|' rather than some other length-delimited
// scheme (spec.md §6 "Frame format").
const Sentinel = '|'

// ErrFrameTooLarge is returned when a frame (or an as-yet-undelimited
// prefix of one) exceeds the configured maximum size.
var ErrFrameTooLarge = errors.New("conn: frame exceeds maximum size")

// ExtractFrames scans buf for Sentinel-terminated frames. Complete frames
// (sentinel excluded) are returned in order; any trailing bytes after the
// last sentinel are returned as remainder, for the caller to prepend to
// the next read. remainder aliases buf's backing array — callers that will
// mutate or reuse buf before consuming remainder must copy it.
//
// maxSize bounds both completed frames and the not-yet-terminated
// remainder, so a peer that never sends a sentinel cannot grow the inbound
// buffer without limit.
func ExtractFrames(buf []byte, maxSize int) (frames [][]byte, remainder []byte, err error) {
	start := 0
	for i, b := range buf {
		if b != Sentinel {
			continue
		}
		frame := buf[start:i]
		if len(frame) > maxSize {
			return frames, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), maxSize)
		}
		frames = append(frames, frame)
		start = i + 1
	}

	remainder = buf[start:]
	if len(remainder) > maxSize {
		return frames, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(remainder), maxSize)
	}

	return frames, remainder, nil
}
