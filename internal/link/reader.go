// Package link implements the byte-oriented reader/framer (C2) that turns a
// raw, lossy-looking serial stream into whole wire.Packet values, with the
// bounded re-sync discipline the protocol requires of a noisy link.
package link

import (
	"bytes"
	"time"

	"github.com/pmcloud/serclient/internal/wire"
)

// resyncWindow bounds the cost of skipping a run of garbage bytes once a
// header has been judged invalid.
const resyncWindow = 5000

// logicTimeout is how long a well-formed-but-incomplete header may sit in
// the accumulator before it is treated as stuck.
const logicTimeout = 30 * time.Second

// Device is the raw byte source the reader pulls from: a serial port or any
// other io.Reader whose Read blocks for at most its own device-level
// timeout and returns (0, nil) on that timeout rather than an error.
type Device interface {
	Read(p []byte) (n int, err error)
}

// TimedOut describes a logic-timeout event: a header stayed well-formed for
// more than logicTimeout without its body/footer completing.
type TimedOut struct {
	CorrelationID string
	FragmentIndex uint32
	FragmentCount uint32
}

// Reader is a pure function of (accumulator, clock, device): it holds no
// message-level semantics, only framing state.
type Reader struct {
	dev Device
	acc []byte

	headerSeenAt time.Time
	now          func() time.Time

	readBuf []byte
}

// NewReader constructs a Reader over dev. readChunk bounds how many bytes
// are requested from dev per underlying Read call.
func NewReader(dev Device, readChunk int) *Reader {
	if readChunk <= 0 {
		readChunk = 4096
	}
	return &Reader{
		dev:     dev,
		now:     time.Now,
		readBuf: make([]byte, readChunk),
	}
}

// Next runs one loop tick of §4.2. It returns at most one of: a decoded
// packet, a logic-timeout event, or neither (meaning the caller should call
// Next again — this is the normal outcome of a device read timing out with
// no new bytes).
func (r *Reader) Next() (pkt wire.Packet, pktOK bool, timedOut *TimedOut, err error) {
	// Step 1: top up the accumulator if we don't even have a header yet.
	if len(r.acc) < wire.HeaderSize {
		n, rerr := r.dev.Read(r.readBuf)
		if n > 0 {
			r.acc = append(r.acc, r.readBuf[:n]...)
		}
		if rerr != nil {
			return wire.Packet{}, false, nil, rerr
		}
		if len(r.acc) < wire.HeaderSize {
			return wire.Packet{}, false, nil, nil
		}
	}

	fields, herr := wire.ParseHeader(r.acc[:wire.HeaderSize])
	if herr != nil {
		// Step 2: invalid header -> drop one byte, fast-skip to the next
		// plausible frame start.
		r.headerSeenAt = time.Time{}
		r.acc = r.acc[1:]
		r.resync()
		return wire.Packet{}, false, nil, nil
	}

	if r.headerSeenAt.IsZero() {
		r.headerSeenAt = r.now()
	}

	frameLen := wire.HeaderSize + int(fields.BodyLength) + wire.FooterSize
	if len(r.acc) < frameLen {
		// Step 4: logic timeout on a stuck header.
		if r.now().Sub(r.headerSeenAt) > logicTimeout {
			evt := &TimedOut{
				CorrelationID: fields.CorrelationID,
				FragmentIndex: fields.FragmentIndex,
				FragmentCount: fields.FragmentCount,
			}
			r.headerSeenAt = time.Time{}
			r.acc = r.acc[1:]
			r.resync()
			return wire.Packet{}, false, evt, nil
		}

		// Step 3: not enough bytes yet for the whole frame.
		n, rerr := r.dev.Read(r.readBuf)
		if n > 0 {
			r.acc = append(r.acc, r.readBuf[:n]...)
		}
		if rerr != nil {
			return wire.Packet{}, false, nil, rerr
		}
		return wire.Packet{}, false, nil, nil
	}

	frame := r.acc[:frameLen]
	p, derr := wire.Decode(frame)
	if derr != nil {
		// CRC/footer failure: drop one byte, re-sync.
		r.headerSeenAt = time.Time{}
		r.acc = r.acc[1:]
		r.resync()
		return wire.Packet{}, false, nil, nil
	}

	r.acc = r.acc[frameLen:]
	r.headerSeenAt = time.Time{}
	return p, true, nil, nil
}

// resync drops bytes from the front of the accumulator, bounded by
// resyncWindow, until it finds a byte that could start a new header
// (the leading magic byte) or exhausts the window.
func (r *Reader) resync() {
	if len(r.acc) == 0 {
		return
	}
	limit := len(r.acc)
	if limit > resyncWindow {
		limit = resyncWindow
	}
	if idx := bytes.IndexByte(r.acc[:limit], 0x02); idx > 0 {
		r.acc = r.acc[idx:]
		return
	} else if idx == 0 {
		return
	}
	// No candidate found within the window: drop the whole scanned span.
	r.acc = r.acc[limit:]
}
