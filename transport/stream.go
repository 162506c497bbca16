// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/dbus/wire"
)

// Stream is the byte-stream transport: unix domain sockets (path or
// abstract), plain TCP, and unixexec (a helper process reached over a
// socketpair wired to its stdin/stdout). It implements framing by reading
// into a growable buffer, peeking the fixed header to learn the full
// frame length, and yielding exactly one message per completed frame —
// the same "read what's available, try to make progress, come back later"
// shape as connection.go's readMessage/writeMessage in the teacher, just
// against a socket fd instead of /dev/fuse.
type Stream struct {
	fd int

	// cmd is non-nil only for the unixexec variant, whose lifetime is tied
	// to the child process.
	cmd *exec.Cmd

	readBuf []byte // bytes read but not yet consumed into a full frame.
	pendingFDs []int // fds received via SCM_RIGHTS, awaiting attachment.

	fdPassingNegotiated bool
	fdPassingConfirmed  bool

	authPending []byte // bytes still to be written for the SASL exchange.
	sasl        saslState
}

var _ Transport = (*Stream)(nil)
var _ Authenticator = (*Stream)(nil)

// NewFromFD wraps an already-connected, already-nonblocking fd.
func NewFromFD(fd int) *Stream {
	return &Stream{fd: fd}
}

// DialUnix connects to a unix domain socket, or an abstract-namespace
// socket if abstract is true.
func DialUnix(path string, abstract bool) (*Stream, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("dbus/transport: socket: %w", err)
	}
	unix.CloseOnExec(fd)

	sa := &unix.SockaddrUnix{Name: path}
	if abstract {
		// The leading NUL is what makes a unix socket name abstract on
		// Linux; unix.SockaddrUnix treats a Name beginning with '\x00' as
		// abstract, so it is prepended explicitly here.
		sa.Name = "\x00" + path
	}

	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dbus/transport: connect: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dbus/transport: set nonblocking: %w", err)
	}

	return &Stream{fd: fd}, nil
}

// DialTCP connects to host:port.
func DialTCP(host, port string, ipv6 bool) (*Stream, error) {
	domain := unix.AF_INET
	if ipv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("dbus/transport: socket: %w", err)
	}
	unix.CloseOnExec(fd)

	if err := connectTCP(fd, host, port, ipv6); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dbus/transport: set nonblocking: %w", err)
	}

	return &Stream{fd: fd}, nil
}

// DialExec spawns argv[0] with the remaining elements as its arguments,
// and wires a unix socketpair to its stdin and stdout — the same fd
// arrangement a bidirectional exec transport needs, grounded on the
// ExtraFiles handoff mount_darwin.go uses to pass the FUSE device fd to
// its mount helper.
func DialExec(argv []string) (*Stream, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("dbus/transport: empty argv")
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("dbus/transport: socketpair: %w", err)
	}
	ours, theirs := fds[0], fds[1]
	unix.CloseOnExec(ours)

	childEnd := os.NewFile(uintptr(theirs), "dbus-exec-child")
	defer childEnd.Close()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = childEnd
	cmd.Stdout = childEnd
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		unix.Close(ours)
		return nil, fmt.Errorf("dbus/transport: start %v: %w", argv, err)
	}

	if err := unix.SetNonblock(ours, true); err != nil {
		cmd.Process.Kill()
		unix.Close(ours)
		return nil, fmt.Errorf("dbus/transport: set nonblocking: %w", err)
	}

	return &Stream{fd: ours, cmd: cmd}, nil
}

func (s *Stream) Fd() int { return s.fd }

func (s *Stream) Events() PollEvents {
	ev := PollIn
	if len(s.authPending) > 0 {
		ev |= PollOut
	}
	return ev
}

func (s *Stream) SupportsFDPassing() bool { return s.fdPassingConfirmed }

// NegotiateFDPassing records that UNIX_FD passing was asked for (by
// config) and, separately, whether the peer confirmed it during the SASL
// handshake. Both must be true before SupportsFDPassing returns true.
func (s *Stream) NegotiateFDPassing(confirmed bool) {
	s.fdPassingNegotiated = true
	s.fdPassingConfirmed = confirmed
}

func (s *Stream) Close() error {
	err := unix.Close(s.fd)
	if s.cmd != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return err
}

// Write marshals msg afresh on every call (it is immutable once sealed,
// so this is correct, merely not maximally efficient) and writes the
// unwritten suffix starting at *idx, attaching fds via SCM_RIGHTS on the
// first attempt only.
func (s *Stream) Write(msg wire.Message, idx *int) (WriteOutcome, error) {
	if msg.NumFDs() > 0 && !s.SupportsFDPassing() {
		return 0, ErrNotSupported
	}

	buf, fds, err := msg.Marshal()
	if err != nil {
		return 0, err
	}

	if *idx >= len(buf) {
		return WriteDone, nil
	}

	remaining := buf[*idx:]
	var n int
	if *idx == 0 && len(fds) > 0 {
		oob := unix.UnixRights(fds...)
		n, err = unix.SendmsgN(s.fd, remaining, oob, nil, 0)
	} else {
		n, err = unix.Write(s.fd, remaining)
	}

	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return WriteWouldBlock, nil
		}
		return 0, err
	}

	*idx += n
	if *idx >= len(buf) {
		return WriteDone, nil
	}
	return WritePartial, nil
}

const readChunk = 1 << 16

// Read pulls any available bytes off the socket (non-blocking), folds any
// received ancillary fds into the pending-fd list, and returns the next
// complete frame once the buffer holds one.
func (s *Stream) Read() (wire.Message, error) {
	for {
		if len(s.readBuf) >= wire.HeaderLen {
			frameLen, err := wire.PeekFrameLength(s.readBuf)
			if err != nil {
				return nil, err
			}
			if uint32(len(s.readBuf)) >= frameLen {
				frame := s.readBuf[:frameLen]
				s.readBuf = append([]byte(nil), s.readBuf[frameLen:]...)

				m, err := wire.Unmarshal(frame)
				if err != nil {
					return nil, err
				}
				if len(s.pendingFDs) > 0 {
					m.SetFDs(s.pendingFDs)
					s.pendingFDs = nil
				}
				return m, nil
			}
		}

		buf := make([]byte, readChunk)
		oob := make([]byte, unix.CmsgSpace(16*4))
		n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil, nil
			}
			return nil, err
		}
		if n == 0 && oobn == 0 {
			return nil, errConnectionClosed
		}

		s.readBuf = append(s.readBuf, buf[:n]...)

		if oobn > 0 {
			fds, err := parseRights(oob[:oobn])
			if err == nil {
				s.pendingFDs = append(s.pendingFDs, fds...)
			}
		}

		if n < readChunk && oobn == 0 {
			// Nothing more to read right now; loop back to see whether we
			// now have a full frame.
			if len(s.readBuf) < wire.HeaderLen {
				return nil, nil
			}
		}
	}
}

func parseRights(oob []byte) ([]int, error) {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, scm := range scms {
		got, err := unix.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

var errConnectionClosed = fmt.Errorf("dbus/transport: connection closed by peer")
