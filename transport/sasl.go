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
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// AuthConfig selects how Stream.AuthStep authenticates.
type AuthConfig struct {
	Anonymous      bool // use ANONYMOUS instead of EXTERNAL.
	Server         bool // accepting side; not read: AuthStep drives only the client side.
	NegotiateFDs   bool // attempt NEGOTIATE_UNIX_FD before BEGIN.
	UID            int  // peer-credentials uid, for EXTERNAL.

	// AllowCookieAuth permits falling back to DBUS_COOKIE_SHA1 when the
	// EXTERNAL mechanism is rejected, restoring a mechanism the distilled
	// spec is silent on but the original library supports for same-host
	// authentication without peer-credential support.
	AllowCookieAuth bool
}

type authPhase int

const (
	authInitialByte authPhase = iota
	authSendLine
	authAwaitOK
	authSendCookieLine
	authAwaitCookieData
	authSendCookieResponse
	authAwaitCookieOK
	authSendNegotiateFD
	authAwaitFDReply
	authSendBegin
	authDone
)

// saslState is embedded into Stream so sasl.go can carry its handshake
// progress without polluting Stream's main fields.
type saslState struct {
	cfg   AuthConfig
	phase authPhase

	readBuf []byte // unconsumed bytes read during the text phase.

	fdConfirmed       bool
	pendingCookieResp string
}

// BeginAuth configures and resets the handshake so AuthStep can be called
// repeatedly from the OPENING/AUTHENTICATING states until it reports done.
func (s *Stream) BeginAuth(cfg AuthConfig) {
	s.sasl = saslState{cfg: cfg, phase: authInitialByte}
}

// AuthStep drives one step of the client side of the handshake without
// blocking. It is safe to call repeatedly; Events reports POLLIN always,
// plus POLLOUT while authPending is non-empty, per spec.md §4.2.
func (s *Stream) AuthStep() (bool, error) {
	st := &s.sasl

	if len(s.authPending) > 0 {
		if err := s.flushPending(); err != nil {
			return false, err
		}
		if len(s.authPending) > 0 {
			return false, nil
		}
	}

	switch st.phase {
	case authInitialByte:
		if err := s.writeAll([]byte{0}); err != nil {
			return false, err
		}
		st.phase = authSendLine
		return s.AuthStep()

	case authSendLine:
		line := authLine(st.cfg)
		if err := s.writeAll(line); err != nil {
			return false, err
		}
		st.phase = authAwaitOK
		return false, nil

	case authAwaitOK:
		line, ok, err := s.readLine(st)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if !bytes.HasPrefix(line, []byte("OK")) {
			if st.cfg.AllowCookieAuth && !st.cfg.Anonymous {
				st.phase = authSendCookieLine
				return s.AuthStep()
			}
			return false, fmt.Errorf("dbus/transport: SASL rejected: %q", line)
		}
		if st.cfg.NegotiateFDs {
			st.phase = authSendNegotiateFD
		} else {
			st.phase = authSendBegin
		}
		return s.AuthStep()

	case authSendCookieLine:
		uidStr := strconv.Itoa(st.cfg.UID)
		line := fmt.Sprintf("AUTH DBUS_COOKIE_SHA1 %s\r\n", hex.EncodeToString([]byte(uidStr)))
		if err := s.writeAll([]byte(line)); err != nil {
			return false, err
		}
		st.phase = authAwaitCookieData
		return false, nil

	case authAwaitCookieData:
		line, ok, err := s.readLine(st)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if !bytes.HasPrefix(line, []byte("DATA ")) {
			return false, fmt.Errorf("dbus/transport: DBUS_COOKIE_SHA1 rejected: %q", line)
		}
		resp, err := cookieResponse(string(bytes.TrimPrefix(line, []byte("DATA "))))
		if err != nil {
			return false, err
		}
		st.pendingCookieResp = resp
		st.phase = authSendCookieResponse
		return s.AuthStep()

	case authSendCookieResponse:
		line := fmt.Sprintf("DATA %s\r\n", hex.EncodeToString([]byte(st.pendingCookieResp)))
		if err := s.writeAll([]byte(line)); err != nil {
			return false, err
		}
		st.phase = authAwaitCookieOK
		return false, nil

	case authAwaitCookieOK:
		line, ok, err := s.readLine(st)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if !bytes.HasPrefix(line, []byte("OK")) {
			return false, fmt.Errorf("dbus/transport: DBUS_COOKIE_SHA1 rejected: %q", line)
		}
		if st.cfg.NegotiateFDs {
			st.phase = authSendNegotiateFD
		} else {
			st.phase = authSendBegin
		}
		return s.AuthStep()

	case authSendNegotiateFD:
		if err := s.writeAll([]byte("NEGOTIATE_UNIX_FD\r\n")); err != nil {
			return false, err
		}
		st.phase = authAwaitFDReply
		return false, nil

	case authAwaitFDReply:
		line, ok, err := s.readLine(st)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		st.fdConfirmed = bytes.HasPrefix(line, []byte("AGREE_UNIX_FD"))
		st.phase = authSendBegin
		return s.AuthStep()

	case authSendBegin:
		if err := s.writeAll([]byte("BEGIN\r\n")); err != nil {
			return false, err
		}
		// Any bytes already read past the line-oriented handshake belong to
		// the first framed message; hand them to the ordinary frame buffer.
		s.readBuf = append(s.readBuf, st.readBuf...)
		st.readBuf = nil
		s.NegotiateFDPassing(st.fdConfirmed)
		st.phase = authDone
		return true, nil

	default:
		return true, nil
	}
}

func authLine(cfg AuthConfig) []byte {
	if cfg.Anonymous {
		return []byte("AUTH ANONYMOUS\r\n")
	}
	uidStr := fmt.Sprintf("%d", cfg.UID)
	return []byte(fmt.Sprintf("AUTH EXTERNAL %s\r\n", hex.EncodeToString([]byte(uidStr))))
}

// writeAll writes the whole of buf, tolerating EAGAIN by queuing what's
// left in s.authPending for a later flushPending call.
func (s *Stream) writeAll(buf []byte) error {
	s.authPending = append([]byte(nil), buf...)
	return s.flushPending()
}

// flushPending drains s.authPending as far as a single non-blocking write
// allows.
func (s *Stream) flushPending() error {
	if len(s.authPending) == 0 {
		return nil
	}
	n, err := unix.Write(s.fd, s.authPending)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		return err
	}
	s.authPending = s.authPending[n:]
	return nil
}

// readLine reads more bytes if needed and extracts one CRLF-terminated
// line from the handshake's own buffer (separate from the post-BEGIN
// frame buffer, since the two framings never overlap in time).
func (s *Stream) readLine(st *saslState) ([]byte, bool, error) {
	if i := bytes.Index(st.readBuf, []byte("\r\n")); i >= 0 {
		line := st.readBuf[:i]
		st.readBuf = st.readBuf[i+2:]
		return line, true, nil
	}

	buf := make([]byte, 4096)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, err
	}
	if n == 0 {
		return nil, false, errConnectionClosed
	}
	st.readBuf = append(st.readBuf, buf[:n]...)

	if i := bytes.Index(st.readBuf, []byte("\r\n")); i >= 0 {
		line := st.readBuf[:i]
		st.readBuf = st.readBuf[i+2:]
		return line, true, nil
	}
	return nil, false, nil
}

// cookieResponse implements the client side of DBUS_COOKIE_SHA1 (original
// library behavior; see AuthConfig.AllowCookieAuth): given
// the hex-encoded "context cookie_id server_challenge" the server sent,
// look up the matching cookie in ~/.dbus-keyrings/<context>, generate a
// client challenge, and return the un-hex-encoded "client_challenge
// sha1_hex" response DATA line.
func cookieResponse(hexData string) (string, error) {
	raw, err := hex.DecodeString(hexData)
	if err != nil {
		return "", fmt.Errorf("dbus/transport: bad cookie challenge: %v", err)
	}
	parts := strings.SplitN(string(raw), " ", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("dbus/transport: malformed cookie challenge %q", raw)
	}
	context, cookieID, serverChallenge := parts[0], parts[1], parts[2]

	cookie, err := lookupCookie(context, cookieID)
	if err != nil {
		return "", err
	}

	clientChallenge := make([]byte, 16)
	if _, err := rand.Read(clientChallenge); err != nil {
		return "", err
	}
	clientChallengeHex := hex.EncodeToString(clientChallenge)
	sum := cookieDigest(serverChallenge, clientChallengeHex, cookie)

	return clientChallengeHex + " " + sum, nil
}

// cookieDigest computes sha1_hex(server_challenge:client_challenge:cookie),
// the DBUS_COOKIE_SHA1 response digest, split out from cookieResponse so
// it can be tested without touching the filesystem or a random source.
func cookieDigest(serverChallenge, clientChallengeHex, cookie string) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s:%s:%s", serverChallenge, clientChallengeHex, cookie)
	return hex.EncodeToString(h.Sum(nil))
}

// lookupCookie reads $HOME/.dbus-keyrings/<context> for a line "cookie_id
// time cookie_hex" matching cookieID.
func lookupCookie(context, cookieID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(home, ".dbus-keyrings", context)
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("dbus/transport: reading cookie keyring: %v", err)
	}
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		if fields[0] == cookieID {
			return fields[2], nil
		}
	}
	return "", fmt.Errorf("dbus/transport: cookie id %q not found in %s", cookieID, path)
}
