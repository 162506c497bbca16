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

// Package wire defines the Message value that the connection core depends
// on. Turning a typed signature and argument list into wire bytes (and back)
// is the job of an external marshaller; this package implements only the
// narrow slice of that job the core itself must exercise to drive HELLO,
// the built-in peer interface, and synthetic timeout/error replies: a fixed
// 16-byte header, a handful of STRING/OBJECT_PATH/UINT32 header fields, and
// an optional single-STRING body.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the D-Bus message type octet.
type Type byte

const (
	TypeInvalid      Type = 0
	TypeMethodCall   Type = 1
	TypeMethodReturn Type = 2
	TypeMethodError  Type = 3
	TypeSignal       Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeMethodCall:
		return "method_call"
	case TypeMethodReturn:
		return "method_return"
	case TypeMethodError:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return "invalid"
	}
}

// Flags is the D-Bus header flags octet.
type Flags byte

const (
	FlagNoReplyExpected              Flags = 1 << 0
	FlagNoAutoStart                  Flags = 1 << 1
	FlagAllowInteractiveAuthorization Flags = 1 << 2
)

// HeaderVersion is the only D-Bus major protocol version this module speaks.
const HeaderVersion = 1

// Well-known error names the core itself is responsible for emitting.
const (
	ErrNoReply       = "org.freedesktop.DBus.Error.NoReply"
	ErrUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	ErrInvalidArgs   = "org.freedesktop.DBus.Error.InvalidArgs"
)

// Message is the value the connection core operates on. An external
// marshaller is expected to produce and consume values satisfying this
// interface; Msg below is this module's own minimal implementation, used
// for HELLO, the built-in peer interface, and tests.
//
// The core mutates only the serial (at Seal), the NO_REPLY_EXPECTED flag
// (before Seal, if the caller did not ask for the serial back), and the
// reference count (Ref/Unref).
type Message interface {
	Type() Type
	Flags() Flags
	SetFlags(Flags)

	// Serial is zero until Seal is called.
	Serial() uint32

	// ReplySerial is valid only for method_return and error messages.
	ReplySerial() uint32
	SetReplySerial(uint32)

	Path() string
	Interface() string
	Member() string
	Sender() string
	Destination() string
	ErrorName() string

	SetSender(string)
	SetDestination(string)

	BodySize() int
	NumFDs() int
	FDs() []int
	SetFDs([]int)

	Sealed() bool
	// Seal assigns the serial and marks the message sealed. Returns an
	// error if already sealed. Msg ignores SetFlags and SetReplySerial once
	// sealed; its other setters still apply.
	Seal(serial uint32) error

	// Err returns the cached error value for a method_error message, or
	// nil. SetErr stores it; it is purely a connection-side convenience
	// cache, not re-derived from the wire form.
	Err() error
	SetErr(error)

	Ref() Message
	Unref()

	// Marshal returns the wire bytes for a sealed message, and the file
	// descriptors (if any) that must accompany it via SCM_RIGHTS.
	Marshal() (header []byte, fds []int, err error)
}

// Msg is a minimal concrete Message used by the core for its own built-in
// traffic (HELLO, Ping, GetMachineId, synthetic NoReply errors) and by
// tests. It supports a body of zero or one STRING argument, which is all
// the core itself ever needs to produce or inspect.
type Msg struct {
	typ    Type
	flags  Flags
	serial uint32
	reply  uint32

	path, iface, member string
	sender, destination string
	errorName            string
	body                 string
	hasBody              bool

	sealed bool
	err    error
	refs   int32
	fds    []int
}

var _ Message = (*Msg)(nil)

func NewMethodCall(path, iface, member, destination string) *Msg {
	return &Msg{typ: TypeMethodCall, path: path, iface: iface, member: member, destination: destination, refs: 1}
}

func NewSignal(path, iface, member string) *Msg {
	return &Msg{typ: TypeSignal, path: path, iface: iface, member: member, refs: 1}
}

func NewMethodReturn(replySerial uint32) *Msg {
	return &Msg{typ: TypeMethodReturn, reply: replySerial, refs: 1}
}

func NewError(replySerial uint32, name string, detail string) *Msg {
	m := &Msg{typ: TypeMethodError, reply: replySerial, errorName: name, refs: 1}
	if detail != "" {
		m.body = detail
		m.hasBody = true
	}
	m.err = errors.New(name + ": " + detail)
	return m
}

func (m *Msg) Type() Type  { return m.typ }
func (m *Msg) Flags() Flags { return m.flags }
func (m *Msg) SetFlags(f Flags) {
	if m.sealed {
		return
	}
	m.flags = f
}

func (m *Msg) Serial() uint32      { return m.serial }
func (m *Msg) ReplySerial() uint32 { return m.reply }
func (m *Msg) SetReplySerial(s uint32) {
	if m.sealed {
		return
	}
	m.reply = s
}

func (m *Msg) Path() string        { return m.path }
func (m *Msg) Interface() string   { return m.iface }
func (m *Msg) Member() string      { return m.member }
func (m *Msg) Sender() string      { return m.sender }
func (m *Msg) Destination() string { return m.destination }
func (m *Msg) ErrorName() string   { return m.errorName }

func (m *Msg) SetSender(s string)      { m.sender = s }
func (m *Msg) SetDestination(s string) { m.destination = s }

// SetBody sets the message's single STRING argument.
func (m *Msg) SetBody(s string) {
	m.body = s
	m.hasBody = true
}

// Body returns the message's single STRING argument, if any.
func (m *Msg) Body() (string, bool) { return m.body, m.hasBody }

func (m *Msg) BodySize() int {
	if !m.hasBody {
		return 0
	}
	return 4 + len(m.body) + 1
}

func (m *Msg) NumFDs() int   { return len(m.fds) }
func (m *Msg) FDs() []int    { return m.fds }
func (m *Msg) SetFDs(fds []int) { m.fds = fds }

func (m *Msg) Sealed() bool { return m.sealed }

func (m *Msg) Seal(serial uint32) error {
	if m.sealed {
		return errors.New("dbus/wire: message already sealed")
	}
	if serial == 0 {
		return errors.New("dbus/wire: refusing to seal with a zero serial")
	}
	m.serial = serial
	m.sealed = true
	return nil
}

func (m *Msg) Err() error      { return m.err }
func (m *Msg) SetErr(err error) { m.err = err }

func (m *Msg) Ref() Message {
	m.refs++
	return m
}

func (m *Msg) Unref() {
	m.refs--
}

// Marshal renders the fixed 16-byte header plus a minimal header-fields
// block (PATH, INTERFACE, MEMBER, ERROR_NAME, REPLY_SERIAL, DESTINATION,
// SENDER, SIGNATURE as needed) followed by at most one STRING body
// argument. It is sufficient for HELLO, the peer interface, and synthetic
// errors; it is not a general-purpose D-Bus marshaller.
func (m *Msg) Marshal() ([]byte, []int, error) {
	if !m.sealed {
		return nil, nil, errors.New("dbus/wire: cannot marshal an unsealed message")
	}

	var fields bytes.Buffer
	writeField := func(code byte, sig byte, s string) {
		// field = (BYTE code, VARIANT value); padded to 8-byte struct boundary.
		for fields.Len()%8 != 0 {
			fields.WriteByte(0)
		}
		fields.WriteByte(code)
		fields.WriteByte(1) // signature length
		fields.WriteByte(sig)
		fields.WriteByte(0) // signature NUL
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		fields.Write(lenBuf[:])
		fields.WriteString(s)
		fields.WriteByte(0)
	}
	writeUint32Field := func(code byte, v uint32) {
		for fields.Len()%8 != 0 {
			fields.WriteByte(0)
		}
		fields.WriteByte(code)
		fields.WriteByte(1)
		fields.WriteByte('u')
		fields.WriteByte(0)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v)
		fields.Write(buf[:])
	}

	if m.path != "" {
		writeField(1, 'o', m.path)
	}
	if m.iface != "" {
		writeField(2, 's', m.iface)
	}
	if m.member != "" {
		writeField(3, 's', m.member)
	}
	if m.errorName != "" {
		writeField(4, 's', m.errorName)
	}
	if m.reply != 0 {
		writeUint32Field(5, m.reply)
	}
	if m.destination != "" {
		writeField(6, 's', m.destination)
	}
	if m.sender != "" {
		writeField(7, 's', m.sender)
	}
	if m.hasBody {
		// SIGNATURE field: a single "s".
		for fields.Len()%8 != 0 {
			fields.WriteByte(0)
		}
		fields.WriteByte(8)
		fields.WriteByte(1)
		fields.WriteByte('g')
		fields.WriteByte(0)
		fields.WriteByte(1)
		fields.WriteByte('s')
		fields.WriteByte(0)
	}

	var body bytes.Buffer
	if m.hasBody {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(m.body)))
		body.Write(lenBuf[:])
		body.WriteString(m.body)
		body.WriteByte(0)
	}

	var out bytes.Buffer
	out.WriteByte('l') // little-endian
	out.WriteByte(byte(m.typ))
	out.WriteByte(byte(m.flags))
	out.WriteByte(HeaderVersion)

	var bodyLen [4]byte
	binary.LittleEndian.PutUint32(bodyLen[:], uint32(body.Len()))
	out.Write(bodyLen[:])

	var serial [4]byte
	binary.LittleEndian.PutUint32(serial[:], m.serial)
	out.Write(serial[:])

	var fieldsLen [4]byte
	binary.LittleEndian.PutUint32(fieldsLen[:], uint32(fields.Len()))
	out.Write(fieldsLen[:])
	out.Write(fields.Bytes())

	for out.Len()%8 != 0 {
		out.WriteByte(0)
	}
	out.Write(body.Bytes())

	return out.Bytes(), m.fds, nil
}

// HeaderLen is the size in bytes of the fixed portion of a D-Bus message
// header, before the variable-length header fields array.
const HeaderLen = 16

// PeekFrameLength inspects a complete fixed header (at least HeaderLen
// bytes) and returns the total length of the frame it introduces,
// including the header fields array, its padding, and the body. It is the
// hook the stream transport uses to know how many more bytes to buffer
// before a full message can be decoded.
func PeekFrameLength(header []byte) (uint32, error) {
	if len(header) < HeaderLen {
		return 0, fmt.Errorf("dbus/wire: short header (%d bytes)", len(header))
	}
	if header[0] != 'l' && header[0] != 'B' {
		return 0, errors.New("dbus/wire: bad byte-order octet")
	}
	var order binary.ByteOrder = binary.LittleEndian
	if header[0] == 'B' {
		order = binary.BigEndian
	}
	if header[3] != HeaderVersion {
		return 0, fmt.Errorf("dbus/wire: unsupported header version %d", header[3])
	}
	bodyLen := order.Uint32(header[4:8])
	fieldsLen := order.Uint32(header[12:16])

	fieldsEnd := HeaderLen + fieldsLen
	padded := (fieldsEnd + 7) &^ 7
	total := padded + bodyLen
	if total < padded {
		return 0, errors.New("dbus/wire: frame length overflow")
	}
	return total, nil
}

// Unmarshal decodes a complete frame (as sized by PeekFrameLength) into a
// Msg. Only the header fields and body shapes Marshal produces are
// understood; anything else is decoded leniently (fields with an unknown
// code are skipped, decoding of the fields stops at the first field whose
// type is not STRING, OBJECT_PATH, UINT32 or SIGNATURE, and non-STRING
// bodies are left empty) since general marshalling is out of this
// module's scope.
func Unmarshal(frame []byte) (*Msg, error) {
	if len(frame) < HeaderLen {
		return nil, errors.New("dbus/wire: short frame")
	}
	var order binary.ByteOrder = binary.LittleEndian
	if frame[0] == 'B' {
		order = binary.BigEndian
	}

	m := &Msg{
		typ:   Type(frame[1]),
		flags: Flags(frame[2]),
		refs:  1,
	}
	if frame[3] != HeaderVersion {
		return nil, fmt.Errorf("dbus/wire: unsupported header version %d", frame[3])
	}

	bodyLen := order.Uint32(frame[4:8])
	m.serial = order.Uint32(frame[8:12])
	fieldsLen := order.Uint32(frame[12:16])

	fields := frame[HeaderLen : HeaderLen+fieldsLen]
	var sigSeen bool
	pos := 0
	for pos < len(fields) {
		for pos%8 != 0 && pos < len(fields) {
			pos++
		}
		if pos >= len(fields) {
			break
		}
		code := fields[pos]
		pos++
		sigLen := int(fields[pos])
		pos++
		sig := fields[pos : pos+sigLen]
		pos += sigLen + 1 // signature bytes + NUL

		switch {
		case len(sig) == 1 && sig[0] == 'u':
			v := order.Uint32(fields[pos : pos+4])
			pos += 4
			if code == 5 {
				m.reply = v
			}
		case len(sig) == 1 && (sig[0] == 's' || sig[0] == 'o'):
			strLen := order.Uint32(fields[pos : pos+4])
			pos += 4
			s := string(fields[pos : pos+int(strLen)])
			pos += int(strLen) + 1 // NUL
			switch code {
			case 1:
				m.path = s
			case 2:
				m.iface = s
			case 3:
				m.member = s
			case 4:
				m.errorName = s
			case 6:
				m.destination = s
			case 7:
				m.sender = s
			}
		case len(sig) == 1 && sig[0] == 'g':
			sigSeen = true
		default:
			// Unknown/unsupported field shape: nothing more we can safely skip
			// without a real type signature parser, so stop decoding fields.
			pos = len(fields)
		}
	}

	bodyStart := HeaderLen + int(fieldsLen)
	bodyStart = (bodyStart + 7) &^ 7
	if sigSeen && bodyLen >= 5 && bodyStart+int(bodyLen) <= len(frame) {
		body := frame[bodyStart : bodyStart+int(bodyLen)]
		strLen := order.Uint32(body[0:4])
		if int(strLen)+5 <= len(body) {
			m.body = string(body[4 : 4+strLen])
			m.hasBody = true
		}
	}

	m.sealed = true
	return m, nil
}
