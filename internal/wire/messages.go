package wire

import (
	"errors"
	"fmt"
)

// Message type octets, per spec §4.1.
const (
	MsgTypeIdentity  byte = 0x35
	MsgTypeAuthR     byte = 0x36
	MsgTypeAuthI     byte = 0x37
	MsgTypeData      byte = 0x03 // shared between v3 and v4 data messages
	MsgTypeDHCommit  byte = 0x02
	MsgTypeDHKey     byte = 0x0a
	MsgTypeRevealSig byte = 0x11
	MsgTypeSig       byte = 0x12
)

// ErrUnknownVersion is returned for a protocol version other than 3 or 4.
var ErrUnknownVersion = errors.New("wire: unknown protocol version")

// ErrUnknownType is returned for a message type byte that is not recognised.
var ErrUnknownType = errors.New("wire: unknown message type")

// ErrReservedInstanceTag is returned when a non-zero but reserved
// (1-255) instance tag appears where the context forbids it (spec
// §3, §4.1).
var ErrReservedInstanceTag = errors.New("wire: reserved instance tag")

// Header is the four fields common to every encoded OTR message (spec
// §4.1): protocol version, message type, sender instance tag, and
// receiver instance tag.
type Header struct {
	Version  uint16
	Type     byte
	Sender   uint32
	Receiver uint32
}

// ValidInstanceTag reports whether tag is 0 (unspecified) or >= 256,
// the smallest value that names an actual peer; the reserved values
// 1-255 are rejected (spec §3).
func ValidInstanceTag(tag uint32) bool {
	return tag == 0 || tag >= 256
}

// DecodeHeader reads the common header from r.
func DecodeHeader(r *Reader) (Header, error) {
	var h Header
	v, err := r.Short()
	if err != nil {
		return h, err
	}
	if v != 3 && v != 4 {
		return h, ErrUnknownVersion
	}
	t, err := r.Byte()
	if err != nil {
		return h, err
	}
	sender, err := r.Int()
	if err != nil {
		return h, err
	}
	receiver, err := r.Int()
	if err != nil {
		return h, err
	}
	if !ValidInstanceTag(sender) || !ValidInstanceTag(receiver) {
		return h, ErrReservedInstanceTag
	}
	h = Header{Version: v, Type: t, Sender: sender, Receiver: receiver}
	return h, nil
}

// Encode writes the common header.
func (h Header) Encode(w *Writer) {
	w.Short(h.Version)
	w.Byte(h.Type)
	w.Int(h.Sender)
	w.Int(h.Receiver)
}

// IdentityMessage is the first DAKE message, initiator -> responder
// (spec §4.3).
type IdentityMessage struct {
	Header  Header
	Profile []byte // encoded client profile payload, opaque to the codec
	Y       []byte // fresh ECDH public point (57 bytes)
	B       []byte // fresh DH public value (MPI)
}

// Encode serializes the message.
func (m IdentityMessage) Encode() []byte {
	w := NewWriter()
	m.Header.Encode(w)
	w.Data(m.Profile)
	w.Point(m.Y)
	w.MPI(m.B)
	return w.Bytes()
}

// DecodeIdentityMessage parses body (everything after the header) into
// the remaining IdentityMessage fields.
func DecodeIdentityMessage(h Header, r *Reader) (IdentityMessage, error) {
	profile, err := r.Data()
	if err != nil {
		return IdentityMessage{}, err
	}
	y, err := r.Point()
	if err != nil {
		return IdentityMessage{}, err
	}
	b, err := r.MPI()
	if err != nil {
		return IdentityMessage{}, err
	}
	return IdentityMessage{Header: h, Profile: append([]byte(nil), profile...), Y: append([]byte(nil), y...), B: append([]byte(nil), b...)}, nil
}

// RingSigBytes is the 6-scalar wire encoding of a deniable ring
// signature (spec §4.3, §9): three (challenge, response) scalar pairs.
type RingSigBytes struct {
	C1, R1 []byte
	C2, R2 []byte
	C3, R3 []byte
}

func (s RingSigBytes) encode(w *Writer) {
	w.Scalar(s.C1)
	w.Scalar(s.R1)
	w.Scalar(s.C2)
	w.Scalar(s.R2)
	w.Scalar(s.C3)
	w.Scalar(s.R3)
}

func decodeRingSig(r *Reader) (RingSigBytes, error) {
	var s RingSigBytes
	var err error
	for _, f := range []*[]byte{&s.C1, &s.R1, &s.C2, &s.R2, &s.C3, &s.R3} {
		var v []byte
		v, err = r.Scalar()
		if err != nil {
			return s, err
		}
		*f = append([]byte(nil), v...)
	}
	return s, nil
}

// AuthRMessage is the second DAKE message, responder -> initiator.
type AuthRMessage struct {
	Header  Header
	Profile []byte
	X       []byte
	A       []byte
	Sigma   RingSigBytes
}

// Encode serializes the message.
func (m AuthRMessage) Encode() []byte {
	w := NewWriter()
	m.Header.Encode(w)
	w.Data(m.Profile)
	w.Point(m.X)
	w.MPI(m.A)
	m.Sigma.encode(w)
	return w.Bytes()
}

// DecodeAuthRMessage parses the body of an Auth-R message.
func DecodeAuthRMessage(h Header, r *Reader) (AuthRMessage, error) {
	profile, err := r.Data()
	if err != nil {
		return AuthRMessage{}, err
	}
	x, err := r.Point()
	if err != nil {
		return AuthRMessage{}, err
	}
	a, err := r.MPI()
	if err != nil {
		return AuthRMessage{}, err
	}
	sigma, err := decodeRingSig(r)
	if err != nil {
		return AuthRMessage{}, err
	}
	return AuthRMessage{Header: h, Profile: append([]byte(nil), profile...), X: append([]byte(nil), x...), A: append([]byte(nil), a...), Sigma: sigma}, nil
}

// AuthIMessage is the third, final DAKE message, initiator -> responder.
type AuthIMessage struct {
	Header Header
	Sigma  RingSigBytes
}

// Encode serializes the message.
func (m AuthIMessage) Encode() []byte {
	w := NewWriter()
	m.Header.Encode(w)
	m.Sigma.encode(w)
	return w.Bytes()
}

// DecodeAuthIMessage parses the body of an Auth-I message.
func DecodeAuthIMessage(h Header, r *Reader) (AuthIMessage, error) {
	sigma, err := decodeRingSig(r)
	if err != nil {
		return AuthIMessage{}, err
	}
	return AuthIMessage{Header: h, Sigma: sigma}, nil
}

// DataMessage is an otrv4 encrypted data message (spec §3, §4.4).
type DataMessage struct {
	Header       Header
	Flags        byte
	RatchetID    uint32 // i
	MessageID    uint32 // j
	ECDHPublic   []byte // sender's current ECDH public point (57 bytes)
	DHPublic     []byte // present iff RatchetID % 3 == 0; MPI, may be empty
	Nonce        [24]byte
	Ciphertext   []byte
	RevealedMACs [][]byte // spent MAC keys revealed for deniability
	MAC          [64]byte // authenticator over the above, spec §4.4
}

// Encode serializes the data message.
func (m DataMessage) Encode() []byte {
	w := NewWriter()
	m.Header.Encode(w)
	w.Byte(m.Flags)
	w.Int(m.RatchetID)
	w.Int(m.MessageID)
	w.Point(m.ECDHPublic)
	w.MPI(m.DHPublic)
	w.buf = append(w.buf, m.Nonce[:]...)
	w.Data(m.Ciphertext)
	w.Int(uint32(len(m.RevealedMACs)))
	for _, k := range m.RevealedMACs {
		w.Data(k)
	}
	w.buf = append(w.buf, m.MAC[:]...)
	return w.Bytes()
}

// DecodeDataMessage parses the body of a v4 data message.
func DecodeDataMessage(h Header, r *Reader) (DataMessage, error) {
	var m DataMessage
	m.Header = h
	flags, err := r.Byte()
	if err != nil {
		return m, err
	}
	m.Flags = flags
	if m.RatchetID, err = r.Int(); err != nil {
		return m, err
	}
	if m.MessageID, err = r.Int(); err != nil {
		return m, err
	}
	ecdh, err := r.Point()
	if err != nil {
		return m, err
	}
	m.ECDHPublic = append([]byte(nil), ecdh...)
	dh, err := r.MPI()
	if err != nil {
		return m, err
	}
	m.DHPublic = append([]byte(nil), dh...)
	if err := readFixed(r, m.Nonce[:]); err != nil {
		return m, err
	}
	ct, err := r.Data()
	if err != nil {
		return m, err
	}
	m.Ciphertext = append([]byte(nil), ct...)
	n, err := r.Int()
	if err != nil {
		return m, err
	}
	m.RevealedMACs = make([][]byte, n)
	for i := range m.RevealedMACs {
		k, err := r.Data()
		if err != nil {
			return m, err
		}
		m.RevealedMACs[i] = append([]byte(nil), k...)
	}
	if err := readFixed(r, m.MAC[:]); err != nil {
		return m, err
	}
	return m, nil
}

func readFixed(r *Reader, dst []byte) error {
	if err := r.need(len(dst)); err != nil {
		return err
	}
	copy(dst, r.buf[r.off:r.off+len(dst)])
	r.off += len(dst)
	return nil
}

// DecodedMessage is the result of Decode: exactly one of its fields is
// non-nil, matching the message type found in the header.
type DecodedMessage struct {
	Header   Header
	Identity *IdentityMessage
	AuthR    *AuthRMessage
	AuthI    *AuthIMessage
	Data     *DataMessage
}

// Decode parses a full encoded message (header + body) and dispatches
// to the matching message type (spec §4.1).
func Decode(buf []byte) (DecodedMessage, error) {
	r := NewReader(buf)
	h, err := DecodeHeader(r)
	if err != nil {
		return DecodedMessage{}, err
	}
	switch h.Type {
	case MsgTypeIdentity:
		m, err := DecodeIdentityMessage(h, r)
		if err != nil {
			return DecodedMessage{}, err
		}
		return DecodedMessage{Header: h, Identity: &m}, nil
	case MsgTypeAuthR:
		m, err := DecodeAuthRMessage(h, r)
		if err != nil {
			return DecodedMessage{}, err
		}
		return DecodedMessage{Header: h, AuthR: &m}, nil
	case MsgTypeAuthI:
		m, err := DecodeAuthIMessage(h, r)
		if err != nil {
			return DecodedMessage{}, err
		}
		return DecodedMessage{Header: h, AuthI: &m}, nil
	case MsgTypeData:
		m, err := DecodeDataMessage(h, r)
		if err != nil {
			return DecodedMessage{}, err
		}
		return DecodedMessage{Header: h, Data: &m}, nil
	default:
		return DecodedMessage{}, fmt.Errorf("%w: 0x%02x", ErrUnknownType, h.Type)
	}
}
