package otr4

import "errors"

var errShortTLV = errors.New("truncated TLV record")

// TLV is a type-length-value record carried in the payload of an
// encrypted data message (glossary "TLV"). The type registry below is
// standard OTRv4/v3 numbering (spec §3, §4.4 reference TLVs without
// enumerating codes; SPEC_FULL §3 supplements it).
type TLV struct {
	Type  uint16
	Value []byte
}

const (
	TLVPadding          uint16 = 0
	TLVDisconnect       uint16 = 1
	TLVSMP1             uint16 = 2
	TLVSMP2             uint16 = 3
	TLVSMP3             uint16 = 4
	TLVSMP4             uint16 = 5
	TLVSMPAbort         uint16 = 6
	TLVExtraSymmetricKey uint16 = 8
)

func encodeTLVs(tlvs []TLV) []byte {
	var out []byte
	for _, t := range tlvs {
		out = append(out, byte(t.Type>>8), byte(t.Type))
		n := len(t.Value)
		out = append(out, byte(n>>8), byte(n))
		out = append(out, t.Value...)
	}
	return out
}

func decodeTLVs(buf []byte) ([]TLV, error) {
	var out []TLV
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, &ProtocolError{Cause: errShortTLV}
		}
		typ := uint16(buf[0])<<8 | uint16(buf[1])
		n := int(uint16(buf[2])<<8 | uint16(buf[3]))
		buf = buf[4:]
		if len(buf) < n {
			return nil, &ProtocolError{Cause: errShortTLV}
		}
		out = append(out, TLV{Type: typ, Value: append([]byte(nil), buf[:n]...)})
		buf = buf[n:]
	}
	return out, nil
}
