package iso8583

import (
	"encoding/hex"
	"fmt"
)

const mtiLength = 4

// Parse decodes a wire-format ISO-8583 message against the spec: a 4-byte
// MTI, a hex-encoded primary bitmap, an optional hex-encoded secondary
// bitmap (present whenever any field above 64 is populated), followed by
// each populated field in ascending field-number order.
func (s *Spec) Parse(data []byte) (*Msg, error) {
	if len(data) < mtiLength {
		return nil, newProtocolError("message shorter than MTI (%d bytes)", len(data))
	}
	mti := string(data[:mtiLength])
	offset := mtiLength

	primary, offset, err := decodeBitmap(data, offset)
	if err != nil {
		return nil, err
	}

	var secondary []byte
	if testBit(primary, 1) {
		secondary, offset, err = decodeBitmap(data, offset)
		if err != nil {
			return nil, err
		}
	}

	msg := NewMsg(s, mti)

	for fieldNo := 2; fieldNo <= 64; fieldNo++ {
		if !testBit(primary, fieldNo) {
			continue
		}
		offset, err = s.parseField(msg, data, offset, fieldNo)
		if err != nil {
			return nil, err
		}
	}

	if secondary != nil {
		for fieldNo := 65; fieldNo <= 128; fieldNo++ {
			if !testBit(secondary, fieldNo-64) {
				continue
			}
			offset, err = s.parseField(msg, data, offset, fieldNo)
			if err != nil {
				return nil, err
			}
		}
	}

	if offset != len(data) {
		return nil, newProtocolError("trailing %d bytes after last declared field", len(data)-offset)
	}

	return msg, nil
}

func (s *Spec) parseField(msg *Msg, data []byte, offset, fieldNo int) (int, error) {
	def, ok := s.fieldByNumber(fieldNo)
	if !ok {
		return 0, newProtocolError("field %d is set in bitmap but not defined in spec", fieldNo)
	}

	switch def.LengthType {
	case Fixed:
		end := offset + def.MaxLength
		if end > len(data) {
			return 0, newProtocolError("field %d: unexpected end of data", fieldNo)
		}
		msg.fields[fieldNo] = string(data[offset:end])
		return end, nil

	case LLVAR, LLLVAR:
		prefixLen := 2
		if def.LengthType == LLLVAR {
			prefixLen = 3
		}
		if offset+prefixLen > len(data) {
			return 0, newProtocolError("field %d: unexpected end of data reading length prefix", fieldNo)
		}
		length, err := parseDecimalLength(data[offset : offset+prefixLen])
		if err != nil {
			return 0, newProtocolError("field %d: malformed length prefix: %s", fieldNo, err)
		}
		if length > def.MaxLength {
			return 0, newProtocolError("field %d: length %d exceeds max %d", fieldNo, length, def.MaxLength)
		}
		offset += prefixLen
		end := offset + length
		if end > len(data) {
			return 0, newProtocolError("field %d: unexpected end of data reading value", fieldNo)
		}
		msg.fields[fieldNo] = string(data[offset:end])
		return end, nil

	default:
		return 0, newProtocolError("field %d: unknown length type", fieldNo)
	}
}

func parseDecimalLength(b []byte) (int, error) {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("non-digit byte %q", c)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// Assemble serializes msg back to wire format. Fixed fields must already
// hold exactly their declared length; variable fields must not exceed
// their declared maximum.
func (m *Msg) Assemble() ([]byte, error) {
	if len(m.mti) != mtiLength {
		return nil, newProtocolError("MTI must be %d characters, got %q", mtiLength, m.mti)
	}

	primary := make([]byte, 8)
	secondary := make([]byte, 8)
	hasSecondary := false

	present := m.PresentFields()
	for _, n := range present {
		switch {
		case n >= 2 && n <= 64:
			setBit(primary, n)
		case n >= 65 && n <= 128:
			setBit(secondary, n-64)
			hasSecondary = true
		default:
			return nil, newProtocolError("field %d is outside the addressable bitmap range", n)
		}
	}
	if hasSecondary {
		setBit(primary, 1)
	}

	out := []byte(m.mti)
	out = append(out, []byte(hex.EncodeToString(primary))...)
	if hasSecondary {
		out = append(out, []byte(hex.EncodeToString(secondary))...)
	}

	for _, n := range present {
		encoded, err := m.spec.encodeField(n, m.fields[n])
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}

	return out, nil
}

func (s *Spec) encodeField(fieldNo int, value string) ([]byte, error) {
	def, ok := s.fieldByNumber(fieldNo)
	if !ok {
		return nil, newProtocolError("field %d is not defined in spec", fieldNo)
	}

	switch def.LengthType {
	case Fixed:
		if len(value) != def.MaxLength {
			return nil, newProtocolError("field %d: value length %d does not match fixed length %d", fieldNo, len(value), def.MaxLength)
		}
		return []byte(value), nil

	case LLVAR:
		if len(value) > def.MaxLength || len(value) > 99 {
			return nil, newProtocolError("field %d: value length %d exceeds LLVAR max %d", fieldNo, len(value), def.MaxLength)
		}
		return []byte(fmt.Sprintf("%02d%s", len(value), value)), nil

	case LLLVAR:
		if len(value) > def.MaxLength || len(value) > 999 {
			return nil, newProtocolError("field %d: value length %d exceeds LLLVAR max %d", fieldNo, len(value), def.MaxLength)
		}
		return []byte(fmt.Sprintf("%03d%s", len(value), value)), nil

	default:
		return nil, newProtocolError("field %d: unknown length type", fieldNo)
	}
}
