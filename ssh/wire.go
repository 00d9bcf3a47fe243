// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// Wire codecs for the SSH binary encoding, RFC 4251 section 5. Readers
// operate directly on the packet buffer (non-copying views); writers are
// append-only byte accumulators. Message structs are (de)serialized by
// reflection, keyed off the "sshtype" and "ssh" struct tags, so the
// message catalog in messages.go stays a plain list of typed structs
// rather than a hand-written encode/decode pair per message.

import (
	"fmt"
	"math/big"
	"reflect"
)

// parseBool decodes the single-byte SSH boolean encoding.
func parseBool(in []byte) (bool, []byte, bool) {
	if len(in) == 0 {
		return false, nil, false
	}
	return in[0] != 0, in[1:], true
}

func parseUint32(in []byte) (uint32, []byte, bool) {
	if len(in) < 4 {
		return 0, nil, false
	}
	return uint32(in[0])<<24 | uint32(in[1])<<16 | uint32(in[2])<<8 | uint32(in[3]), in[4:], true
}

func parseUint64(in []byte) (uint64, []byte, bool) {
	if len(in) < 8 {
		return 0, nil, false
	}
	v := uint64(0)
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(in[i])
	}
	return v, in[8:], true
}

// parseString decodes a length-prefixed byte string. The returned slice
// aliases the input; callers that need to retain it across buffer reuse
// must copy.
func parseString(in []byte) (out, rest []byte, ok bool) {
	length, rest, ok := parseUint32(in)
	if !ok {
		return nil, nil, false
	}
	if uint64(len(rest)) < uint64(length) {
		return nil, nil, false
	}
	return rest[:length], rest[length:], true
}

var (
	comma         = []byte{','}
	emptyNameList = []string{}
)

// parseNameList decodes a comma-separated name-list, RFC 4251 section 5.
func parseNameList(in []byte) (out []string, rest []byte, ok bool) {
	contents, rest, ok := parseString(in)
	if !ok {
		return
	}
	if len(contents) == 0 {
		return emptyNameList, rest, true
	}
	parts := splitComma(contents)
	return parts, rest, true
}

func splitComma(b []byte) []string {
	n := 1
	for _, c := range b {
		if c == ',' {
			n++
		}
	}
	out := make([]string, 0, n)
	start := 0
	for i, c := range b {
		if c == ',' {
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(b[start:]))
	return out
}

// parseInt decodes an mpint (RFC 4251 section 5) into a big.Int.
func parseInt(in []byte) (out *big.Int, rest []byte, ok bool) {
	contents, rest, ok := parseString(in)
	if !ok {
		return
	}
	out = new(big.Int)
	if len(contents) > 0 && contents[0]&0x80 == 0x80 {
		// Negative mpint: invert, add one, negate.
		notBytes := make([]byte, len(contents))
		for i := range notBytes {
			notBytes[i] = ^contents[i]
		}
		out.SetBytes(notBytes)
		out.Add(out, bigOne)
		out.Neg(out)
	} else {
		out.SetBytes(contents)
	}
	ok = true
	return
}

func writeInt(buf []byte, n *big.Int) []byte {
	length := intLength(n)
	buf = appendInt(buf, length)
	buf = marshalIntBody(buf, n, length)
	return buf
}

func intLength(n *big.Int) int {
	length := (n.BitLen() + 7) / 8
	if length == 0 {
		return 0
	}
	if n.Sign() > 0 && n.Bit(length*8-1) == 1 {
		// avoid interpretation as a negative number
		length++
	}
	return length
}

func marshalIntBody(buf []byte, n *big.Int, length int) []byte {
	if length == 0 {
		return buf
	}
	oldLength := len(buf)
	buf = append(buf, make([]byte, length)...)
	body := buf[oldLength:]

	if n.Sign() < 0 {
		// Two's complement.
		length := uint64(len(body))
		bytes := n.Bytes()
		var carry uint64 = 1
		for i := uint64(0); i < length; i++ {
			var b byte
			if i < uint64(len(bytes)) {
				b = bytes[len(bytes)-1-int(i)]
			}
			inv := ^b
			sum := uint64(inv) + carry
			body[length-1-i] = byte(sum)
			carry = sum >> 8
		}
	} else {
		bytes := n.Bytes()
		off := len(body) - len(bytes)
		copy(body[off:], bytes)
	}
	return buf
}

func appendNameList(buf []byte, names []string) []byte {
	length := 0
	if len(names) > 0 {
		length = len(names) - 1
	}
	for _, n := range names {
		length += len(n)
	}
	buf = appendInt(buf, length)
	for i, n := range names {
		if i != 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, n...)
	}
	return buf
}

// fieldHasRestTag reports whether a struct field carries the ssh:"rest" tag.
func fieldHasRestTag(f reflect.StructField) bool {
	return f.Tag.Get("ssh") == "rest"
}

// Marshal serializes a message struct into its wire form, prefixing the
// message id byte declared by the struct's first field "sshtype" tag
// when present.
func Marshal(msg interface{}) []byte {
	out := make([]byte, 0, 64)
	return marshalStruct(out, reflect.Indirect(reflect.ValueOf(msg)))
}

func marshalStruct(buf []byte, v reflect.Value) []byte {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if i == 0 {
			if tag, ok := sf.Tag.Lookup("sshtype"); ok {
				var id int
				fmt.Sscanf(tag, "%d", &id)
				buf = append(buf, byte(id))
			}
		}
		if fieldHasRestTag(sf) {
			buf = append(buf, field.Bytes()...)
			continue
		}
		buf = marshalField(buf, field)
	}
	return buf
}

func marshalField(buf []byte, field reflect.Value) []byte {
	switch field.Kind() {
	case reflect.Bool:
		buf = appendBool(buf, field.Bool())
	case reflect.Array:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			for i := 0; i < field.Len(); i++ {
				buf = append(buf, byte(field.Index(i).Uint()))
			}
		}
	case reflect.Uint32:
		buf = appendU32(buf, uint32(field.Uint()))
	case reflect.Uint64:
		buf = appendU64(buf, field.Uint())
	case reflect.String:
		buf = appendString(buf, field.String())
	case reflect.Slice:
		switch field.Type().Elem().Kind() {
		case reflect.Uint8:
			buf = appendInt(buf, field.Len())
			buf = append(buf, field.Bytes()...)
		case reflect.String:
			names := make([]string, field.Len())
			for i := range names {
				names[i] = field.Index(i).String()
			}
			buf = appendNameList(buf, names)
		}
	case reflect.Ptr:
		if n, ok := field.Interface().(*big.Int); ok {
			buf = writeInt(buf, n)
		}
	}
	return buf
}

// Unmarshal deserializes a wire-format packet into msg, which must be a
// pointer to a message struct. The message id byte, if the struct
// declares one via "sshtype", is checked against the packet.
func Unmarshal(data []byte, msg interface{}) error {
	v := reflect.Indirect(reflect.ValueOf(msg))
	t := v.Type()

	rest := data
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)

		if i == 0 {
			if tag, ok := sf.Tag.Lookup("sshtype"); ok {
				var id int
				fmt.Sscanf(tag, "%d", &id)
				if len(rest) == 0 || rest[0] != byte(id) {
					got := byte(0)
					if len(rest) > 0 {
						got = rest[0]
					}
					return unexpectedMessageError(byte(id), got)
				}
				rest = rest[1:]
			}
		}

		if fieldHasRestTag(sf) {
			field.SetBytes(append([]byte(nil), rest...))
			rest = nil
			continue
		}

		var ok bool
		rest, ok = unmarshalField(field, rest)
		if !ok {
			return parseError(data[0])
		}
	}
	return nil
}

func unmarshalField(field reflect.Value, rest []byte) ([]byte, bool) {
	switch field.Kind() {
	case reflect.Bool:
		var b bool
		var ok bool
		b, rest, ok = parseBool(rest)
		if !ok {
			return nil, false
		}
		field.SetBool(b)
	case reflect.Array:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			n := field.Len()
			if len(rest) < n {
				return nil, false
			}
			for i := 0; i < n; i++ {
				field.Index(i).SetUint(uint64(rest[i]))
			}
			rest = rest[n:]
		}
	case reflect.Uint32:
		var n uint32
		var ok bool
		n, rest, ok = parseUint32(rest)
		if !ok {
			return nil, false
		}
		field.SetUint(uint64(n))
	case reflect.Uint64:
		var n uint64
		var ok bool
		n, rest, ok = parseUint64(rest)
		if !ok {
			return nil, false
		}
		field.SetUint(n)
	case reflect.String:
		var s []byte
		var ok bool
		s, rest, ok = parseString(rest)
		if !ok {
			return nil, false
		}
		field.SetString(string(s))
	case reflect.Slice:
		switch field.Type().Elem().Kind() {
		case reflect.Uint8:
			var s []byte
			var ok bool
			s, rest, ok = parseString(rest)
			if !ok {
				return nil, false
			}
			field.SetBytes(append([]byte(nil), s...))
		case reflect.String:
			var names []string
			var ok bool
			names, rest, ok = parseNameList(rest)
			if !ok {
				return nil, false
			}
			field.Set(reflect.ValueOf(names))
		}
	case reflect.Ptr:
		if field.Type() == reflect.TypeOf((*big.Int)(nil)) {
			var n *big.Int
			var ok bool
			n, rest, ok = parseInt(rest)
			if !ok {
				return nil, false
			}
			field.Set(reflect.ValueOf(n))
		}
	default:
		return nil, false
	}
	return rest, true
}
