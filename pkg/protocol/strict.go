package protocol

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"
)

type kind int

const (
	kindString kind = iota
	kindUint
	kindStrings
	kindUints
	kindTopology
)

// bodyKinds maps each known body field to the JSON kind it must have.
// Unknown fields are ignored.
var bodyKinds = map[string]kind{
	"type":        kindString,
	"msg_id":      kindUint,
	"in_reply_to": kindUint,
	"echo":        kindString,
	"node_id":     kindString,
	"node_ids":    kindStrings,
	"message":     kindUint,
	"messages":    kindUints,
	"topology":    kindTopology,
}

// rawFrame holds the undecoded bytes of each frame field, used to check
// field kinds before decoding into typed values, since the typed decode
// converts between strings and numbers.
type rawFrame struct {
	Src  codec.Raw            `codec:"src"`
	Dest codec.Raw            `codec:"dest"`
	Body map[string]codec.Raw `codec:"body"`
}

// checkFrame verifies b contains a single JSON object with no trailing data,
// and that each known field has the expected kind. Missing and null fields
// are left for the typed decode to report.
func checkFrame(b []byte) error {
	var f rawFrame
	dec := codec.NewDecoderBytes(b, &jsonHandle)
	if err := dec.Decode(&f); err != nil {
		return &DecodeError{Reason: "invalid json", Err: err}
	}
	if len(bytes.TrimSpace(b[dec.NumBytesRead():])) != 0 {
		return &DecodeError{Reason: "trailing data"}
	}

	if !checkKind(f.Src, kindString) {
		return &DecodeError{Reason: "invalid src"}
	}
	if !checkKind(f.Dest, kindString) {
		return &DecodeError{Reason: "invalid dest"}
	}
	for name, raw := range f.Body {
		k, ok := bodyKinds[name]
		if !ok {
			continue
		}
		if !checkKind(raw, k) {
			return &DecodeError{Reason: fmt.Sprintf("invalid %s", name)}
		}
	}
	return nil
}

func checkKind(raw codec.Raw, k kind) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return true
	}

	switch k {
	case kindString:
		return isString(raw)
	case kindUint:
		return isUint(raw)
	case kindStrings:
		return checkList(raw, isString)
	case kindUints:
		return checkList(raw, isUint)
	case kindTopology:
		if raw[0] != '{' {
			return false
		}
		var topology map[string][]codec.Raw
		if err := codec.NewDecoderBytes(raw, &jsonHandle).Decode(&topology); err != nil {
			return false
		}
		for _, neighbours := range topology {
			for _, neighbour := range neighbours {
				if !isString(bytes.TrimSpace(neighbour)) {
					return false
				}
			}
		}
		return true
	}
	return false
}

func checkList(raw codec.Raw, elem func([]byte) bool) bool {
	if raw[0] != '[' {
		return false
	}
	var list []codec.Raw
	if err := codec.NewDecoderBytes(raw, &jsonHandle).Decode(&list); err != nil {
		return false
	}
	for _, v := range list {
		if !elem(bytes.TrimSpace(v)) {
			return false
		}
	}
	return true
}

func isNull(raw []byte) bool {
	return bytes.Equal(raw, []byte("null"))
}

func isString(raw []byte) bool {
	return len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"'
}

// isUint reports whether raw is a non-negative integer literal. Fractions and
// exponents are rejected even when their value is integral.
func isUint(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
