package protocol

import (
	"fmt"

	"github.com/ugorji/go/codec"
)

// jsonHandle is shared by all encoders and decoders. It must not be modified
// after first use.
var jsonHandle codec.JsonHandle

// DecodeError is returned when a frame is not a well formed message, such as
// invalid JSON, a missing or unknown 'type', or a missing required field.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// frame is the wire representation of a message. Pointers are used so
// required fields that are missing can be detected.
type frame struct {
	Src  *string `codec:"src"`
	Dest *string `codec:"dest"`
	Body *body   `codec:"body"`
}

// body is the wire representation of every body variant, where the
// populated fields depend on 'type'.
type body struct {
	Type      string               `codec:"type"`
	MsgID     *uint64              `codec:"msg_id,omitempty"`
	InReplyTo *uint64              `codec:"in_reply_to,omitempty"`
	Echo      *string              `codec:"echo,omitempty"`
	NodeID    *string              `codec:"node_id,omitempty"`
	NodeIDs   *[]string            `codec:"node_ids,omitempty"`
	Message   *uint64              `codec:"message,omitempty"`
	Messages  *[]uint64            `codec:"messages,omitempty"`
	Topology  *map[string][]string `codec:"topology,omitempty"`
}

// Decode decodes a single JSON encoded message. Any failure is returned as
// a *DecodeError.
//
// The frame must contain exactly one JSON object, and every known field
// must have the JSON kind its type requires. Strings are never accepted as
// numbers, or numbers as strings.
func Decode(b []byte) (*Message, error) {
	if err := checkFrame(b); err != nil {
		return nil, err
	}

	var f frame
	if err := codec.NewDecoderBytes(b, &jsonHandle).Decode(&f); err != nil {
		return nil, &DecodeError{Reason: "invalid json", Err: err}
	}

	if f.Src == nil {
		return nil, &DecodeError{Reason: "missing src"}
	}
	if f.Dest == nil {
		return nil, &DecodeError{Reason: "missing dest"}
	}
	if f.Body == nil {
		return nil, &DecodeError{Reason: "missing body"}
	}

	decoded, err := f.Body.decode()
	if err != nil {
		return nil, err
	}

	return &Message{
		Src:  *f.Src,
		Dest: *f.Dest,
		Body: decoded,
	}, nil
}

// Encode encodes the message as a single line of JSON, excluding the
// trailing newline.
func Encode(m *Message) ([]byte, error) {
	if m.Body == nil {
		return nil, fmt.Errorf("missing body")
	}

	src := m.Src
	dest := m.Dest
	f := frame{
		Src:  &src,
		Dest: &dest,
		Body: encodeBody(m.Body),
	}

	var b []byte
	if err := codec.NewEncoderBytes(&b, &jsonHandle).Encode(&f); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

func (b *body) decode() (Body, error) {
	if b.Type == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}

	f := fields{typ: b.Type}
	var decoded Body
	switch Type(b.Type) {
	case TypeInit:
		decoded = Init{
			MsgID:   f.requireUint(b.MsgID, "msg_id"),
			NodeID:  f.requireString(b.NodeID, "node_id"),
			NodeIDs: f.requireStrings(b.NodeIDs, "node_ids"),
		}
	case TypeInitOk:
		decoded = InitOk{
			InReplyTo: f.requireUint(b.InReplyTo, "in_reply_to"),
		}
	case TypeEcho:
		decoded = Echo{
			MsgID: f.requireUint(b.MsgID, "msg_id"),
			Echo:  f.requireString(b.Echo, "echo"),
		}
	case TypeEchoOk:
		decoded = EchoOk{
			MsgID:     f.requireUint(b.MsgID, "msg_id"),
			InReplyTo: f.requireUint(b.InReplyTo, "in_reply_to"),
			Echo:      f.requireString(b.Echo, "echo"),
		}
	case TypeBroadcast:
		decoded = Broadcast{
			MsgID:   f.requireUint(b.MsgID, "msg_id"),
			Message: f.requireUint(b.Message, "message"),
		}
	case TypeBroadcastOk:
		decoded = BroadcastOk{
			MsgID:     f.requireUint(b.MsgID, "msg_id"),
			InReplyTo: f.requireUint(b.InReplyTo, "in_reply_to"),
		}
	case TypeRead:
		decoded = Read{
			MsgID: f.requireUint(b.MsgID, "msg_id"),
		}
	case TypeReadOk:
		decoded = ReadOk{
			InReplyTo: f.requireUint(b.InReplyTo, "in_reply_to"),
			Messages:  f.requireUints(b.Messages, "messages"),
		}
	case TypeTopology:
		decoded = Topology{
			MsgID:    f.requireUint(b.MsgID, "msg_id"),
			Topology: f.requireTopology(b.Topology, "topology"),
		}
	case TypeTopologyOk:
		decoded = TopologyOk{
			MsgID:     f.requireUint(b.MsgID, "msg_id"),
			InReplyTo: f.requireUint(b.InReplyTo, "in_reply_to"),
		}
	case TypeGossip:
		decoded = Gossip{
			MsgID:    f.requireUint(b.MsgID, "msg_id"),
			Messages: f.requireUints(b.Messages, "messages"),
		}
	case TypeGossipOk:
		decoded = GossipOk{
			InReplyTo: f.requireUint(b.InReplyTo, "in_reply_to"),
		}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown type: %s", b.Type)}
	}

	if f.missing != "" {
		return nil, &DecodeError{
			Reason: fmt.Sprintf("%s: missing %s", f.typ, f.missing),
		}
	}
	return decoded, nil
}

func encodeBody(b Body) *body {
	encoded := &body{Type: string(b.Type())}
	switch b := b.(type) {
	case Init:
		encoded.MsgID = uintPtr(b.MsgID)
		encoded.NodeID = stringPtr(b.NodeID)
		nodeIDs := b.NodeIDs
		if nodeIDs == nil {
			nodeIDs = []string{}
		}
		encoded.NodeIDs = &nodeIDs
	case InitOk:
		encoded.InReplyTo = uintPtr(b.InReplyTo)
	case Echo:
		encoded.MsgID = uintPtr(b.MsgID)
		encoded.Echo = stringPtr(b.Echo)
	case EchoOk:
		encoded.MsgID = uintPtr(b.MsgID)
		encoded.InReplyTo = uintPtr(b.InReplyTo)
		encoded.Echo = stringPtr(b.Echo)
	case Broadcast:
		encoded.MsgID = uintPtr(b.MsgID)
		encoded.Message = uintPtr(b.Message)
	case BroadcastOk:
		encoded.MsgID = uintPtr(b.MsgID)
		encoded.InReplyTo = uintPtr(b.InReplyTo)
	case Read:
		encoded.MsgID = uintPtr(b.MsgID)
	case ReadOk:
		encoded.InReplyTo = uintPtr(b.InReplyTo)
		encoded.Messages = uintsPtr(b.Messages)
	case Topology:
		encoded.MsgID = uintPtr(b.MsgID)
		topology := b.Topology
		if topology == nil {
			topology = make(map[string][]string)
		}
		encoded.Topology = &topology
	case TopologyOk:
		encoded.MsgID = uintPtr(b.MsgID)
		encoded.InReplyTo = uintPtr(b.InReplyTo)
	case Gossip:
		encoded.MsgID = uintPtr(b.MsgID)
		encoded.Messages = uintsPtr(b.Messages)
	case GossipOk:
		encoded.InReplyTo = uintPtr(b.InReplyTo)
	}
	return encoded
}

// fields extracts required fields from a decoded body, recording the first
// missing field.
type fields struct {
	typ     string
	missing string
}

func (f *fields) requireUint(v *uint64, name string) uint64 {
	if v == nil {
		f.setMissing(name)
		return 0
	}
	return *v
}

func (f *fields) requireString(v *string, name string) string {
	if v == nil {
		f.setMissing(name)
		return ""
	}
	return *v
}

func (f *fields) requireStrings(v *[]string, name string) []string {
	if v == nil {
		f.setMissing(name)
		return nil
	}
	if len(*v) == 0 {
		return nil
	}
	return *v
}

func (f *fields) requireUints(v *[]uint64, name string) []uint64 {
	if v == nil {
		f.setMissing(name)
		return nil
	}
	if len(*v) == 0 {
		return nil
	}
	return *v
}

func (f *fields) requireTopology(v *map[string][]string, name string) map[string][]string {
	if v == nil {
		f.setMissing(name)
		return nil
	}
	if len(*v) == 0 {
		return nil
	}
	return *v
}

func (f *fields) setMissing(name string) {
	if f.missing == "" {
		f.missing = name
	}
}

func uintPtr(v uint64) *uint64 {
	return &v
}

func stringPtr(v string) *string {
	return &v
}

func uintsPtr(v []uint64) *[]uint64 {
	if v == nil {
		v = []uint64{}
	}
	return &v
}
