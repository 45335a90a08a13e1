package protocol

// Type is the body discriminator, encoded as the 'type' field.
type Type string

const (
	TypeInit        Type = "init"
	TypeInitOk      Type = "init_ok"
	TypeEcho        Type = "echo"
	TypeEchoOk      Type = "echo_ok"
	TypeBroadcast   Type = "broadcast"
	TypeBroadcastOk Type = "broadcast_ok"
	TypeRead        Type = "read"
	TypeReadOk      Type = "read_ok"
	TypeTopology    Type = "topology"
	TypeTopologyOk  Type = "topology_ok"
	TypeGossip      Type = "gossip"
	TypeGossipOk    Type = "gossip_ok"
)

// ReplyOnly returns whether messages of type t are only ever sent as a
// response. A node receiving a reply-only message takes no action.
func (t Type) ReplyOnly() bool {
	switch t {
	case TypeInitOk, TypeEchoOk, TypeBroadcastOk, TypeReadOk, TypeTopologyOk, TypeGossipOk:
		return true
	default:
		return false
	}
}

// Message is the envelope exchanged between nodes and clients.
type Message struct {
	Src  string
	Dest string
	Body Body
}

// Reply returns a message addressed back to the sender of m, with the
// source and destination swapped.
func (m *Message) Reply(body Body) *Message {
	return &Message{
		Src:  m.Dest,
		Dest: m.Src,
		Body: body,
	}
}

// Body is one of the fixed set of body variants defined in this package.
type Body interface {
	Type() Type

	isBody()
}

type Init struct {
	MsgID   uint64
	NodeID  string
	NodeIDs []string
}

func (Init) Type() Type { return TypeInit }

type InitOk struct {
	InReplyTo uint64
}

func (InitOk) Type() Type { return TypeInitOk }

type Echo struct {
	MsgID uint64
	Echo  string
}

func (Echo) Type() Type { return TypeEcho }

type EchoOk struct {
	MsgID     uint64
	InReplyTo uint64
	Echo      string
}

func (EchoOk) Type() Type { return TypeEchoOk }

type Broadcast struct {
	MsgID   uint64
	Message uint64
}

func (Broadcast) Type() Type { return TypeBroadcast }

type BroadcastOk struct {
	MsgID     uint64
	InReplyTo uint64
}

func (BroadcastOk) Type() Type { return TypeBroadcastOk }

type Read struct {
	MsgID uint64
}

func (Read) Type() Type { return TypeRead }

type ReadOk struct {
	InReplyTo uint64
	Messages  []uint64
}

func (ReadOk) Type() Type { return TypeReadOk }

type Topology struct {
	MsgID    uint64
	Topology map[string][]string
}

func (Topology) Type() Type { return TypeTopology }

type TopologyOk struct {
	MsgID     uint64
	InReplyTo uint64
}

func (TopologyOk) Type() Type { return TypeTopologyOk }

// Gossip pushes the senders known values to a neighbor. Messages has set
// semantics, so duplicates and order are not significant.
type Gossip struct {
	MsgID    uint64
	Messages []uint64
}

func (Gossip) Type() Type { return TypeGossip }

type GossipOk struct {
	InReplyTo uint64
}

func (GossipOk) Type() Type { return TypeGossipOk }

func (Init) isBody()        {}
func (InitOk) isBody()      {}
func (Echo) isBody()        {}
func (EchoOk) isBody()      {}
func (Broadcast) isBody()   {}
func (BroadcastOk) isBody() {}
func (Read) isBody()        {}
func (ReadOk) isBody()      {}
func (Topology) isBody()    {}
func (TopologyOk) isBody()  {}
func (Gossip) isBody()      {}
func (GossipOk) isBody()    {}

// InReplyTo returns the message ID the given reply body responds to. Returns
// false if the body is not a reply.
func InReplyTo(b Body) (uint64, bool) {
	switch body := b.(type) {
	case InitOk:
		return body.InReplyTo, true
	case EchoOk:
		return body.InReplyTo, true
	case BroadcastOk:
		return body.InReplyTo, true
	case ReadOk:
		return body.InReplyTo, true
	case TopologyOk:
		return body.InReplyTo, true
	case GossipOk:
		return body.InReplyTo, true
	default:
		return 0, false
	}
}
