package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/andydunstall/glomers/pkg/log"
	"github.com/andydunstall/glomers/pkg/protocol"
)

var (
	// ErrNotInitialized is returned when a message other than init is
	// received before the node is initialized.
	ErrNotInitialized = errors.New("not initialized")

	// ErrAlreadyInitialized is returned when a second init is received.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrMissingTopology is returned when gossiping before the topology
	// containing the local node has been received.
	ErrMissingTopology = errors.New("missing topology")
)

// Snapshot is a point in time copy of the node state.
type Snapshot struct {
	ID          string              `json:"id"`
	NodeIDs     []string            `json:"node_ids"`
	Initialized bool                `json:"initialized"`
	Topology    map[string][]string `json:"topology"`
	Neighbors   []string            `json:"neighbors"`
	Values      []uint64            `json:"values"`
	NextMsgID   uint64              `json:"next_msg_id"`
}

// State contains the nodes identity, topology and known values.
//
// State is shared by the dispatcher and gossip scheduler. Each handler and
// gossip round holds the state lock for its full duration, including
// sending any messages, so updates and ID allocation are atomic with respect
// to one another.
type State struct {
	id      string
	nodeIDs []string

	initialized bool

	// topology is nil until the first topology message is received.
	topology map[string][]string

	values map[uint64]struct{}

	// lastMsgID is the last allocated outgoing message ID.
	lastMsgID uint64

	// mu protects the above fields.
	mu sync.Mutex

	metrics *Metrics

	logger log.Logger
}

func NewState(metrics *Metrics, logger log.Logger) *State {
	return &State{
		values:  make(map[uint64]struct{}),
		metrics: metrics,
		logger:  logger.WithSubsystem("node"),
	}
}

// Init initializes the node from the given init message and sends the
// init_ok reply. The message must be the first message received.
func (s *State) Init(m *protocol.Message, t Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, ok := m.Body.(protocol.Init)
	if !ok {
		return fmt.Errorf("%w: unexpected message: %s", ErrNotInitialized, m.Body.Type())
	}
	if s.initialized {
		return ErrAlreadyInitialized
	}

	s.id = body.NodeID
	s.nodeIDs = append([]string(nil), body.NodeIDs...)
	s.initialized = true

	s.logger.SetNodeID(s.id)
	s.logger.Info(
		"node initialized",
		zap.Strings("node-ids", s.nodeIDs),
	)

	if err := t.Send(m.Reply(protocol.InitOk{InReplyTo: body.MsgID})); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Handle applies the given message and sends the reply, if any.
//
// Reply-only messages are ignored.
func (s *State) Handle(m *protocol.Message, t Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("%w: unexpected message: %s", ErrNotInitialized, m.Body.Type())
	}

	reply, err := s.apply(m)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}

	if err := t.Send(reply); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Gossip sends the full set of known values to each of the local nodes
// neighbors. Returns the number of messages sent.
func (s *State) Gossip(t Transport) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, ErrNotInitialized
	}
	neighbors, ok := s.topology[s.id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingTopology, s.id)
	}

	values := s.sortedValues()
	for _, neighbor := range neighbors {
		m := &protocol.Message{
			Src:  s.id,
			Dest: neighbor,
			Body: protocol.Gossip{
				MsgID:    s.nextMsgID(),
				Messages: values,
			},
		}
		if err := t.Send(m); err != nil {
			return 0, fmt.Errorf("write: %s: %w", neighbor, err)
		}
	}
	return len(neighbors), nil
}

// ID returns the local node ID, or an empty string if not initialized.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.id
}

// Values returns the known values in ascending order.
func (s *State) Values() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedValues()
}

// Topology returns a copy of the active topology, or nil if no topology has
// been received.
func (s *State) Topology() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.topology == nil {
		return nil
	}
	return copyTopology(s.topology)
}

func (s *State) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := &Snapshot{
		ID:          s.id,
		NodeIDs:     append([]string(nil), s.nodeIDs...),
		Initialized: s.initialized,
		Values:      s.sortedValues(),
		NextMsgID:   s.lastMsgID + 1,
	}
	if s.topology != nil {
		snapshot.Topology = copyTopology(s.topology)
		snapshot.Neighbors = append([]string(nil), s.topology[s.id]...)
	}
	return snapshot
}

// apply updates the state from the given message and returns the reply to
// send. The state lock must be held.
//
// Only replies that carry a msg_id on the wire consume a message ID. read_ok
// and gossip_ok have no msg_id field, so replying to a read or gossip leaves
// the counter unchanged.
func (s *State) apply(m *protocol.Message) (*protocol.Message, error) {
	switch body := m.Body.(type) {
	case protocol.Init:
		return nil, ErrAlreadyInitialized
	case protocol.Echo:
		return m.Reply(protocol.EchoOk{
			MsgID:     s.nextMsgID(),
			InReplyTo: body.MsgID,
			Echo:      body.Echo,
		}), nil
	case protocol.Broadcast:
		s.addValues(body.Message)
		return m.Reply(protocol.BroadcastOk{
			MsgID:     s.nextMsgID(),
			InReplyTo: body.MsgID,
		}), nil
	case protocol.Read:
		return m.Reply(protocol.ReadOk{
			InReplyTo: body.MsgID,
			Messages:  s.sortedValues(),
		}), nil
	case protocol.Topology:
		// The topology is replaced, not merged.
		s.topology = copyTopology(body.Topology)

		s.logger.Debug(
			"topology updated",
			zap.Strings("neighbors", s.topology[s.id]),
		)

		return m.Reply(protocol.TopologyOk{
			MsgID:     s.nextMsgID(),
			InReplyTo: body.MsgID,
		}), nil
	case protocol.Gossip:
		s.addValues(body.Messages...)
		return m.Reply(protocol.GossipOk{
			InReplyTo: body.MsgID,
		}), nil
	default:
		s.logger.Debug(
			"ignoring reply",
			zap.String("type", string(m.Body.Type())),
			zap.String("src", m.Src),
		)
		return nil, nil
	}
}

func (s *State) nextMsgID() uint64 {
	s.lastMsgID++
	return s.lastMsgID
}

func (s *State) addValues(values ...uint64) {
	for _, v := range values {
		s.values[v] = struct{}{}
	}
	s.metrics.Values.Set(float64(len(s.values)))
}

func (s *State) sortedValues() []uint64 {
	if len(s.values) == 0 {
		return nil
	}
	values := make([]uint64, 0, len(s.values))
	for v := range s.values {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		return values[i] < values[j]
	})
	return values
}

func copyTopology(topology map[string][]string) map[string][]string {
	c := make(map[string][]string, len(topology))
	for id, neighbors := range topology {
		c[id] = append([]string(nil), neighbors...)
	}
	return c
}
