package node

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/glomers/pkg/log"
	"github.com/andydunstall/glomers/pkg/protocol"
)

type fakeTransport struct {
	messages []*protocol.Message
	err      error

	mu sync.Mutex
}

func (t *fakeTransport) Send(m *protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}
	t.messages = append(t.messages, m)
	return nil
}

func (t *fakeTransport) Messages() []*protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*protocol.Message(nil), t.messages...)
}

func (t *fakeTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = nil
}

var _ Transport = &fakeTransport{}

// testState returns a state initialized as node 'n1'.
func testState(t *testing.T) (*State, *fakeTransport) {
	state := NewState(NewMetrics(), log.NewNopLogger())
	transport := &fakeTransport{}

	require.NoError(t, state.Init(&protocol.Message{
		Src:  "c1",
		Dest: "n1",
		Body: protocol.Init{
			MsgID:   1,
			NodeID:  "n1",
			NodeIDs: []string{"n1", "n2", "n3"},
		},
	}, transport))
	transport.Reset()

	return state, transport
}

func handle(t *testing.T, state *State, transport Transport, body protocol.Body) {
	require.NoError(t, state.Handle(&protocol.Message{
		Src:  "c1",
		Dest: "n1",
		Body: body,
	}, transport))
}

func TestState_Init(t *testing.T) {
	t.Run("init", func(t *testing.T) {
		state := NewState(NewMetrics(), log.NewNopLogger())
		transport := &fakeTransport{}

		require.NoError(t, state.Init(&protocol.Message{
			Src:  "c1",
			Dest: "n1",
			Body: protocol.Init{
				MsgID:   1,
				NodeID:  "n1",
				NodeIDs: []string{"n1", "n2"},
			},
		}, transport))

		assert.Equal(t, []*protocol.Message{
			{Src: "n1", Dest: "c1", Body: protocol.InitOk{InReplyTo: 1}},
		}, transport.Messages())

		snapshot := state.Snapshot()
		assert.Equal(t, "n1", snapshot.ID)
		assert.Equal(t, []string{"n1", "n2"}, snapshot.NodeIDs)
		assert.True(t, snapshot.Initialized)
		// init_ok doesn't carry a message ID so none is allocated.
		assert.Equal(t, uint64(1), snapshot.NextMsgID)
	})

	t.Run("first message not init", func(t *testing.T) {
		state := NewState(NewMetrics(), log.NewNopLogger())
		transport := &fakeTransport{}

		err := state.Init(&protocol.Message{
			Src:  "c1",
			Dest: "n1",
			Body: protocol.Read{MsgID: 1},
		}, transport)
		assert.ErrorIs(t, err, ErrNotInitialized)
		assert.Empty(t, transport.Messages())
	})

	t.Run("init twice", func(t *testing.T) {
		state, transport := testState(t)

		err := state.Init(&protocol.Message{
			Src:  "c1",
			Dest: "n1",
			Body: protocol.Init{MsgID: 2, NodeID: "n2"},
		}, transport)
		assert.ErrorIs(t, err, ErrAlreadyInitialized)

		// A second init via the dispatcher is also rejected.
		err = state.Handle(&protocol.Message{
			Src:  "c1",
			Dest: "n1",
			Body: protocol.Init{MsgID: 3, NodeID: "n2"},
		}, transport)
		assert.ErrorIs(t, err, ErrAlreadyInitialized)

		assert.Equal(t, "n1", state.ID())
		assert.Empty(t, transport.Messages())
	})

	t.Run("handle before init", func(t *testing.T) {
		state := NewState(NewMetrics(), log.NewNopLogger())
		transport := &fakeTransport{}

		err := state.Handle(&protocol.Message{
			Src:  "c1",
			Dest: "n1",
			Body: protocol.Broadcast{MsgID: 1, Message: 5},
		}, transport)
		assert.ErrorIs(t, err, ErrNotInitialized)
		assert.Empty(t, transport.Messages())
		assert.Nil(t, state.Values())
	})

	t.Run("write error", func(t *testing.T) {
		state := NewState(NewMetrics(), log.NewNopLogger())
		transport := &fakeTransport{err: errors.New("closed")}

		err := state.Init(&protocol.Message{
			Src:  "c1",
			Dest: "n1",
			Body: protocol.Init{MsgID: 1, NodeID: "n1"},
		}, transport)
		assert.Error(t, err)
	})
}

func TestState_Echo(t *testing.T) {
	state, transport := testState(t)

	handle(t, state, transport, protocol.Echo{MsgID: 4, Echo: "hello"})

	assert.Equal(t, []*protocol.Message{
		{
			Src:  "n1",
			Dest: "c1",
			Body: protocol.EchoOk{MsgID: 1, InReplyTo: 4, Echo: "hello"},
		},
	}, transport.Messages())
}

func TestState_Broadcast(t *testing.T) {
	t.Run("broadcast", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Broadcast{MsgID: 2, Message: 42})
		assert.Equal(t, []*protocol.Message{
			{
				Src:  "n1",
				Dest: "c1",
				Body: protocol.BroadcastOk{MsgID: 1, InReplyTo: 2},
			},
		}, transport.Messages())

		transport.Reset()

		handle(t, state, transport, protocol.Read{MsgID: 3})
		assert.Equal(t, []*protocol.Message{
			{
				Src:  "n1",
				Dest: "c1",
				Body: protocol.ReadOk{InReplyTo: 3, Messages: []uint64{42}},
			},
		}, transport.Messages())
	})

	t.Run("idempotent", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Broadcast{MsgID: 2, Message: 42})
		once := state.Values()

		handle(t, state, transport, protocol.Broadcast{MsgID: 3, Message: 42})
		assert.Equal(t, once, state.Values())
		assert.Equal(t, []uint64{42}, state.Values())

		// Each broadcast is still acknowledged.
		assert.Len(t, transport.Messages(), 2)
	})
}

func TestState_Read(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Read{MsgID: 2})
		assert.Equal(t, []*protocol.Message{
			{
				Src:  "n1",
				Dest: "c1",
				Body: protocol.ReadOk{InReplyTo: 2},
			},
		}, transport.Messages())
	})

	t.Run("sorted", func(t *testing.T) {
		state, transport := testState(t)

		for i, v := range []uint64{5, 1, 3, 2, 4} {
			handle(t, state, transport, protocol.Broadcast{
				MsgID: uint64(i + 2), Message: v,
			})
		}
		transport.Reset()

		handle(t, state, transport, protocol.Read{MsgID: 10})
		assert.Equal(
			t,
			protocol.ReadOk{InReplyTo: 10, Messages: []uint64{1, 2, 3, 4, 5}},
			transport.Messages()[0].Body,
		)
	})
}

func TestState_Topology(t *testing.T) {
	t.Run("replace", func(t *testing.T) {
		state, transport := testState(t)

		assert.Nil(t, state.Topology())

		handle(t, state, transport, protocol.Topology{
			MsgID: 2,
			Topology: map[string][]string{
				"n1": {"n2"},
				"n2": {"n1", "n3"},
				"n3": {"n2"},
			},
		})
		handle(t, state, transport, protocol.Topology{
			MsgID: 3,
			Topology: map[string][]string{
				"n1": {"n3"},
				"n3": {"n1"},
			},
		})

		// The second topology replaces the first rather than merging.
		assert.Equal(t, map[string][]string{
			"n1": {"n3"},
			"n3": {"n1"},
		}, state.Topology())

		assert.Equal(t, []*protocol.Message{
			{
				Src:  "n1",
				Dest: "c1",
				Body: protocol.TopologyOk{MsgID: 1, InReplyTo: 2},
			},
			{
				Src:  "n1",
				Dest: "c1",
				Body: protocol.TopologyOk{MsgID: 2, InReplyTo: 3},
			},
		}, transport.Messages())
	})

	t.Run("copied", func(t *testing.T) {
		state, transport := testState(t)

		topology := map[string][]string{"n1": {"n2"}}
		handle(t, state, transport, protocol.Topology{MsgID: 2, Topology: topology})

		topology["n1"][0] = "n3"
		assert.Equal(t, map[string][]string{"n1": {"n2"}}, state.Topology())
	})
}

func TestState_GossipMerge(t *testing.T) {
	t.Run("union", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Broadcast{MsgID: 2, Message: 10})
		handle(t, state, transport, protocol.Gossip{MsgID: 3, Messages: []uint64{1, 2}})
		handle(t, state, transport, protocol.Gossip{MsgID: 4, Messages: []uint64{2, 3}})

		assert.Equal(t, []uint64{1, 2, 3, 10}, state.Values())
	})

	t.Run("commutative", func(t *testing.T) {
		a := []uint64{1, 2}
		b := []uint64{2, 3}

		state1, transport1 := testState(t)
		handle(t, state1, transport1, protocol.Gossip{MsgID: 2, Messages: a})
		handle(t, state1, transport1, protocol.Gossip{MsgID: 3, Messages: b})

		state2, transport2 := testState(t)
		handle(t, state2, transport2, protocol.Gossip{MsgID: 2, Messages: b})
		handle(t, state2, transport2, protocol.Gossip{MsgID: 3, Messages: a})

		assert.Equal(t, []uint64{1, 2, 3}, state1.Values())
		assert.Equal(t, state1.Values(), state2.Values())
	})

	t.Run("never shrinks", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Gossip{MsgID: 2, Messages: []uint64{1, 2, 3}})
		handle(t, state, transport, protocol.Gossip{MsgID: 3})
		handle(t, state, transport, protocol.Gossip{MsgID: 4, Messages: []uint64{1}})

		assert.Equal(t, []uint64{1, 2, 3}, state.Values())
	})

	t.Run("reply", func(t *testing.T) {
		state, transport := testState(t)

		require.NoError(t, state.Handle(&protocol.Message{
			Src:  "n2",
			Dest: "n1",
			Body: protocol.Gossip{MsgID: 7, Messages: []uint64{1}},
		}, transport))

		assert.Equal(t, []*protocol.Message{
			{Src: "n1", Dest: "n2", Body: protocol.GossipOk{InReplyTo: 7}},
		}, transport.Messages())
	})
}

func TestState_ReplyOnly(t *testing.T) {
	bodies := []protocol.Body{
		protocol.InitOk{InReplyTo: 1},
		protocol.EchoOk{MsgID: 1, InReplyTo: 1, Echo: "foo"},
		protocol.BroadcastOk{MsgID: 1, InReplyTo: 1},
		protocol.ReadOk{InReplyTo: 1, Messages: []uint64{1, 2}},
		protocol.TopologyOk{MsgID: 1, InReplyTo: 1},
		protocol.GossipOk{InReplyTo: 1},
	}
	for _, body := range bodies {
		t.Run(string(body.Type()), func(t *testing.T) {
			state, transport := testState(t)

			before := state.Snapshot()
			handle(t, state, transport, body)

			assert.Empty(t, transport.Messages())
			assert.Equal(t, before, state.Snapshot())
		})
	}
}

func TestState_MsgIDs(t *testing.T) {
	state, transport := testState(t)

	handle(t, state, transport, protocol.Echo{MsgID: 10, Echo: "a"})
	handle(t, state, transport, protocol.Read{MsgID: 11})
	handle(t, state, transport, protocol.Gossip{MsgID: 12, Messages: []uint64{1}})
	handle(t, state, transport, protocol.Broadcast{MsgID: 13, Message: 2})
	handle(t, state, transport, protocol.BroadcastOk{MsgID: 14, InReplyTo: 1})
	handle(t, state, transport, protocol.Topology{
		MsgID: 15, Topology: map[string][]string{"n1": {"n2"}},
	})

	var ids []uint64
	for _, m := range transport.Messages() {
		switch body := m.Body.(type) {
		case protocol.EchoOk:
			ids = append(ids, body.MsgID)
		case protocol.BroadcastOk:
			ids = append(ids, body.MsgID)
		case protocol.TopologyOk:
			ids = append(ids, body.MsgID)
		}
	}
	// Only replies carrying a message ID allocate one.
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	transport.Reset()

	_, err := state.Gossip(transport)
	require.NoError(t, err)
	assert.Equal(
		t,
		protocol.Gossip{MsgID: 4, Messages: []uint64{1, 2}},
		transport.Messages()[0].Body,
	)
}

func TestState_MsgIDsUnnumberedReplies(t *testing.T) {
	state, transport := testState(t)

	handle(t, state, transport, protocol.Echo{MsgID: 10, Echo: "a"})
	for i := 0; i != 5; i++ {
		handle(t, state, transport, protocol.Read{MsgID: 11})
		handle(t, state, transport, protocol.Gossip{MsgID: 12})
	}
	handle(t, state, transport, protocol.Echo{MsgID: 13, Echo: "b"})

	messages := transport.Messages()
	require.Len(t, messages, 12)

	// read_ok and gossip_ok don't carry a msg_id, so the echo replies
	// either side of them are numbered consecutively.
	assert.Equal(t, uint64(1), messages[0].Body.(protocol.EchoOk).MsgID)
	assert.Equal(t, uint64(2), messages[11].Body.(protocol.EchoOk).MsgID)
}

func TestState_Gossip(t *testing.T) {
	t.Run("neighbors", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Topology{
			MsgID: 3,
			Topology: map[string][]string{
				"n1": {"n2", "n3"},
				"n2": {"n1"},
				"n3": {"n1"},
			},
		})
		handle(t, state, transport, protocol.Broadcast{MsgID: 4, Message: 42})
		handle(t, state, transport, protocol.Gossip{MsgID: 5, Messages: []uint64{7}})
		transport.Reset()

		sent, err := state.Gossip(transport)
		require.NoError(t, err)
		assert.Equal(t, 2, sent)

		assert.Equal(t, []*protocol.Message{
			{
				Src:  "n1",
				Dest: "n2",
				Body: protocol.Gossip{MsgID: 3, Messages: []uint64{7, 42}},
			},
			{
				Src:  "n1",
				Dest: "n3",
				Body: protocol.Gossip{MsgID: 4, Messages: []uint64{7, 42}},
			},
		}, transport.Messages())
	})

	t.Run("single neighbor", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Topology{
			MsgID: 3,
			Topology: map[string][]string{
				"n1": {"n2"},
				"n2": {"n1"},
			},
		})
		transport.Reset()

		sent, err := state.Gossip(transport)
		require.NoError(t, err)
		assert.Equal(t, 1, sent)

		messages := transport.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, "n2", messages[0].Dest)
		assert.Equal(t, protocol.TypeGossip, messages[0].Body.Type())
	})

	t.Run("no neighbors", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Topology{
			MsgID:    3,
			Topology: map[string][]string{"n1": {}},
		})
		transport.Reset()

		sent, err := state.Gossip(transport)
		require.NoError(t, err)
		assert.Equal(t, 0, sent)
		assert.Empty(t, transport.Messages())
	})

	t.Run("missing topology", func(t *testing.T) {
		state, transport := testState(t)

		_, err := state.Gossip(transport)
		assert.ErrorIs(t, err, ErrMissingTopology)
	})

	t.Run("missing local node", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Topology{
			MsgID:    3,
			Topology: map[string][]string{"n2": {"n3"}},
		})

		_, err := state.Gossip(transport)
		assert.ErrorIs(t, err, ErrMissingTopology)
	})

	t.Run("not initialized", func(t *testing.T) {
		state := NewState(NewMetrics(), log.NewNopLogger())

		_, err := state.Gossip(&fakeTransport{})
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("write error", func(t *testing.T) {
		state, transport := testState(t)

		handle(t, state, transport, protocol.Topology{
			MsgID:    3,
			Topology: map[string][]string{"n1": {"n2"}},
		})

		_, err := state.Gossip(&fakeTransport{err: errors.New("closed")})
		assert.Error(t, err)
	})
}
