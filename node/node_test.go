package node

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/glomers/pkg/log"
)

type testNode struct {
	node *Node

	in    *io.PipeWriter
	lines chan string
	errCh chan error

	cancel func()
}

func startNode(t *testing.T, gossipInterval time.Duration) *testNode {
	conf := DefaultConfig()
	conf.Gossip.Interval = gossipInterval

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	node := NewNode(conf, inR, outW, log.NewNopLogger())

	lines := make(chan string, 1024)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(outR)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		err := node.Run(ctx)
		outW.Close()
		errCh <- err
	}()

	n := &testNode{
		node:   node,
		in:     inW,
		lines:  lines,
		errCh:  errCh,
		cancel: cancel,
	}
	t.Cleanup(func() {
		cancel()
		inW.Close()
	})
	return n
}

func (n *testNode) Write(t *testing.T, frame string) {
	_, err := n.in.Write([]byte(frame + "\n"))
	require.NoError(t, err)
}

func (n *testNode) Next(t *testing.T) string {
	select {
	case line, ok := <-n.lines:
		require.True(t, ok, "output closed")
		return line
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for output")
		return ""
	}
}

func (n *testNode) Wait(t *testing.T) error {
	select {
	case err := <-n.errCh:
		return err
	case <-time.After(time.Second * 5):
		t.Fatal("timed out waiting for node")
		return nil
	}
}

func (n *testNode) Init(t *testing.T) {
	n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2"]}}`)
	assert.JSONEq(
		t,
		`{"src":"n1","dest":"c1","body":{"type":"init_ok","in_reply_to":1}}`,
		n.Next(t),
	)
}

func TestNode(t *testing.T) {
	t.Run("init", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		assert.Equal(t, "n1", n.node.State().ID())

		n.in.Close()
		assert.NoError(t, n.Wait(t))
	})

	t.Run("echo", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"echo","msg_id":2,"echo":"hello"}}`)
		assert.JSONEq(
			t,
			`{"src":"n1","dest":"c1","body":{"type":"echo_ok","msg_id":1,"in_reply_to":2,"echo":"hello"}}`,
			n.Next(t),
		)
	})

	t.Run("broadcast then read", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":2,"message":7}}`)
		assert.JSONEq(
			t,
			`{"src":"n1","dest":"c1","body":{"type":"broadcast_ok","msg_id":1,"in_reply_to":2}}`,
			n.Next(t),
		)

		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"read","msg_id":3}}`)
		assert.JSONEq(
			t,
			`{"src":"n1","dest":"c1","body":{"type":"read_ok","in_reply_to":3,"messages":[7]}}`,
			n.Next(t),
		)
	})

	t.Run("read empty", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"read","msg_id":2}}`)
		assert.JSONEq(
			t,
			`{"src":"n1","dest":"c1","body":{"type":"read_ok","in_reply_to":2,"messages":[]}}`,
			n.Next(t),
		)
	})

	t.Run("topology then gossip", func(t *testing.T) {
		n := startNode(t, time.Millisecond*200)
		n.Init(t)

		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"topology","msg_id":2,"topology":{"n1":["n2"],"n2":["n1"]}}}`)
		assert.JSONEq(
			t,
			`{"src":"n1","dest":"c1","body":{"type":"topology_ok","msg_id":1,"in_reply_to":2}}`,
			n.Next(t),
		)

		assert.JSONEq(
			t,
			`{"src":"n1","dest":"n2","body":{"type":"gossip","msg_id":2,"messages":[]}}`,
			n.Next(t),
		)
	})

	t.Run("gossip merge", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		n.Write(t, `{"src":"n2","dest":"n1","body":{"type":"gossip","msg_id":5,"messages":[3,1,2]}}`)
		assert.JSONEq(
			t,
			`{"src":"n1","dest":"n2","body":{"type":"gossip_ok","in_reply_to":5}}`,
			n.Next(t),
		)

		assert.Equal(t, []uint64{1, 2, 3}, n.node.State().Values())
	})

	t.Run("reply only", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		n.Write(t, `{"src":"n2","dest":"n1","body":{"type":"gossip_ok","in_reply_to":4}}`)
		// Send a read to confirm the gossip_ok produced no output.
		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"read","msg_id":2}}`)
		assert.JSONEq(
			t,
			`{"src":"n1","dest":"c1","body":{"type":"read_ok","in_reply_to":2,"messages":[]}}`,
			n.Next(t),
		)
	})

	t.Run("decode error", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		n.Write(t, `{"src":"c1","dest":"n1","body":{"msg_id":2}}`)

		err := n.Wait(t)
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "decode: "))

		// The output is closed without writing a reply.
		_, ok := <-n.lines
		assert.False(t, ok)
	})

	t.Run("missing topology", func(t *testing.T) {
		n := startNode(t, time.Millisecond*10)
		n.Init(t)

		err := n.Wait(t)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingTopology)
	})

	t.Run("handshake not init", func(t *testing.T) {
		n := startNode(t, time.Hour)

		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"read","msg_id":1}}`)

		err := n.Wait(t)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotInitialized)
		assert.True(t, strings.HasPrefix(err.Error(), "handshake: "))
	})

	t.Run("handshake decode error", func(t *testing.T) {
		n := startNode(t, time.Hour)

		n.Write(t, `not json`)

		err := n.Wait(t)
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "handshake: decode: "))
	})

	t.Run("handshake eof", func(t *testing.T) {
		n := startNode(t, time.Hour)

		n.in.Close()

		err := n.Wait(t)
		require.Error(t, err)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("cancel", func(t *testing.T) {
		n := startNode(t, time.Hour)
		n.Init(t)

		n.cancel()
		assert.NoError(t, n.Wait(t))
	})

	t.Run("cancel before init", func(t *testing.T) {
		n := startNode(t, time.Hour)

		n.cancel()
		assert.NoError(t, n.Wait(t))
	})

	t.Run("init after cancel", func(t *testing.T) {
		n := startNode(t, time.Hour)

		n.cancel()
		assert.NoError(t, n.Wait(t))

		// The pending read still consumes the frame, but the node must not
		// initialise or reply.
		n.Write(t, `{"src":"c1","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2"]}}`)

		assert.Never(t, func() bool {
			return n.node.State().ID() != ""
		}, time.Millisecond*200, time.Millisecond*10)

		_, ok := <-n.lines
		assert.False(t, ok)
	})
}
