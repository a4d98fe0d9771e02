package crpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type EchoArgs struct {
	Text  string `cbor:"1,keyasint,omitempty"`
	Delay time.Duration
}

type EchoReply struct {
	Text string `cbor:"1,keyasint,omitempty"`
}

type Echo struct{}

func (e *Echo) Upper(args *EchoArgs, reply *EchoReply) error {
	time.Sleep(args.Delay)
	reply.Text = strings.ToUpper(args.Text)
	return nil
}

func (e *Echo) Fail(args *EchoArgs, reply *EchoReply) error {
	return errors.New("nope: " + args.Text)
}

func (e *Echo) Panic(args *EchoArgs, reply *EchoReply) error {
	panic("boom")
}

// Not an RPC method: wrong signature
func (e *Echo) Helper() string { return "" }

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(l)
	require.NoError(t, srv.Register(&Echo{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	client, err := Dial(context.Background(), "tcp", l.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
	})
	return srv, client
}

func TestCall(t *testing.T) {
	srv, client := startServer(t)

	reply := &EchoReply{}
	require.NoError(t, client.Call(context.Background(), "Echo.Upper", &EchoArgs{Text: "hello"}, reply))
	require.Equal(t, "HELLO", reply.Text)
	require.Equal(t, uint64(1), srv.NumCalls("Echo.Upper"))
}

func TestCallErrors(t *testing.T) {
	_, client := startServer(t)
	ctx := context.Background()

	err := client.Call(ctx, "Echo.Fail", &EchoArgs{Text: "x"}, &EchoReply{})
	var se ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "nope: x", se.Error())

	err = client.Call(ctx, "Echo.Panic", &EchoArgs{}, &EchoReply{})
	require.ErrorAs(t, err, &se)

	// Unknown methods fail the call but keep the connection usable
	err = client.Call(ctx, "Echo.Helper", &EchoArgs{}, &EchoReply{})
	require.ErrorAs(t, err, &se)
	err = client.Call(ctx, "Nope.Upper", &EchoArgs{}, &EchoReply{})
	require.ErrorAs(t, err, &se)

	reply := &EchoReply{}
	require.NoError(t, client.Call(ctx, "Echo.Upper", &EchoArgs{Text: "still here"}, reply))
	require.Equal(t, "STILL HERE", reply.Text)
}

func TestConcurrentCalls(t *testing.T) {
	_, client := startServer(t)

	var wg sync.WaitGroup
	for _, word := range []string{"a", "bb", "ccc", "dddd", "eeeee"} {
		wg.Add(1)
		go func(word string) {
			defer wg.Done()
			reply := &EchoReply{}
			if err := client.Call(context.Background(), "Echo.Upper", &EchoArgs{Text: word}, reply); err != nil {
				t.Error(err)
				return
			}
			if reply.Text != strings.ToUpper(word) {
				t.Errorf("got %q for %q", reply.Text, word)
			}
		}(word)
	}
	wg.Wait()
}

func TestCallContextCancelled(t *testing.T) {
	_, client := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Call(ctx, "Echo.Upper", &EchoArgs{Text: "slow", Delay: 200 * time.Millisecond}, &EchoReply{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The late reply is discarded and the next call still lines up
	reply := &EchoReply{}
	require.NoError(t, client.Call(context.Background(), "Echo.Upper", &EchoArgs{Text: "next"}, reply))
	require.Equal(t, "NEXT", reply.Text)
}

func TestCallAfterClose(t *testing.T) {
	_, client := startServer(t)
	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Close(), ErrShutdown)
	require.ErrorIs(t, client.Call(context.Background(), "Echo.Upper", &EchoArgs{}, &EchoReply{}), ErrShutdown)
}

type NoMethods struct{}

type hidden struct{}

func (h *hidden) Upper(args *EchoArgs, reply *EchoReply) error { return nil }

func TestRegisterRejects(t *testing.T) {
	srv := NewServer(nil)
	require.NoError(t, srv.Register(&Echo{}))
	require.Error(t, srv.Register(&Echo{}))
	require.ErrorIs(t, srv.Register(&NoMethods{}), ErrNoSuitableMethods)
	require.Error(t, srv.Register(&hidden{}))
}
