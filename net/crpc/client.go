package crpc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// ServerError is an error returned by the remote method.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

type call struct {
	reply any
	err   error
	done  chan struct{}
}

// Client multiplexes concurrent calls over one connection.
type Client struct {
	conn io.ReadWriteCloser

	sendMu  sync.Mutex
	encoder *cbor.Encoder

	mu       sync.Mutex // protects following fields
	seq      uint64
	pending  map[uint64]*call
	closing  bool // user has called Close
	shutdown bool // input loop has stopped
}

func NewClient(conn io.ReadWriteCloser) *Client {
	client := &Client{
		conn:    conn,
		encoder: cbor.NewEncoder(conn),
		pending: make(map[uint64]*call),
	}
	go client.input()
	return client
}

// Dial connects to an RPC server at the specified network address.
func Dial(ctx context.Context, network string, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Call invokes serviceMethod and waits for the reply or for ctx to be done.
func (client *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	c := &call{reply: reply, done: make(chan struct{})}

	client.mu.Lock()
	if client.closing || client.shutdown {
		client.mu.Unlock()
		return ErrShutdown
	}
	seq := client.seq
	client.seq++
	client.pending[seq] = c
	client.mu.Unlock()

	client.sendMu.Lock()
	err := client.encoder.Encode(&RequestHeader{Seq: seq, Method: serviceMethod})
	if err == nil {
		err = client.encoder.Encode(args)
	}
	client.sendMu.Unlock()

	if err != nil {
		client.forget(seq)
		return err
	}

	select {
	case <-ctx.Done():
		// A late reply for seq is consumed and discarded by the input loop
		client.forget(seq)
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

func (client *Client) forget(seq uint64) {
	client.mu.Lock()
	delete(client.pending, seq)
	client.mu.Unlock()
}

func (client *Client) input() {
	var err error
	decoder := cbor.NewDecoder(client.conn)

	for {
		res := ResponseHeader{}
		if err = decoder.Decode(&res); err != nil {
			break
		}

		client.mu.Lock()
		c := client.pending[res.Seq]
		delete(client.pending, res.Seq)
		client.mu.Unlock()

		switch {
		case res.Err != "":
			if c != nil {
				c.err = ServerError(res.Err)
				close(c.done)
			}
		case c == nil:
			var skip cbor.RawMessage
			err = decoder.Decode(&skip)
			log.Debugf("crpc: discarded reply for abandoned call %d", res.Seq)
		default:
			if derr := decoder.Decode(c.reply); derr != nil {
				c.err = derr
				err = derr
			}
			close(c.done)
		}
		if err != nil {
			break
		}
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	client.shutdown = true
	failure := err
	if client.closing || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		failure = ErrShutdown
	} else {
		log.Warnf("crpc: client input loop error: %v", err)
	}
	for seq, c := range client.pending {
		c.err = failure
		close(c.done)
		delete(client.pending, seq)
	}
}

// Close closes the underlying connection. Pending calls fail with ErrShutdown.
func (client *Client) Close() error {
	client.mu.Lock()
	if client.closing {
		client.mu.Unlock()
		return ErrShutdown
	}
	client.closing = true
	client.mu.Unlock()
	return client.conn.Close()
}
