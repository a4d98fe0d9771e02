// Package mpubsub implements a UDP (typically multicast) PubSub.
// Publish: a CBOR header naming "Service.Method" and the sender is written to the group, followed by the CBOR argument.
// Register: a subscriber's exported methods of the form func(*T) become handlers for "Type.Method".
// Listen: datagrams are decoded and dispatched to the matching handler. Datagrams from our own origin are dropped.
package mpubsub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/token"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// Largest UDP payload over IPv4
const maxDatagram = 65507

var (
	ErrNoListener         = errors.New("mpubsub: no read connection")
	ErrNoSuitableHandlers = errors.New("mpubsub: no suitable handlers")
	ErrDuplicateService   = errors.New("mpubsub: service already registered")
	ErrMessageTooLarge    = errors.New("mpubsub: message exceeds datagram size")
)

type MessageHeader struct {
	ServiceMethod string `cbor:"1,keyasint,omitempty"`
	Origin        string `cbor:"2,keyasint,omitempty"`
}

type handlerType struct {
	method  reflect.Method
	argType reflect.Type
}

type service struct {
	name    string
	sub     reflect.Value
	typ     reflect.Type
	methods map[string]*handlerType
}

type Stats struct {
	Published  uint64
	Dispatched uint64
	Dropped    uint64
}

type PubSub struct {
	origin     string
	rc         *net.UDPConn
	wc         *net.UDPConn
	serviceMap sync.Map

	published  atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
}

// New creates a PubSub reading from rconn and writing to wconn. rconn may be nil for a publish-only PubSub.
func New(rconn *net.UDPConn, wconn *net.UDPConn, origin string) *PubSub {
	return &PubSub{
		origin: origin,
		rc:     rconn,
		wc:     wconn,
	}
}

// JoinGroup listens on and publishes to the multicast group at address (host:port).
func JoinGroup(address string, origin string) (*PubSub, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	rc, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	wc, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return New(rc, wc, origin), nil
}

func (ps *PubSub) Register(rcvr any) error {
	s := new(service)
	s.typ = reflect.TypeOf(rcvr)
	s.sub = reflect.ValueOf(rcvr)
	sname := reflect.Indirect(s.sub).Type().Name()
	if sname == "" {
		return fmt.Errorf("mpubsub.Register: no service name for type %s", s.typ.String())
	}
	if !token.IsExported(sname) {
		return fmt.Errorf("mpubsub.Register: type %q is not exported", sname)
	}
	s.name = sname

	s.methods = suitableHandlers(s.typ)
	if len(s.methods) == 0 {
		return fmt.Errorf("%w: type %s", ErrNoSuitableHandlers, sname)
	}
	if _, dup := ps.serviceMap.LoadOrStore(sname, s); dup {
		return fmt.Errorf("%w: %s", ErrDuplicateService, sname)
	}

	for m := range s.methods {
		log.Debugf("mpubsub.Register: %s.%s", sname, m)
	}
	return nil
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type, so we need to check the type name as well.
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

func suitableHandlers(typ reflect.Type) map[string]*handlerType {
	handlers := make(map[string]*handlerType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		mname := method.Name
		if !method.IsExported() {
			continue
		}
		// receiver, *arg
		if mtype.NumIn() != 2 || mtype.NumOut() != 0 {
			log.Debugf("mpubsub.Register: method %q skipped: needs one argument and no results", mname)
			continue
		}
		argType := mtype.In(1)
		if argType.Kind() != reflect.Pointer || !isExportedOrBuiltinType(argType) {
			log.Debugf("mpubsub.Register: method %q skipped: argument %q is not a pointer to an exported type", mname, argType)
			continue
		}
		handlers[mname] = &handlerType{method: method, argType: argType}
	}
	return handlers
}

func (ps *PubSub) Publish(serviceMethod string, args any) error {
	msg := MessageHeader{
		ServiceMethod: serviceMethod,
		Origin:        ps.origin,
	}

	buf := new(bytes.Buffer)
	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(msg); err != nil {
		return err
	}
	if err := enc.Encode(args); err != nil {
		return err
	}
	if buf.Len() > maxDatagram {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, buf.Len())
	}

	if _, err := ps.wc.Write(buf.Bytes()); err != nil {
		return err
	}
	ps.published.Add(1)
	return nil
}

// Listen dispatches incoming datagrams until ctx is cancelled, which closes the read connection.
func (ps *PubSub) Listen(ctx context.Context) error {
	if ps.rc == nil {
		return ErrNoListener
	}
	stop := context.AfterFunc(ctx, func() {
		ps.rc.Close()
	})
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := ps.rc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("mpubsub: failed to read message: %v", err)
			continue
		}

		if err := ps.dispatch(buf[:n]); err != nil {
			ps.dropped.Add(1)
			log.Debugf("mpubsub: %v", err)
		}
	}
}

func (ps *PubSub) dispatch(datagram []byte) error {
	dec := cbor.NewDecoder(bytes.NewReader(datagram))

	var msg MessageHeader
	if err := dec.Decode(&msg); err != nil {
		return fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if ps.origin != "" && msg.Origin == ps.origin {
		return fmt.Errorf("own message %s", msg.ServiceMethod)
	}

	dot := strings.LastIndex(msg.ServiceMethod, ".")
	if dot < 0 {
		return fmt.Errorf("service/method ill-formed: %s", msg.ServiceMethod)
	}
	svci, ok := ps.serviceMap.Load(msg.ServiceMethod[:dot])
	if !ok {
		return fmt.Errorf("can't find service %s", msg.ServiceMethod)
	}
	svc := svci.(*service)

	handler := svc.methods[msg.ServiceMethod[dot+1:]]
	if handler == nil {
		return fmt.Errorf("can't find method %s", msg.ServiceMethod)
	}

	arg := reflect.New(handler.argType.Elem())
	if err := dec.Decode(arg.Interface()); err != nil {
		return fmt.Errorf("failed to unmarshal arguments for %s: %w", msg.ServiceMethod, err)
	}

	handler.method.Func.Call([]reflect.Value{svc.sub, arg})
	ps.dispatched.Add(1)
	return nil
}

func (ps *PubSub) Stats() Stats {
	return Stats{
		Published:  ps.published.Load(),
		Dispatched: ps.dispatched.Load(),
		Dropped:    ps.dropped.Load(),
	}
}

// Close closes both connections.
func (ps *PubSub) Close() error {
	var errs []error
	if ps.rc != nil {
		errs = append(errs, ps.rc.Close())
	}
	if ps.wc != nil {
		errs = append(errs, ps.wc.Close())
	}
	return errors.Join(errs...)
}
