package crpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

var ErrNoSuitableMethods = errors.New("crpc: no suitable methods")

type methodType struct {
	method    reflect.Method
	argType   reflect.Type
	replyType reflect.Type
	numCalls  atomic.Uint64
}

type service struct {
	name   string
	rcvr   reflect.Value
	method map[string]*methodType
}

type Server struct {
	listener   net.Listener
	serviceMap sync.Map // map[string]*service
	conns      sync.WaitGroup
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
	}
}

// Register publishes the suitable methods of rcvr under the name of its type.
func (srv *Server) Register(rcvr any) error {
	s := &service{rcvr: reflect.ValueOf(rcvr)}
	sname := reflect.Indirect(s.rcvr).Type().Name()
	if sname == "" || !token.IsExported(sname) {
		return fmt.Errorf("crpc.Register: type %s is not an exported named type", s.rcvr.Type())
	}
	s.name = sname

	s.method = suitableMethods(s.rcvr.Type())
	if len(s.method) == 0 {
		return fmt.Errorf("%w on %s", ErrNoSuitableMethods, sname)
	}

	if _, dup := srv.serviceMap.LoadOrStore(sname, s); dup {
		return fmt.Errorf("crpc.Register: service already defined: %s", sname)
	}

	for m := range s.method {
		log.Debugf("crpc.Register: %s.%s", sname, m)
	}
	return nil
}

func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

func suitableMethods(typ reflect.Type) map[string]*methodType {
	methods := make(map[string]*methodType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		if !method.IsExported() || mtype.NumIn() != 3 || mtype.NumOut() != 1 {
			continue
		}
		argType, replyType := mtype.In(1), mtype.In(2)
		if argType.Kind() != reflect.Pointer || replyType.Kind() != reflect.Pointer {
			log.Debugf("crpc.Register: skipping %s: arguments must be pointers", method.Name)
			continue
		}
		if !isExportedOrBuiltinType(argType) || !isExportedOrBuiltinType(replyType) {
			log.Debugf("crpc.Register: skipping %s: argument types must be exported", method.Name)
			continue
		}
		if mtype.Out(0) != reflect.TypeFor[error]() {
			continue
		}
		methods[method.Name] = &methodType{method: method, argType: argType, replyType: replyType}
	}
	return methods
}

func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// NumCalls reports how many times serviceMethod was invoked.
func (srv *Server) NumCalls(serviceMethod string) uint64 {
	mtype, _, err := srv.lookup(serviceMethod)
	if err != nil {
		return 0
	}
	return mtype.numCalls.Load()
}

// Serve accepts connections until ctx is cancelled. Open connections are closed before Serve returns.
func (srv *Server) Serve(ctx context.Context) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-cctx.Done()
		if err := srv.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warnf("crpc.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				srv.conns.Wait()
				log.Infof("crpc.Server: listener %s stopped", srv.listener.Addr())
				return ctx.Err()
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				tempDelay = min(max(2*tempDelay, 5*time.Millisecond), time.Second)
				log.Warnf("crpc.Server: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			cancel()
			srv.conns.Wait()
			return err
		}
		tempDelay = 0

		log.Debugf("crpc.Server: accepted connection from %s", conn.RemoteAddr())
		srv.conns.Add(1)
		go func() {
			defer srv.conns.Done()
			srv.serveConn(cctx, conn)
		}()
	}
}

func (srv *Server) lookup(serviceMethod string) (*methodType, *service, error) {
	dot := strings.LastIndex(serviceMethod, ".")
	if dot < 0 {
		return nil, nil, fmt.Errorf("crpc: ill-formed method %q", serviceMethod)
	}
	svci, ok := srv.serviceMap.Load(serviceMethod[:dot])
	if !ok {
		return nil, nil, fmt.Errorf("crpc: unknown service %q", serviceMethod[:dot])
	}
	svc := svci.(*service)
	mtype := svc.method[serviceMethod[dot+1:]]
	if mtype == nil {
		return nil, nil, fmt.Errorf("crpc: unknown method %q", serviceMethod)
	}
	return mtype, svc, nil
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	decoder := cbor.NewDecoder(conn)
	encoder := cbor.NewEncoder(conn)

	for {
		req := &RequestHeader{}
		if err := decoder.Decode(req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Debugf("crpc.Server: connection %s closed", conn.RemoteAddr())
			} else {
				log.Errorf("crpc.Server: error decoding request header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		res := &ResponseHeader{Seq: req.Seq}
		var reply any

		mtype, svc, err := srv.lookup(req.Method)
		if err != nil {
			// Consume the body so the stream stays in sync
			var skip cbor.RawMessage
			if derr := decoder.Decode(&skip); derr != nil {
				log.Errorf("crpc.Server: error skipping body of %q from %s: %v", req.Method, conn.RemoteAddr(), derr)
				return
			}
			res.Err = err.Error()
		} else {
			argv := reflect.New(mtype.argType.Elem())
			if err := decoder.Decode(argv.Interface()); err != nil {
				log.Errorf("crpc.Server: error decoding argument for %s from %s: %v", req.Method, conn.RemoteAddr(), err)
				return
			}
			replyv := reflect.New(mtype.replyType.Elem())
			if err := svc.call(mtype, argv, replyv); err != nil {
				res.Err = err.Error()
			} else {
				reply = replyv.Interface()
			}
		}

		if err := encoder.Encode(res); err != nil {
			log.Errorf("crpc.Server: error encoding response header for %s: %v", req.Method, err)
			return
		}
		if res.Err == "" {
			if err := encoder.Encode(reply); err != nil {
				log.Errorf("crpc.Server: error encoding response body for %s: %v", req.Method, err)
				return
			}
		}
	}
}

func (svc *service) call(mtype *methodType, argv, replyv reflect.Value) (err error) {
	mtype.numCalls.Add(1)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("crpc.Server: panic in %s.%s: %v", svc.name, mtype.method.Name, r)
			err = fmt.Errorf("crpc: internal server error in %s.%s", svc.name, mtype.method.Name)
		}
	}()
	out := mtype.method.Func.Call([]reflect.Value{svc.rcvr, argv, replyv})
	if e := out[0].Interface(); e != nil {
		return e.(error)
	}
	return nil
}
