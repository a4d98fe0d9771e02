// Package crpc is a small reflective RPC layer. Each message on the wire is a CBOR header followed by a CBOR body.
// A service is any exported type whose exported methods look like
//
//	func (t *T) Method(args *Args, reply *Reply) error
//
// and is addressed as "T.Method".
package crpc

type RequestHeader struct {
	Seq    uint64 `cbor:"1,keyasint,omitempty"`
	Method string `cbor:"2,keyasint,omitempty"`
}

type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}
