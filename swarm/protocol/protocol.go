package protocol

import (
	"meshledger/datamodel/chain"
)

// ChainSyncRequest asks for the chains with serial in [FromSerial, FromSerial+BatchSize).
type ChainSyncRequest struct {
	NodeID     string `cbor:"1,keyasint,omitempty"` // Requesting node
	FromSerial uint64 `cbor:"2,keyasint,omitempty"` // First serial of the batch
	BatchSize  uint64 `cbor:"3,keyasint,omitempty"` // Number of serials covered by the batch
}

type ChainSyncResponse struct {
	NodeID     string          `cbor:"1,keyasint,omitempty"` // Responding node
	Chains     []*chain.Record `cbor:"2,keyasint,omitempty"`
	NextSerial uint64          `cbor:"3,keyasint,omitempty"` // FromSerial of the following batch
	MaxSerial  uint64          `cbor:"4,keyasint,omitempty"` // Highest serial held by the responder
}

type ChainGetRequest struct {
	GenesisHash string `cbor:"1,keyasint,omitempty"`
}

type ChainGetResponse struct {
	Chain *chain.Record `cbor:"1,keyasint,omitempty"`
}

// SyncAnnouncement advertises a ledger sync endpoint on the announcement group.
type SyncAnnouncement struct {
	NodeID    string `cbor:"1,keyasint,omitempty"`
	Address   string `cbor:"2,keyasint,omitempty"` // crpc address serving Ledger.*
	MaxSerial uint64 `cbor:"3,keyasint,omitempty"`
	Chains    uint64 `cbor:"4,keyasint,omitempty"`
}
