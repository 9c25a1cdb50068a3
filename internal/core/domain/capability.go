package domain

// Capability is a 4-byte feature id probed by integration tooling, mirroring
// the interface detection scheme of the on-chain token standards the
// registries model.
type Capability uint32

const (
	CapProbe            Capability = 0x01ffc9a7
	CapUnique           Capability = 0x80ac58cd
	CapQuantity         Capability = 0xd9b67a26
	CapUniqueReceiver   Capability = 0x150b7a02
	CapQuantityReceiver Capability = 0x4e2312e0
)
