package types

// Capabilities is the set of control operations legal on the currently
// active transport.
type Capabilities struct {
	Cancel          bool `json:"cancel"`
	Modify          bool `json:"modify"`
	Pause           bool `json:"pause"`
	Resume          bool `json:"resume"`
	MultiRequest    bool `json:"multiRequest"`
	Permissions     bool `json:"permissions"`
	InternalActions bool `json:"internalActions"`
}

// FullCapabilities is what the duplex transport offers.
func FullCapabilities() Capabilities {
	return Capabilities{
		Cancel:          true,
		Modify:          true,
		Pause:           true,
		Resume:          true,
		MultiRequest:    true,
		Permissions:     true,
		InternalActions: true,
	}
}

// StreamCapabilities is the reduced set of the unidirectional streaming
// transport: no mid-flight control messages, one request at a time.
func StreamCapabilities() Capabilities {
	return Capabilities{
		Permissions:     true,
		InternalActions: true,
	}
}

// NoCapabilities is the empty set used when no transport is active.
func NoCapabilities() Capabilities {
	return Capabilities{}
}
