package p2p

// HandlerFunc is one callback in a message-handler chain. It receives the
// originating connection's established peer (nil pre-handshake) and the
// message payload, and returns an error to accumulate into a FunctorError
// rather than abort the chain (spec.md §4.3: "each returns success or
// accumulates into a FunctorError vector").
type HandlerFunc func(peer *Peer, payload []byte) error

// RequestKind and ResponseKind enumerate the per-wire-category callback
// chains of spec.md §4.3.
type RequestKind string
type ResponseKind string
type PacketKind string

const (
	ReqPing        RequestKind = "Ping"
	ReqFindNode    RequestKind = "FindNode"
	ReqGetPeers    RequestKind = "GetPeers"
	ReqJoinNetwork RequestKind = "JoinNetwork"
	ReqLeaveNetwork RequestKind = "LeaveNetwork"
	ReqHandshake   RequestKind = "Handshake"
	ReqBanNode     RequestKind = "BanNode"
	ReqUnbanNode   RequestKind = "UnbanNode"
	ReqRetransmit  RequestKind = "Retransmit"

	RespFindNode  ResponseKind = "FindNode"
	RespPong      ResponseKind = "Pong"
	RespPeerList  ResponseKind = "PeerList"
	RespHandshake ResponseKind = "Handshake"

	PacketDirect      PacketKind = "Direct"
	PacketBroadcasted PacketKind = "Broadcasted"
)

// HandlerTable is a registry of typed callback chains, one vector per
// wire-category, plus a pre-dispatch "common" hook run ahead of every
// message. Per spec.md §9's design note, the whole table is swapped
// atomically at the handshake transition rather than mutated under a
// lock — Connection simply holds a *HandlerTable and replaces the
// pointer.
type HandlerTable struct {
	Common    []HandlerFunc
	Requests  map[RequestKind][]HandlerFunc
	Responses map[ResponseKind][]HandlerFunc
	Packets   map[PacketKind][]HandlerFunc
	Unknown   []HandlerFunc
	Invalid   []HandlerFunc
}

// NewHandlerTable returns an empty table ready for registration.
func NewHandlerTable() *HandlerTable {
	return &HandlerTable{
		Requests:  make(map[RequestKind][]HandlerFunc),
		Responses: make(map[ResponseKind][]HandlerFunc),
		Packets:   make(map[PacketKind][]HandlerFunc),
	}
}

func (t *HandlerTable) OnCommon(h HandlerFunc) { t.Common = append(t.Common, h) }
func (t *HandlerTable) OnRequest(k RequestKind, h HandlerFunc) {
	t.Requests[k] = append(t.Requests[k], h)
}
func (t *HandlerTable) OnResponse(k ResponseKind, h HandlerFunc) {
	t.Responses[k] = append(t.Responses[k], h)
}
func (t *HandlerTable) OnPacket(k PacketKind, h HandlerFunc) {
	t.Packets[k] = append(t.Packets[k], h)
}
func (t *HandlerTable) OnUnknown(h HandlerFunc) { t.Unknown = append(t.Unknown, h) }
func (t *HandlerTable) OnInvalid(h HandlerFunc) { t.Invalid = append(t.Invalid, h) }

// dispatchChain runs the common hook, then chain, in registration order,
// accumulating failures rather than stopping at the first one.
func (t *HandlerTable) dispatchChain(chain []HandlerFunc, peer *Peer, payload []byte) error {
	var errs []error
	for _, h := range t.Common {
		if err := h(peer, payload); err != nil {
			errs = append(errs, err)
		}
	}
	for _, h := range chain {
		if err := h(peer, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &FunctorError{Errors: errs}
	}
	return nil
}

func (t *HandlerTable) DispatchRequest(k RequestKind, peer *Peer, payload []byte) error {
	return t.dispatchChain(t.Requests[k], peer, payload)
}

func (t *HandlerTable) DispatchResponse(k ResponseKind, peer *Peer, payload []byte) error {
	return t.dispatchChain(t.Responses[k], peer, payload)
}

func (t *HandlerTable) DispatchPacket(k PacketKind, peer *Peer, payload []byte) error {
	return t.dispatchChain(t.Packets[k], peer, payload)
}

func (t *HandlerTable) DispatchUnknown(peer *Peer, payload []byte) error {
	return t.dispatchChain(t.Unknown, peer, payload)
}

func (t *HandlerTable) DispatchInvalid(peer *Peer, payload []byte) error {
	return t.dispatchChain(t.Invalid, peer, payload)
}
