package types

// EventType names a state change reported in a receipt.
type EventType string

const (
	EventTransfer        EventType = "transfer"
	EventMint            EventType = "mint"
	EventBurn            EventType = "burn"
	EventApproval        EventType = "approval"
	EventProposalCreated EventType = "proposal_created"
	EventVoted           EventType = "voted"
	EventBadgeMinted     EventType = "badge_minted"
)

// Event is an observable record of a committed mutation. Attributes are
// flat string pairs so receipts stay readable in logs and CLI output.
type Event struct {
	Type       EventType         `cbor:"1,keyasint" json:"type"`
	Attributes map[string]string `cbor:"2,keyasint" json:"attributes"`
}

// NewEvent builds an event from alternating key/value strings.
func NewEvent(typ EventType, kv ...string) Event {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return Event{Type: typ, Attributes: attrs}
}

// Receipt reports the outcome of one submitted transaction. Code is
// ReasonOK on success and a taxonomy reason otherwise; Seq is zero for
// rejected transactions.
type Receipt struct {
	TxHash  Hash    `cbor:"1,keyasint" json:"tx_hash"`
	Seq     uint64  `cbor:"2,keyasint" json:"seq"`
	Sender  Address `cbor:"3,keyasint" json:"sender"`
	Kind    TxKind  `cbor:"4,keyasint" json:"kind"`
	Code    string  `cbor:"5,keyasint" json:"code"`
	Log     string  `cbor:"6,keyasint" json:"log,omitempty"`
	Events  []Event `cbor:"7,keyasint" json:"events,omitempty"`
	AppHash Hash    `cbor:"8,keyasint" json:"app_hash"`
	Time    int64   `cbor:"9,keyasint" json:"time"`
}

// IsOK reports whether the transaction was committed
func (r *Receipt) IsOK() bool {
	return r.Code == ReasonOK
}

// CopyReceipt returns a deep copy of r
func CopyReceipt(r *Receipt) *Receipt {
	if r == nil {
		return nil
	}
	cp := *r
	cp.TxHash = *CopyHash(&r.TxHash)
	cp.AppHash = *CopyHash(&r.AppHash)
	if r.Events != nil {
		cp.Events = make([]Event, len(r.Events))
		for i, ev := range r.Events {
			attrs := make(map[string]string, len(ev.Attributes))
			for k, v := range ev.Attributes {
				attrs[k] = v
			}
			cp.Events[i] = Event{Type: ev.Type, Attributes: attrs}
		}
	}
	return &cp
}
