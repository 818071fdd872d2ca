package pbft

import "fmt"

// ReplicaID identifies a cluster member, an integer in [0,R).
type ReplicaID int

// View is a primary epoch number.
type View uint64

// SeqNo is a total-order slot number.
type SeqNo uint64

// Timestamp is a monotonic scalar a client attaches to its requests. It is
// a float (not an integer) because the reference scenarios interleave
// fractional timestamps (e.g. 0, 0.5, 1) to express "between two requests".
type Timestamp float64

// ClientID is an opaque client identity. Go string is used as the wire
// representation of the opaque bytes spec.md describes, since it is
// comparable and usable as a map key directly.
type ClientID string

// Kind tags the eight message variants spec.md §3 defines.
type Kind int

const (
	KindRequest Kind = iota
	KindPrePrepare
	KindPrepare
	KindCommit
	KindReply
	KindCheckpoint
	KindViewChange
	KindNewView
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindPrePrepare:
		return "PRE-PREPARE"
	case KindPrepare:
		return "PREPARE"
	case KindCommit:
		return "COMMIT"
	case KindReply:
		return "REPLY"
	case KindCheckpoint:
		return "CHECKPOINT"
	case KindViewChange:
		return "VIEW-CHANGE"
	case KindNewView:
		return "NEW-VIEW"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RequestPayload is the client operation carried by REQUEST and, optionally,
// by PRE-PREPARE.
type RequestPayload struct {
	Op        []byte
	Timestamp Timestamp
	Client    ClientID
}

// Message is the tagged variant over the eight protocol kinds. Only the
// fields relevant to Kind are populated; Validate enforces this at
// construction/ingress so the router's kind dispatch can assume
// well-formed arity (spec.md §9: "tuple-as-discriminated-union" ->
// closed variant with arity enforced, not an untyped tuple).
//
// A handful of fields are deliberately shared across kinds because they
// carry the same logical value: View/Seq are always "(v,n)" for the
// per-slot kinds and "(target view, stable seq)" for VIEW-CHANGE; Digest
// is always "the fixed-width hash this message vouches for" (a request
// digest for PREPARE/COMMIT, a snapshot digest for CHECKPOINT/VIEW-CHANGE).
type Message struct {
	Kind   Kind
	Sender ReplicaID

	// REQUEST, and optionally carried by PRE-PREPARE (nil means a
	// gap-filling null PRE-PREPARE).
	Request *RequestPayload

	View View
	Seq  SeqNo

	Digest Digest

	// REPLY
	ReplyTimestamp Timestamp
	ReplyClient    ClientID
	Result         []byte

	// VIEW-CHANGE
	ProofC []Message // C: CHECKPOINT messages attesting (Seq, Digest)
	ProofP []Message // P: prepared-proof (one PRE-PREPARE plus 2f supporting PREPAREs, per slot)

	// NEW-VIEW
	GatheredX   []Message // X: the 2f+1 VIEW-CHANGE messages for View
	ReproposeO  []Message // O: re-issued PRE-PREPAREs
	NullFillerN []Message // N: null-filler PRE-PREPAREs
}

// Validate enforces the arity of Message's payload against its Kind.
// Arity mismatches are the only error route_receive surfaces for the
// message itself (spec.md §6, §7: "Arity mismatches or unknown kinds fail
// with ProtocolError::Malformed"); its only other error is an
// InvariantViolation halt.
func (m Message) Validate() error {
	bad := func(reason string) error {
		return newProtocolError(KindMalformed, "Message.Validate", fmt.Errorf("%s message: %s", m.Kind, reason))
	}
	switch m.Kind {
	case KindRequest:
		if m.Request == nil {
			return bad("missing request payload")
		}
	case KindPrePrepare:
		// Request may be nil: a gap-filling null PRE-PREPARE is valid.
	case KindPrepare, KindCommit:
		if m.Request != nil {
			return bad("must not carry a request payload")
		}
	case KindReply:
		if m.ReplyClient == "" {
			return bad("missing reply client")
		}
	case KindCheckpoint:
		// (View, Seq, Digest, Sender) only.
	case KindViewChange:
		// View = target view, Seq = stable n, Digest = stable snapshot s.
	case KindNewView:
		if len(m.GatheredX) == 0 {
			return bad("missing gathered view-change set")
		}
	default:
		return newProtocolError(KindMalformed, "Message.Validate", fmt.Errorf("unknown message kind %d", int(m.Kind)))
	}
	return nil
}

// MessageSet is a message collection passed to the pure predicate
// functions; it may be a replica's full log or a constructed subset (view
// change code builds subsets explicitly, per spec.md §4.2).
type MessageSet []Message
