package pbft

import (
	"encoding/binary"
)

// canonicalEncode produces a deterministic byte encoding of a Message,
// used only to key the message log's dedup buckets (MsgLog.dedupKey).
// It is not a wire format: field order is fixed by this function, not by
// struct layout, and nested message sets are encoded in the order they
// appear in the slice (callers are expected to have built those slices
// deterministically; two logically-equal but differently-ordered proof
// sets are a distinct concern from log deduplication, which only needs
// to recognize the exact same message arriving twice).
func canonicalEncode(m Message) []byte {
	var buf []byte
	putU64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}
	putBytes := func(b []byte) {
		putU64(uint64(len(b)))
		buf = append(buf, b...)
	}
	putStr := func(s string) { putBytes([]byte(s)) }

	putU64(uint64(m.Kind))
	putU64(uint64(m.Sender))
	putU64(uint64(m.View))
	putU64(uint64(m.Seq))
	buf = append(buf, m.Digest[:]...)

	if m.Request != nil {
		buf = append(buf, 1)
		putBytes(m.Request.Op)
		putU64(uint64(m.Request.Timestamp * 100))
		putStr(string(m.Request.Client))
	} else {
		buf = append(buf, 0)
	}

	putU64(uint64(m.ReplyTimestamp * 100))
	putStr(string(m.ReplyClient))
	putBytes(m.Result)

	putMsgs := func(msgs []Message) {
		putU64(uint64(len(msgs)))
		for _, mm := range msgs {
			putBytes(canonicalEncode(mm))
		}
	}
	putMsgs(m.ProofC)
	putMsgs(m.ProofP)
	putMsgs(m.GatheredX)
	putMsgs(m.ReproposeO)
	putMsgs(m.NullFillerN)

	return buf
}
