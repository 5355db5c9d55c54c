package snapshot

import (
	"bytes"
	"errors"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// Bank fields message.
const (
	fieldSlot              protowire.Number = 1
	fieldParentSlot        protowire.Number = 2
	fieldBlockHeight       protowire.Number = 3
	fieldParentHash        protowire.Number = 4
	fieldHash              protowire.Number = 5
	fieldAccountsDeltaHash protowire.Number = 6
	fieldAccountsHash      protowire.Number = 7
	fieldTransactionCount  protowire.Number = 8
	fieldSignatureCount    protowire.Number = 9
	fieldCapitalization    protowire.Number = 10
)

// Status cache messages.
const (
	fieldSlotDelta protowire.Number = 1

	fieldDeltaSlot   protowire.Number = 1
	fieldDeltaIsRoot protowire.Number = 2
	fieldDeltaStatus protowire.Number = 3

	fieldStatusSignature protowire.Number = 1
	fieldStatusErr       protowire.Number = 2
)

// EncodeBankFields serializes bank metadata.
func EncodeBankFields(f bank.Fields) []byte {
	var b []byte
	b = appendVarint(b, fieldSlot, uint64(f.Slot))
	b = appendVarint(b, fieldParentSlot, uint64(f.ParentSlot))
	b = appendVarint(b, fieldBlockHeight, f.BlockHeight)
	b = appendBytes(b, fieldParentHash, f.ParentHash[:])
	b = appendBytes(b, fieldHash, f.Hash[:])
	b = appendBytes(b, fieldAccountsDeltaHash, f.AccountsDeltaHash[:])
	b = appendBytes(b, fieldAccountsHash, f.AccountsHash[:])
	b = appendVarint(b, fieldTransactionCount, f.TransactionCount)
	b = appendVarint(b, fieldSignatureCount, f.SignatureCount)
	b = appendVarint(b, fieldCapitalization, f.Capitalization)
	return b
}

// DecodeBankFields parses the output of EncodeBankFields. Unknown fields
// are skipped.
func DecodeBankFields(b []byte) (bank.Fields, error) {
	var f bank.Fields
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		var err error
		switch {
		case num == fieldSlot && typ == protowire.VarintType:
			f.Slot = domain.Slot(u)
		case num == fieldParentSlot && typ == protowire.VarintType:
			f.ParentSlot = domain.Slot(u)
		case num == fieldBlockHeight && typ == protowire.VarintType:
			f.BlockHeight = u
		case num == fieldParentHash && typ == protowire.BytesType:
			f.ParentHash, err = domain.HashFromBytes(v)
		case num == fieldHash && typ == protowire.BytesType:
			f.Hash, err = domain.HashFromBytes(v)
		case num == fieldAccountsDeltaHash && typ == protowire.BytesType:
			f.AccountsDeltaHash, err = domain.HashFromBytes(v)
		case num == fieldAccountsHash && typ == protowire.BytesType:
			f.AccountsHash, err = domain.HashFromBytes(v)
		case num == fieldTransactionCount && typ == protowire.VarintType:
			f.TransactionCount = u
		case num == fieldSignatureCount && typ == protowire.VarintType:
			f.SignatureCount = u
		case num == fieldCapitalization && typ == protowire.VarintType:
			f.Capitalization = u
		}
		return err
	})
	if err != nil {
		return bank.Fields{}, domain.ErrArchiveCorrupted.WithDetails("bank fields").WithCause(err)
	}
	return f, nil
}

// EncodeSlotDeltas serializes status cache contents. Statuses are written
// in signature order so equal caches encode identically.
func EncodeSlotDeltas(deltas []bank.SlotDelta) []byte {
	var out []byte
	for _, d := range deltas {
		var msg []byte
		msg = appendVarint(msg, fieldDeltaSlot, uint64(d.Slot))
		if d.IsRoot {
			msg = appendVarint(msg, fieldDeltaIsRoot, 1)
		}

		sigs := make([]domain.Signature, 0, len(d.Statuses))
		for sig := range d.Statuses {
			sigs = append(sigs, sig)
		}
		sort.Slice(sigs, func(i, j int) bool { return bytes.Compare(sigs[i][:], sigs[j][:]) < 0 })

		for _, sig := range sigs {
			var st []byte
			st = appendBytes(st, fieldStatusSignature, sig[:])
			if e := d.Statuses[sig].Err; e != "" {
				st = appendBytes(st, fieldStatusErr, []byte(e))
			}
			msg = appendBytes(msg, fieldDeltaStatus, st)
		}
		out = appendBytes(out, fieldSlotDelta, msg)
	}
	return out
}

// DecodeSlotDeltas parses the output of EncodeSlotDeltas.
func DecodeSlotDeltas(b []byte) ([]bank.SlotDelta, error) {
	var deltas []bank.SlotDelta
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != fieldSlotDelta || typ != protowire.BytesType {
			return nil
		}
		d, err := decodeSlotDelta(v)
		if err != nil {
			return err
		}
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		return nil, domain.ErrArchiveCorrupted.WithDetails("status cache").WithCause(err)
	}
	return deltas, nil
}

func decodeSlotDelta(b []byte) (bank.SlotDelta, error) {
	d := bank.SlotDelta{Statuses: make(map[domain.Signature]bank.TxStatus)}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch {
		case num == fieldDeltaSlot && typ == protowire.VarintType:
			d.Slot = domain.Slot(u)
		case num == fieldDeltaIsRoot && typ == protowire.VarintType:
			d.IsRoot = u != 0
		case num == fieldDeltaStatus && typ == protowire.BytesType:
			sig, st, err := decodeStatus(v)
			if err != nil {
				return err
			}
			d.Statuses[sig] = st
		}
		return nil
	})
	return d, err
}

func decodeStatus(b []byte) (domain.Signature, bank.TxStatus, error) {
	var (
		sig    domain.Signature
		st     bank.TxStatus
		hasSig bool
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch {
		case num == fieldStatusSignature && typ == protowire.BytesType:
			s, err := domain.SignatureFromBytes(v)
			if err != nil {
				return err
			}
			sig, hasSig = s, true
		case num == fieldStatusErr && typ == protowire.BytesType:
			st.Err = string(v)
		}
		return nil
	})
	if err == nil && !hasSig {
		err = errors.New("status without signature")
	}
	return sig, st, err
}

// walkFields calls fn for every field of a message. Bytes values are passed
// in v, varints in u; other wire types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			u, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, nil, u); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
