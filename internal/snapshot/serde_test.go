package snapshot

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/ledgersnap/internal/bank"
	"github.com/yndnr/ledgersnap/internal/core/domain"
)

func TestBankFields_RoundTrip(t *testing.T) {
	want := bank.Fields{
		Slot:              77,
		ParentSlot:        70,
		BlockHeight:       31,
		ParentHash:        domain.HashBytes([]byte("parent")),
		Hash:              domain.HashBytes([]byte("bank")),
		AccountsDeltaHash: domain.HashBytes([]byte("delta")),
		AccountsHash:      domain.HashBytes([]byte("accounts")),
		TransactionCount:  1 << 40,
		SignatureCount:    12,
		Capitalization:    500_000_000,
	}
	got, err := DecodeBankFields(EncodeBankFields(want))
	if err != nil {
		t.Fatalf("DecodeBankFields: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestSlotDeltas_RoundTripIsDeterministic(t *testing.T) {
	deltas := []bank.SlotDelta{
		{Slot: 3, IsRoot: true, Statuses: map[domain.Signature]bank.TxStatus{
			domain.NewSignature("a"): {},
			domain.NewSignature("b"): {Err: "insufficient funds"},
			domain.NewSignature("c"): {},
		}},
		{Slot: 4, IsRoot: true, Statuses: map[domain.Signature]bank.TxStatus{}},
	}

	enc := EncodeSlotDeltas(deltas)
	if string(enc) != string(EncodeSlotDeltas(deltas)) {
		t.Fatal("encoding is not deterministic")
	}
	got, err := DecodeSlotDeltas(enc)
	if err != nil {
		t.Fatalf("DecodeSlotDeltas: %v", err)
	}
	if diff := cmp.Diff(deltas, got); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Corrupted(t *testing.T) {
	enc := EncodeBankFields(bank.Fields{Slot: 1, Hash: domain.HashBytes([]byte("x"))})
	if _, err := DecodeBankFields(enc[:len(enc)-3]); !errors.Is(err, domain.ErrArchiveCorrupted) {
		t.Errorf("truncated fields: err = %v, want ErrArchiveCorrupted", err)
	}
	if _, err := DecodeSlotDeltas([]byte{0x0a, 0x05, 0x01}); !errors.Is(err, domain.ErrArchiveCorrupted) {
		t.Errorf("truncated deltas: err = %v, want ErrArchiveCorrupted", err)
	}
}

func TestCheckVersion(t *testing.T) {
	for _, v := range []string{"1.0.0", "1.2.0", "1.2.0\n", "v1.1"} {
		if _, err := CheckVersion(v); err != nil {
			t.Errorf("CheckVersion(%q): %v", v, err)
		}
	}
	for _, v := range []string{"2.0.0", "0.9.0", "1.3.0", "garbage", ""} {
		if _, err := CheckVersion(v); !errors.Is(err, domain.ErrUnsupportedVersion) {
			t.Errorf("CheckVersion(%q) err = %v, want ErrUnsupportedVersion", v, err)
		}
	}
}
