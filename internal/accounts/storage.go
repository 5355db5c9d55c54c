package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/ledgersnap/internal/core/domain"
)

// Record framing: [length:4][crc32:4][type:1][payload], where length covers
// crc, type and payload. The payload is a protowire message.
const (
	frameHeaderSize = 8
	minFrameLength  = 5

	recordTypeAccount byte = 1

	fieldPubkey   protowire.Number = 1
	fieldLamports protowire.Number = 2
	fieldOwner    protowire.Number = 3
	fieldData     protowire.Number = 4
)

var (
	errTruncatedRecord  = errors.New("accounts: truncated record")
	errChecksumMismatch = errors.New("accounts: checksum mismatch")
	errUnknownRecord    = errors.New("accounts: unknown record type")
)

// StoredAccount is one record read back from a storage file.
type StoredAccount struct {
	Pubkey  domain.Pubkey
	Account domain.Account
	Offset  int64
}

// StorageEntry is an immutable, append-once file holding the accounts written
// in one slot. Its file name is "<slot>.<id>".
type StorageEntry struct {
	slot  domain.Slot
	id    uint32
	path  string
	size  int64
	count int
}

// Slot returns the slot whose writes the storage holds.
func (s *StorageEntry) Slot() domain.Slot { return s.slot }

// ID returns the storage id, unique within the DB.
func (s *StorageEntry) ID() uint32 { return s.id }

// Path returns the absolute file path.
func (s *StorageEntry) Path() string { return s.path }

// Size returns the file size in bytes.
func (s *StorageEntry) Size() int64 { return s.size }

// Count returns the number of records, or -1 when unknown.
func (s *StorageEntry) Count() int { return s.count }

// FileName returns the base file name.
func (s *StorageEntry) FileName() string { return StorageFileName(s.slot, s.id) }

// Accounts reads every record in the storage.
func (s *StorageEntry) Accounts() ([]StoredAccount, error) {
	return ReadStorageFile(s.path)
}

// StorageFileName builds the file name for a storage.
func StorageFileName(slot domain.Slot, id uint32) string {
	return slot.String() + "." + strconv.FormatUint(uint64(id), 10)
}

// ParseStorageFileName parses "<slot>.<id>".
func ParseStorageFileName(name string) (domain.Slot, uint32, error) {
	slotPart, idPart, ok := strings.Cut(filepath.Base(name), ".")
	if !ok {
		return 0, 0, fmt.Errorf("accounts: invalid storage file name %q", name)
	}
	slot, err := domain.ParseSlot(slotPart)
	if err != nil {
		return 0, 0, fmt.Errorf("accounts: invalid storage file name %q: %w", name, err)
	}
	id, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("accounts: invalid storage file name %q: %w", name, err)
	}
	return slot, uint32(id), nil
}

// writeStorage creates a storage file containing records in the given order
// and fsyncs it. It returns the entry and the offset of every record.
func writeStorage(dir string, slot domain.Slot, id uint32, records []StoredAccount) (*StorageEntry, []int64, error) {
	path := filepath.Join(dir, StorageFileName(slot, id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("accounts: create storage: %w", err)
	}

	offsets := make([]int64, len(records))
	var buf []byte
	for i, r := range records {
		offsets[i] = int64(len(buf))
		buf = appendRecord(buf, r.Pubkey, r.Account)
	}

	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("accounts: write storage: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("accounts: sync storage: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, nil, fmt.Errorf("accounts: close storage: %w", err)
	}

	return &StorageEntry{
		slot:  slot,
		id:    id,
		path:  path,
		size:  int64(len(buf)),
		count: len(records),
	}, offsets, nil
}

// openStorage registers an existing storage file.
func openStorage(path string) (*StorageEntry, error) {
	slot, id, err := ParseStorageFileName(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("accounts: stat storage: %w", err)
	}
	return &StorageEntry{slot: slot, id: id, path: path, size: info.Size(), count: -1}, nil
}

// ReadStorageFile decodes every record of a storage file.
func ReadStorageFile(path string) ([]StoredAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("accounts: read storage: %w", err)
	}

	var out []StoredAccount
	for off := 0; off < len(data); {
		if len(data)-off < 4 {
			return nil, domain.ErrStorageCorrupted.WithDetailsf("%s at offset %d", filepath.Base(path), off).WithCause(errTruncatedRecord)
		}
		length := int(binary.BigEndian.Uint32(data[off:]))
		end := off + 4 + length
		if length < minFrameLength || end > len(data) {
			return nil, domain.ErrStorageCorrupted.WithDetailsf("%s at offset %d", filepath.Base(path), off).WithCause(errTruncatedRecord)
		}
		pk, acct, err := decodeFrame(data[off+4 : end])
		if err != nil {
			return nil, domain.ErrStorageCorrupted.WithDetailsf("%s at offset %d", filepath.Base(path), off).WithCause(err)
		}
		out = append(out, StoredAccount{Pubkey: pk, Account: acct, Offset: int64(off)})
		off = end
	}
	return out, nil
}

// readRecordAt reads the single record starting at offset.
func readRecordAt(path string, offset int64) (domain.Pubkey, domain.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Pubkey{}, domain.Account{}, fmt.Errorf("accounts: open storage: %w", err)
	}
	defer f.Close()

	var header [4]byte
	if _, err := f.ReadAt(header[:], offset); err != nil {
		return domain.Pubkey{}, domain.Account{}, fmt.Errorf("accounts: read record header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length < minFrameLength {
		return domain.Pubkey{}, domain.Account{}, domain.ErrStorageCorrupted.WithCause(errTruncatedRecord)
	}
	frame := make([]byte, length)
	if _, err := f.ReadAt(frame, offset+4); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Pubkey{}, domain.Account{}, domain.ErrStorageCorrupted.WithCause(errTruncatedRecord)
		}
		return domain.Pubkey{}, domain.Account{}, fmt.Errorf("accounts: read record: %w", err)
	}
	return decodeFrame(frame)
}

func appendRecord(dst []byte, pk domain.Pubkey, acct domain.Account) []byte {
	var payload []byte
	payload = protowire.AppendTag(payload, fieldPubkey, protowire.BytesType)
	payload = protowire.AppendBytes(payload, pk[:])
	payload = protowire.AppendTag(payload, fieldLamports, protowire.VarintType)
	payload = protowire.AppendVarint(payload, acct.Lamports)
	payload = protowire.AppendTag(payload, fieldOwner, protowire.BytesType)
	payload = protowire.AppendBytes(payload, acct.Owner[:])
	if len(acct.Data) > 0 {
		payload = protowire.AppendTag(payload, fieldData, protowire.BytesType)
		payload = protowire.AppendBytes(payload, acct.Data)
	}

	crc := crc32.ChecksumIEEE(append([]byte{recordTypeAccount}, payload...))

	// Length = CRC(4) + Type(1) + Payload.
	dst = binary.BigEndian.AppendUint32(dst, uint32(4+1+len(payload)))
	dst = binary.BigEndian.AppendUint32(dst, crc)
	dst = append(dst, recordTypeAccount)
	return append(dst, payload...)
}

// decodeFrame decodes [crc32:4][type:1][payload].
func decodeFrame(frame []byte) (domain.Pubkey, domain.Account, error) {
	var pk domain.Pubkey
	var acct domain.Account

	if len(frame) < minFrameLength {
		return pk, acct, errTruncatedRecord
	}
	want := binary.BigEndian.Uint32(frame[:4])
	if crc32.ChecksumIEEE(frame[4:]) != want {
		return pk, acct, errChecksumMismatch
	}
	if frame[4] != recordTypeAccount {
		return pk, acct, errUnknownRecord
	}

	b := frame[5:]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return pk, acct, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldPubkey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return pk, acct, protowire.ParseError(n)
			}
			p, err := domain.PubkeyFromBytes(v)
			if err != nil {
				return pk, acct, err
			}
			pk = p
			b = b[n:]
		case num == fieldLamports && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return pk, acct, protowire.ParseError(n)
			}
			acct.Lamports = v
			b = b[n:]
		case num == fieldOwner && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return pk, acct, protowire.ParseError(n)
			}
			o, err := domain.PubkeyFromBytes(v)
			if err != nil {
				return pk, acct, err
			}
			acct.Owner = o
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return pk, acct, protowire.ParseError(n)
			}
			acct.Data = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return pk, acct, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return pk, acct, nil
}
