package catalog

import (
	"encoding/binary"
	"errors"

	"github.com/FOCX-Labs/shop-sub001/ledger"
)

const nsItem = "item"

// errCorruptItem is returned when a stored item record fails to decode.
var errCorruptItem = errors.New("corrupt item record")

// ItemAddress returns the address of an item record. The global id is the
// sole key.
func ItemAddress(id uint64) ledger.Address {
	return ledger.Derive(nsItem, ledger.Uint64Key(id))
}

// Item is the catalog's item record. ID is immutable; name, description,
// price and keywords are mutable by the owner; SalesCount only through the
// sales-update path.
type Item struct {
	ID            uint64
	OwnerTenantID uint32
	Price         uint64
	SalesCount    uint32
	Active        bool
	Name          string
	Description   string
	Keywords      []string
}

// MarshalBinary encodes the record: fixed-width little-endian numerics
// followed by length-prefixed strings and the keyword list.
func (it Item) MarshalBinary() ([]byte, error) {
	size := 8 + 4 + 8 + 4 + 1 + 4 + len(it.Name) + 4 + len(it.Description) + 1
	for _, kw := range it.Keywords {
		size += 4 + len(kw)
	}
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint64(buf, it.ID)
	buf = binary.LittleEndian.AppendUint32(buf, it.OwnerTenantID)
	buf = binary.LittleEndian.AppendUint64(buf, it.Price)
	buf = binary.LittleEndian.AppendUint32(buf, it.SalesCount)
	if it.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(it.Name)))
	buf = append(buf, it.Name...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(it.Description)))
	buf = append(buf, it.Description...)
	buf = append(buf, byte(len(it.Keywords)))
	for _, kw := range it.Keywords {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(kw)))
		buf = append(buf, kw...)
	}
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (it *Item) UnmarshalBinary(data []byte) error {
	if len(data) < 25 {
		return errCorruptItem
	}
	it.ID = binary.LittleEndian.Uint64(data[0:8])
	it.OwnerTenantID = binary.LittleEndian.Uint32(data[8:12])
	it.Price = binary.LittleEndian.Uint64(data[12:20])
	it.SalesCount = binary.LittleEndian.Uint32(data[20:24])
	it.Active = data[24] != 0
	pos := 25

	name, pos, err := readString(data, pos)
	if err != nil {
		return err
	}
	it.Name = name

	desc, pos, err := readString(data, pos)
	if err != nil {
		return err
	}
	it.Description = desc

	if pos >= len(data) {
		return errCorruptItem
	}
	count := int(data[pos])
	pos++
	it.Keywords = make([]string, 0, count)
	for i := 0; i < count; i++ {
		var kw string
		kw, pos, err = readString(data, pos)
		if err != nil {
			return err
		}
		it.Keywords = append(it.Keywords, kw)
	}
	if pos != len(data) {
		return errCorruptItem
	}
	return nil
}

func readString(data []byte, pos int) (string, int, error) {
	if pos+4 > len(data) {
		return "", 0, errCorruptItem
	}
	n := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return "", 0, errCorruptItem
	}
	return string(data[pos : pos+n]), pos + n, nil
}
