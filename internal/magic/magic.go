package magic

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type Magic uint32

const (
	Magic32    Magic = 0xfeedface
	Magic64    Magic = 0xfeedfacf
	MagicFatBE Magic = 0xcafebabe
	MagicFatLE Magic = 0xbebafeca
)

func (m Magic) IsFat() bool {
	return m == MagicFatBE || m == MagicFatLE
}

func (m Magic) String() string {
	switch m {
	case Magic32:
		return "MH_MAGIC"
	case Magic64:
		return "MH_MAGIC_64"
	case MagicFatBE, MagicFatLE:
		return "FAT_MAGIC"
	}
	return fmt.Sprintf("%#08x", uint32(m))
}

// Read returns the magic of a Mach-O (thin or universal) file.
func Read(r io.Reader) (Magic, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, fmt.Errorf("failed to read magic: %w", err)
	}
	switch m := Magic(binary.LittleEndian.Uint32(magic[:])); m {
	case Magic32, Magic64, MagicFatBE, MagicFatLE:
		return m, nil
	default:
		return 0, fmt.Errorf("not a macho file")
	}
}

func IsMachO(filePath string) (bool, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	if _, err := Read(f); err != nil {
		return false, err
	}
	return true, nil
}
