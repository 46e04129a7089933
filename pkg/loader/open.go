package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/blacktop/go-macho"
)

// Slice describes one architecture of a universal file.
type Slice struct {
	Index int
	CPU   string
	Arch  string
}

func (s Slice) String() string {
	return fmt.Sprintf("%s, %s", s.CPU, s.Arch)
}

// ErrAmbiguousSlice is returned by Open when a universal file carries several
// arm64 slices and no architecture was requested.
type ErrAmbiguousSlice struct {
	Slices []Slice
}

func (e *ErrAmbiguousSlice) Error() string {
	var opts []string
	for _, s := range e.Slices {
		opts = append(opts, s.Arch)
	}
	return fmt.Sprintf("universal MachO has several arm64 slices, select one of: %s", strings.Join(opts, ", "))
}

// PickSlice selects the slice to analyze. A non-empty arch must match a
// slice name (case-insensitive substring, as `--arch` does elsewhere);
// otherwise the only arm64 slice wins, preferring plain arm64 over arm64e.
func PickSlice(slices []Slice, arch string) (int, error) {
	if arch != "" {
		for _, s := range slices {
			if strings.EqualFold(s.Arch, arch) {
				return s.Index, nil
			}
		}
		for _, s := range slices {
			if strings.Contains(strings.ToLower(s.Arch), strings.ToLower(arch)) {
				return s.Index, nil
			}
		}
		var opts []string
		for _, s := range slices {
			opts = append(opts, strings.ToLower(s.Arch))
		}
		return -1, fmt.Errorf("--arch '%s' not found in: %s", arch, strings.Join(opts, ", "))
	}

	var arm64 []Slice
	for _, s := range slices {
		if strings.Contains(strings.ToLower(s.Arch), "arm64") {
			arm64 = append(arm64, s)
		}
	}
	switch len(arm64) {
	case 0:
		return -1, fmt.Errorf("no arm64 slice found (only arm64 is supported)")
	case 1:
		return arm64[0].Index, nil
	}
	for _, s := range arm64 {
		if strings.EqualFold(s.Arch, "arm64") || strings.EqualFold(s.Arch, "arm64_all") {
			return s.Index, nil
		}
	}
	return -1, &ErrAmbiguousSlice{Slices: arm64}
}

// Slices lists the architectures of a universal file, or nil for a thin one.
func Slices(path string) ([]Slice, error) {
	fat, err := macho.OpenFat(filepath.Clean(path))
	if err != nil {
		if err == macho.ErrNotFat {
			return nil, nil
		}
		return nil, err
	}
	defer fat.Close()
	return fatSlices(fat), nil
}

func fatSlices(fat *macho.FatFile) []Slice {
	var out []Slice
	for i, arch := range fat.Arches {
		out = append(out, Slice{
			Index: i,
			CPU:   fmt.Sprintf("%v", arch.CPU),
			Arch:  arch.SubCPU.String(arch.CPU),
		})
	}
	return out
}

// Open parses the Mach-O at path. Universal files are reduced to one slice
// with PickSlice.
func Open(path, arch string) (*MachO, error) {
	path = filepath.Clean(path)

	fat, err := macho.OpenFat(path)
	if err != nil && err != macho.ErrNotFat {
		return nil, fmt.Errorf("failed to open MachO %s: %w", path, err)
	}
	if err == macho.ErrNotFat {
		f, err := macho.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open MachO %s: %w", path, err)
		}
		m, err := NewMachO(path, f, nil)
		if err != nil {
			f.Close()
			return nil, err
		}
		return m, nil
	}

	idx, err := PickSlice(fatSlices(fat), arch)
	if err != nil {
		fat.Close()
		return nil, err
	}
	m, err := NewMachO(path, fat.Arches[idx].File, fat)
	if err != nil {
		fat.Close()
		return nil, err
	}
	return m, nil
}
