// Package elfsym looks up exported functions in the ELF files mapped into a
// process and translates them to runtime addresses.
package elfsym

import (
	"debug/elf"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ianlancetaylor/demangle"
	"github.com/s-hammon/memloc/internal/memscan"
)

const pageMask = ^uint64(0xfff)

type Location struct {
	Path      string
	Name      string
	Demangled string
	// Value is the symbol value from the file, Address the same symbol in
	// the running process.
	Value   uint64
	Address uint64
}

// FindFunction searches the dynamic symbol table of every mapped file for a
// defined, exported function called name. name may be the raw symbol or its
// demangled form, with or without the parameter list.
func FindFunction(regions []memscan.Region, name string, lg *log.Logger) []Location {
	var out []Location
	for _, path := range mappedFiles(regions) {
		f, err := elf.Open(path)
		if err != nil {
			lg.Debug("skipping mapped file", "path", path, "err", err)
			continue
		}

		locs, err := findIn(f, path, name, loadBase(regions, path))
		f.Close()
		if err != nil {
			lg.Warn("could not read dynamic symbols", "path", path, "err", err)
			continue
		}

		out = append(out, locs...)
	}

	return out
}

func findIn(f *elf.File, path, name string, base uint64) ([]Location, error) {
	syms, err := f.DynamicSymbols()
	if err != nil {
		return nil, err
	}

	var bias uint64
	if f.Type == elf.ET_DYN {
		bias = base - firstLoad(f)
	}

	var out []Location
	for _, sym := range syms {
		if !isExportedFunction(sym) {
			continue
		}

		dem := demangle.Filter(sym.Name)
		if !matches(name, sym.Name, dem) {
			continue
		}

		out = append(out, Location{
			Path:      path,
			Name:      sym.Name,
			Demangled: dem,
			Value:     sym.Value,
			Address:   bias + sym.Value,
		})
	}

	return out, nil
}

func isExportedFunction(sym elf.Symbol) bool {
	bind := elf.ST_BIND(sym.Info)
	return elf.ST_TYPE(sym.Info) == elf.STT_FUNC &&
		(bind == elf.STB_GLOBAL || bind == elf.STB_WEAK) &&
		sym.Section != elf.SHN_UNDEF &&
		sym.Name != ""
}

func matches(want, raw, dem string) bool {
	if want == raw || want == dem {
		return true
	}

	if i := strings.IndexByte(dem, '('); i > 0 {
		return want == dem[:i]
	}

	return false
}

func firstLoad(f *elf.File) uint64 {
	lowest := ^uint64(0)
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD && prog.Vaddr < lowest {
			lowest = prog.Vaddr
		}
	}
	if lowest == ^uint64(0) {
		return 0
	}

	return lowest & pageMask
}

// mappedFiles lists file-backed mapping paths in load order, once each.
func mappedFiles(regions []memscan.Region) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range regions {
		if !strings.HasPrefix(r.Path, "/") || seen[r.Path] {
			continue
		}

		seen[r.Path] = true
		out = append(out, r.Path)
	}

	return out
}

func loadBase(regions []memscan.Region, path string) uint64 {
	base := ^uint64(0)
	for _, r := range regions {
		if r.Path == path && r.Start < base {
			base = r.Start
		}
	}

	return base
}
