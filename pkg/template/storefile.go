package template

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// fileEntry is the on-disk representation of a template.
type fileEntry struct {
	ID         uint32   `json:"id"`
	Pattern    string   `json:"pattern"`
	SlotTypes  []string `json:"slot_types"`
	Source     string   `json:"source"`
	UsageCount uint64   `json:"usage_count"`
}

// storeFile is the template store file: an ordered list of entries
// partitioned by source. Hot reload consumes only the discovered
// partition; core entries in the file replace the built-in library at
// startup when present.
type storeFile struct {
	Templates []fileEntry `json:"templates"`
}

// LoadFile reads a template store file and returns the core and
// discovered partitions.
func LoadFile(path string) (core, discovered []*Template, err error) {
	data, err := os.ReadFile(path) // #nosec G304 -- store path is operator-configured
	if err != nil {
		return nil, nil, fmt.Errorf("reading template store: %w", err)
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parsing template store: %w", err)
	}

	for _, e := range f.Templates {
		source, err := ParseSource(e.Source)
		if err != nil {
			return nil, nil, fmt.Errorf("template %d: %w", e.ID, err)
		}
		slots := make([]SlotType, 0, len(e.SlotTypes))
		for _, name := range e.SlotTypes {
			st, err := ParseSlotType(name)
			if err != nil {
				return nil, nil, fmt.Errorf("template %d: %w", e.ID, err)
			}
			slots = append(slots, st)
		}
		t := New(e.ID, e.Pattern, slots, source)
		t.setUsage(e.UsageCount)
		if source == SourceCore {
			core = append(core, t)
		} else {
			discovered = append(discovered, t)
		}
	}
	return core, discovered, nil
}

// SaveFile writes the snapshot's templates to path in stable id
// order, core partition first.
func SaveFile(path string, snap *Snapshot) error {
	templates := snap.Templates()
	sort.SliceStable(templates, func(i, j int) bool {
		if templates[i].Source != templates[j].Source {
			return templates[i].Source == SourceCore
		}
		return templates[i].ID < templates[j].ID
	})

	f := storeFile{Templates: make([]fileEntry, 0, len(templates))}
	for _, t := range templates {
		names := make([]string, len(t.SlotTypes))
		for i, st := range t.SlotTypes {
			names[i] = st.String()
		}
		f.Templates = append(f.Templates, fileEntry{
			ID:         t.ID,
			Pattern:    t.Pattern,
			SlotTypes:  names,
			Source:     t.Source.String(),
			UsageCount: t.UsageCount(),
		})
	}

	data, err := json.MarshalIndent(&f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding template store: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing template store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing template store: %w", err)
	}
	return nil
}
