package sri

import (
	"encoding/json"
	"os"
	"reflect"
	"sort"

	"github.com/pkg/errors"
)

// Module is the persisted form of a HashCollection. Arrays are sorted and
// maps marshal with sorted keys, so the serialization is deterministic and
// unchanged collections produce byte-identical files.
type Module struct {
	InlineScriptHashes   []string              `json:"inlineScriptHashes"`
	InlineStyleHashes    []string              `json:"inlineStyleHashes"`
	ExtScriptHashes      []string              `json:"extScriptHashes"`
	ExtStyleHashes       []string              `json:"extStyleHashes"`
	PerPageSriHashes     map[string]PageModule `json:"perPageSriHashes"`
	PerResourceSriHashes ResourceModule        `json:"perResourceSriHashes"`
}

type PageModule struct {
	Scripts []string `json:"scripts"`
	Styles  []string `json:"styles"`
}

type ResourceModule struct {
	Scripts map[string]string `json:"scripts"`
	Styles  map[string]string `json:"styles"`
}

// ExportModule snapshots a collection into its persisted form.
func ExportModule(c *HashCollection) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := &Module{
		InlineScriptHashes: sortedKeys(c.inlineScript),
		InlineStyleHashes:  sortedKeys(c.inlineStyle),
		ExtScriptHashes:    sortedKeys(c.extScript),
		ExtStyleHashes:     sortedKeys(c.extStyle),
		PerPageSriHashes:   map[string]PageModule{},
		PerResourceSriHashes: ResourceModule{
			Scripts: map[string]string{},
			Styles:  map[string]string{},
		},
	}
	for page, ph := range c.perPage {
		m.PerPageSriHashes[page] = PageModule{
			Scripts: sortedKeys(ph.scripts),
			Styles:  sortedKeys(ph.styles),
		}
	}
	for k, v := range c.resScripts {
		m.PerResourceSriHashes.Scripts[k] = v
	}
	for k, v := range c.resStyles {
		m.PerResourceSriHashes.Styles[k] = v
	}
	return m
}

// LoadModule reads a previously persisted module. A missing file is not an
// error; it returns nil so callers can treat it as a first build.
func LoadModule(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "reading hashes module %s", path)
	}
	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing hashes module %s", path)
	}
	return &m, nil
}

// HashTable builds the dynamic-mode lookup table from the persisted
// per-resource maps.
func (m *Module) HashTable() *HashTable {
	t := &HashTable{Scripts: map[string]string{}, Styles: map[string]string{}}
	if m == nil {
		return t
	}
	for k, v := range m.PerResourceSriHashes.Scripts {
		t.Scripts[k] = v
	}
	for k, v := range m.PerResourceSriHashes.Styles {
		t.Styles[k] = v
	}
	return t
}

// LoadHashTable reads a persisted module and returns its lookup table. Unlike
// LoadModule, a missing file is an error here: a middleware without a table
// would strip every sourced element.
func LoadHashTable(path string) (*HashTable, error) {
	m, err := LoadModule(path)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.Errorf("hashes module %s does not exist", path)
	}
	return m.HashTable(), nil
}

// Equal compares two modules structurally: sorted arrays, key-for-key maps.
func (m *Module) Equal(other *Module) bool {
	if m == nil || other == nil {
		return m == other
	}
	return reflect.DeepEqual(m.normalized(), other.normalized())
}

// ResourcesEqual compares only the per-resource maps, which is what the
// dynamic-mode table is built from.
func (m *Module) ResourcesEqual(other *Module) bool {
	if m == nil || other == nil {
		return m == other
	}
	a := m.normalized().PerResourceSriHashes
	b := other.normalized().PerResourceSriHashes
	return reflect.DeepEqual(a, b)
}

func (m *Module) normalized() *Module {
	out := &Module{
		InlineScriptHashes: sortedCopy(m.InlineScriptHashes),
		InlineStyleHashes:  sortedCopy(m.InlineStyleHashes),
		ExtScriptHashes:    sortedCopy(m.ExtScriptHashes),
		ExtStyleHashes:     sortedCopy(m.ExtStyleHashes),
		PerPageSriHashes:   map[string]PageModule{},
		PerResourceSriHashes: ResourceModule{
			Scripts: map[string]string{},
			Styles:  map[string]string{},
		},
	}
	for page, ph := range m.PerPageSriHashes {
		out.PerPageSriHashes[page] = PageModule{
			Scripts: sortedCopy(ph.Scripts),
			Styles:  sortedCopy(ph.Styles),
		}
	}
	for k, v := range m.PerResourceSriHashes.Scripts {
		out.PerResourceSriHashes.Scripts[k] = v
	}
	for k, v := range m.PerResourceSriHashes.Styles {
		out.PerResourceSriHashes.Styles[k] = v
	}
	return out
}

func sortedCopy(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

// WriteModule persists the module unless it matches the previous one; a
// changed file on every build would make rebuilds non-deterministic for no
// reason. It reports whether a write happened and whether the per-resource
// maps differ from the previous build, which is the caller's cue for the
// second-build warning when middleware mode is on.
func WriteModule(path string, m, previous *Module) (wrote bool, resourcesChanged bool, err error) {
	if previous != nil && m.Equal(previous) {
		return false, false, nil
	}
	resourcesChanged = previous == nil || !m.ResourcesEqual(previous)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return false, false, errors.Wrap(err, "encoding hashes module")
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, false, errors.Wrapf(err, "writing hashes module %s", path)
	}
	return true, resourcesChanged, nil
}
