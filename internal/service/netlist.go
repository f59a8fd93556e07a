package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"boardsim/internal/circuit"
)

// renderNetlist renders a Circuit to a deterministic, human-readable
// textual netlist: one "component" line per component sorted by id, one
// "net" line per net sorted by id listing its member pins in insertion
// order. The declarative model has no wire-format precedent in spec.md
// beyond "export-netlist" as a CLI verb, so this is this repo's concrete
// choice of what that text contains.
func renderNetlist(c *circuit.Circuit) string {
	var b strings.Builder
	for _, id := range c.SortedComponentIDs() {
		comp := c.Components[id]
		fmt.Fprintf(&b, "component %s %s", comp.ID, comp.Kind)
		for _, key := range sortedKeys(comp.Properties) {
			fmt.Fprintf(&b, " %s=%v", key, comp.Properties[key])
		}
		b.WriteByte('\n')
	}
	for _, id := range c.SortedNetIDs() {
		net := c.Nets[id]
		fmt.Fprintf(&b, "net %s %s\n", net.ID, strings.Join(net.PinIDs, " "))
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeFileAtomic writes data to path via a temp-file-then-rename, matching
// the session store's atomic write discipline for any file under the
// workspace (spec's ambient write-to-temp-then-rename protocol).
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
