// Package macros lists the processing macros a user may select.
package macros

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ngbi/ijbatch/internal/joblist"
)

// Ext is the file extension of a selectable macro.
const Ext = ".ijm"

var ErrUnknownMacro = errors.New("macros: not in catalogue")

// Catalog is the set of *.ijm files directly inside Dir.
type Catalog struct {
	Dir string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{Dir: dir}
}

// List returns the absolute paths of all macros, sorted.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("macros: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		out = append(out, filepath.Join(c.Dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Resolve maps a macro name or path to its catalogue path. Anything outside
// the catalogue, or unusable in a job line, is rejected.
func (c *Catalog) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknownMacro)
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.Dir, p)
	}
	p = filepath.Clean(p)
	if !strings.HasSuffix(p, Ext) {
		p += Ext
	}

	list, err := c.List()
	if err != nil {
		return "", err
	}
	i := sort.SearchStrings(list, p)
	if i == len(list) || list[i] != p {
		return "", fmt.Errorf("%w: %s", ErrUnknownMacro, name)
	}
	if err := joblist.CheckPath(p); err != nil {
		return "", err
	}
	return p, nil
}
