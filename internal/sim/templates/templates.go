// Package templates supplies the immutable world descriptions a game state is
// built from. Templates are YAML documents; one may extend another, in which
// case it is merged over its base with patch.Merge.
package templates

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/patch"
	"nightroad.app/internal/sim/state"
)

//go:embed worlds/*.yaml
var embedded embed.FS

var ErrUnknownWorld = errors.New("unknown world")

// Set is a resolved, validated collection of world templates.
type Set struct {
	order   []string
	docs    map[string]any
	digests map[string]string
}

type header struct {
	ID      string `yaml:"id"`
	Order   int    `yaml:"order"`
	Extends string `yaml:"extends"`
}

type source struct {
	header
	body map[string]any
}

// Load reads world_*.yaml from dir. An empty dir, or one that does not exist,
// selects the built-in templates.
func Load(dir string, v *protocol.Validator) (*Set, error) {
	var fsys fs.FS
	root := "worlds"
	fsys = embedded
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			fsys = os.DirFS(dir)
			root = "."
		}
	}
	return loadFS(fsys, root, v)
}

func loadFS(fsys fs.FS, root string, v *protocol.Validator) (*Set, error) {
	names, err := fs.Glob(fsys, path.Join(root, "world_*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("templates: no world_*.yaml under %s", root)
	}

	srcs := map[string]source{}
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		s, err := parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		if s.ID == "" {
			s.ID = strings.TrimSuffix(path.Base(name), ".yaml")
		}
		if _, dup := srcs[s.ID]; dup {
			return nil, fmt.Errorf("templates: duplicate world id %q", s.ID)
		}
		srcs[s.ID] = s
	}

	set := &Set{docs: map[string]any{}, digests: map[string]string{}}
	for id := range srcs {
		doc, err := resolve(id, srcs, map[string]bool{})
		if err != nil {
			return nil, err
		}
		if v != nil {
			if err := v.ValidateTemplate(doc); err != nil {
				return nil, fmt.Errorf("world %s: %w", id, err)
			}
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(b)
		set.docs[id] = doc
		set.digests[id] = hex.EncodeToString(sum[:])
		set.order = append(set.order, id)
	}
	sort.Slice(set.order, func(i, j int) bool {
		a, b := srcs[set.order[i]], srcs[set.order[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	return set, nil
}

func parse(raw []byte) (source, error) {
	var s source
	if err := yaml.Unmarshal(raw, &s.header); err != nil {
		return s, err
	}
	var body map[string]any
	if err := yaml.Unmarshal(raw, &body); err != nil {
		return s, err
	}
	delete(body, "id")
	delete(body, "order")
	delete(body, "extends")

	// Normalize YAML scalars to their JSON forms.
	b, err := json.Marshal(body)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s.body); err != nil {
		return s, err
	}
	return s, nil
}

func resolve(id string, srcs map[string]source, seen map[string]bool) (any, error) {
	s, ok := srcs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, id)
	}
	if seen[id] {
		return nil, fmt.Errorf("templates: extends cycle at %s", id)
	}
	seen[id] = true
	if s.Extends == "" {
		return patch.Clone(s.body), nil
	}
	base, err := resolve(s.Extends, srcs, seen)
	if err != nil {
		return nil, fmt.Errorf("world %s extends %s: %w", id, s.Extends, err)
	}
	return patch.Merge(base, s.body), nil
}

// Order lists world ids. The first is the default world, the second is the
// destination reached through the casino.
func (s *Set) Order() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) Default() string { return s.order[0] }

// Next returns the world that follows id, if any.
func (s *Set) Next(id string) (string, bool) {
	for i, w := range s.order {
		if w == id && i+1 < len(s.order) {
			return s.order[i+1], true
		}
	}
	return "", false
}

// Raw returns a copy of the resolved template document.
func (s *Set) Raw(id string) (any, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorld, id)
	}
	return patch.Clone(doc), nil
}

// Template decodes a fresh WorldState for id. Callers own the result.
func (s *Set) Template(id string) (state.WorldState, error) {
	doc, err := s.Raw(id)
	if err != nil {
		return state.WorldState{}, err
	}
	return state.FromValue(doc)
}

func (s *Set) Digest(id string) string { return s.digests[id] }
