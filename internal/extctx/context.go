// Package extctx models the extended context a notification preference
// lives at: a node in the structural context hierarchy (system, category,
// course, module instance), optionally narrowed by a component/area/item
// triple for preferences scoped to a resolver sub-area.
//
// A context is "natural" when component, area and item id are all unset.
// Only natural contexts participate in ancestor/descendant relationships;
// extended contexts are leaves whose immediate parent is their natural part.
package extctx

import (
	"fmt"
	"strconv"
	"strings"
)

// Context levels of the structural hierarchy.
const (
	LevelSystem   = 10
	LevelCategory = 40
	LevelCourse   = 50
	LevelModule   = 70
)

// SystemContextID is the fixed id of the hierarchy root.
const SystemContextID int64 = 1

// Context identifies where a preference lives. The zero value is invalid;
// construct via System, Natural or With.
type Context struct {
	// ContextID is the structural hierarchy node id.
	ContextID int64

	// Path is the slash-separated ancestor id chain including the node
	// itself, e.g. "/1/53/201". The system root is "/1".
	Path string

	// Level is the structural level of the node.
	Level int

	// Component is the owning plugin identifier, e.g. "seminar". Empty on
	// natural contexts.
	Component string

	// Area is the sub-classification within the component, e.g.
	// "seminar_event". Empty on natural contexts.
	Area string

	// ItemID disambiguates multiple preference sets within the same
	// component+area+context. Zero on natural contexts.
	ItemID int64
}

// System returns the natural system-level root context.
func System() Context {
	return Context{
		ContextID: SystemContextID,
		Path:      fmt.Sprintf("/%d", SystemContextID),
		Level:     LevelSystem,
	}
}

// Natural constructs a natural context from stored ids.
func Natural(contextID int64, path string, level int) Context {
	return Context{ContextID: contextID, Path: path, Level: level}
}

// With narrows a natural context by a component/area/item triple, producing
// an extended (non-natural) context.
func (c Context) With(component, area string, itemID int64) Context {
	c.Component = component
	c.Area = area
	c.ItemID = itemID
	return c
}

// NaturalPart strips the component/area/item narrowing.
func (c Context) NaturalPart() Context {
	c.Component = ""
	c.Area = ""
	c.ItemID = 0
	return c
}

// IsNatural reports whether the context carries no component narrowing.
func (c Context) IsNatural() bool {
	return c.Component == "" && c.Area == "" && c.ItemID == 0
}

// IsSystem reports whether the context is the natural system root.
func (c Context) IsSystem() bool {
	return c.IsNatural() && c.ContextID == SystemContextID
}

// Equal reports full equality including narrowing.
func (c Context) Equal(other Context) bool {
	return c.ContextID == other.ContextID &&
		c.Component == other.Component &&
		c.Area == other.Area &&
		c.ItemID == other.ItemID
}

// InscribedIn reports whether c lies within ancestor's structural subtree.
// The check is on natural paths: ancestor must be natural and its path must
// literally prefix-match c's path. A context is inscribed in itself.
func (c Context) InscribedIn(ancestor Context) bool {
	if !ancestor.IsNatural() {
		return false
	}
	if c.Path == ancestor.Path {
		return true
	}
	return strings.HasPrefix(c.Path, ancestor.Path+"/")
}

// AncestorIDs returns the natural ancestor context ids from the immediate
// parent up to the system root, excluding the context itself. An extended
// context's first ancestor is its own natural part.
func (c Context) AncestorIDs() []int64 {
	ids := parsePath(c.Path)
	if len(ids) == 0 {
		return nil
	}
	if c.IsNatural() {
		// Drop self; walk starts at the parent.
		ids = ids[:len(ids)-1]
	}
	// Reverse: nearest ancestor first.
	out := make([]int64, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, ids[i])
	}
	return out
}

// Validate rejects malformed contexts.
func (c Context) Validate() error {
	if c.ContextID <= 0 {
		return fmt.Errorf("context id must be positive, got %d", c.ContextID)
	}
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("context path %q must start with '/'", c.Path)
	}
	ids := parsePath(c.Path)
	if len(ids) == 0 {
		return fmt.Errorf("context path %q contains no ids", c.Path)
	}
	if ids[len(ids)-1] != c.ContextID {
		return fmt.Errorf("context path %q does not end with context id %d", c.Path, c.ContextID)
	}
	if ids[0] != SystemContextID {
		return fmt.Errorf("context path %q does not start at the system root", c.Path)
	}
	// Narrowing must be all-or-nothing on component+area.
	if (c.Component == "") != (c.Area == "") {
		return fmt.Errorf("component and area must be set together")
	}
	if c.ItemID != 0 && c.Component == "" {
		return fmt.Errorf("item id requires component and area")
	}
	return nil
}

// String renders a stable human-readable form used in logs.
func (c Context) String() string {
	if c.IsNatural() {
		return fmt.Sprintf("context(%d:%s)", c.ContextID, c.Path)
	}
	return fmt.Sprintf("context(%d:%s %s/%s/%d)", c.ContextID, c.Path, c.Component, c.Area, c.ItemID)
}

func parsePath(path string) []int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}
