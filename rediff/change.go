package rediff

import "github.com/twmb/murmur3"

// Change is one modified chunk whose inner differences are kept up to date.
// Its fields belong to the updater's loop.
type Change struct {
	left      string
	right     string
	resolved  bool
	fragments []Fragment
	computed  bool
}

func NewChange(left, right string) *Change {
	return &Change{left: left, right: right}
}

func (c *Change) Left() string {
	return c.left
}

func (c *Change) Right() string {
	return c.right
}

// SetText replaces the content; the change must be scheduled again to refresh fragments.
func (c *Change) SetText(left, right string) {
	c.left, c.right = left, right
}

func (c *Change) Resolved() bool {
	return c.resolved
}

func (c *Change) SetResolved(resolved bool) {
	c.resolved = resolved
}

// Fragments returns the last computed fragments and whether any were computed.
func (c *Change) Fragments() ([]Fragment, bool) {
	return c.fragments, c.computed
}

func (c *Change) setFragments(fragments []Fragment) {
	c.fragments = fragments
	c.computed = true
}

func (c *Change) clearFragments() {
	c.fragments = nil
	c.computed = false
}

func (c *Change) fingerprint() uint64 {
	h := murmur3.New64()
	_, _ = h.Write([]byte(c.left))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(c.right))
	return h.Sum64()
}
