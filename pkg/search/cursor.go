package search

// Cursor tracks the current hit while navigating. It wraps at both ends.
type Cursor struct {
	cur int
}

// NewCursor returns a cursor positioned before the first hit.
func NewCursor() *Cursor {
	return &Cursor{cur: -1}
}

// Next advances to the following hit out of total and returns its position,
// or -1 when there are none.
func (c *Cursor) Next(total int) int {
	if total == 0 {
		c.cur = -1
		return -1
	}
	c.cur = (c.cur + 1) % total
	return c.cur
}

// Prev moves to the preceding hit.
func (c *Cursor) Prev(total int) int {
	if total == 0 {
		c.cur = -1
		return -1
	}
	if c.cur < 0 {
		c.cur = 0
	}
	c.cur = (c.cur - 1 + total) % total
	return c.cur
}

// Current returns the current position, or -1.
func (c *Cursor) Current() int { return c.cur }

// Reset moves the cursor before the first hit.
func (c *Cursor) Reset() { c.cur = -1 }
