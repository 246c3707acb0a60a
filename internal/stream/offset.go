package stream

// Offset maps turn offsets carried by events to absolute transcript
// positions. It is captured once, when the request is sent, as the
// transcript length at that moment.
type Offset struct {
	base int
}

func NewOffset(base int) Offset {
	if base < 0 {
		base = 0
	}
	return Offset{base: base}
}

func (o Offset) Base() int {
	return o.base
}

// Position returns the absolute position of turnOffset. ok is false for
// negative offsets, which cannot address anything produced by this stream.
func (o Offset) Position(turnOffset int) (pos int, ok bool) {
	if turnOffset < 0 {
		return 0, false
	}
	return o.base + turnOffset, true
}

// Relative converts an absolute position back to a turn offset.
func (o Offset) Relative(pos int) int {
	return pos - o.base
}

// Owns reports whether pos belongs to the portion produced by this stream.
func (o Offset) Owns(pos int) bool {
	return pos >= o.base
}
