package reactor

// Table is the Descriptor Table (spec.md §4.A): a dense, descriptor-indexed
// array mapping a descriptor to the live connection that owns it.
//
// Descriptors in a single server process are small and mostly contiguous,
// so array indexing beats hashing — the same tradeoff the original
// cConnChoose::AddConn makes (src/cconnchoose.cpp, the non-USE_OLD_CONNLIST
// branch). Growth follows spec.md's geometric rule: when an incoming
// descriptor exceeds capacity, grow to descriptor + descriptor/4 + 1.
type Table struct {
	conns         []Conn
	maxDescriptor Descriptor
	registrar     *Registrar
}

// NewTable creates an empty Descriptor Table. reg may be nil if the caller
// does not need Remove to clear interest/close bits on the Event Registrar
// (tests commonly pass nil).
func NewTable(reg *Registrar) *Table {
	return &Table{registrar: reg}
}

func (t *Table) grow(d Descriptor) {
	if int(d) < len(t.conns) {
		return
	}

	newCap := int(d) + int(d)/4 + 1
	grown := make([]Conn, newCap)
	copy(grown, t.conns)
	t.conns = grown
}

// Add registers conn under its own descriptor. Returns ErrAlreadyPresent if
// that descriptor is already tracked (a programmer error, per spec.md
// §4.A), and ErrNilConn / ErrNegativeDescriptor for invalid input.
func (t *Table) Add(conn Conn) error {
	if conn == nil {
		return mapTableError(ErrNilConn)
	}

	d := conn.Descriptor()
	if d < 0 {
		return mapTableError(ErrNegativeDescriptor)
	}

	t.grow(d)

	if t.conns[d] != nil {
		return mapTableError(ErrAlreadyPresent)
	}

	t.conns[d] = conn

	if d > t.maxDescriptor {
		t.maxDescriptor = d
	}

	return nil
}

// Remove deregisters conn's descriptor, clearing its interest and
// close-request bits on the Event Registrar before returning (spec.md
// §4.B). Removing an absent connection is idempotent and reports false,
// never an error.
func (t *Table) Remove(conn Conn) bool {
	if conn == nil {
		return false
	}

	return t.RemoveDescriptor(conn.Descriptor())
}

// RemoveDescriptor is Remove keyed directly by descriptor, for callers that
// only have the numeric value (e.g. after the Conn has already been
// discarded).
func (t *Table) RemoveDescriptor(d Descriptor) bool {
	if d < 0 || int(d) >= len(t.conns) || t.conns[d] == nil {
		return false
	}

	t.conns[d] = nil

	if t.registrar != nil {
		t.registrar.OptOut(d, All)
		t.registrar.OptOut(d, Close)
	}

	return true
}

// Has reports whether conn's descriptor is currently tracked.
func (t *Table) Has(conn Conn) bool {
	if conn == nil {
		return false
	}
	return t.Lookup(conn.Descriptor()) != nil
}

// Lookup returns the connection owning d, or nil if none is tracked.
func (t *Table) Lookup(d Descriptor) Conn {
	if d < 0 || int(d) >= len(t.conns) {
		return nil
	}
	return t.conns[d]
}

// MaxDescriptor returns the largest descriptor ever added, even if it has
// since been removed (mirrors cConnChoose::mLastSock, used by select()-style
// backends to bound their fd_set scan).
func (t *Table) MaxDescriptor() Descriptor {
	return t.maxDescriptor
}

// Len returns the number of descriptors currently tracked. O(n); intended
// for tests and diagnostics, not the hot path.
func (t *Table) Len() int {
	n := 0
	for _, c := range t.conns {
		if c != nil {
			n++
		}
	}
	return n
}

// Each calls fn for every tracked connection in ascending descriptor order.
// fn must not mutate the table.
func (t *Table) Each(fn func(Descriptor, Conn)) {
	for d, c := range t.conns {
		if c != nil {
			fn(Descriptor(d), c)
		}
	}
}
