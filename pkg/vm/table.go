package vm

// Table is an open-addressed hash table keyed by interned strings. It backs
// the global bindings, instance fields, class method tables, and the heap's
// interned-string set.
//
// Capacity is always a power of two so the probe sequence can mask instead
// of mod. Deleted entries become tombstones (nil key, true value) that keep
// probe chains intact until the next resize; count includes tombstones so
// the load factor stays honest about occupied buckets.
type Table struct {
	count   int
	entries []tableEntry
}

// tableEntry distinguishes three bucket states: occupied (key non-nil),
// empty (nil key, nil value), and tombstone (nil key, true value).
type tableEntry struct {
	key   *String
	value Value
}

const tableMaxLoad = 0.75

// Count returns the number of occupied buckets including tombstones.
func (t *Table) Count() int { return t.count }

// Capacity returns the bucket array size.
func (t *Table) Capacity() int { return len(t.entries) }

// findEntry locates the bucket for key: the entry holding it, or failing
// that the first tombstone passed on the way (so insertion reuses it), or
// the terminating empty bucket. Keys compare by identity because they are
// interned.
func findEntry(entries []tableEntry, key *String) *tableEntry {
	index := key.Hash & uint32(len(entries)-1)
	var tombstone *tableEntry
	for {
		entry := &entries[index]
		if entry.key == nil {
			if entry.value.IsNil() {
				// Empty bucket ends the probe.
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if entry.key == key {
			return entry
		}
		index = (index + 1) & uint32(len(entries)-1)
	}
}

// Get looks up key and reports whether it was present.
func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return NilValue(), false
	}
	entry := findEntry(t.entries, key)
	if entry.key == nil {
		return NilValue(), false
	}
	return entry.value, true
}

// Set inserts or updates key and returns true if the key was not already
// present.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.adjustCapacity(growCapacity(len(t.entries)))
	}

	entry := findEntry(t.entries, key)
	isNewKey := entry.key == nil
	// A reused tombstone was already counted.
	if isNewKey && entry.value.IsNil() {
		t.count++
	}
	entry.key = key
	entry.value = value
	return isNewKey
}

// Delete removes key, leaving a tombstone so later probes still find
// entries that collided past it.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.key == nil {
		return false
	}
	entry.key = nil
	entry.value = BoolValue(true)
	return true
}

// AddAll copies every entry of from into t. Used to inherit method tables.
func (t *Table) AddAll(from *Table) {
	for i := range from.entries {
		entry := &from.entries[i]
		if entry.key != nil {
			t.Set(entry.key, entry.value)
		}
	}
}

// FindString probes for a string with the given contents and hash. Unlike
// Get it compares by content; it is how the heap deduplicates strings
// before an identical object exists.
func (t *Table) FindString(chars string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	index := hash & uint32(len(t.entries)-1)
	for {
		entry := &t.entries[index]
		if entry.key == nil {
			if entry.value.IsNil() {
				return nil
			}
		} else if entry.key.Hash == hash && entry.key.Chars == chars {
			return entry.key
		}
		index = (index + 1) & uint32(len(t.entries)-1)
	}
}

// adjustCapacity rehashes every live entry into a fresh bucket array,
// dropping tombstones and recomputing count.
func (t *Table) adjustCapacity(capacity int) {
	entries := make([]tableEntry, capacity)
	t.count = 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.key == nil {
			continue
		}
		dest := findEntry(entries, entry.key)
		dest.key = entry.key
		dest.value = entry.value
		t.count++
	}
	t.entries = entries
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
