package multiscale

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	rawKeyPrefix = "raw_"
	brKeyPrefix  = "br_"
)

// lookupTable is a parsed conversion table with its keys sorted.
type lookupTable struct {
	keys   []int
	values map[int]int
}

func parseTable(prefix string, raw map[string]int) (*lookupTable, error) {
	t := &lookupTable{values: make(map[int]int, len(raw))}
	for k, v := range raw {
		n, err := strconv.Atoi(strings.TrimPrefix(k, prefix))
		if err != nil || !strings.HasPrefix(k, prefix) {
			return nil, fmt.Errorf("invalid table key %q, expected %sN", k, prefix)
		}
		t.values[n] = v
		t.keys = append(t.keys, n)
	}
	sort.Ints(t.keys)
	return t, nil
}

// lookup returns the value at key, or at the nearest tabulated key when key
// is absent. Ties resolve to the lower key. clamped reports the substitution.
func (t *lookupTable) lookup(key int) (value, usedKey int, clamped bool) {
	if v, ok := t.values[key]; ok {
		return v, key, false
	}
	i := sort.SearchInts(t.keys, key)
	switch {
	case i == 0:
		usedKey = t.keys[0]
	case i == len(t.keys):
		usedKey = t.keys[len(t.keys)-1]
	default:
		lo, hi := t.keys[i-1], t.keys[i]
		if hi-key < key-lo {
			usedKey = hi
		} else {
			usedKey = lo
		}
	}
	return t.values[usedKey], usedKey, true
}
