package tg

import (
	"bufio"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrKeyNotFound is returned by the typed KWL finders when a key is absent.
var ErrKeyNotFound = errors.New("keyword not found")

// KWL is a keyword list: a flat map of prefixed keys to string values.  Nested objects
// use dotted prefixes like "node3." so a node's state can be extracted with Sub.
type KWL map[string]string

// NewKWL returns an empty keyword list.
func NewKWL() KWL {
	return make(KWL)
}

// Add stores value under prefix+key.  Floats are written with the shortest exact
// representation; slices are written space separated.
func (k KWL) Add(prefix, key string, value interface{}) {
	k[prefix+key] = formatValue(value)
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, " ")
	case []float64:
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strings.Join(parts, " ")
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Find returns the value stored under prefix+key.
func (k KWL) Find(prefix, key string) (string, bool) {
	v, found := k[prefix+key]
	return v, found
}

// FindInt returns an integer value.
func (k KWL) FindInt(prefix, key string) (int, error) {
	v, found := k.Find(prefix, key)
	if !found {
		return 0, fmt.Errorf("%s%s: %w", prefix, key, ErrKeyNotFound)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("bad integer for %s%s: %v", prefix, key, err)
	}
	return n, nil
}

// FindUint64 returns an unsigned integer value.
func (k KWL) FindUint64(prefix, key string) (uint64, error) {
	v, found := k.Find(prefix, key)
	if !found {
		return 0, fmt.Errorf("%s%s: %w", prefix, key, ErrKeyNotFound)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad unsigned integer for %s%s: %v", prefix, key, err)
	}
	return n, nil
}

// FindFloat returns a floating point value.
func (k KWL) FindFloat(prefix, key string) (float64, error) {
	v, found := k.Find(prefix, key)
	if !found {
		return 0, fmt.Errorf("%s%s: %w", prefix, key, ErrKeyNotFound)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("bad float for %s%s: %v", prefix, key, err)
	}
	return f, nil
}

// FindBool returns a boolean value.  Missing keys return def.
func (k KWL) FindBool(prefix, key string, def bool) bool {
	v, found := k.Find(prefix, key)
	if !found {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// FindInts returns a space separated list of integers.  A present but empty value
// returns an empty slice.
func (k KWL) FindInts(prefix, key string) ([]int, error) {
	v, found := k.Find(prefix, key)
	if !found {
		return nil, fmt.Errorf("%s%s: %w", prefix, key, ErrKeyNotFound)
	}
	fields := strings.Fields(v)
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad integer list for %s%s: %v", prefix, key, err)
		}
		out[i] = n
	}
	return out, nil
}

// FindFloats returns a space separated list of floats.
func (k KWL) FindFloats(prefix, key string) ([]float64, error) {
	v, found := k.Find(prefix, key)
	if !found {
		return nil, fmt.Errorf("%s%s: %w", prefix, key, ErrKeyNotFound)
	}
	fields := strings.Fields(v)
	out := make([]float64, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad float list for %s%s: %v", prefix, key, err)
		}
		out[i] = x
	}
	return out, nil
}

// Sub returns the entries beginning with prefix, with the prefix removed.
func (k KWL) Sub(prefix string) KWL {
	sub := NewKWL()
	for key, v := range k {
		if strings.HasPrefix(key, prefix) {
			sub[key[len(prefix):]] = v
		}
	}
	return sub
}

// Merge copies every entry of o into k under prefix.
func (k KWL) Merge(prefix string, o KWL) {
	for key, v := range o {
		k[prefix+key] = v
	}
}

// Keys returns the sorted keys.
func (k KWL) Keys() []string {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// String returns one "key: value" line per entry in key order.
func (k KWL) String() string {
	var sb strings.Builder
	for _, key := range k.Keys() {
		fmt.Fprintf(&sb, "%s: %s\n", key, k[key])
	}
	return sb.String()
}

// ParseKWL reads "key: value" lines.  Blank lines and lines starting with '#' or "//"
// are skipped.
func ParseKWL(s string) (KWL, error) {
	k := NewKWL()
	scanner := bufio.NewScanner(strings.NewReader(s))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		pos := strings.Index(line, ":")
		if pos <= 0 {
			return nil, fmt.Errorf("keyword list line %d has no key: %q", lineNum, line)
		}
		k[strings.TrimSpace(line[:pos])] = strings.TrimSpace(line[pos+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return k, nil
}
