package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

type Entry struct {
	Key   string
	Value string
}

// Dict is an ordered list of string pairs. Keys may repeat; readers treat the
// last occurrence as the value.
//
// On the wire a Dict is either a JSON object of scalars or an array of
// [key, value] string pairs. It is always written back as the array form so
// order and duplicates survive.
type Dict []Entry

// DictFromMap builds a Dict with keys in sorted order.
func DictFromMap(m map[string]string) Dict {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(Dict, 0, len(keys))
	for _, k := range keys {
		d = append(d, Entry{Key: k, Value: m[k]})
	}
	return d
}

// Get returns the last value stored under key.
func (d Dict) Get(key string) (string, bool) {
	for i := len(d) - 1; i >= 0; i-- {
		if d[i].Key == key {
			return d[i].Value, true
		}
	}
	return "", false
}

// Has reports whether key is present, whatever its value.
func (d Dict) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

func (d Dict) Map() map[string]string {
	m := make(map[string]string, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

func (d Dict) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, len(d))
	for i, e := range d {
		pairs[i] = [2]string{e.Key, e.Value}
	}
	return json.Marshal(pairs)
}

func (d *Dict) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*d = nil
		return nil
	}
	switch b[0] {
	case '[':
		var pairs [][]string
		if err := json.Unmarshal(b, &pairs); err != nil {
			return fmt.Errorf("event: dict pairs: %w", err)
		}
		out := make(Dict, 0, len(pairs))
		for i, p := range pairs {
			if len(p) != 2 {
				return fmt.Errorf("event: dict pair %d has %d elements, want 2", i, len(p))
			}
			out = append(out, Entry{Key: p[0], Value: p[1]})
		}
		*d = out
		return nil
	case '{':
		out, err := decodeObject(b)
		if err != nil {
			return err
		}
		*d = out
		return nil
	}
	return errors.New("event: dict must be an object or an array of pairs")
}

// decodeObject keeps document order, which a map would lose. Non-string
// scalars are kept in their literal form; nulls are dropped.
func decodeObject(b []byte) (Dict, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out Dict
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := kt.(string)
		vt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch v := vt.(type) {
		case string:
			out = append(out, Entry{Key: key, Value: v})
		case json.Number:
			out = append(out, Entry{Key: key, Value: v.String()})
		case bool:
			out = append(out, Entry{Key: key, Value: strconv.FormatBool(v)})
		case nil:
		default:
			return nil, fmt.Errorf("event: dict value for %q must be a scalar", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}
