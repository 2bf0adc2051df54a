package catalogue

import (
	"encoding/json"
	"fmt"
	"os"
)

// Load reads the catalogue document at path and decodes the symbol catalogue
// stored under key.
func Load(path, key string) (*Document, error) {
	if key == "" {
		key = DefaultKey
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %s: %v", ErrRead, path, err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON in %s: %v", ErrParse, path, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: %s is not a JSON object", ErrParse, path)
	}
	rawSymbols, ok := top[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %q key", ErrParse, path, key)
	}

	var symbols Catalogue
	if err := json.Unmarshal(rawSymbols, &symbols); err != nil {
		return nil, fmt.Errorf("%w: invalid %q in %s: %v", ErrParse, key, path, err)
	}
	if symbols == nil {
		return nil, fmt.Errorf("%w: %q in %s is not an object of categories", ErrParse, key, path)
	}
	for category, entries := range symbols {
		for i, e := range entries {
			if e == nil {
				return nil, fmt.Errorf("%w: %s[%d] is null", ErrParse, category, i)
			}
		}
	}

	delete(top, key)
	return &Document{Path: path, Key: key, Symbols: symbols, rest: top}, nil
}
