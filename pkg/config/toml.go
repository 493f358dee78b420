package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// DecodeTOMLSection decodes the table at the dotted path section (for
// example "preprocessor.plantuml") of a TOML file into target. Keys absent
// from the table keep their current values in target. It reports whether
// the section was present; a missing file is not an error.
func DecodeTOMLSection(filename, section string, target any) (bool, error) {
	var doc map[string]any
	if _, err := toml.DecodeFile(filename, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	var table any = doc
	for _, key := range strings.Split(section, ".") {
		m, ok := table.(map[string]any)
		if !ok {
			return false, nil
		}
		if table, ok = m[key]; !ok {
			return false, nil
		}
	}
	sub, ok := table.(map[string]any)
	if !ok {
		return false, fmt.Errorf("%s: %s is not a table", filename, section)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(sub); err != nil {
		return false, fmt.Errorf("re-encode %s: %w", section, err)
	}
	if _, err := toml.Decode(buf.String(), target); err != nil {
		return false, fmt.Errorf("failed to decode [%s] in %s: %w", section, filename, err)
	}
	return true, nil
}
