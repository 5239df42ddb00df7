package catalog

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadFile reads a YAML document of the form
//
//	competitions:
//	  - id: fruit
//	    name: Best fruit
//	    items:
//	      - {id: apple, name: Apple, image_ref: /img/apple.png}
//
// into a Memory catalog.
func LoadFile(path string) (*Memory, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}

	var doc struct {
		Competitions []Competition `koanf:"competitions"`
	}
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	seen := make(map[string]bool, len(doc.Competitions))
	for _, c := range doc.Competitions {
		if c.ID == "" {
			return nil, fmt.Errorf("catalog %s: competition without id", path)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("catalog %s: duplicate competition %q", path, c.ID)
		}
		seen[c.ID] = true
	}
	return NewMemory(doc.Competitions...), nil
}
