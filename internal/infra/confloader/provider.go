package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

var errNoBytes = errors.New("confloader: overrides have no byte form")

// overrideProvider feeds dotted-key overrides to koanf.
type overrideProvider map[string]any

func (p overrideProvider) ReadBytes() ([]byte, error) {
	return nil, errNoBytes
}

func (p overrideProvider) Read() (map[string]any, error) {
	return maps.Unflatten(p, "."), nil
}
