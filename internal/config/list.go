package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringList decodes a yaml sequence of scalars into strings, accepting
// mixed string and numeric entries. Chat surfaces identify senders by
// strings or numeric ids, and operators write both into allow_from lists.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*l = nil
			return nil
		}
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("allow list entries must be scalars, got %s", item.Tag)
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("allow list must be a scalar or a sequence")
	}
}
