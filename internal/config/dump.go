package config

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Dump writes cfg as YAML that Load can read back. Durations are written
// in time.Duration string form ("1.5s") rather than nanoseconds.
func Dump(w io.Writer, cfg *Config) error {
	node, err := toNode(reflect.ValueOf(cfg).Elem())
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func toNode(v reflect.Value) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: time.Duration(v.Int()).String()}, nil
	}

	if v.Kind() != reflect.Struct {
		node := &yaml.Node{}
		if err := node.Encode(v.Interface()); err != nil {
			return nil, fmt.Errorf("encode %s: %w", v.Type(), err)
		}
		return node, nil
	}

	mapping := &yaml.Node{Kind: yaml.MappingNode}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		value, err := toNode(v.Field(i))
		if err != nil {
			return nil, err
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			value,
		)
	}
	return mapping, nil
}
