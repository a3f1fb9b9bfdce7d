package migrate

import (
	"gopkg.in/yaml.v3"
)

// Spec versions known to the built-in chain.
const (
	OldestVersion  = "0.0.1"
	CurrentVersion = "0.0.4"
)

// Builtin returns the built-in migration chain, oldest first.
func Builtin() []Migration {
	return []Migration{
		{Name: "topic0-key", From: "0.0.1", Apply: renameTopicKey},
		{Name: "mapping-api-version", From: "0.0.2", Apply: bumpAPIVersion},
		{Name: "schema-file-ref", From: "0.0.3", Apply: schemaFileRef},
	}
}

// renameTopicKey renames the legacy event handler key topic to topic0.
func renameTopicKey(root *yaml.Node) error {
	eachMapping(root, func(mapping *yaml.Node) {
		for _, h := range items(mapping, "eventHandlers") {
			renameKey(h, "topic", "topic0")
		}
	})
	setScalar(root, "specVersion", "0.0.2")
	return nil
}

// bumpAPIVersion moves mappings on api version 0.0.1 to 0.0.2.
func bumpAPIVersion(root *yaml.Node) error {
	eachMapping(root, func(mapping *yaml.Node) {
		if v := lookup(mapping, "apiVersion"); v != nil && v.Value == "0.0.1" {
			v.Value = "0.0.2"
		}
	})
	setScalar(root, "specVersion", "0.0.3")
	return nil
}

// schemaFileRef turns a bare schema path into a {file: path} reference.
func schemaFileRef(root *yaml.Node) error {
	if v := lookup(root, "schema"); v != nil && v.Kind == yaml.ScalarNode {
		path := *v
		*v = yaml.Node{
			Kind: yaml.MappingNode,
			Tag:  "!!map",
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Tag: "!!str", Value: "file"},
				&path,
			},
		}
	}
	setScalar(root, "specVersion", CurrentVersion)
	return nil
}

// eachMapping calls fn for the mapping node of every data source and template.
func eachMapping(root *yaml.Node, fn func(*yaml.Node)) {
	for _, ds := range items(root, "dataSources") {
		if m := lookup(ds, "mapping"); m != nil {
			fn(m)
		}
		for _, tmpl := range items(ds, "templates") {
			if m := lookup(tmpl, "mapping"); m != nil {
				fn(m)
			}
		}
	}
}
