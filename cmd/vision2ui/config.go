package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or modify config.yaml",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

// newConfigGetCmd prints the value at a dotted key. Keys missing from the
// file report the effective value after defaults and flags.
func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Read a config value by dotted key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadConfigDoc(cfg.ConfigPath)
			if err != nil {
				return err
			}
			node, ok := lookupKey(doc, args[0])
			if !ok {
				var effective yaml.Node
				if err := effective.Encode(cfg); err != nil {
					return err
				}
				node, ok = lookupKey(&effective, args[0])
			}
			if !ok {
				return fmt.Errorf("key %s not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderNode(node))
			return nil
		},
	}
}

// newConfigSetCmd edits one key in place, keeping the rest of the file
// (comments and key order included) untouched.
func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Update a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadConfigDoc(cfg.ConfigPath)
			if err != nil {
				return err
			}
			if err := assignKey(doc, args[0], args[1]); err != nil {
				return err
			}
			probe := cfg
			if err := doc.Decode(&probe); err != nil {
				return fmt.Errorf("invalid value for %s: %w", args[0], err)
			}
			if err := probe.Normalize(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", args[0], err)
			}
			if err := saveConfigDoc(cfg.ConfigPath, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
			return nil
		},
	}
}

// loadConfigDoc returns the parsed config.yaml document, or an empty mapping
// when the file does not exist yet.
func loadConfigDoc(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	if top := documentRoot(&doc); top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: top level is not a mapping", path)
	}
	return &doc, nil
}

func documentRoot(node *yaml.Node) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		return node.Content[0]
	}
	return node
}

func saveConfigDoc(path string, root *yaml.Node) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(root)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// lookupKey walks mapping nodes along a dotted key.
func lookupKey(root *yaml.Node, key string) (*yaml.Node, bool) {
	node := documentRoot(root)
	for _, part := range strings.Split(key, ".") {
		child := mappingValue(node, part)
		if child == nil {
			return nil, false
		}
		node = child
	}
	return node, true
}

// assignKey stores raw at a dotted key, creating intermediate mappings.
// A non-mapping value in the way is replaced.
func assignKey(root *yaml.Node, key, raw string) error {
	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	node := documentRoot(root)
	for i, part := range parts {
		child := mappingValue(node, part)
		last := i == len(parts)-1
		if child == nil {
			child = &yaml.Node{}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part}, child)
		}
		if last {
			*child = yaml.Node{Kind: yaml.ScalarNode, Tag: scalarTag(raw), Value: raw,
				HeadComment: child.HeadComment, LineComment: child.LineComment}
			return nil
		}
		if child.Kind != yaml.MappingNode {
			*child = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		node = child
	}
	return nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// scalarTag types CLI input. Durations such as 30s stay strings, which is
// how the config file spells them.
func scalarTag(raw string) string {
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return "!!int"
	}
	if raw == "true" || raw == "false" {
		return "!!bool"
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return "!!float"
	}
	return "!!str"
}

// renderNode prints scalars bare and anything else as flow-style YAML.
func renderNode(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return node.Value
	}
	flow := *node
	flow.Style = yaml.FlowStyle
	data, err := yaml.Marshal(&flow)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
