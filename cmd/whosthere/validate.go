package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bainblan/Whos-There/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	validateDump bool
	validateYAML bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the whosthere configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with modified values highlighted")
	validateCmd.Flags().BoolVar(&validateYAML, "yaml", false, "Print the effective configuration as YAML")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	v, err := config.NewViper(configPath)
	if err == nil {
		var cfg *config.Config
		cfg, err = config.Decode(v)
		if err == nil {
			return reportValid(cmd.OutOrStdout(), v.ConfigFileUsed(), cfg, config.UnknownKeys(v))
		}
	}
	fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
	return err
}

func reportValid(out io.Writer, file string, cfg *config.Config, unknownKeys []string) error {
	if file == "" {
		file = "(defaults and environment only)"
	}
	_, _ = fmt.Fprintf(out, "✅ Configuration is valid: %s\n", file)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(out)
		_, _ = red.Fprintf(out, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(out, "   - %s\n", key)
		}
		fmt.Fprintln(out, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateYAML {
		data, err := marshalRedacted(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		_, _ = out.Write(data)
	}

	if validateDump {
		defaults, err := config.Decode(config.Defaults())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(out, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
		if err := dumpConfig(out, cfg, defaults); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "\n"+strings.Repeat("=", 80))
	}
	return nil
}

// marshalRedacted renders cfg as YAML with secrets removed.
func marshalRedacted(cfg *config.Config) ([]byte, error) {
	c := *cfg
	c.Storage.Redis.Password = redactPassword(c.Storage.Redis.Password)
	return yaml.Marshal(&c)
}

// configField is one leaf of the rendered configuration.
type configField struct {
	section string
	key     string
	value   string
}

// flattenConfig renders cfg through its yaml tags and returns the leaves in
// declaration order.
func flattenConfig(cfg *config.Config) ([]configField, error) {
	data, err := marshalRedacted(cfg)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	var fields []configField
	walkNode(doc.Content[0], "", &fields)
	return fields, nil
}

func walkNode(node *yaml.Node, section string, fields *[]configField) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		if value.Kind == yaml.MappingNode {
			name := key
			if section != "" {
				name = section + "." + key
			}
			walkNode(value, name, fields)
			continue
		}
		*fields = append(*fields, configField{section: section, key: key, value: value.Value})
	}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(out io.Writer, cfg, defaultCfg *config.Config) error {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	fields, err := flattenConfig(cfg)
	if err != nil {
		return err
	}
	defaultFields, err := flattenConfig(defaultCfg)
	if err != nil {
		return err
	}
	defaults := make(map[string]string, len(defaultFields))
	for _, f := range defaultFields {
		defaults[f.section+"."+f.key] = f.value
	}

	section := ""
	for _, f := range fields {
		if f.section != section {
			section = f.section
			_, _ = cyan.Fprintf(out, "\n[%s]\n", section)
		}
		def := defaults[f.section+"."+f.key]
		if f.value == def {
			_, _ = green.Fprintf(out, "  %s = %s\n", f.key, f.value)
		} else {
			_, _ = yellow.Fprintf(out, "  %s = %s  (modified from default: %s)\n", f.key, f.value, def)
		}
	}
	return nil
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
