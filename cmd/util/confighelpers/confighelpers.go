// Copyright 2024-2025, Rollforge, Inc.
// For license information, see https://github.com/rollforge/seqinbox/blob/master/LICENSE

package confighelpers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	flag "github.com/spf13/pflag"
)

// BeginCommonParse parses the command line into a koanf instance, then layers
// any configuration files, JSON string, and environment variables named by the
// conf.* options on top. Later sources win.
func BeginCommonParse(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return nil, errors.New("configuration exit")
		}
	}
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	if f.NArg() != 0 {
		return nil, fmt.Errorf("unexpected number of arguments: %d", f.NArg())
	}

	var k = koanf.New(".")
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("error loading command line arguments: %w", err)
	}
	return k, applyOverrides(f, k)
}

func applyOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Apply command line options and environment variables
	if err := applyOverrideOverrides(f, k); err != nil {
		return err
	}

	configFiles := k.Strings("conf.file")
	for _, configFile := range configFiles {
		if err := k.Load(file.Provider(configFile), koanfjson.Parser()); err != nil {
			return fmt.Errorf("error loading config file %s: %w", configFile, err)
		}
		// Config files may themselves change the overrides, so apply again.
		if err := applyOverrideOverrides(f, k); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrideOverrides for configuration values that modify the behavior of
// the configuration system itself.
func applyOverrideOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Command line overrides the config file
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return fmt.Errorf("error loading command line arguments: %w", err)
	}

	// Config string overrides any config file
	configString := k.String("conf.string")
	if len(configString) > 0 {
		if err := k.Load(rawbytes.Provider([]byte(configString)), koanfjson.Parser()); err != nil {
			return fmt.Errorf("error loading config string: %w", err)
		}
	}

	// Environment variables override config files and the config string
	envPrefix := k.String("conf.env-prefix")
	if len(envPrefix) > 0 {
		if err := loadEnvironmentVariables(k, envPrefix); err != nil {
			return fmt.Errorf("error loading environment variables: %w", err)
		}
	}
	return nil
}

// loadEnvironmentVariables maps PREFIX_SOME__OPTION_NAME to some-option.name:
// a double underscore becomes a dash, a single underscore a dot.
func loadEnvironmentVariables(k *koanf.Koanf, envPrefix string) error {
	return k.Load(env.Provider(envPrefix+"_", ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix+"_"))
		key = strings.ReplaceAll(key, "__", "-")
		return strings.ReplaceAll(key, "_", ".")
	}), nil)
}

// EndCommonParse unmarshals the merged configuration into config.
func EndCommonParse(k *koanf.Koanf, config interface{}) error {
	decoderConfig := koanf.UnmarshalConf{
		Tag:       "koanf",
		FlatPaths: false,
	}
	if err := k.UnmarshalWithConf("", config, decoderConfig); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	return nil
}

// DumpConfig prints the merged configuration as JSON, after blanking the keys
// in extraOverrideFields (secrets a dump must not leak).
func DumpConfig(k *koanf.Koanf, extraOverrideFields map[string]interface{}) error {
	if err := k.Load(confmap.Provider(extraOverrideFields, "."), nil); err != nil {
		return fmt.Errorf("error removing extra parameters before dump: %w", err)
	}
	c, err := k.Marshal(koanfjson.Parser())
	if err != nil {
		return fmt.Errorf("unable to marshal config file to JSON: %w", err)
	}
	fmt.Println(string(c))
	os.Exit(0)
	return nil
}

func PrintErrorAndExit(err error, usage func(string)) {
	if err != nil && errors.Is(err, flag.ErrHelp) {
		// Already printed usage
		os.Exit(0)
	}
	usage(os.Args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
