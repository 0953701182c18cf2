package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/koding/multiconfig"
)

// LoadConfigByDir fills configPtr from the toml files under configDir.
// Load order: struct `default` tags, then every *.toml in lexical order,
// then environment variables prefixed with envPrefix. Later sources win.
func LoadConfigByDir(configDir, envPrefix string, configPtr interface{}) error {
	tagLoader := &multiconfig.TagLoader{}
	if err := tagLoader.Load(configPtr); err != nil {
		return fmt.Errorf("failed to load default tags: %v", err)
	}

	files, err := tomlFiles(configDir)
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %v", file, err)
		}
		if err := toml.Unmarshal(data, configPtr); err != nil {
			return fmt.Errorf("failed to parse %s: %v", file, err)
		}
	}

	envLoader := &multiconfig.EnvironmentLoader{Prefix: envPrefix, CamelCase: true}
	if err := envLoader.Load(configPtr); err != nil {
		return fmt.Errorf("failed to load environment overrides: %v", err)
	}

	return nil
}

func tomlFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".toml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no toml config file under %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
