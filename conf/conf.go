package conf

import (
	"os"
	"path/filepath"

	"github.com/klaxonhq/klaxon/alert/aconf"
	"github.com/klaxonhq/klaxon/bus"
	"github.com/klaxonhq/klaxon/pkg/cfg"
	"github.com/klaxonhq/klaxon/pkg/httpx"
	"github.com/klaxonhq/klaxon/pkg/logx"
	"github.com/klaxonhq/klaxon/pkg/ormx"
	"github.com/klaxonhq/klaxon/stats"
	"github.com/klaxonhq/klaxon/storage"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type ConfigType struct {
	Global GlobalConfig
	Log    logx.Config
	HTTP   httpx.Config
	DB     ormx.DBConfig
	Redis  storage.RedisConfig

	Stats stats.Config
	Bus   bus.Config
	Alert aconf.Alert
}

type GlobalConfig struct {
	RunMode string
}

// InitConfig merges every config file under configDir, in lexical order,
// then applies KLAXON_* environment overrides. A .env file in the config
// dir is loaded first so deployments can keep credentials out of the tomls.
func InitConfig(configDir string) (*ConfigType, error) {
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return nil, errors.Errorf("config dir %s not exist", configDir)
	}

	envFile := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.WithMessagef(err, "failed to load %s", envFile)
		}
	}

	var config = new(ConfigType)

	if err := cfg.LoadConfigByDir(configDir, "KLAXON", config); err != nil {
		return nil, errors.WithMessagef(err, "failed to load configs of directory: %s", configDir)
	}

	config.Stats.PreCheck()
	config.Alert.PreCheck()

	if config.Global.RunMode == "" {
		config.Global.RunMode = "release"
	}

	if config.HTTP.Port <= 0 {
		config.HTTP.Port = 17001
	}

	if config.HTTP.ShutdownTimeout <= 0 {
		config.HTTP.ShutdownTimeout = 30
	}

	if config.DB.DBType == "" {
		// single binary out of the box, no external database required
		config.DB.DBType = "sqlite"
		if config.DB.DSN == "" {
			config.DB.DSN = "klaxon.db"
		}
	}

	return config, nil
}
