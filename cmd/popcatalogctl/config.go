package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"popcatalog/internal/storage"
)

const (
	defaultDBPath  = "popcatalog.db"
	defaultSpecies = "PanTro"
)

type settings struct {
	Store     string
	DBPath    string
	LogLevel  string
	Species   string
	ModelsDir string
}

func defaultSettings() settings {
	return settings{
		Store:   storage.DefaultStoreKind(),
		DBPath:  defaultDBPath,
		Species: defaultSpecies,
	}
}

type fileConfig struct {
	Store     string `toml:"store"`
	DBPath    string `toml:"db_path"`
	LogLevel  string `toml:"log_level"`
	Species   string `toml:"species"`
	ModelsDir string `toml:"models_dir"`
}

func loadSettings(path string, base settings) (settings, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return settings{}, fmt.Errorf("load config: unknown key %s", undecoded[0])
	}

	if meta.IsDefined("store") {
		base.Store = strings.TrimSpace(raw.Store)
	}
	if meta.IsDefined("db_path") {
		base.DBPath = strings.TrimSpace(raw.DBPath)
	}
	if meta.IsDefined("log_level") {
		base.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("species") {
		if id := strings.TrimSpace(raw.Species); id != "" {
			base.Species = id
		}
	}
	if meta.IsDefined("models_dir") {
		base.ModelsDir = strings.TrimSpace(raw.ModelsDir)
	}
	return base, nil
}

// commonFlags are accepted by every command. Explicit flags override the
// config file, which overrides defaults.
type commonFlags struct {
	fs        *flag.FlagSet
	config    *string
	store     *string
	dbPath    *string
	logLevel  *string
	species   *string
	modelsDir *string
}

func newCommand(name string) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	defaults := defaultSettings()
	return &commonFlags{
		fs:        fs,
		config:    fs.String("config", "", "TOML config file"),
		store:     fs.String("store", defaults.Store, "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaults.DBPath, "sqlite database path"),
		logLevel:  fs.String("log-level", "", "log level: debug|info|warn|error"),
		species:   fs.String("species", defaults.Species, "species id"),
		modelsDir: fs.String("models-dir", "", "directory of extra model tables (<dir>/<species>/*.yaml)"),
	}
}

func (c *commonFlags) settings() (settings, error) {
	s := defaultSettings()
	if *c.config != "" {
		loaded, err := loadSettings(*c.config, s)
		if err != nil {
			return settings{}, err
		}
		s = loaded
	}

	c.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "store":
			s.Store = *c.store
		case "db-path":
			s.DBPath = *c.dbPath
		case "log-level":
			s.LogLevel = *c.logLevel
		case "species":
			s.Species = *c.species
		case "models-dir":
			s.ModelsDir = *c.modelsDir
		}
	})
	return s, nil
}
