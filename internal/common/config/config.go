package config

import (
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

type DB struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"password"`
	Name string `yaml:"database"`
}

type MQ struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"password"`
}

type Tables struct {
	Count  int    `yaml:"count"`
	Prefix string `yaml:"prefix"`
}

type App struct {
	Database DB     `yaml:"database"`
	Rabbit   MQ     `yaml:"rabbitmq"`
	Tables   Tables `yaml:"tables"`
}

// Load reads and validates a YAML config file. Passwords may be overridden
// through COMANDA_DB_PASSWORD / COMANDA_MQ_PASSWORD so they can stay out of
// the file.
func Load(path string) (App, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, err
	}
	var a App
	if err := yaml.Unmarshal(b, &a); err != nil {
		return App{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if v := os.Getenv("COMANDA_DB_PASSWORD"); v != "" {
		a.Database.Pass = v
	}
	if v := os.Getenv("COMANDA_MQ_PASSWORD"); v != "" {
		a.Rabbit.Pass = v
	}
	if a.Database.Host == "" {
		return App{}, fmt.Errorf("invalid config %s: missing database host", path)
	}
	if a.Tables.Count <= 0 {
		a.Tables.Count = 12
	}
	if a.Tables.Prefix == "" {
		a.Tables.Prefix = "Mesa"
	}
	return a, nil
}

// Find returns the first config file present among the usual locations.
func Find() (string, error) {
	for _, p := range []string{"config.yaml", "deploy/config.example.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}
