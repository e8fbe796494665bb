package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gochat/pkg/datastore"
)

// FileConfig is the optional YAML server config file. Only fields present in
// the file override the flag/default values.
type FileConfig struct {
	Addr        string `yaml:"addr,omitempty"`
	DBPath      string `yaml:"db_path,omitempty"`
	CertFile    string `yaml:"cert_file,omitempty"`
	KeyFile     string `yaml:"key_file,omitempty"`
	DataDir     string `yaml:"data_dir,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// ApplyConfigFile reads a YAML config file and overlays its non-empty fields
// onto cfg.
func ApplyConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.CertFile != "" {
		cfg.CertFile = fc.CertFile
	}
	if fc.KeyFile != "" {
		cfg.KeyFile = fc.KeyFile
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsAddr = fc.MetricsAddr
	}
	return nil
}

// UserYAML represents a user in YAML export. Password hashes are deliberately
// not exported.
type UserYAML struct {
	ID        int64  `yaml:"id"`
	Username  string `yaml:"username"`
	CreatedAt string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// ExportUsersYAML exports all registered users as YAML.
func ExportUsersYAML(st datastore.DataProviderFactory) ([]byte, error) {
	users, err := st.NonTx().ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:        u.ID,
			Username:  u.Username,
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
