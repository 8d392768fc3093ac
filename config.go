package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DB         string           `toml:"db"`
	SpoolDir   string           `toml:"spool_dir"`
	Upstream   ConfigUpstream   `toml:"upstream"`
	Downstream ConfigDownstream `toml:"downstream"`
	Sweeper    ConfigSweeper    `toml:"sweeper"`
}

type ConfigUpstream struct {
	BaseUrl string `toml:"base_url"`
}

type ConfigDownstream struct {
	ListenAddr   string   `toml:"listen_addr"`
	AuditPath    string   `toml:"audit_path"`
	AuthToken    string   `toml:"auth_token"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
	Prefix       []string `toml:"-"`
}

type ConfigSweeper struct {
	Interval uint64 `toml:"interval"`
	MaxAge   uint64 `toml:"max_age"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}
	d := toml.NewDecoder(file)
	conf := &Config{
		DB:       "bodytap.db",
		SpoolDir: filepath.Join(os.TempDir(), "bodytap"),
		Downstream: ConfigDownstream{
			AuditPath:    "/audit/",
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		Sweeper: ConfigSweeper{
			Interval: 60,
			MaxAge:   600,
		},
	}
	_, err = d.Decode(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}

	// Check for errors
	if len(conf.DB) == 0 {
		return nil, &errConfigFieldIsEmpty{field: "db"}
	}
	if len(conf.SpoolDir) == 0 {
		return nil, &errConfigFieldIsEmpty{field: "spool_dir"}
	}
	if len(conf.Upstream.BaseUrl) == 0 {
		return nil, &errConfigFieldIsEmpty{field: "upstream.base_url"}
	}
	if len(conf.Downstream.ListenAddr) == 0 {
		return nil, &errConfigFieldIsEmpty{field: "downstream.listen_addr"}
	}
	if len(conf.Downstream.AuditPath) == 0 {
		return nil, &errConfigFieldIsEmpty{field: "downstream.audit_path"}
	}
	if len(conf.Downstream.AuthToken) == 0 {
		return nil, &errConfigFieldIsEmpty{field: "downstream.auth_token"}
	}
	if conf.Downstream.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("invalid config file: downstream.max_body_bytes must be positive")
	}
	if conf.Sweeper.Interval < 1 {
		return nil, &errConfigDurationIsTooShort{field: "sweeper.interval"}
	}
	if conf.Sweeper.MaxAge < 60 {
		return nil, &errConfigDurationIsTooShort{field: "sweeper.max_age"}
	}

	// Normalize the upstream prefix
	upstream, err := url.ParseRequestURI(conf.Upstream.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid config file: upstream.base_url is invalid: %v", err)
	}
	if upstream.Scheme != "http" && upstream.Scheme != "https" {
		return nil, fmt.Errorf("invalid config file: upstream.base_url must be http or https")
	}
	conf.Upstream.BaseUrl = strings.TrimSuffix(conf.Upstream.BaseUrl, "/")

	// Split the audit prefix
	prefix, err := url.ParseRequestURI(conf.Downstream.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config file: downstream.audit_path is invalid: %v", err)
	}
	conf.Downstream.Prefix = strings.Split(prefix.EscapedPath(), "/")
	for i := range conf.Downstream.Prefix {
		conf.Downstream.Prefix[i], err = url.PathUnescape(conf.Downstream.Prefix[i])
		if err != nil {
			return nil, fmt.Errorf("invalid config file: downstream.audit_path is invalid: %v", err)
		}
	}
	return conf, nil
}

type errConfigFieldIsEmpty struct {
	field string
}

func (e *errConfigFieldIsEmpty) Error() string {
	return fmt.Sprintf("invalid config file: %s is empty", e.field)
}

type errConfigDurationIsTooShort struct {
	field string
}

func (e *errConfigDurationIsTooShort) Error() string {
	return fmt.Sprintf("invalid config file: %s is too short", e.field)
}
