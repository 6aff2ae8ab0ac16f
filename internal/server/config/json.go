package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/feedkeeper/internal/flagx"
	"github.com/dmitrijs2005/feedkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "1h" and integer nanoseconds are accepted.
// Absent fields leave the current value untouched.
type JsonConfig struct {
	HTTPAddr                    string          `json:"http_addr"`
	DatabaseDSN                 string          `json:"database_dsn"`
	SecretKey                   string          `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	BcryptCost                  int             `json:"bcrypt_cost"`
	PageSize                    int             `json:"page_size"`
	ImageBackend                string          `json:"image_backend"`
	ImageDir                    string          `json:"image_dir"`
	MaxUploadBytes              int64           `json:"max_upload_bytes"`
	ReconcileInterval           *timex.Duration `json:"reconcile_interval"`
	OrphanImageGrace            *timex.Duration `json:"orphan_image_grace"`
	LogLevel                    string          `json:"log_level"`
	S3RootUser                  string          `json:"s3_root_user"`
	S3RootPassword              string          `json:"s3_root_password"`
	S3Bucket                    string          `json:"s3_bucket"`
	S3Region                    string          `json:"s3_region"`
	S3BaseEndpoint              string          `json:"s3_base_endpoint"`
}

// parseJson overlays values from the JSON file named by -c/-config (or
// $FEEDKEEPER_CONFIG). No path means nothing to load. An unreadable or
// malformed file panics: the server must not start half-configured.
func parseJson(config *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.applyTo(config)
}

func (c *JsonConfig) applyTo(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.BcryptCost != 0 {
		config.BcryptCost = c.BcryptCost
	}
	if c.PageSize != 0 {
		config.PageSize = c.PageSize
	}
	setString(&config.ImageBackend, c.ImageBackend)
	setString(&config.ImageDir, c.ImageDir)
	if c.MaxUploadBytes != 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
	if c.ReconcileInterval != nil {
		config.ReconcileInterval = c.ReconcileInterval.Duration
	}
	if c.OrphanImageGrace != nil {
		config.OrphanImageGrace = c.OrphanImageGrace.Duration
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
