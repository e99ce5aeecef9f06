// Package configloader loads the engine's run-options from a YAML file on
// disk, overlaying values onto config.Default().
package configloader

import (
	"fmt"
	"os"
	"time"

	"github.com/dominium/dsu/state/config"
	"gopkg.in/yaml.v3"
)

// rawEngine mirrors the YAML structure of an engine run-options file.
type rawEngine struct {
	TxnRootSuffix               string `yaml:"txn_root_suffix"`
	StateRelPath                string `yaml:"state_rel_path"`
	JournalDir                  string `yaml:"journal_dir"`
	ProgressCheckpointInterval  *int   `yaml:"progress_checkpoint_interval"`
	DiskFreeSafetyHeadroomBytes *int64 `yaml:"disk_free_safety_headroom_bytes"`
	StageBufferBytes            *int   `yaml:"stage_buffer_bytes"`
	VerifyTimeoutSeconds        *int   `yaml:"verify_timeout_seconds"`
	LogMaxBytes                 *int64 `yaml:"log_max_bytes"`
	LogMaxFiles                 *int   `yaml:"log_max_files"`
	Deterministic               *bool  `yaml:"deterministic"`
}

// LoadEngine loads the engine run-options file, overlaying values onto
// config.Default(). Missing or empty fields retain their default values. A
// missing file is not an error: the engine runs on defaults alone.
//
//	cfg, err := configloader.LoadEngine("/etc/dominium/dsu.yml")
func LoadEngine(path string) (config.Engine, error) {
	cfg := config.Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return config.Engine{}, fmt.Errorf("configloader: %w", err)
	}

	var raw rawEngine
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return config.Engine{}, fmt.Errorf("configloader: parse %s: %w", path, err)
	}

	if raw.TxnRootSuffix != "" {
		cfg.TxnRootSuffix = raw.TxnRootSuffix
	}
	if raw.StateRelPath != "" {
		cfg.StateRelPath = raw.StateRelPath
	}
	if raw.JournalDir != "" {
		cfg.JournalDir = raw.JournalDir
	}
	if raw.ProgressCheckpointInterval != nil {
		cfg.ProgressCheckpointInterval = uint32(*raw.ProgressCheckpointInterval)
	}
	if raw.DiskFreeSafetyHeadroomBytes != nil {
		cfg.DiskFreeSafetyHeadroomBytes = *raw.DiskFreeSafetyHeadroomBytes
	}
	if raw.StageBufferBytes != nil {
		cfg.StageBufferBytes = *raw.StageBufferBytes
	}
	if raw.VerifyTimeoutSeconds != nil {
		cfg.VerifyTimeout = time.Duration(*raw.VerifyTimeoutSeconds) * time.Second
	}
	if raw.LogMaxBytes != nil {
		cfg.LogMaxBytes = *raw.LogMaxBytes
	}
	if raw.LogMaxFiles != nil {
		cfg.LogMaxFiles = *raw.LogMaxFiles
	}
	if raw.Deterministic != nil {
		cfg.Deterministic = *raw.Deterministic
	}

	return cfg, nil
}
