package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".voicebridge"

// Paths holds resolved filesystem paths for bridge data.
type Paths struct {
	Base      string // ~/.voicebridge
	Config    string // ~/.voicebridge/config.yaml
	Knowledge string // ~/.voicebridge/data/knowledge.db
}

// ResolvePaths computes the standard paths from the home directory.
// If VOICEBRIDGE_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("VOICEBRIDGE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:      base,
		Config:    filepath.Join(base, "config.yaml"),
		Knowledge: filepath.Join(base, "data", "knowledge.db"),
	}, nil
}
