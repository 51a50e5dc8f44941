// Package config loads the settings of the myfs tool.
//
// Settings come from an optional YAML file named by the --config flag or
// the MYFS_CONFIG environment variable. Environment variables with the
// MYFS_ prefix override values read from the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const envVarPrefix = "MYFS"

type Config struct {
	Volume VolumeConfig `yaml:"volume"`

	// Descriptors is the capacity of the driver's descriptor table.
	Descriptors int `yaml:"descriptors" split_words:"true"`

	Log   LogConfig   `yaml:"log"`
	Image ImageConfig `yaml:"image"`
	Mount MountConfig `yaml:"mount"`
}

type VolumeConfig struct {
	// Path is the host file backing the volume.
	Path string `yaml:"path" split_words:"true"`
	// Size is used when format creates the backing file, e.g. "64MB".
	Size       string `yaml:"size" split_words:"true"`
	SectorSize uint32 `yaml:"sectorSize" split_words:"true"`
	BlockSize  uint32 `yaml:"blockSize" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

type ImageConfig struct {
	// Codec compresses exported images: none, lz4 or zstd.
	Codec string `yaml:"codec" split_words:"true"`
}

type MountConfig struct {
	FSName     string `yaml:"fsName" split_words:"true"`
	AllowOther bool   `yaml:"allowOther" split_words:"true"`
	Debug      bool   `yaml:"debug" split_words:"true"`
}

func Default() Config {
	return Config{
		Volume: VolumeConfig{
			Path:       "myfs.img",
			Size:       "16MB",
			SectorSize: 512,
			BlockSize:  1024,
		},
		Descriptors: 128,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Image: ImageConfig{Codec: "zstd"},
		Mount: MountConfig{FSName: "myfs"},
	}
}

// Load reads the config file at path, falling back to MYFS_CONFIG when path
// is empty, and applies environment overrides. Without a file the defaults
// are used.
func Load(path string) (Config, error) {
	c := Default()

	if path == "" {
		path = os.Getenv(envVarPrefix + "_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("reading config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return c, fmt.Errorf("unmarshaling config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return c, fmt.Errorf("parsing environment variables: %w", err)
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Volume.Path == "" {
		return fmt.Errorf("missing required configuration: volume.path / %s_VOLUME_PATH", envVarPrefix)
	}
	if c.Volume.SectorSize < 256 || c.Volume.SectorSize%256 != 0 {
		return fmt.Errorf("volume.sectorSize %d must be a positive multiple of 256", c.Volume.SectorSize)
	}
	if c.Volume.BlockSize == 0 || c.Volume.BlockSize%c.Volume.SectorSize != 0 {
		return fmt.Errorf("volume.blockSize %d must be a positive multiple of the sector size %d", c.Volume.BlockSize, c.Volume.SectorSize)
	}
	if _, err := c.VolumeBytes(); err != nil {
		return fmt.Errorf("volume.size: %w", err)
	}
	if c.Descriptors <= 0 {
		return fmt.Errorf("descriptors must be positive, got %d", c.Descriptors)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	switch c.Image.Codec {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("image.codec %q must be none, lz4 or zstd", c.Image.Codec)
	}
	return nil
}

// VolumeBytes is Volume.Size in bytes.
func (c *Config) VolumeBytes() (int64, error) {
	return ParseSize(c.Volume.Size)
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
