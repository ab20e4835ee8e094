package core

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

/** @brief Engine wide configuration, usually read from anima.toml. */
type EngineConfig struct {
	/** @brief The application name, used in logs. */
	Name string `toml:"name"`
	/** @brief Number of frames the CPU may record ahead of the GPU. Every per-variant GPU buffer is replicated this many times. */
	FramesInFlight uint32 `toml:"frames_in_flight"`
	/** @brief Maximum number of live variants. Sizes the occlusion query pool. */
	MaxVariants uint32 `toml:"max_variants"`
	/** @brief How many frames a joint-matrix change keeps being re-uploaded. */
	JointDirtyFrames uint32 `toml:"joint_dirty_frames"`
	/** @brief Background workers used by the resource cache. */
	JobWorkers int `toml:"job_workers"`
	/** @brief Capacity of the background job queue. */
	JobQueueSize int `toml:"job_queue_size"`
	/** @brief Capacity of the main-thread completion queue. */
	MainQueueSize int `toml:"main_queue_size"`
	/** @brief Log level: debug, info, warn, error. */
	LogLevel string `toml:"log_level"`
	/** @brief Directory scanned and watched for assets. */
	AssetsDir string `toml:"assets_dir"`
	/** @brief Watch AssetsDir for changes. */
	WatchAssets bool `toml:"watch_assets"`
	/** @brief Cross-fade duration in seconds used when none is given. */
	DefaultTransition float32 `toml:"default_transition"`
	/** @brief Local size of the skinning compute shader. */
	SkinningWorkgroup uint32 `toml:"skinning_workgroup"`
	/** @brief Maximum number of point lights rendered into cube shadow maps. */
	MaxPointLights uint32 `toml:"max_point_lights"`
}

func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Name:              "Anima",
		FramesInFlight:    2,
		MaxVariants:       1024,
		JointDirtyFrames:  2,
		JobWorkers:        2,
		JobQueueSize:      64,
		MainQueueSize:     256,
		LogLevel:          "debug",
		AssetsDir:         "assets",
		WatchAssets:       false,
		DefaultTransition: 0.2,
		SkinningWorkgroup: 64,
		MaxPointLights:    4,
	}
}

// LoadEngineConfig reads a TOML file on top of the defaults. Keys not present keep their default.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseEngineConfig(data)
}

func ParseEngineConfig(data []byte) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EngineConfig) Validate() error {
	switch {
	case c.FramesInFlight == 0:
		return fmt.Errorf("%w: frames_in_flight must be > 0", ErrInvalidConfig)
	case c.MaxVariants == 0:
		return fmt.Errorf("%w: max_variants must be > 0", ErrInvalidConfig)
	case c.JointDirtyFrames == 0:
		return fmt.Errorf("%w: joint_dirty_frames must be > 0", ErrInvalidConfig)
	case c.JobWorkers <= 0:
		return fmt.Errorf("%w: job_workers must be > 0", ErrInvalidConfig)
	case c.JobQueueSize < 0:
		return fmt.Errorf("%w: job_queue_size must be >= 0", ErrInvalidConfig)
	case c.MainQueueSize <= 0:
		return fmt.Errorf("%w: main_queue_size must be > 0", ErrInvalidConfig)
	case c.SkinningWorkgroup == 0:
		return fmt.Errorf("%w: skinning_workgroup must be > 0", ErrInvalidConfig)
	case c.DefaultTransition < 0:
		return fmt.Errorf("%w: default_transition must be >= 0", ErrInvalidConfig)
	}
	return nil
}
