package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ngbi/ijbatch/internal/joblist"
	"github.com/ngbi/ijbatch/internal/validation"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Paths     PathsConfig
	Scheduler SchedulerConfig
	Exec      ExecConfig
	Omero     OmeroConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Workspace WorkspaceConfig
	R2        R2Config
}

type ServerConfig struct {
	Port string `validate:"required"`
	Env  string
}

type LogConfig struct {
	Level string `validate:"omitempty,oneof=debug info warn warning error"`
	File  string
}

// PathsConfig locates every external program and resource. Nothing is
// hard-coded outside the defaults below.
type PathsConfig struct {
	ScratchRoot         string `validate:"required"`
	ToolPath            string `validate:"required"`
	DisplayWrapper      string `validate:"required"`
	MacroDir            string `validate:"required"`
	DriverMacro         string `validate:"required"`
	StackMacro          string `validate:"required"`
	DescriptorGenerator string `validate:"required"`
	SubmitCommand       string `validate:"required"`
}

type SchedulerConfig struct {
	System        string `validate:"required"`
	WallTime      string `validate:"walltime"`
	PrivateMemory string `validate:"memsize"`
	Heap          string `validate:"required"`
	SlotsPerNode  int    `validate:"min=1"`
	FrameCost     int    `validate:"min=1"`
	KeepAlive     time.Duration
}

type ExecConfig struct {
	Timeout time.Duration
}

type OmeroConfig struct {
	BaseURL     string `validate:"omitempty,url"`
	SessionKey  string
	SessionUUID string
	Timeout     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type WorkspaceConfig struct {
	Retention     time.Duration
	CleanInterval time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// DefaultResourceDir holds the bundled wrapper, generator and macros.
const DefaultResourceDir = "/opt/ijbatch/resources"

// Load reads config.yaml (or the file at path, when non-empty), the
// environment, and the defaults, in viper's usual precedence.
func Load(path string) (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("OMERO_SESSION_KEY")
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("IJB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "IJB_SERVER_PORT", "SERVER_PORT")
	_ = v.BindEnv("log.level", "IJB_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("paths.scratch_root", "IJB_SCRATCH_ROOT", "SCRATCH")
	_ = v.BindEnv("paths.tool_path", "IJB_TOOL_PATH")
	_ = v.BindEnv("paths.macro_dir", "IJB_MACRO_DIR")
	_ = v.BindEnv("paths.descriptor_generator", "IJB_DESCRIPTOR_GENERATOR")
	_ = v.BindEnv("paths.submit_command", "IJB_SUBMIT_COMMAND")
	_ = v.BindEnv("scheduler.system", "IJB_SYSTEM")
	_ = v.BindEnv("omero.base_url", "OMERO_BASE_URL")
	_ = v.BindEnv("omero.session_key", "OMERO_SESSION_KEY")
	_ = v.BindEnv("omero.session_uuid", "OMERO_SESSION_UUID")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	res := DefaultResourceDir
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("paths.scratch_root", os.TempDir())
	v.SetDefault("paths.tool_path", filepath.Join(res, "ImageJ", "ImageJ-linux64"))
	v.SetDefault("paths.display_wrapper", filepath.Join(res, "scripts", "xvfb-run"))
	v.SetDefault("paths.macro_dir", filepath.Join(res, "macros"))
	v.SetDefault("paths.driver_macro", filepath.Join(res, "macros", "weka_tfmq.ijm"))
	v.SetDefault("paths.stack_macro", filepath.Join(res, "macros", "stack_out.ijm"))
	v.SetDefault("paths.descriptor_generator", filepath.Join(res, "scripts", "pbsgen_tfmq.sh"))
	v.SetDefault("paths.submit_command", "qsub")
	v.SetDefault("scheduler.system", "carver")
	v.SetDefault("scheduler.wall_time", "0:30:00")
	v.SetDefault("scheduler.private_memory", "4GB")
	v.SetDefault("scheduler.heap", "2g")
	v.SetDefault("scheduler.slots_per_node", 48)
	v.SetDefault("scheduler.frame_cost", 215)
	v.SetDefault("scheduler.keep_alive", 72*time.Hour)
	v.SetDefault("exec.timeout", 2*time.Minute)
	v.SetDefault("omero.timeout", 60*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("workspace.retention", 7*24*time.Hour)
	v.SetDefault("workspace.clean_interval", time.Hour)

	if err := v.ReadInConfig(); err != nil {
		// An explicit file must exist; the search path is optional.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("server.port"),
			Env:  v.GetString("server.env"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Paths: PathsConfig{
			ScratchRoot:         v.GetString("paths.scratch_root"),
			ToolPath:            v.GetString("paths.tool_path"),
			DisplayWrapper:      v.GetString("paths.display_wrapper"),
			MacroDir:            v.GetString("paths.macro_dir"),
			DriverMacro:         v.GetString("paths.driver_macro"),
			StackMacro:          v.GetString("paths.stack_macro"),
			DescriptorGenerator: v.GetString("paths.descriptor_generator"),
			SubmitCommand:       v.GetString("paths.submit_command"),
		},
		Scheduler: SchedulerConfig{
			System:        v.GetString("scheduler.system"),
			WallTime:      v.GetString("scheduler.wall_time"),
			PrivateMemory: v.GetString("scheduler.private_memory"),
			Heap:          v.GetString("scheduler.heap"),
			SlotsPerNode:  v.GetInt("scheduler.slots_per_node"),
			FrameCost:     v.GetInt("scheduler.frame_cost"),
			KeepAlive:     v.GetDuration("scheduler.keep_alive"),
		},
		Exec: ExecConfig{
			Timeout: v.GetDuration("exec.timeout"),
		},
		Omero: OmeroConfig{
			BaseURL:     v.GetString("omero.base_url"),
			SessionKey:  v.GetString("omero.session_key"),
			SessionUUID: v.GetString("omero.session_uuid"),
			Timeout:     v.GetDuration("omero.timeout"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Workspace: WorkspaceConfig{
			Retention:     v.GetDuration("workspace.retention"),
			CleanInterval: v.GetDuration("workspace.clean_interval"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the invariants the job-list format
// depends on.
func (c *Config) Validate() error {
	if err := validation.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for name, p := range map[string]string{
		"paths.scratch_root": c.Paths.ScratchRoot,
		"paths.macro_dir":    c.Paths.MacroDir,
	} {
		if err := joblist.CheckPath(p); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.Exec.Timeout <= 0 {
		return fmt.Errorf("config: exec.timeout must be positive, got %s", c.Exec.Timeout)
	}
	if c.Scheduler.KeepAlive <= 0 {
		return fmt.Errorf("config: scheduler.keep_alive must be positive, got %s", c.Scheduler.KeepAlive)
	}
	if c.Workspace.Retention < 0 {
		return fmt.Errorf("config: workspace.retention must not be negative")
	}
	return nil
}

// R2Enabled reports whether artifact archiving is configured.
func (c *Config) R2Enabled() bool {
	return c.R2.AccessKeyID != "" && c.R2.SecretAccessKey != "" && c.R2.BucketName != ""
}
