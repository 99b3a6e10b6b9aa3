package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	classrt "github.com/orizon-lang/classrt/internal/runtime"
)

// Version information for all CLI tools
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-18"
	CommitSHA = "unknown" // Will be set during build
)

// EnvPrefix prefixes environment variables that override configuration,
// e.g. CLASSRT_LOG_LEVEL or CLASSRT_RUNTIME_MEMORY_LIMIT.
const EnvPrefix = "CLASSRT"

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	CommitSHA string `json:"commit_sha"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

// GetVersionInfo returns structured version information
func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// PrintVersion writes version information in a consistent format
func PrintVersion(w io.Writer, toolName string, jsonOutput bool) error {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err != nil {
			return cerr.Wrap(err, "marshal version info")
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "%s v%s\n", toolName, info.Version)
	fmt.Fprintf(w, "Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Fprintf(w, "Commit: %s\n", info.CommitSHA)
	}
	fmt.Fprintf(w, "Go Version: %s\n", info.GoVersion)
	_, err := fmt.Fprintf(w, "Platform: %s/%s\n", info.Platform, info.Arch)
	return err
}

// Config represents common configuration for CLI tools
type Config struct {
	LogLevel  string         `mapstructure:"log_level"`
	LogFormat string         `mapstructure:"log_format"` // console or json
	Runtime   classrt.Config `mapstructure:"runtime"`
}

// LoadConfig loads configuration from the file at configPath, or from
// classrt.yaml in the working directory when configPath is empty, and from
// the environment. Only the implicit file may be absent. Flags bound to v
// before the call take precedence over both.
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("runtime.memory_limit", 0)
	v.SetDefault("runtime.growth_increment", 10)
	v.SetDefault("runtime.max_depth", 0)
	v.SetDefault("runtime.metrics_addr", "")
	v.SetDefault("runtime.debug", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, cerr.WithHint(cerr.Wrapf(err, "read config %s", configPath),
				"check the --config path or omit it to use classrt.yaml from the working directory")
		}
	} else {
		v.SetConfigName("classrt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !cerr.As(err, &notFound) {
				return nil, cerr.Wrap(err, "read config classrt.yaml")
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, cerr.Wrap(err, "decode config")
	}
	return &config, nil
}

// NewLogger builds the zap logger used by CLI tools. Logs go to stderr so
// command output on stdout stays machine readable.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, cerr.WithHint(cerr.Wrap(err, "parse log level"), "use debug, info, warn or error")
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	switch format {
	case "", "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case "json":
		cfg.Encoding = "json"
	default:
		return nil, cerr.Newf("unknown log format %q", format)
	}

	return cfg.Build()
}

// ExitWithError reports err and exits with code 1
func ExitWithError(logger *zap.Logger, err error) {
	if logger != nil {
		logger.Error("command failed", zap.Error(err))
		_ = logger.Sync()
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if hints := cerr.FlattenHints(err); hints != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hints)
	}
	os.Exit(1)
}
