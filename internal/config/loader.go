package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/trackside/pkg/ledger"
	"github.com/3leaps/trackside/pkg/logarchive"
)

const (
	// AppName names the config file, data directory, and env prefix.
	AppName   = "trackside"
	EnvPrefix = "TRACKSIDE"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile pins the config file Load reads. Empty restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// GetConfig returns the most recently loaded configuration, nil before the
// first Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// EnvSpec maps a short environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

// getEnvSpecs lists the short-form variables. Every other key is also
// reachable as TRACKSIDE_<SECTION>_<KEY>.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_HOST", Path: "server.host"},
		{Name: EnvPrefix + "_PORT", Path: "server.port"},
		{Name: EnvPrefix + "_READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: EnvPrefix + "_WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: EnvPrefix + "_IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: EnvPrefix + "_SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: EnvPrefix + "_METRICS_ENABLED", Path: "metrics.enabled"},
		{Name: EnvPrefix + "_METRICS_PORT", Path: "metrics.port"},
		{Name: EnvPrefix + "_BUCKET", Path: "bucket.name"},
		{Name: EnvPrefix + "_STORE_PATH", Path: "store.path"},
		{Name: EnvPrefix + "_STORE_URL", Path: "store.url"},
		{Name: EnvPrefix + "_STORE_AUTH_TOKEN", Path: "store.auth_token"},
		{Name: EnvPrefix + "_REDIS_ADDR", Path: "queue.redis_addr"},
		{Name: EnvPrefix + "_LEDGER_ROUNDING", Path: "ledger.rounding"},
	}
}

// getUserConfigPaths lists the directories searched for trackside.yaml.
func getUserConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	return paths
}

// DataDir is the default home for the item store and run journal.
func DataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

func setDefaults(v *viper.Viper) {
	dataDir := DataDir()
	groups := logarchive.DefaultLogGroups()

	v.SetDefault("logging.level", "info")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("aws.imds_region", true)

	v.SetDefault("store.path", filepath.Join(dataDir, "trackside.db"))
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("bucket.name", "")
	v.SetDefault("bucket.endpoint", "")
	v.SetDefault("bucket.force_path_style", false)
	v.SetDefault("bucket.local_dir", "")

	v.SetDefault("archive.log_groups.training", groups.Training)
	v.SetDefault("archive.log_groups.training_simulation", groups.TrainingSimulation)
	v.SetDefault("archive.log_groups.evaluation_simulation", groups.EvaluationSimulation)
	v.SetDefault("archive.stream_glob", "")
	v.SetDefault("archive.requests_per_second", 5.0)
	v.SetDefault("archive.max_pages", 0)

	v.SetDefault("ledger.rounding", string(ledger.RoundCeil))

	v.SetDefault("queue.redis_addr", "127.0.0.1:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "finalize")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.max_retry", 0)

	v.SetDefault("journal.dir", filepath.Join(dataDir, "runs"))
}

// Load builds a Config and makes it the one GetConfig returns. Overrides
// are nested maps keyed like the YAML file and win over every other source.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	file := configFile
	configMu.RUnlock()

	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name, envName(spec.Path)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for _, kv := range flatten("", o) {
			v.Set(kv.key, kv.value)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// envName is the long-form variable for a config path.
func envName(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToRoundingHook(),
	)
}

func stringToRoundingHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(ledger.Rounding("")) {
			return data, nil
		}
		return ledger.ParseRounding(reflect.ValueOf(data).String())
	}
}

type keyValue struct {
	key   string
	value any
}

func flatten(prefix string, m map[string]any) []keyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []keyValue
	for _, k := range keys {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			out = append(out, flatten(full, nested)...)
			continue
		}
		out = append(out, keyValue{key: full, value: m[k]})
	}
	return out
}
