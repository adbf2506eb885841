package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/joho/godotenv"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
)

// EnvConfigPath names the config file when no path is given.
const EnvConfigPath = "BLURCHAT_CONFIG"

type Config struct {
	Session   Session   `yaml:"session"`
	Store     Store     `yaml:"store"`
	Transport Transport `yaml:"transport"`
	Directory Directory `yaml:"directory"`
	Timing    Timing    `yaml:"timing"`
	Observer  Observer  `yaml:"observer"`
	Server    Server    `yaml:"server"`

	// ---
	Identity string `yaml:"-"`
}

type Session struct {
	PrivateKey string `yaml:"privatekey"`
	Handle     string `yaml:"handle"`
	Label      string `yaml:"label"`
}

type Store struct {
	Driver        string `yaml:"driver"` // pebble, redis, memcached, memory
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	SealSecret    string `yaml:"sealSecret"`
}

type Transport struct {
	Driver          string   `yaml:"driver"` // nats, redis, loopback
	NatsURL         string   `yaml:"natsURL"`
	NatsCredentials string   `yaml:"natsCredentials"`
	ReconnectWait   Duration `yaml:"reconnectWait"`
	MaxReconnects   int      `yaml:"maxReconnects"`
	RedisAddr       string   `yaml:"redisAddr"`
	RedisPassword   string   `yaml:"redisPassword"`
	RedisDB         int      `yaml:"redisDB"`
}

type Directory struct {
	Endpoint string `yaml:"endpoint"`
}

type Timing struct {
	RampDuration     Duration `yaml:"rampDuration"`
	RevealDuration   Duration `yaml:"revealDuration"`
	BlurDuration     Duration `yaml:"blurDuration"`
	TypingInactivity Duration `yaml:"typingInactivity"`
	TypingStaleness  Duration `yaml:"typingStaleness"`
	ReadReceiptCap   int      `yaml:"readReceiptCap"`
	RefreshInterval  Duration `yaml:"refreshInterval"`
	RefreshTimeout   Duration `yaml:"refreshTimeout"`
}

type Observer struct {
	Listen       string   `yaml:"listen"`
	PollInterval Duration `yaml:"pollInterval"`
}

type Server struct {
	Listen        string  `yaml:"listen"`
	FQDN          string  `yaml:"fqdn"`
	PostgresDsn   string  `yaml:"postgresDsn"`
	PublishRate   float64 `yaml:"publishRate"`
	PublishBurst  int     `yaml:"publishBurst"`
	EnableTrace   bool    `yaml:"enableTrace"`
	TraceEndpoint string  `yaml:"traceEndpoint"`
}

// Duration accepts Go duration strings such as "1.5s" or "30m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns a config that runs everything in-process.
func Default() Config {
	t := domain.DefaultTiming()
	return Config{
		Store: Store{
			Driver:    "memory",
			Namespace: "blurchat",
		},
		Transport: Transport{
			Driver:        "loopback",
			ReconnectWait: Duration(2 * time.Second),
			MaxReconnects: -1,
		},
		Timing: Timing{
			RampDuration:     Duration(t.RampDuration),
			RevealDuration:   Duration(t.RevealDuration),
			BlurDuration:     Duration(t.BlurDuration),
			TypingInactivity: Duration(t.TypingInactivity),
			TypingStaleness:  Duration(t.TypingStaleness),
			ReadReceiptCap:   t.ReadReceiptCap,
			RefreshInterval:  Duration(t.RefreshInterval),
			RefreshTimeout:   Duration(t.RefreshTimeout),
		},
		Observer: Observer{
			Listen:       ":8080",
			PollInterval: Duration(t.ObserverPollInterval),
		},
		Server: Server{
			Listen:       ":8000",
			PublishRate:  1,
			PublishBurst: 5,
		},
	}
}

// Load reads .env files, then decodes the yaml at path over Default.
// An empty path falls back to $BLURCHAT_CONFIG.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	config := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, err
		}
		defer file.Close()

		err = yaml.NewDecoder(file).Decode(&config)
		if err != nil {
			return Config{}, err
		}
	}

	if config.Session.PrivateKey != "" {
		identity, err := blurchat.PrivKeyToAddr(config.Session.PrivateKey, blurchat.IdentityPrefix)
		if err != nil {
			return Config{}, err
		}
		config.Identity = identity
	}
	if config.Session.Handle != "" && !blurchat.IsHandle(config.Session.Handle) {
		return Config{}, fmt.Errorf("invalid session handle %q", config.Session.Handle)
	}

	return config, nil
}

// DomainTiming converts the timing section.
func (c Config) DomainTiming() domain.Timing {
	t := domain.DefaultTiming()
	t.RampDuration = c.Timing.RampDuration.Std()
	t.RevealDuration = c.Timing.RevealDuration.Std()
	t.BlurDuration = c.Timing.BlurDuration.Std()
	t.TypingInactivity = c.Timing.TypingInactivity.Std()
	t.TypingStaleness = c.Timing.TypingStaleness.Std()
	t.ReadReceiptCap = c.Timing.ReadReceiptCap
	t.RefreshInterval = c.Timing.RefreshInterval.Std()
	t.RefreshTimeout = c.Timing.RefreshTimeout.Std()
	t.ObserverPollInterval = c.Observer.PollInterval.Std()
	return t
}
