package miphkb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brutella/hap/log"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingIP    = errors.New("you must provide the current IP address of the air purifier")
	ErrMissingToken = errors.New("you must provide the API token for the air purifier")
)

// Config is read once at startup and never changed
type Config struct {
	Name  string `json:"name" yaml:"name"`
	IP    string `json:"ip" yaml:"ip"`
	Token string `json:"token" yaml:"token"`

	ShowAirQuality          bool `json:"showAirQuality" yaml:"showAirQuality"`
	ShowTemperature         bool `json:"showTemperature" yaml:"showTemperature"`
	ShowHumidity            bool `json:"showHumidity" yaml:"showHumidity"`
	EnableLED               bool `json:"enableLED" yaml:"enableLED"`
	EnableNotificationSound bool `json:"enableNotificationSound" yaml:"enableNotificationSound"`
	EnableBuzzer            bool `json:"enableBuzzer" yaml:"enableBuzzer"` // older name for EnableNotificationSound

	AirQualityScale string `json:"airQualityScale" yaml:"airQualityScale"` // "korea" or "aqi"
	Levels          Levels `json:"levels" yaml:"levels"`                   // custom table, replaces the scale

	Pin        string `json:"pin" yaml:"pin"`               // HomeKit setup pin
	ListenAddr string `json:"listenAddr" yaml:"listenAddr"` // status endpoint, empty disables
	Poll       uint16 `json:"poll" yaml:"poll"`             // seconds between device polls
}

const (
	defaultName  = "Air Purifier"
	defaultPoll  = 15
	ScaleKorea   = "korea"
	ScaleAQI     = "aqi"
	defaultScale = ScaleKorea
)

// LoadConfig reads a JSON (or YAML, by extension) config file and validates it
func LoadConfig(filename string) (*Config, error) {
	conf := Config{}

	raw, err := os.ReadFile(filename)
	if err != nil {
		log.Info.Printf("unable to open config %s: %s", filename, err.Error())
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &conf)
	default:
		err = json.Unmarshal(raw, &conf)
	}
	if err != nil {
		log.Info.Printf("unable to parse config %s: %s", filename, err.Error())
		return nil, err
	}

	conf.setDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	log.Debug.Printf("using config: %+v", conf.redacted())

	return &conf, nil
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.AirQualityScale == "" {
		c.AirQualityScale = defaultScale
	}
	if c.Poll == 0 {
		c.Poll = defaultPoll
	}
}

// Validate checks the fields that have no default
func (c Config) Validate() error {
	if c.IP == "" {
		return ErrMissingIP
	}
	if c.Token == "" {
		return ErrMissingToken
	}
	if _, err := levelsFor(c.AirQualityScale); err != nil {
		return err
	}
	for _, l := range c.Levels {
		if l.Quality < AirQualityUnknown || l.Quality > AirQualityPoor {
			return fmt.Errorf("levels: quality %d at threshold %v is outside %d-%d", l.Quality, l.Threshold, AirQualityUnknown, AirQualityPoor)
		}
	}
	return nil
}

// AirQualityLevels is the custom table if one is configured, else the named scale, highest threshold first
func (c Config) AirQualityLevels() Levels {
	if len(c.Levels) > 0 {
		return c.Levels.Sorted()
	}
	l, _ := levelsFor(c.AirQualityScale)
	return l
}

// NotificationSound reports whether either spelling of the buzzer toggle is set
func (c Config) NotificationSound() bool {
	return c.EnableNotificationSound || c.EnableBuzzer
}

func (c Config) redacted() Config {
	if len(c.Token) > 4 {
		c.Token = c.Token[:4] + strings.Repeat("*", len(c.Token)-4)
	}
	return c
}

func levelsFor(scale string) (Levels, error) {
	switch strings.ToLower(scale) {
	case "", ScaleKorea:
		return KoreaPM25Levels, nil
	case ScaleAQI:
		return AQILevels, nil
	}
	return nil, fmt.Errorf("unknown airQualityScale %q (want %q or %q)", scale, ScaleKorea, ScaleAQI)
}
