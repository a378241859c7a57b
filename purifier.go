package miphkb

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/log"
	"github.com/brutella/hap/service"
)

// Version is reported to HomeKit as the firmware revision
const Version = "0.1.0"

// DefaultRetryInterval is the wait between failed discovery attempts
const DefaultRetryInterval = 30 * time.Second

// HAP status returned when the device could not answer
const statusCommunicationFailure = -70402

var (
	ErrNotDiscovered   = errors.New("no air purifier is discovered")
	ErrWrongDeviceType = errors.New("discovered device is not an air purifier")
)

// Purifier is the HomeKit accessory for one air purifier
type Purifier struct {
	*accessory.A

	AirPurifier       *airPurifierSvc
	AirQualitySensor  *airQualitySvc  // nil unless ShowAirQuality
	TemperatureSensor *temperatureSvc // nil unless ShowTemperature
	HumiditySensor    *humiditySvc    // nil unless ShowHumidity
	LED               *onOffSvc       // nil unless EnableLED
	NotificationSound *onOffSvc       // nil unless notification sound is enabled

	conf     Config
	levels   Levels
	conn     Connector
	retry    time.Duration
	after    func(time.Duration) <-chan time.Time
	nudge    chan struct{}
	services []*service.S

	mu       sync.RWMutex
	device   Device
	mirror   mirror
	attempts int
}

// mirror caches the values pushed by the device; nil means not yet known
type mirror struct {
	mode        string
	aqi         *float64
	temperature *float64
	humidity    *float64
}

// Option tunes a Purifier at construction
type Option func(*Purifier)

// WithLevels replaces the air quality table chosen by the config
func WithLevels(l Levels) Option {
	return func(p *Purifier) {
		p.levels = l.Sorted()
	}
}

// WithRetryInterval replaces the 30 second discovery retry wait
func WithRetryInterval(d time.Duration) Option {
	return func(p *Purifier) {
		p.retry = d
	}
}

// New validates conf and builds the accessory; no network activity happens until Discover
func New(conf Config, conn Connector, opts ...Option) (*Purifier, error) {
	conf.setDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	p := Purifier{
		conf:   conf,
		levels: conf.AirQualityLevels(),
		conn:   conn,
		retry:  DefaultRetryInterval,
		after:  time.After,
		nudge:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(&p)
	}

	info := accessory.Info{
		Name:         conf.Name,
		SerialNumber: strings.ToUpper(conf.Token),
		Manufacturer: "Xiaomi",
		Model:        "Air Purifier",
		Firmware:     Version,
	}
	p.A = accessory.New(info, accessory.TypeAirPurifier)
	p.services = append(p.services, p.A.Info.S)

	p.AirPurifier = newAirPurifierSvc(conf.Name)
	p.addS(p.AirPurifier.S)

	bindInt(p.AirPurifier.Active.Int, p.GetActive, p.SetActive)
	bindInt(p.AirPurifier.CurrentAirPurifierState.Int, p.GetCurrentState, nil)
	bindInt(p.AirPurifier.TargetAirPurifierState.Int, p.GetTargetState, p.SetTargetState)
	bindInt(p.AirPurifier.LockPhysicalControls.Int, p.GetLockPhysicalControls, p.SetLockPhysicalControls)
	bindFloat(p.AirPurifier.RotationSpeed.Float, p.GetRotationSpeed, p.SetRotationSpeed)
	bindFloat(p.AirPurifier.FilterLifeLevel.Float, p.GetFilterLifeLevel, nil)
	bindInt(p.AirPurifier.FilterChangeIndication.Int, p.GetFilterChangeIndication, nil)

	if conf.ShowAirQuality {
		p.AirQualitySensor = newAirQualitySvc()
		p.addS(p.AirQualitySensor.S)
		bindInt(p.AirQualitySensor.AirQuality.Int, p.GetAirQuality, nil)
		bindOptional(p.AirQualitySensor.PM2_5Density.C, p.GetPM25)
	}

	if conf.ShowTemperature {
		p.TemperatureSensor = newTemperatureSvc()
		p.addS(p.TemperatureSensor.S)
		bindOptional(p.TemperatureSensor.CurrentTemperature.C, p.GetTemperature)
	}

	if conf.ShowHumidity {
		p.HumiditySensor = newHumiditySvc()
		p.addS(p.HumiditySensor.S)
		bindOptional(p.HumiditySensor.CurrentRelativeHumidity.C, p.GetHumidity)
	}

	if conf.EnableLED {
		p.LED = newOnOffSvc(service.TypeLightbulb, conf.Name+" LED")
		p.addS(p.LED.S)
		bindBool(p.LED.On.Bool, p.GetLED, p.SetLED)
	}

	if conf.NotificationSound() {
		p.NotificationSound = newOnOffSvc(service.TypeSwitch, conf.Name+" Notification Sound")
		p.addS(p.NotificationSound.S)
		bindBool(p.NotificationSound.On.Bool, p.GetNotificationSound, p.SetNotificationSound)
	}

	return &p, nil
}

func (p *Purifier) addS(s *service.S) {
	p.AddS(s)
	p.services = append(p.services, s)
}

// Services returns the registered services: information, purifier, then the enabled extras
func (p *Purifier) Services() []*service.S {
	return p.services
}

// Identify is a no-op; the purifier has nothing to blink
func (p *Purifier) Identify() error {
	return nil
}

// Config returns the configuration the accessory was built with
func (p *Purifier) Config() Config {
	return p.conf
}

func requestContext(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	return r.Context()
}

func bindInt(c *characteristic.Int, get func(context.Context) (int, error), set func(context.Context, int) error) {
	c.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		v, err := get(requestContext(r))
		if err != nil {
			log.Info.Printf("%s: %s", c.Type, err.Error())
			return nil, statusCommunicationFailure
		}
		return v, 0
	}

	if set == nil {
		return
	}
	c.OnSetRemoteValue(func(v int) error {
		if err := set(context.Background(), v); err != nil {
			log.Info.Printf("%s: set %v: %s", c.Type, v, err.Error())
			return err
		}
		return nil
	})
}

func bindFloat(c *characteristic.Float, get func(context.Context) (float64, error), set func(context.Context, float64) error) {
	c.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		v, err := get(requestContext(r))
		if err != nil {
			log.Info.Printf("%s: %s", c.Type, err.Error())
			return nil, statusCommunicationFailure
		}
		return v, 0
	}

	if set == nil {
		return
	}
	c.OnSetRemoteValue(func(v float64) error {
		if err := set(context.Background(), v); err != nil {
			log.Info.Printf("%s: set %v: %s", c.Type, v, err.Error())
			return err
		}
		return nil
	})
}

func bindBool(c *characteristic.Bool, get func(context.Context) (bool, error), set func(context.Context, bool) error) {
	c.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		v, err := get(requestContext(r))
		if err != nil {
			log.Info.Printf("%s: %s", c.Type, err.Error())
			return nil, statusCommunicationFailure
		}
		return v, 0
	}

	c.OnSetRemoteValue(func(v bool) error {
		if err := set(context.Background(), v); err != nil {
			log.Info.Printf("%s: set %v: %s", c.Type, v, err.Error())
			return err
		}
		return nil
	})
}

// bindOptional answers from a mirrored value; nil is passed through as "no value yet"
func bindOptional(c *characteristic.C, get func(context.Context) (*float64, error)) {
	c.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		v, err := get(requestContext(r))
		if err != nil {
			log.Info.Printf("%s: %s", c.Type, err.Error())
			return nil, statusCommunicationFailure
		}
		if v == nil {
			return nil, 0
		}
		return *v, 0
	}
}
