package miio

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hap/log"
	"github.com/olebedev/emitter"
	"github.com/xiam/to"
)

// push event topics, payload is the new value
const (
	EventModeChanged             = "modeChanged"
	EventPM25Changed             = "pm2.5Changed"
	EventTemperatureChanged      = "temperatureChanged"
	EventRelativeHumidityChanged = "relativeHumidityChanged"
	EventPowerChanged            = "powerChanged"
)

// DefaultPoll is how often the device is polled for push events
var DefaultPoll = 15 * time.Second

// Temperature boxes a reading so callers pick the unit
type Temperature struct {
	Celsius float64
}

func (t Temperature) Fahrenheit() float64 {
	return t.Celsius*9/5 + 32
}

// polled properties, in get_prop order
var polled = []string{"power", "mode", "aqi", "temp_dec", "humidity"}

// Device is a connected miio appliance
type Device struct {
	emitter.Emitter
	*Client

	model string
	types map[string]bool
	poll  time.Duration

	mu       sync.Mutex
	last     map[string]interface{}
	pollOnce sync.Once
	stop     chan struct{}
}

type info struct {
	Model string `json:"model"`
	FwVer string `json:"fw_ver"`
	Mac   string `json:"mac"`
}

// Connect dials the device, reads its model and returns a handle; poll <= 0 uses DefaultPoll
func Connect(ctx context.Context, ip, token string, poll time.Duration) (*Device, error) {
	c, err := Dial(ctx, ip, token)
	if err != nil {
		return nil, err
	}

	d, err := newDevice(ctx, c, poll)
	if err != nil {
		c.Close()
		return nil, err
	}
	return d, nil
}

func newDevice(ctx context.Context, c *Client, poll time.Duration) (*Device, error) {
	raw, err := c.Call(ctx, "miIO.info")
	if err != nil {
		return nil, err
	}

	var i info
	if err := json.Unmarshal(raw, &i); err != nil {
		return nil, fmt.Errorf("miio: miIO.info: %w", err)
	}

	if poll <= 0 {
		poll = DefaultPoll
	}

	d := &Device{
		Emitter: emitter.Emitter{},
		Client:  c,
		model:   i.Model,
		types:   typesFor(i.Model),
		poll:    poll,
		last:    make(map[string]interface{}),
		stop:    make(chan struct{}),
	}
	d.Use("*", emitter.Void)

	return d, nil
}

func typesFor(model string) map[string]bool {
	t := map[string]bool{"miio": true}

	switch {
	case strings.HasPrefix(model, "zhimi.airpurifier."), strings.HasPrefix(model, "zhimi.airp."):
		t["type:air-purifier"] = true
		t["type:sensor"] = true
		t["cap:power"] = true
		t["cap:mode"] = true
		t["cap:pm2.5"] = true
		t["cap:temperature"] = true
		t["cap:relative-humidity"] = true
	case strings.HasPrefix(model, "zhimi.humidifier."):
		t["type:humidifier"] = true
		t["cap:power"] = true
	}
	return t
}

// Model is the miio model string, e.g. zhimi.airpurifier.v6
func (d *Device) Model() string {
	return d.model
}

// Matches is true if the device carries every tag
func (d *Device) Matches(tags ...string) bool {
	for _, t := range tags {
		if !d.types[t] {
			return false
		}
	}
	return true
}

func (d *Device) props(ctx context.Context, names ...string) ([]interface{}, error) {
	params := make([]interface{}, len(names))
	for i, n := range names {
		params[i] = n
	}

	raw, err := d.Client.Call(ctx, "get_prop", params...)
	if err != nil {
		return nil, err
	}

	var vals []interface{}
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("miio: get_prop: %w", err)
	}
	if len(vals) != len(names) {
		return nil, fmt.Errorf("miio: get_prop: asked for %d values, got %d", len(names), len(vals))
	}
	return vals, nil
}

func (d *Device) prop(ctx context.Context, name string) (interface{}, error) {
	vals, err := d.props(ctx, name)
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}

// command runs a setter and requires the "ok" acknowledgement
func (d *Device) command(ctx context.Context, method string, params ...interface{}) error {
	raw, err := d.Client.Call(ctx, method, params...)
	if err != nil {
		return err
	}

	var res []interface{}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("miio: %s: %w", method, err)
	}
	if len(res) == 0 || to.String(res[0]) != "ok" {
		return fmt.Errorf("miio: %s: unexpected reply %s", method, string(raw))
	}
	return nil
}

// Call issues a raw request and returns the result array
func (d *Device) Call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	raw, err := d.Client.Call(ctx, method, params...)
	if err != nil {
		return nil, err
	}

	var res []interface{}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("miio: %s: %w", method, err)
	}
	return res, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (d *Device) Power(ctx context.Context) (bool, error) {
	v, err := d.prop(ctx, "power")
	if err != nil {
		return false, err
	}
	return to.String(v) == "on", nil
}

func (d *Device) SetPower(ctx context.Context, on bool) error {
	return d.command(ctx, "set_power", onOff(on))
}

func (d *Device) Mode(ctx context.Context) (string, error) {
	v, err := d.prop(ctx, "mode")
	if err != nil {
		return "", err
	}
	return to.String(v), nil
}

func (d *Device) SetMode(ctx context.Context, mode string) error {
	return d.command(ctx, "set_mode", mode)
}

// Temperature reads temp_dec, reported in tenths of a degree
func (d *Device) Temperature(ctx context.Context) (Temperature, error) {
	v, err := d.prop(ctx, "temp_dec")
	if err != nil {
		return Temperature{}, err
	}
	return Temperature{Celsius: to.Float64(v) / 10}, nil
}

func (d *Device) RelativeHumidity(ctx context.Context) (float64, error) {
	v, err := d.prop(ctx, "humidity")
	if err != nil {
		return 0, err
	}
	return to.Float64(v), nil
}

func (d *Device) PM25(ctx context.Context) (float64, error) {
	v, err := d.prop(ctx, "aqi")
	if err != nil {
		return 0, err
	}
	return to.Float64(v), nil
}

func (d *Device) FavoriteLevel(ctx context.Context) (int, error) {
	v, err := d.prop(ctx, "favorite_level")
	if err != nil {
		return 0, err
	}
	return int(to.Int64(v)), nil
}

func (d *Device) SetFavoriteLevel(ctx context.Context, level int) error {
	return d.command(ctx, "set_level_favorite", level)
}

func (d *Device) LED(ctx context.Context) (bool, error) {
	v, err := d.prop(ctx, "led")
	if err != nil {
		return false, err
	}
	return to.String(v) == "on", nil
}

func (d *Device) SetLED(ctx context.Context, on bool) error {
	return d.command(ctx, "set_led", onOff(on))
}

func (d *Device) Buzzer(ctx context.Context) (bool, error) {
	v, err := d.prop(ctx, "buzzer")
	if err != nil {
		return false, err
	}
	return to.String(v) == "on", nil
}

func (d *Device) SetBuzzer(ctx context.Context, on bool) error {
	return d.command(ctx, "set_buzzer", onOff(on))
}

// FilterLifeRemaining is the remaining filter life in percent
func (d *Device) FilterLifeRemaining(ctx context.Context) (float64, error) {
	v, err := d.prop(ctx, "filter1_life")
	if err != nil {
		return 0, err
	}
	return to.Float64(v), nil
}

// Subscribe registers fn for a push event topic; nothing is delivered until Start
func (d *Device) Subscribe(topic string, fn func(value interface{})) {
	d.On(topic, func(e *emitter.Event) {
		if len(e.Args) == 0 {
			return
		}
		fn(e.Args[0])
	})
}

// Start begins polling. The first poll reports every property, so subscribe before calling it.
func (d *Device) Start() {
	d.pollOnce.Do(func() {
		go d.poller()
	})
}

func (d *Device) poller() {
	t := time.NewTicker(d.poll)
	defer t.Stop()

	for {
		d.refresh()

		select {
		case <-d.stop:
			return
		case <-d.Client.done:
			return
		case <-t.C:
		}
	}
}

// refresh polls the device and emits an event for every changed property
func (d *Device) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	vals, err := d.props(ctx, polled...)
	if err != nil {
		log.Debug.Printf("miio: poll %s: %s", d.model, err.Error())
		return
	}

	d.mu.Lock()
	changed := make(map[string]interface{})
	for i, name := range polled {
		if vals[i] == nil {
			continue
		}
		if old, ok := d.last[name]; !ok || old != vals[i] {
			changed[name] = vals[i]
			d.last[name] = vals[i]
		}
	}
	d.mu.Unlock()

	for name, v := range changed {
		switch name {
		case "power":
			d.Emit(EventPowerChanged, to.String(v) == "on")
		case "mode":
			d.Emit(EventModeChanged, to.String(v))
		case "aqi":
			d.Emit(EventPM25Changed, to.Float64(v))
		case "temp_dec":
			d.Emit(EventTemperatureChanged, Temperature{Celsius: to.Float64(v) / 10})
		case "humidity":
			d.Emit(EventRelativeHumidityChanged, to.Float64(v))
		}
	}
}

// Close stops the poller and the client
func (d *Device) Close() error {
	d.mu.Lock()
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	d.mu.Unlock()

	return d.Client.Close()
}
