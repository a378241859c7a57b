package miphkb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudkucooland/HomeKitBridges/MiPurifierHKBridge/miio"
)

// ---------------------------------------------------------------------------
// stubDevice
// ---------------------------------------------------------------------------

type stubDevice struct {
	mock.Mock

	hmu      sync.Mutex
	handlers map[string]func(interface{})
}

func (d *stubDevice) Model() string { return d.Called().String(0) }
func (d *stubDevice) Matches(tags ...string) bool {
	return d.Called(tags).Bool(0)
}
func (d *stubDevice) Power(ctx context.Context) (bool, error) {
	ret := d.Called(ctx)
	return ret.Bool(0), ret.Error(1)
}
func (d *stubDevice) SetPower(ctx context.Context, on bool) error {
	return d.Called(ctx, on).Error(0)
}
func (d *stubDevice) SetMode(ctx context.Context, mode string) error {
	return d.Called(ctx, mode).Error(0)
}
func (d *stubDevice) Temperature(ctx context.Context) (miio.Temperature, error) {
	ret := d.Called(ctx)
	return ret.Get(0).(miio.Temperature), ret.Error(1)
}
func (d *stubDevice) RelativeHumidity(ctx context.Context) (float64, error) {
	ret := d.Called(ctx)
	return ret.Get(0).(float64), ret.Error(1)
}
func (d *stubDevice) FavoriteLevel(ctx context.Context) (int, error) {
	ret := d.Called(ctx)
	return ret.Int(0), ret.Error(1)
}
func (d *stubDevice) SetFavoriteLevel(ctx context.Context, level int) error {
	return d.Called(ctx, level).Error(0)
}
func (d *stubDevice) LED(ctx context.Context) (bool, error) {
	ret := d.Called(ctx)
	return ret.Bool(0), ret.Error(1)
}
func (d *stubDevice) SetLED(ctx context.Context, on bool) error {
	return d.Called(ctx, on).Error(0)
}
func (d *stubDevice) Buzzer(ctx context.Context) (bool, error) {
	ret := d.Called(ctx)
	return ret.Bool(0), ret.Error(1)
}
func (d *stubDevice) SetBuzzer(ctx context.Context, on bool) error {
	return d.Called(ctx, on).Error(0)
}
func (d *stubDevice) FilterLifeRemaining(ctx context.Context) (float64, error) {
	ret := d.Called(ctx)
	return ret.Get(0).(float64), ret.Error(1)
}
func (d *stubDevice) Call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	ret := d.Called(ctx, method, params)
	var res []interface{}
	if ret.Get(0) != nil {
		res = ret.Get(0).([]interface{})
	}
	return res, ret.Error(1)
}
func (d *stubDevice) Subscribe(topic string, fn func(interface{})) {
	d.Called(topic)
	d.hmu.Lock()
	defer d.hmu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[string]func(interface{}))
	}
	d.handlers[topic] = fn
}

func (d *stubDevice) Start() { d.Called() }

// push delivers a value to the handler registered for topic
func (d *stubDevice) push(t *testing.T, topic string, v interface{}) {
	t.Helper()
	d.hmu.Lock()
	fn, ok := d.handlers[topic]
	d.hmu.Unlock()
	require.True(t, ok, "no subscriber for %s", topic)
	fn(v)
}

// closingDevice is a stubDevice that also owns a connection
type closingDevice struct{ *stubDevice }

func (d closingDevice) Close() error { return d.Called().Error(0) }

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func testConfig() Config {
	return Config{IP: "192.168.1.40", Token: "00112233445566778899aabbccddeeff"}
}

// instantAfter records every wait and fires at once
type instantAfter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (a *instantAfter) after(d time.Duration) <-chan time.Time {
	a.mu.Lock()
	a.waits = append(a.waits, d)
	a.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func neverAfter(time.Duration) <-chan time.Time { return nil }

func noConnect(t *testing.T) Connector {
	return ConnectorFunc(func(context.Context, string, string) (Device, error) {
		t.Fatal("unexpected connect")
		return nil, nil
	})
}

// boundPurifier builds a purifier and binds d directly, with the mirrored mode preset
func boundPurifier(t *testing.T, conf Config, d Device, mode string) *Purifier {
	t.Helper()
	p, err := New(conf, noConnect(t))
	require.NoError(t, err)

	p.mu.Lock()
	p.device = d
	p.mirror.mode = mode
	p.mu.Unlock()
	return p
}
