package miphkb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brutella/hap/characteristic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloudkucooland/HomeKitBridges/MiPurifierHKBridge/miio"
)

var errUnreachable = errors.New("no route to host")

// flakyConnector fails the first n attempts, then hands out d
type flakyConnector struct {
	mu       sync.Mutex
	failures int
	calls    int
	d        Device
}

func (c *flakyConnector) Connect(_ context.Context, ip, token string) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.calls <= c.failures {
		return nil, errUnreachable
	}
	return c.d, nil
}

func purifierDevice() *stubDevice {
	d := &stubDevice{}
	d.On("Matches", []string{deviceType}).Return(true)
	d.On("Model").Return("zhimi.airpurifier.m1")
	d.On("Subscribe", miio.EventModeChanged)
	d.On("Subscribe", miio.EventPowerChanged)
	d.On("Start")
	return d
}

func TestDiscoverRetriesUntilBound(t *testing.T) {
	d := purifierDevice()
	conn := &flakyConnector{failures: 3, d: d}
	clock := &instantAfter{}

	p, err := New(testConfig(), conn)
	require.NoError(t, err)
	p.after = clock.after

	require.NoError(t, p.Discover(context.Background()))

	assert.Equal(t, 4, conn.calls)
	assert.Equal(t, 4, p.Attempts())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second}, clock.waits)
	assert.True(t, p.Bound())

	h, err := p.handle()
	require.NoError(t, err)
	assert.Same(t, d, h)
	d.AssertExpectations(t)
}

func TestDiscoverUsesRetryInterval(t *testing.T) {
	conn := &flakyConnector{failures: 1, d: purifierDevice()}
	clock := &instantAfter{}

	p, err := New(testConfig(), conn, WithRetryInterval(time.Second))
	require.NoError(t, err)
	p.after = clock.after

	require.NoError(t, p.Discover(context.Background()))
	assert.Equal(t, []time.Duration{time.Second}, clock.waits)
}

// known gap: a device of the wrong type is never retried
func TestDiscoverWrongTypeIsADeadEnd(t *testing.T) {
	stub := &stubDevice{}
	stub.On("Matches", []string{deviceType}).Return(false)
	stub.On("Model").Return("zhimi.humidifier.v1")
	stub.On("Close").Return(nil).Once()
	conn := &flakyConnector{d: closingDevice{stub}}
	clock := &instantAfter{}

	p, err := New(testConfig(), conn)
	require.NoError(t, err)
	p.after = clock.after

	assert.ErrorIs(t, p.Discover(context.Background()), ErrWrongDeviceType)
	assert.Equal(t, 1, conn.calls)
	assert.Empty(t, clock.waits)
	assert.False(t, p.Bound())
	stub.AssertExpectations(t)

	_, err = p.GetActive(context.Background())
	assert.ErrorIs(t, err, ErrNotDiscovered)
}

// known gap: once bound, device failures never send the adapter back to discovery
func TestNoRediscoveryAfterCommandFailure(t *testing.T) {
	d := purifierDevice()
	d.On("Power", mock.Anything).Return(false, errUnreachable)
	conn := &flakyConnector{d: d}

	p, err := New(testConfig(), conn)
	require.NoError(t, err)
	p.after = neverAfter
	require.NoError(t, p.Discover(context.Background()))

	for i := 0; i < 3; i++ {
		_, err := p.GetActive(context.Background())
		assert.ErrorIs(t, err, errUnreachable)
	}
	assert.Equal(t, 1, conn.calls)
	assert.True(t, p.Bound())
}

func TestDiscoverStopsWithContext(t *testing.T) {
	conn := &flakyConnector{failures: 1000}
	p, err := New(testConfig(), conn)
	require.NoError(t, err)
	p.after = neverAfter

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Discover(ctx) }()

	assert.Eventually(t, func() bool { return p.Attempts() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("discovery ignored cancellation")
	}
	assert.False(t, p.Bound())
}

func TestNudgeWakesDiscovery(t *testing.T) {
	conn := &flakyConnector{failures: 1, d: purifierDevice()}
	p, err := New(testConfig(), conn)
	require.NoError(t, err)
	p.after = neverAfter

	// never blocks, even with nobody waiting
	p.Nudge()
	p.Nudge()

	done := make(chan error)
	go func() { done <- p.Discover(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("nudge did not wake discovery")
	}
	assert.Equal(t, 2, p.Attempts())
	assert.True(t, p.Bound())
}

func TestBindSubscribesEnabledFeatures(t *testing.T) {
	conf := testConfig()
	conf.ShowAirQuality = true
	conf.ShowTemperature = true
	conf.ShowHumidity = true

	d := purifierDevice()
	d.On("Subscribe", miio.EventPM25Changed).Once()
	d.On("Subscribe", miio.EventTemperatureChanged).Once()
	d.On("Subscribe", miio.EventRelativeHumidityChanged).Once()
	d.On("Temperature", mock.Anything).Return(miio.Temperature{Celsius: 21.5}, nil).Once()
	d.On("RelativeHumidity", mock.Anything).Return(44.0, nil).Once()

	p, err := New(conf, &flakyConnector{d: d})
	require.NoError(t, err)
	require.NoError(t, p.Discover(context.Background()))
	d.AssertExpectations(t)

	// one-shot reads land in the mirror and in HomeKit
	temp, err := p.GetTemperature(context.Background())
	require.NoError(t, err)
	require.NotNil(t, temp)
	assert.Equal(t, 21.5, *temp)
	assert.Equal(t, 21.5, p.TemperatureSensor.CurrentTemperature.Value())

	hum, err := p.GetHumidity(context.Background())
	require.NoError(t, err)
	require.NotNil(t, hum)
	assert.Equal(t, 44.0, *hum)

	// pushed values replace them
	d.push(t, miio.EventTemperatureChanged, miio.Temperature{Celsius: 23})
	d.push(t, miio.EventRelativeHumidityChanged, 51)
	d.push(t, miio.EventPM25Changed, 80)

	temp, _ = p.GetTemperature(context.Background())
	assert.Equal(t, 23.0, *temp)
	hum, _ = p.GetHumidity(context.Background())
	assert.Equal(t, 51.0, *hum)

	q, err := p.GetAirQuality(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AirQualityPoor, q)
	assert.Equal(t, AirQualityPoor, p.AirQualitySensor.AirQuality.Value())
	assert.Equal(t, 80.0, p.AirQualitySensor.PM2_5Density.Value())
}

func TestBindSkipsDisabledFeatures(t *testing.T) {
	d := purifierDevice()
	p, err := New(testConfig(), &flakyConnector{d: d})
	require.NoError(t, err)
	require.NoError(t, p.Discover(context.Background()))

	d.AssertNumberOfCalls(t, "Subscribe", 2)
	d.AssertNotCalled(t, "Temperature", mock.Anything)
	d.AssertNotCalled(t, "RelativeHumidity", mock.Anything)
}

func TestInitialReadFailureStillBinds(t *testing.T) {
	conf := testConfig()
	conf.ShowTemperature = true

	d := purifierDevice()
	d.On("Subscribe", miio.EventTemperatureChanged)
	d.On("Temperature", mock.Anything).Return(miio.Temperature{}, errUnreachable)

	p, err := New(conf, &flakyConnector{d: d})
	require.NoError(t, err)
	require.NoError(t, p.Discover(context.Background()))
	assert.True(t, p.Bound())

	temp, err := p.GetTemperature(context.Background())
	require.NoError(t, err)
	assert.Nil(t, temp)
}

func TestModeChangedEvent(t *testing.T) {
	d := purifierDevice()
	p, err := New(testConfig(), &flakyConnector{d: d})
	require.NoError(t, err)
	require.NoError(t, p.Discover(context.Background()))

	d.push(t, miio.EventModeChanged, ModeFavorite)
	assert.Equal(t, ModeFavorite, p.mode())
	assert.Equal(t, TargetStateManual, p.AirPurifier.TargetAirPurifierState.Value())

	p.AirPurifier.CurrentAirPurifierState.SetValue(CurrentStatePurifyingAir)
	d.push(t, miio.EventModeChanged, ModeIdle)
	assert.Equal(t, TargetStateAuto, p.AirPurifier.TargetAirPurifierState.Value())
	assert.Equal(t, CurrentStateInactive, p.AirPurifier.CurrentAirPurifierState.Value())
}

func TestBindStartsPollingAfterSubscribing(t *testing.T) {
	conf := testConfig()
	conf.ShowAirQuality = true

	d := &stubDevice{}
	d.On("Matches", []string{deviceType}).Return(true)
	d.On("Model").Return("zhimi.airpurifier.m1")
	mock.InOrder(
		d.On("Subscribe", miio.EventModeChanged).Once(),
		d.On("Subscribe", miio.EventPowerChanged).Once(),
		d.On("Subscribe", miio.EventPM25Changed).Once(),
		d.On("Start").Once(),
	)

	p, err := New(conf, &flakyConnector{d: d})
	require.NoError(t, err)
	require.NoError(t, p.Discover(context.Background()))
	d.AssertExpectations(t)
}

func TestPowerChangedEvent(t *testing.T) {
	d := purifierDevice()
	p, err := New(testConfig(), &flakyConnector{d: d})
	require.NoError(t, err)
	require.NoError(t, p.Discover(context.Background()))

	d.push(t, miio.EventModeChanged, ModeAuto)
	d.push(t, miio.EventPowerChanged, true)
	assert.Equal(t, characteristic.ActiveActive, p.AirPurifier.Active.Value())
	assert.Equal(t, CurrentStatePurifyingAir, p.AirPurifier.CurrentAirPurifierState.Value())

	d.push(t, miio.EventPowerChanged, false)
	assert.Equal(t, characteristic.ActiveInactive, p.AirPurifier.Active.Value())
	assert.Equal(t, CurrentStateInactive, p.AirPurifier.CurrentAirPurifierState.Value())

	// power on while idle stays inactive
	d.push(t, miio.EventModeChanged, ModeIdle)
	d.push(t, miio.EventPowerChanged, true)
	assert.Equal(t, characteristic.ActiveInactive, p.AirPurifier.Active.Value())
}
