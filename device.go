package miphkb

import (
	"context"

	"github.com/cloudkucooland/HomeKitBridges/MiPurifierHKBridge/miio"
)

// Device is the part of the vendor client the bridge uses; *miio.Device satisfies it
type Device interface {
	Model() string
	Matches(tags ...string) bool

	Power(ctx context.Context) (bool, error)
	SetPower(ctx context.Context, on bool) error
	SetMode(ctx context.Context, mode string) error
	Temperature(ctx context.Context) (miio.Temperature, error)
	RelativeHumidity(ctx context.Context) (float64, error)
	FavoriteLevel(ctx context.Context) (int, error)
	SetFavoriteLevel(ctx context.Context, level int) error
	LED(ctx context.Context) (bool, error)
	SetLED(ctx context.Context, on bool) error
	Buzzer(ctx context.Context) (bool, error)
	SetBuzzer(ctx context.Context, on bool) error
	FilterLifeRemaining(ctx context.Context) (float64, error)

	// Call is the raw protocol escape hatch, used for the child lock
	Call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error)

	// Subscribe registers fn for a push event topic (miio.Event*)
	Subscribe(topic string, fn func(value interface{}))
	// Start begins delivering push events to the subscribers
	Start()
}

// Connector locates and binds the device at ip
type Connector interface {
	Connect(ctx context.Context, ip, token string) (Device, error)
}

// ConnectorFunc adapts a function to a Connector
type ConnectorFunc func(ctx context.Context, ip, token string) (Device, error)

func (f ConnectorFunc) Connect(ctx context.Context, ip, token string) (Device, error) {
	return f(ctx, ip, token)
}
