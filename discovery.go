package miphkb

import (
	"context"
	"io"

	"github.com/brutella/hap/log"

	"github.com/cloudkucooland/HomeKitBridges/MiPurifierHKBridge/miio"
)

const deviceType = "type:air-purifier"

// Discover connects to the configured device, retrying every RetryInterval until it succeeds.
// A device of the wrong type ends discovery for good; so does binding, nothing ever unbinds.
func (p *Purifier) Discover(ctx context.Context) error {
	for {
		p.mu.Lock()
		p.attempts++
		attempt := p.attempts
		p.mu.Unlock()

		log.Debug.Printf("discovery attempt %d: %s", attempt, p.conf.IP)
		d, err := p.conn.Connect(ctx, p.conf.IP, p.conf.Token)
		if err == nil {
			return p.bind(ctx, d)
		}

		log.Info.Printf("unable to find air purifier at %s, retrying in %s: %s", p.conf.IP, p.retry, err.Error())
		select {
		case <-p.after(p.retry):
		case <-p.nudge:
			log.Info.Printf("discovery woken early")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Purifier) bind(ctx context.Context, d Device) error {
	if !d.Matches(deviceType) {
		log.Info.Printf("device at %s is a %s, not an air purifier; giving up", p.conf.IP, d.Model())
		if c, ok := d.(io.Closer); ok {
			c.Close()
		}
		return ErrWrongDeviceType
	}

	p.mu.Lock()
	p.device = d
	p.mu.Unlock()
	log.Info.Printf("found %s at %s", d.Model(), p.conf.IP)

	d.Subscribe(miio.EventModeChanged, p.updateMode)
	d.Subscribe(miio.EventPowerChanged, p.updatePower)
	if p.conf.ShowAirQuality {
		d.Subscribe(miio.EventPM25Changed, p.updateAirQuality)
	}

	if p.conf.ShowTemperature {
		d.Subscribe(miio.EventTemperatureChanged, p.updateTemperature)
		if t, err := d.Temperature(ctx); err != nil {
			log.Info.Printf("initial temperature: %s", err.Error())
		} else {
			p.updateTemperature(t)
		}
	}

	if p.conf.ShowHumidity {
		d.Subscribe(miio.EventRelativeHumidityChanged, p.updateHumidity)
		if h, err := d.RelativeHumidity(ctx); err != nil {
			log.Info.Printf("initial humidity: %s", err.Error())
		} else {
			p.updateHumidity(h)
		}
	}

	// every handler is in place before the first poll reports the current values
	d.Start()
	return nil
}

// Nudge wakes a discovery loop that is waiting to retry; it never blocks
func (p *Purifier) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Bound reports whether a device handle is held
func (p *Purifier) Bound() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.device != nil
}

// Attempts is the number of connect attempts made so far
func (p *Purifier) Attempts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.attempts
}
