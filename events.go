package miphkb

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/log"
	"github.com/xiam/to"

	"github.com/cloudkucooland/HomeKitBridges/MiPurifierHKBridge/miio"
)

func (p *Purifier) updateMode(v interface{}) {
	mode := to.String(v)
	p.setMode(mode)
	log.Debug.Printf("mode changed: %s", mode)

	target := TargetStateFor(mode)
	if p.AirPurifier.TargetAirPurifierState.Value() != target {
		p.AirPurifier.TargetAirPurifierState.SetValue(target)
	}

	if mode == ModeIdle {
		p.AirPurifier.Active.SetValue(characteristic.ActiveInactive)
		p.AirPurifier.CurrentAirPurifierState.SetValue(CurrentStateInactive)
	}
}

// updatePower follows the physical power button
func (p *Purifier) updatePower(v interface{}) {
	on := to.Bool(v)
	mode := p.mode()
	log.Debug.Printf("power changed: %t", on)

	active := ActiveFor(on, mode)
	if p.AirPurifier.Active.Value() != active {
		p.AirPurifier.Active.SetValue(active)
	}
	current := CurrentStateFor(on, mode)
	if p.AirPurifier.CurrentAirPurifierState.Value() != current {
		p.AirPurifier.CurrentAirPurifierState.SetValue(current)
	}
}

func (p *Purifier) updateAirQuality(v interface{}) {
	aqi := to.Float64(v)

	p.mu.Lock()
	p.mirror.aqi = &aqi
	p.mu.Unlock()
	log.Debug.Printf("pm2.5 changed: %.0f", aqi)

	if p.AirQualitySensor == nil {
		return
	}
	p.AirQualitySensor.PM2_5Density.SetValue(aqi)
	q := p.levels.Quality(aqi)
	if p.AirQualitySensor.AirQuality.Value() != q {
		p.AirQualitySensor.AirQuality.SetValue(q)
	}
}

func (p *Purifier) updateTemperature(v interface{}) {
	var c float64
	switch t := v.(type) {
	case miio.Temperature:
		c = t.Celsius
	default:
		c = to.Float64(v)
	}

	p.mu.Lock()
	p.mirror.temperature = &c
	p.mu.Unlock()
	log.Debug.Printf("temperature changed: %.1fC", c)

	if p.TemperatureSensor != nil {
		p.TemperatureSensor.CurrentTemperature.SetValue(c)
	}
}

func (p *Purifier) updateHumidity(v interface{}) {
	h := to.Float64(v)

	p.mu.Lock()
	p.mirror.humidity = &h
	p.mu.Unlock()
	log.Debug.Printf("humidity changed: %.0f%%", h)

	if p.HumiditySensor != nil {
		p.HumiditySensor.CurrentRelativeHumidity.SetValue(h)
	}
}
