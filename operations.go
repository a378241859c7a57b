package miphkb

import (
	"context"
	"errors"

	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/log"
	"github.com/xiam/to"
	"golang.org/x/sync/errgroup"
)

// handle returns the bound device or ErrNotDiscovered
func (p *Purifier) handle() (Device, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.device == nil {
		return nil, ErrNotDiscovered
	}
	return p.device, nil
}

func (p *Purifier) mode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mirror.mode
}

func (p *Purifier) setMode(mode string) {
	p.mu.Lock()
	p.mirror.mode = mode
	p.mu.Unlock()
}

func (p *Purifier) GetActive(ctx context.Context) (int, error) {
	d, err := p.handle()
	if err != nil {
		return characteristic.ActiveInactive, err
	}

	on, err := d.Power(ctx)
	if err != nil {
		return characteristic.ActiveInactive, err
	}

	state := ActiveFor(on, p.mode())
	log.Debug.Printf("getActiveState: power %t mode %q -> %d", on, p.mode(), state)
	return state, nil
}

// SetActive switches the power, then reconciles the states derived from it
func (p *Purifier) SetActive(ctx context.Context, state int) error {
	d, err := p.handle()
	if err != nil {
		return err
	}

	log.Debug.Printf("setActiveState: %d", state)
	if err := d.SetPower(ctx, state == characteristic.ActiveActive); err != nil {
		return err
	}

	// the command went through; a failed follow-up read only leaves HomeKit stale until the next get
	if err := p.reconcile(ctx); err != nil {
		log.Info.Printf("reconcile after setActiveState: %s", err.Error())
	}
	return nil
}

// reconcile re-reads the power and pushes Active and CurrentAirPurifierState
func (p *Purifier) reconcile(ctx context.Context) error {
	d, err := p.handle()
	if err != nil {
		return err
	}

	on, err := d.Power(ctx)
	if err != nil {
		return err
	}

	mode := p.mode()
	active := ActiveFor(on, mode)
	current := CurrentStateFor(on, mode)
	log.Debug.Printf("reconcile: power %t mode %q -> active %d current %d", on, mode, active, current)

	p.AirPurifier.Active.SetValue(active)
	p.AirPurifier.CurrentAirPurifierState.SetValue(current)
	return nil
}

func (p *Purifier) GetCurrentState(ctx context.Context) (int, error) {
	d, err := p.handle()
	if err != nil {
		return CurrentStateInactive, err
	}

	on, err := d.Power(ctx)
	if err != nil {
		return CurrentStateInactive, err
	}

	state := CurrentStateFor(on, p.mode())
	log.Debug.Printf("getCurrentAirPurifierState: %d", state)
	return state, nil
}

// GetTargetState answers from the mirrored mode without device I/O
func (p *Purifier) GetTargetState(_ context.Context) (int, error) {
	if _, err := p.handle(); err != nil {
		return TargetStateAuto, err
	}

	mode := p.mode()
	state := TargetStateFor(mode)
	log.Debug.Printf("getTargetAirPurifierState: mode %q -> %d", mode, state)
	return state, nil
}

func (p *Purifier) SetTargetState(ctx context.Context, state int) error {
	d, err := p.handle()
	if err != nil {
		return err
	}

	mode := ModeForTarget(state)
	log.Debug.Printf("setTargetAirPurifierState: %s", mode)
	if err := d.SetMode(ctx, mode); err != nil {
		return err
	}
	p.setMode(mode)
	return nil
}

func (p *Purifier) GetLockPhysicalControls(ctx context.Context) (int, error) {
	d, err := p.handle()
	if err != nil {
		return LockDisabled, err
	}

	res, err := d.Call(ctx, "get_prop", "child_lock")
	if err != nil {
		return LockDisabled, err
	}
	if len(res) == 0 {
		return LockDisabled, errors.New("empty child_lock reply")
	}

	state := lockFor(to.String(res[0]))
	log.Debug.Printf("getLockPhysicalControls: %d", state)
	return state, nil
}

// SetLockPhysicalControls needs an "ok" acknowledgement; anything else becomes the error text
func (p *Purifier) SetLockPhysicalControls(ctx context.Context, state int) error {
	d, err := p.handle()
	if err != nil {
		return err
	}

	log.Debug.Printf("setLockPhysicalControls: %d", state)
	res, err := d.Call(ctx, "set_child_lock", lockArg(state))
	if err != nil {
		return err
	}

	var ack string
	if len(res) > 0 {
		ack = to.String(res[0])
	}
	if ack != "ok" {
		return errors.New(ack)
	}
	return nil
}

func (p *Purifier) GetRotationSpeed(ctx context.Context) (float64, error) {
	d, err := p.handle()
	if err != nil {
		return 0, err
	}

	level, err := d.FavoriteLevel(ctx)
	if err != nil {
		return 0, err
	}

	speed := SpeedForLevel(level)
	log.Debug.Printf("getRotationSpeed: level %d -> %.0f", level, speed)
	return speed, nil
}

// SetRotationSpeed forces favorite mode alongside the level change; the first failure is returned
func (p *Purifier) SetRotationSpeed(ctx context.Context, speed float64) error {
	d, err := p.handle()
	if err != nil {
		return err
	}

	level := LevelForSpeed(speed)
	log.Debug.Printf("setRotationSpeed: %.0f -> level %d", speed, level)

	var g errgroup.Group
	if p.mode() != ModeFavorite {
		g.Go(func() error {
			if err := d.SetMode(ctx, ModeFavorite); err != nil {
				return err
			}
			p.setMode(ModeFavorite)
			return nil
		})
	}
	g.Go(func() error {
		return d.SetFavoriteLevel(ctx, level)
	})

	return g.Wait()
}

func (p *Purifier) GetFilterLifeLevel(ctx context.Context) (float64, error) {
	d, err := p.handle()
	if err != nil {
		return 0, err
	}

	return d.FilterLifeRemaining(ctx)
}

func (p *Purifier) GetFilterChangeIndication(ctx context.Context) (int, error) {
	d, err := p.handle()
	if err != nil {
		return FilterOK, err
	}

	life, err := d.FilterLifeRemaining(ctx)
	if err != nil {
		return FilterOK, err
	}
	return FilterChangeFor(life), nil
}

// GetAirQuality classifies the mirrored PM2.5 reading; Unknown until the first reading
func (p *Purifier) GetAirQuality(_ context.Context) (int, error) {
	if _, err := p.handle(); err != nil {
		return AirQualityUnknown, err
	}

	p.mu.RLock()
	aqi := p.mirror.aqi
	p.mu.RUnlock()

	if aqi == nil {
		return AirQualityUnknown, nil
	}
	q := p.levels.Quality(*aqi)
	log.Debug.Printf("getAirQuality: %.0f -> %d", *aqi, q)
	return q, nil
}

func (p *Purifier) GetPM25(_ context.Context) (*float64, error) {
	return p.mirrored(func(m *mirror) *float64 { return m.aqi })
}

func (p *Purifier) GetTemperature(_ context.Context) (*float64, error) {
	return p.mirrored(func(m *mirror) *float64 { return m.temperature })
}

func (p *Purifier) GetHumidity(_ context.Context) (*float64, error) {
	return p.mirrored(func(m *mirror) *float64 { return m.humidity })
}

func (p *Purifier) mirrored(field func(*mirror) *float64) (*float64, error) {
	if _, err := p.handle(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	v := field(&p.mirror)
	if v == nil {
		return nil, nil
	}
	c := *v
	return &c, nil
}

func (p *Purifier) GetLED(ctx context.Context) (bool, error) {
	d, err := p.handle()
	if err != nil {
		return false, err
	}
	return d.LED(ctx)
}

func (p *Purifier) SetLED(ctx context.Context, on bool) error {
	d, err := p.handle()
	if err != nil {
		return err
	}

	log.Debug.Printf("setLED: %t", on)
	return d.SetLED(ctx, on)
}

func (p *Purifier) GetNotificationSound(ctx context.Context) (bool, error) {
	d, err := p.handle()
	if err != nil {
		return false, err
	}
	return d.Buzzer(ctx)
}

func (p *Purifier) SetNotificationSound(ctx context.Context, on bool) error {
	d, err := p.handle()
	if err != nil {
		return err
	}

	log.Debug.Printf("setNotificationSound: %t", on)
	return d.SetBuzzer(ctx, on)
}
