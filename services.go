package miphkb

import (
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
)

type airPurifierSvc struct {
	*service.S

	Active                  *characteristic.Active
	CurrentAirPurifierState *characteristic.CurrentAirPurifierState
	TargetAirPurifierState  *characteristic.TargetAirPurifierState
	LockPhysicalControls    *characteristic.LockPhysicalControls
	RotationSpeed           *characteristic.RotationSpeed
	FilterLifeLevel         *characteristic.FilterLifeLevel
	FilterChangeIndication  *characteristic.FilterChangeIndication
	Name                    *characteristic.Name
}

func newAirPurifierSvc(name string) *airPurifierSvc {
	s := airPurifierSvc{}
	s.S = service.New(service.TypeAirPurifier)

	s.Active = characteristic.NewActive()
	s.AddC(s.Active.C)

	s.CurrentAirPurifierState = characteristic.NewCurrentAirPurifierState()
	s.AddC(s.CurrentAirPurifierState.C)

	s.TargetAirPurifierState = characteristic.NewTargetAirPurifierState()
	s.AddC(s.TargetAirPurifierState.C)

	s.LockPhysicalControls = characteristic.NewLockPhysicalControls()
	s.AddC(s.LockPhysicalControls.C)

	s.RotationSpeed = characteristic.NewRotationSpeed()
	s.RotationSpeed.SetStepValue(levelStep)
	s.AddC(s.RotationSpeed.C)

	// optional on the purifier service, the Home app shows them on the same tile
	s.FilterLifeLevel = characteristic.NewFilterLifeLevel()
	s.AddC(s.FilterLifeLevel.C)

	s.FilterChangeIndication = characteristic.NewFilterChangeIndication()
	s.AddC(s.FilterChangeIndication.C)

	s.Name = characteristic.NewName()
	s.Name.SetValue(name)
	s.AddC(s.Name.C)

	s.S.Primary = true

	return &s
}

type airQualitySvc struct {
	*service.S

	AirQuality   *characteristic.AirQuality
	PM2_5Density *characteristic.PM2_5Density
	Name         *characteristic.Name
}

func newAirQualitySvc() *airQualitySvc {
	s := airQualitySvc{}
	s.S = service.New(service.TypeAirQualitySensor)

	s.AirQuality = characteristic.NewAirQuality()
	s.AddC(s.AirQuality.C)

	s.PM2_5Density = characteristic.NewPM2_5Density()
	s.AddC(s.PM2_5Density.C)

	s.Name = characteristic.NewName()
	s.Name.SetValue("Air Quality")
	s.AddC(s.Name.C)

	return &s
}

type temperatureSvc struct {
	*service.S

	CurrentTemperature *characteristic.CurrentTemperature
	Name               *characteristic.Name
}

func newTemperatureSvc() *temperatureSvc {
	s := temperatureSvc{}
	s.S = service.New(service.TypeTemperatureSensor)

	s.CurrentTemperature = characteristic.NewCurrentTemperature()
	s.CurrentTemperature.SetStepValue(0.1)
	s.AddC(s.CurrentTemperature.C)

	s.Name = characteristic.NewName()
	s.Name.SetValue("Temperature")
	s.AddC(s.Name.C)

	return &s
}

type humiditySvc struct {
	*service.S

	CurrentRelativeHumidity *characteristic.CurrentRelativeHumidity
	Name                    *characteristic.Name
}

func newHumiditySvc() *humiditySvc {
	s := humiditySvc{}
	s.S = service.New(service.TypeHumiditySensor)

	s.CurrentRelativeHumidity = characteristic.NewCurrentRelativeHumidity()
	s.AddC(s.CurrentRelativeHumidity.C)

	s.Name = characteristic.NewName()
	s.Name.SetValue("Humidity")
	s.AddC(s.Name.C)

	return &s
}

// onOffSvc is the LED lightbulb and the notification sound switch
type onOffSvc struct {
	*service.S

	On   *characteristic.On
	Name *characteristic.Name
}

func newOnOffSvc(typ string, name string) *onOffSvc {
	s := onOffSvc{}
	s.S = service.New(typ)

	s.On = characteristic.NewOn()
	s.AddC(s.On.C)

	s.Name = characteristic.NewName()
	s.Name.SetValue(name)
	s.AddC(s.Name.C)

	return &s
}
