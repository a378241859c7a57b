package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cloudkucooland/HomeKitBridges/MiPurifierHKBridge"
	"github.com/cloudkucooland/HomeKitBridges/MiPurifierHKBridge/miio"

	"github.com/brutella/hap"
	"github.com/brutella/hap/log"

	"github.com/urfave/cli/v2"

	"github.com/vishvananda/netlink"
)

func main() {
	var dir, file string
	var debug bool

	app := cli.App{
		Name:  "mi air purifier homekit bridge",
		Usage: "server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dir",
				Value:       "/var/db/HomeKitBridges/MiPurifier",
				Usage:       "configuration directory",
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "config",
				Value:       "miphkb.json",
				Usage:       "configuration file (.json or .yaml)",
				Destination: &file,
			},
			&cli.BoolFlag{
				Name:        "debug",
				Value:       false,
				Usage:       "enable debug",
				Destination: &debug,
			},
		},
		Action: func(c *cli.Context) error {
			if debug {
				log.Debug.Enable()
			}

			fulldir, err := filepath.Abs(dir)
			if err != nil {
				log.Info.Panic("unable to get config directory", dir)
			}
			conf, err := miphkb.LoadConfig(filepath.Join(fulldir, file))
			if err != nil {
				log.Info.Panic(err.Error())
			}

			poll := time.Duration(conf.Poll) * time.Second
			connect := miphkb.ConnectorFunc(func(ctx context.Context, ip, token string) (miphkb.Device, error) {
				d, err := miio.Connect(ctx, ip, token, poll)
				if err != nil {
					return nil, err
				}
				return d, nil
			})

			p, err := miphkb.New(*conf, connect)
			if err != nil {
				log.Info.Panic(err.Error())
			}

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup

			// keep looking for the purifier in the background, HomeKit gets errors until it is found
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.Discover(ctx); err != nil {
					log.Info.Printf("discovery stopped: %s", err.Error())
				}
			}()

			if conf.ListenAddr != "" {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p.StatusServer(ctx, conf.ListenAddr)
				}()
			}

			// an interface coming up is a good time to retry discovery
			var linkstatuschan = make(chan netlink.LinkUpdate, 5)
			var disconnectchan = make(chan struct{})
			if err := netlink.LinkSubscribe(linkstatuschan, disconnectchan); err != nil {
				log.Info.Printf("not watching interface changes: %s", err.Error())
			} else {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-linkstatuschan:
							log.Debug.Printf("interface change, nudging discovery")
							p.Nudge()
						case <-ctx.Done():
							return
						}
					}
				}()
			}

			s, err := hap.NewServer(hap.NewFsStore(fulldir), p.A)
			if err != nil {
				log.Info.Panic(err)
			}
			if conf.Pin != "" {
				s.Pin = conf.Pin
			}

			// serve HomeKit
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.ListenAndServe(ctx)
			}()

			// wait for signal to shut down
			sigch := make(chan os.Signal, 3)
			signal.Notify(sigch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP, os.Interrupt)

			sig := <-sigch
			log.Info.Printf("shutdown requested by signal: %s", sig)
			cancel()
			close(disconnectchan)

			wg.Wait()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Info.Panic(err)
	}
}
