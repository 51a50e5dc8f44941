package main

import (
	"fmt"
	"os"

	"github.com/PapiCZ/myfs/config"
	"github.com/PapiCZ/myfs/myfs"
	"github.com/PapiCZ/myfs/shell"
	"github.com/PapiCZ/myfs/vfs"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file (default $MYFS_CONFIG)")
	volumePath := pflag.StringP("volume", "v", "", "host file backing the volume")
	script := pflag.StringP("script", "s", "", "run the commands in this file and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *volumePath != "" {
		cfg.Volume.Path = *volumePath
	} else if pflag.NArg() == 1 {
		cfg.Volume.Path = pflag.Arg(0)
	}

	log := cfg.Logger()

	driver := myfs.New(
		myfs.WithLogger(log.WithField("driver", myfs.Name)),
		myfs.WithTableCapacity(cfg.Descriptors),
	)
	registry := vfs.NewRegistry()
	if err := registry.Register(myfs.Tag, myfs.Name, driver); err != nil {
		log.WithError(err).Fatal("registering driver")
	}

	session, err := shell.NewSession(cfg, log, registry, myfs.Name)
	if err != nil {
		log.WithError(err).Fatal("creating session")
	}
	defer func() {
		_ = session.Close()
	}()

	if _, err := os.Stat(cfg.Volume.Path); err == nil {
		// We want to load existing filesystem volume
		if err := session.OpenVolume(cfg.Volume.Path); err != nil {
			log.WithError(err).Fatal("opening volume")
		}
	}

	sh := shell.New(session)
	if *script != "" {
		if err := sh.Process("load", *script); err != nil {
			log.WithError(err).Error("running script")
		}
		return
	}
	sh.Run()
}
