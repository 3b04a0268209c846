package main

import (
	"log"

	appbootstrap "github.com/m3rciful/leakbot/app/bootstrap"
	appconfig "github.com/m3rciful/leakbot/app/config"
	corecmd "github.com/m3rciful/leakbot/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar: "CONFIG_PATH",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return appconfig.Load(path)
		},
		Bootstrap: func(cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			return appbootstrap.New(cfg.(*appconfig.Config))
		},
	})
	if err != nil {
		log.Fatalf("leakbot: %v", err)
	}
}
