package main

import (
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/walletmux/walletmux/pkg/log"
)

// newRootLogger builds the process logger from the environment before
// the full configuration is available, so config loading itself can
// log. Unset variables fall back to console output at info level.
func newRootLogger() log.Logger {
	var conf log.Config
	if err := cleanenv.ReadEnv(&conf); err != nil {
		conf = log.Config{}
	}
	return log.NewZapLogger(conf).WithName("walletmux")
}
