package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/trace-survey-analysis/trace-consumer/internal/common"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer"
	"github.com/trace-survey-analysis/trace-consumer/internal/traceconsumer/configuration"
)

const CustomConfigLocation = "config"

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.TraceConsumerConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	common.LoadConfig(&config, "./config/traceconsumer", userSpecifiedConfigs)

	if err := traceconsumer.Run(&config); err != nil {
		log.Fatalf("Trace consumer exited with error: %v", err)
	}
}
