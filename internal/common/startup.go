package common

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// LoadConfig reads config.yaml from path and unmarshals it into config.
func LoadConfig(config interface{}, path string) error {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "error reading config from %s", path)
	}
	if err := v.Unmarshal(config); err != nil {
		return errors.Wrapf(err, "error unmarshalling config from %s", v.ConfigFileUsed())
	}
	log.Infof("read config from %s", v.ConfigFileUsed())
	return nil
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}
