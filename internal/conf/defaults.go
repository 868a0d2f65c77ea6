package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value of every setting.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("models.dir", "models")
	v.SetDefault("models.archive", "")
	v.SetDefault("models.languages", []map[string]string{})
	v.SetDefault("models.modelpath", "")

	v.SetDefault("recognition.language", "en-US")
	v.SetDefault("recognition.vocabulary", []string{})
	v.SetDefault("recognition.words", false)
	v.SetDefault("recognition.alternatives", 0)
	v.SetDefault("recognition.allowemptypartials", false)
	v.SetDefault("recognition.tickinterval", 10*time.Millisecond)

	v.SetDefault("audio.samplerate", 16000)
	v.SetDefault("audio.device", "")
	v.SetDefault("audio.timesensitivity", 100*time.Millisecond)
	v.SetDefault("audio.realtime", false)
	v.SetDefault("audio.chunksize", 4096)

	v.SetDefault("pool.minsize", 1024)
	v.SetDefault("pool.maxsize", 64*1024)
	v.SetDefault("pool.perbucket", 10)

	v.SetDefault("logging.defaultlevel", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.console.format", "text")
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", "logs/storyteller.log")
	v.SetDefault("logging.fileoutput.level", "info")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "localhost:9090")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "storyteller/transcripts")
	v.SetDefault("mqtt.clientid", "storyteller")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("download.timeout", 30*time.Minute)
	v.SetDefault("download.useragent", "storyteller")
}
