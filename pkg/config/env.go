package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. HITOBOT_DB_PATH.
const EnvPrefix = "HITOBOT"

// Override keys. Each maps to an environment variable and, when bound by the
// CLI, a command-line flag.
const (
	KeyTelegramToken = "telegram_token"
	KeyDiscordToken  = "discord_token"
	KeyDBPath        = "db_path"
	KeyTimezone      = "timezone"
	KeyLogLevel      = "log_level"
	KeyLogFormat     = "log_format"
	KeyMetricsAddr   = "metrics_addr"
	KeyRenotify      = "renotify"
	KeyWorkbook      = "workbook"
)

// NewViper returns a viper instance reading HITOBOT_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Override applies environment variables and bound flags over cfg. Values
// that are unset leave the file configuration alone.
func (c *Config) Override(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			if s := v.GetString(key); s != "" {
				*dst = s
			}
		}
	}

	if v.IsSet(KeyTelegramToken) {
		tg := c.Gateways["telegram"]
		tg.Token = v.GetString(KeyTelegramToken)
		tg.Enabled = tg.Token != ""
		c.Gateways["telegram"] = tg
	}
	if v.IsSet(KeyDiscordToken) {
		dc := c.Gateways["discord"]
		dc.Token = v.GetString(KeyDiscordToken)
		dc.Enabled = dc.Token != ""
		c.Gateways["discord"] = dc
	}
	str(KeyDBPath, &c.Storage.Path)
	str(KeyTimezone, &c.App.Timezone)
	str(KeyLogLevel, &c.Log.Level)
	str(KeyLogFormat, &c.Log.Format)
	str(KeyMetricsAddr, &c.Metrics.Addr)
	str(KeyRenotify, &c.Notifications.Renotify)
	str(KeyWorkbook, &c.Ingest.Workbook)
}
