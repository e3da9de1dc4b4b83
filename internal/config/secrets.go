package config

import (
	"maps"
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: credentials are
// replaced by "***" and a DSN keeps everything but its password. Slices and
// maps are cloned so the copy can be mutated freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Exchange.APIKey,
		&out.Exchange.APISecret,
		&out.Exchange.SecretPassword,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Strategy.Params = maps.Clone(cfg.Strategy.Params)
	return out
}

// redactDSN masks the password of a URL-style DSN. Anything it cannot parse
// as a URL is hidden entirely.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	return u.Redacted()
}
