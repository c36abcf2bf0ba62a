package config

import (
	"cmp"
	"os"
)

const NotifyWebhookEnv = "NOTIFY_WEBHOOK_URL"

// ApplyEnv overrides secrets and endpoints that must not live in the yaml file.
func ApplyEnv(cfg *AppConfig) {
	LoadAdvisorCredential(&cfg.Advisor)
	cfg.Simulation.NotifyWebhook = cmp.Or(os.Getenv(NotifyWebhookEnv), cfg.Simulation.NotifyWebhook)
}
