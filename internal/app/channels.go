package app

import (
	"fmt"
	"strings"

	"finpipe/internal/config"
	"finpipe/internal/delivery"
	logx "finpipe/pkg/logx"
)

// channelSet is what the dispatcher and the log alert sink send through.
type channelSet struct {
	user    delivery.Channel
	admin   delivery.Channel
	alerts  logx.AlertSender
	breaker *delivery.Breaker
	mode    string
}

// buildChannels picks the provider from config and secrets. Dev mode, or a
// missing mail credential, yields the logging channel so nothing leaves the
// process.
func buildChannels(cfg *config.Config, sec config.Secrets, log logx.Logger) (channelSet, error) {
	var (
		set  channelSet
		base delivery.Channel
	)
	switch {
	case cfg.Notifier.DevMode || sec.DevMode:
		base = delivery.NewLogChannel(log, 0)
		set.mode = "dev"
	case !sec.HasMailCredential() || strings.TrimSpace(cfg.Mail.Host) == "":
		log.Warn("mail credential or relay host missing; messages will be logged, not sent")
		base = delivery.NewLogChannel(log, 0)
		set.mode = "log"
	default:
		mc, err := delivery.NewMailChannel(cfg.MailOptions(sec))
		if err != nil {
			return channelSet{}, fmt.Errorf("mail channel: %w", err)
		}
		set.breaker = delivery.NewBreaker(mc, cfg.Notifier.Breaker.Delivery())
		base = set.breaker
		set.mode = "smtp"
	}
	set.user = delivery.NewRateLimited(base, cfg.Notifier.RatePerSec)
	set.admin = set.user

	if admin := strings.TrimSpace(sec.AdminEmail); admin != "" {
		set.alerts = delivery.AlertSender{Channel: set.user, To: admin}
	}

	tg := cfg.Notifier.Telegram
	if !tg.Enabled {
		return set, nil
	}
	if strings.TrimSpace(sec.TelegramToken) == "" {
		log.Warn("telegram mirror enabled but FINPIPE_TELEGRAM_TOKEN is empty; skipping")
		return set, nil
	}
	tc, err := delivery.NewTelegramChannel(delivery.TelegramConfig{
		Token:    sec.TelegramToken,
		ChatID:   tg.ChatID,
		ThreadID: tg.ThreadID,
	})
	if err != nil {
		return channelSet{}, fmt.Errorf("telegram channel: %w", err)
	}
	set.admin = delivery.Tee{Primary: set.user, Mirror: tc, Log: log}
	set.alerts = tc
	return set, nil
}
