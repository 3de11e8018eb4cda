package notify

import (
	"go.uber.org/zap"

	"onebreath/internal/config"
)

// FromConfig assembles the configured channels. With nothing configured,
// messages are logged instead of sent.
func FromConfig(mailCfg config.MailConfig, smsCfg config.SMSConfig, logger *zap.Logger) (*Multi, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	multi := NewMulti(logger.Named("notify"))
	if mailCfg.Enabled() {
		mailer, err := NewMailer(mailCfg)
		if err != nil {
			return nil, err
		}
		multi.Add("email", mailer)
	}
	if smsCfg.Enabled() {
		sms, err := NewSMS(smsCfg)
		if err != nil {
			return nil, err
		}
		multi.Add("sms", sms)
	}
	if multi.Len() == 0 {
		logger.Warn("no notification channel configured; notifications will only be logged")
		multi.Add("log", Log{Logger: logger.Named("notify")})
	}
	return multi, nil
}
