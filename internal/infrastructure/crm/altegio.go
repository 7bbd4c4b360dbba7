package crm

import "go.uber.org/zap"

// Altegio is the international deployment of the YCLIENTS booking API;
// same wire protocol, different domain.
func init() {
	Register("altegio", func(cfg Config, logger *zap.Logger) (Adapter, error) {
		return newBookingAdapter("altegio", "https://api.alteg.io/api/v1", cfg, logger)
	})
}
