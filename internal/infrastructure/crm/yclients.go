package crm

import "go.uber.org/zap"

func init() {
	Register("yclients", func(cfg Config, logger *zap.Logger) (Adapter, error) {
		return newBookingAdapter("yclients", "https://api.yclients.com/api/v1", cfg, logger)
	})
}
