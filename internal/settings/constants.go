package settings

// DB config keys and defaults for settings.
const (
	// ProductCatalogKey holds a JSON array of catalog products overriding the built-in catalog.
	ProductCatalogKey = "PRODUCT_CATALOG"
	// PaymentDedupeWindowSecondsKey overrides the window in which a pending payment is reused.
	PaymentDedupeWindowSecondsKey = "PAYMENT_DEDUPE_WINDOW_SECONDS"
	// PendingPaymentExpiryHoursKey overrides the age after which created payments are cancelled.
	PendingPaymentExpiryHoursKey = "PENDING_PAYMENT_EXPIRY_HOURS"
)
