package config

import "time"

type Config struct {
	PaymentAddr     string
	PaymentKey      string
	WebhookSecret   string
	Currency        string
	PublicBaseURL   string
	RetryMaxElapsed time.Duration
}
