package config

import "time"

type Config struct {
	JWTSecret string
	TokenTTL  time.Duration

	// Администратор, создаваемый при старте, если его нет
	AdminLogin        string
	AdminPassword     string
	AdminOrganization string
}
