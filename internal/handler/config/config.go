package config

type Config struct {
	ServerAddr   string
	DashboardURL string
}
