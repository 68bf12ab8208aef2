package config

// Application constants
const (
	AppName    = "ALM Engine"
	AppVersion = "1.0.0"

	ServiceName = "alm-server"
)
