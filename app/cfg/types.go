package cfg

type Cfg struct {
	// Persistence configuration
	DBPath string

	// Queue configuration
	RedisURL string

	// Authority ranking API configuration
	AuthorityAPIURL string
	AuthorityAPIKey string

	// Alerting configuration
	ThresholdsDir      string
	AlertWebhookURL    string
	AlertCheckInterval int
	AlertSendCap       int

	// Application configuration
	Port         string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
