package config

// Config defines the config for all aspects of the bot
type Config struct {
	// BackendURL is the API base the send command posts to, e.g. http://127.0.0.1:5000/api
	BackendURL string `yaml:"backend_url"`
	// RemoteAuth makes the send command verify the password against BackendURL/auth
	RemoteAuth bool `yaml:"remote_auth"`

	ListenAddr    string `yaml:"listen_addr"`
	APIPrefix     string `yaml:"api_prefix"`
	AppEnv        string `yaml:"app_env"`
	AdminPassword string `yaml:"admin_password"`

	GroupMeAccessToken string `yaml:"groupme_access_token"`
	GroupMeAPIURL      string `yaml:"groupme_api_url"`
	GroupMeImageURL    string `yaml:"groupme_image_url"`
	SendConcurrency    int    `yaml:"send_concurrency"`

	// BuildingsFile is an optional catalog file; the embedded catalog is used when empty
	BuildingsFile string `yaml:"buildings_file"`

	SupportedAttachmentTypes []string `yaml:"supported_attachment_types"`
	SupportedTypesMap        map[string]bool
}
