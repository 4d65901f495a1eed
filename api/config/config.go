package config

import (
	"os"
	"strings"
)

type Config struct {
	Port     string
	BindAddr string
	SitePath string // site yaml describing the app, slots, router and provisioner
	DataDir  string

	RegistryBackend string // file, sqlite, postgres, consul, memory
	AuditBackend    string // file, sqlite, postgres, s3

	DatabaseURL  string
	SQLitePath   string
	ConsulAddr   string
	ConsulPrefix string
	NomadAddr    string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	S3Bucket    string

	SecretsPath string // optional SOPS-encrypted SWITCHYARD_* overrides

	APIToken       string
	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins string
}

func Load() *Config {
	return load(os.Getenv)
}

// LoadWithSecrets is Load with secrets filling any variable the
// environment leaves empty.
func LoadWithSecrets(secrets map[string]string) *Config {
	return load(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return secrets[key]
	})
}

func load(getenv func(string) string) *Config {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	dataDir := envOr("SWITCHYARD_DATA_DIR", "/var/lib/switchyard")
	return &Config{
		Port:            envOr("SWITCHYARD_PORT", "8900"),
		BindAddr:        envOr("SWITCHYARD_BIND_ADDR", "127.0.0.1"),
		SitePath:        envOr("SWITCHYARD_SITE", "/etc/switchyard/site.yaml"),
		DataDir:         dataDir,
		RegistryBackend: envOr("SWITCHYARD_REGISTRY", "file"),
		AuditBackend:    envOr("SWITCHYARD_AUDIT", "file"),
		DatabaseURL:     getenv("SWITCHYARD_DATABASE_URL"),
		SQLitePath:      envOr("SWITCHYARD_SQLITE_PATH", dataDir+"/switchyard.db"),
		ConsulAddr:      getenv("SWITCHYARD_CONSUL_ADDR"),
		ConsulPrefix:    envOr("SWITCHYARD_CONSUL_PREFIX", "switchyard"),
		NomadAddr:       getenv("SWITCHYARD_NOMAD_ADDR"),
		S3Endpoint:      getenv("SWITCHYARD_S3_ENDPOINT"),
		S3AccessKey:     getenv("SWITCHYARD_S3_ACCESS_KEY"),
		S3SecretKey:     getenv("SWITCHYARD_S3_SECRET_KEY"),
		S3Region:        envOr("SWITCHYARD_S3_REGION", "us-east-1"),
		S3UseSSL:        getenv("SWITCHYARD_S3_USE_SSL") == "true",
		S3Bucket:        envOr("SWITCHYARD_S3_BUCKET", "switchyard-audit"),
		SecretsPath:     getenv("SWITCHYARD_SECRETS"),
		APIToken:        getenv("SWITCHYARD_API_TOKEN"),
		JWTSecret:       getenv("SWITCHYARD_JWT_SECRET"),
		JWTIssuer:       envOr("SWITCHYARD_JWT_ISSUER", "switchyard"),
		AllowedOrigins:  getenv("SWITCHYARD_ALLOWED_ORIGINS"),
	}
}

// RegistryPath is the JSON document used by the file registry backend.
func (c *Config) RegistryPath() string {
	return c.DataDir + "/registry.json"
}

// AuditPath is the JSONL file used by the file audit backend.
func (c *Config) AuditPath() string {
	return c.DataDir + "/audit.jsonl"
}

// Origins returns the CORS allow-list: localhost dev servers plus any
// configured extras.
func (c *Config) Origins() []string {
	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
