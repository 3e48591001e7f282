package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName      string
	Env          string // DEV (local; default), TEST, QA, PROD
	Build        string
	Debug        bool
	TestMode     bool
	ConfigDir    string
	RollbarToken string
	DebugHost    string // metrics listener; disabled when empty

	API struct {
		BaseURL string
		Timeout time.Duration
	}

	Storage struct {
		Path string // sqlite file holding the credential pair
	}

	Mock struct {
		Addr       string
		SecretKey  string
		AccessTTL  time.Duration
		RefreshTTL time.Duration
		// RequireVerification keeps registered accounts inactive until their e-mail is validated.
		RequireVerification bool
	}
}

// NewConfig reads the configuration from `.env.<env>` (if present) and the environment.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	confDir := configDir()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("build", "develop")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("debugHost", "")
	v.SetDefault("apiBaseURL", "http://localhost:8000")
	v.SetDefault("apiTimeout", 15*time.Second)
	v.SetDefault("storagePath", filepath.Join(confDir, "client.db"))
	v.SetDefault("mockAddr", ":8000")
	v.SetDefault("mockSecretKey", "k3w!vn^8s@x0q)2p-mzu#e7_+4a5lr(bo9f$dy=6gh1jt")
	v.SetDefault("mockAccessTTL", 5*time.Minute)
	v.SetDefault("mockRefreshTTL", 24*time.Hour)
	v.SetDefault("mockRequireVerification", false)

	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(confDir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		AppName:      v.GetString("appName"),
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		ConfigDir:    confDir,
		RollbarToken: v.GetString("rollbarToken"),
		DebugHost:    v.GetString("debugHost"),
	}
	conf.API.BaseURL = strings.TrimRight(v.GetString("apiBaseURL"), "/")
	conf.API.Timeout = v.GetDuration("apiTimeout")
	conf.Storage.Path = v.GetString("storagePath")
	conf.Mock.Addr = v.GetString("mockAddr")
	conf.Mock.SecretKey = v.GetString("mockSecretKey")
	conf.Mock.AccessTTL = v.GetDuration("mockAccessTTL")
	conf.Mock.RefreshTTL = v.GetDuration("mockRefreshTTL")
	conf.Mock.RequireVerification = v.GetBool("mockRequireVerification")
	return conf
}

func configDir() string {
	if dir := os.Getenv("MASOMO_CONFIG_DIR"); dir != "" {
		return dir
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "masomo")
}
