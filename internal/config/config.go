// Package config loads the process configuration from flags, BINDERY_*
// environment variables, and an optional yaml file. The result is one
// explicit Config value handed into constructors; nothing in this
// module reads configuration ambiently.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all settings for the service. The mapstructure tags map
// fields onto flag, env, and yaml keys.
type Config struct {
	ListenAddr   string `mapstructure:"listen-addr"`
	DBPath       string `mapstructure:"db-path"`
	TemplatesDir string `mapstructure:"templates-dir"`
	StaticDir    string `mapstructure:"static-dir"`

	// Host wiki
	WikiBaseURL string `mapstructure:"wiki-base-url"`
	ArticlePath string `mapstructure:"article-path"`
	ScriptPath  string `mapstructure:"script-path"`

	// Book creator surfaces
	BookPagePath            string            `mapstructure:"book-page-path"`
	BookPageTitle           string            `mapstructure:"book-page-title"`
	HelpPage                string            `mapstructure:"help-page"`
	CollectibleNamespaces   []int             `mapstructure:"collectible-namespaces"`
	ExportFormats           map[string]string `mapstructure:"export-formats"`
	SidebarFormats          []string          `mapstructure:"sidebar-formats"`
	PortletRequiresLogin    bool              `mapstructure:"portlet-requires-login"`
	DisableSidebarStartLink bool              `mapstructure:"disable-sidebar-start-link"`
	SuggestionsEnabled      bool              `mapstructure:"suggestions-enabled"`

	// Collaborators
	RecentChangesFeedURL string `mapstructure:"recent-changes-feed-url"`
	RenderServiceURL     string `mapstructure:"render-service-url"`
	AdminToken           string `mapstructure:"admin-token"`

	SessionTTL     time.Duration `mapstructure:"session-ttl"`
	MetricsEnabled bool          `mapstructure:"metrics"`
}

// Load builds a Config. Precedence: flags over environment over config
// file over defaults.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("BINDERY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if home, err := homedir.Dir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".bindery")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Every key needs a default: viper only carries env overrides into
// Unmarshal for keys it already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("config", "")
	v.SetDefault("listen-addr", ":8139")
	v.SetDefault("db-path", "bindery.db")
	v.SetDefault("templates-dir", "templates")
	v.SetDefault("static-dir", "static")
	v.SetDefault("wiki-base-url", "")
	v.SetDefault("article-path", "/wiki/")
	v.SetDefault("script-path", "/index.php")
	v.SetDefault("book-page-path", "/book")
	v.SetDefault("book-page-title", "Special:Book")
	v.SetDefault("help-page", "Help:Books")
	v.SetDefault("collectible-namespaces", []int{0})
	v.SetDefault("export-formats", map[string]string{"rl": "PDF"})
	v.SetDefault("sidebar-formats", []string{"rl"})
	v.SetDefault("portlet-requires-login", false)
	v.SetDefault("disable-sidebar-start-link", false)
	v.SetDefault("suggestions-enabled", true)
	v.SetDefault("recent-changes-feed-url", "")
	v.SetDefault("render-service-url", "")
	v.SetDefault("admin-token", "")
	v.SetDefault("session-ttl", 30*24*time.Hour)
	v.SetDefault("metrics", false)
}

// Validate rejects configurations the service cannot run with. Empty
// optional URLs are fine; present ones must parse.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"wiki-base-url":           c.WikiBaseURL,
		"recent-changes-feed-url": c.RecentChangesFeedURL,
		"render-service-url":      c.RenderServiceURL,
	} {
		if value != "" && !govalidator.IsURL(value) {
			return fmt.Errorf("config %s: %q is not a valid URL", name, value)
		}
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config session-ttl: must be positive, got %s", c.SessionTTL)
	}
	if c.BookPagePath == "" || !strings.HasPrefix(c.BookPagePath, "/") {
		return fmt.Errorf("config book-page-path: %q must start with /", c.BookPagePath)
	}
	return nil
}
