package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "magpie"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host        string
		HttpPort    int    `yaml:"httpPort"`
		SslDomain   string `yaml:"sslDomain"`
		Account     string `yaml:"account"`
		DisplayName string `yaml:"displayName"`
		Summary     string `yaml:"summary"`
		AdminToken  string `yaml:"adminToken"`
		WithAp      bool   `yaml:"withAp"`
	}
}

// ActorURI returns the canonical URI of the single local actor.
func (c *AppConfig) ActorURI() string {
	return fmt.Sprintf("https://%s/u/%s", c.Conf.SslDomain, c.Conf.Account)
}

// KeyID returns the key identifier attached to outbound signatures.
func (c *AppConfig) KeyID() string {
	return c.ActorURI() + "#main-key"
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("MAGPIE_HOST")
	envHttpPort := os.Getenv("MAGPIE_HTTPPORT")
	envSslDomain := os.Getenv("MAGPIE_SSLDOMAIN")
	envAccount := os.Getenv("MAGPIE_ACCOUNT")
	envDisplayName := os.Getenv("MAGPIE_DISPLAYNAME")
	envSummary := os.Getenv("MAGPIE_SUMMARY")
	envAdminToken := os.Getenv("MAGPIE_ADMINTOKEN")
	envWithAp := os.Getenv("MAGPIE_WITH_AP")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envAccount != "" {
		c.Conf.Account = envAccount
	}

	if envDisplayName != "" {
		c.Conf.DisplayName = envDisplayName
	}

	if envSummary != "" {
		c.Conf.Summary = envSummary
	}

	if envAdminToken != "" {
		c.Conf.AdminToken = envAdminToken
	}

	if envWithAp == "true" {
		c.Conf.WithAp = true
	}

	return c, nil
}
