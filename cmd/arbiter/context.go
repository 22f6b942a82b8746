package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"arbiter/internal/api"
	"arbiter/internal/config"
)

type commandContext struct {
	configFlag  *string
	addressFlag *string
	tokenFlag   *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, addressFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		addressFlag: addressFlag,
		tokenFlag:   tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) apiClient() (*api.Client, error) {
	var address, token string
	if c.addressFlag != nil {
		address = strings.TrimSpace(*c.addressFlag)
	}
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}

	if address == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if address == "" {
			address = cfg.APIBind
		}
		if token == "" {
			token = cfg.APIToken
		}
	}
	return api.NewClient(address, api.WithToken(token))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
