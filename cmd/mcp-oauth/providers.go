package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wrale/mcp-oauth/internal/oauth"
)

// providersFile is the YAML document named by MCP_OAUTH_PROVIDERS_FILE
type providersFile struct {
	Providers []oauth.Provider `yaml:"providers"`
}

func loadProviders(path string) ([]oauth.Provider, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening providers file: %w", err)
	}
	defer f.Close()
	return parseProviders(f)
}

func parseProviders(r io.Reader) ([]oauth.Provider, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc providersFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing providers file: %w", err)
	}
	for i := range doc.Providers {
		p := &doc.Providers[i]
		p.ClientSecret = os.ExpandEnv(p.ClientSecret)
	}
	return doc.Providers, nil
}
