package catalog

// Package catalog provides menu file parsing functionality.

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Menu struct {
	Shop  ShopConfig `yaml:"shop"`
	Items []MenuItem `yaml:"items"`
}

type ShopConfig struct {
	Name             string `yaml:"name"`
	Currency         string `yaml:"currency"`
	DeliveryFeeCents int64  `yaml:"delivery_fee_cents"`
}

type MenuItem struct {
	Name           string `yaml:"name"`
	Category       string `yaml:"category"`
	UnitPriceCents int64  `yaml:"unit_price_cents"`
	Available      *bool  `yaml:"available"`
}

// IsAvailable defaults to true when the menu does not say otherwise.
func (m MenuItem) IsAvailable() bool {
	return m.Available == nil || *m.Available
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(content []byte) (*Menu, error) {
	var menu Menu
	if err := yaml.Unmarshal(content, &menu); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &menu, nil
}

func (p *Parser) ParseFromString(content string) (*Menu, error) {
	return p.Parse([]byte(content))
}

func (p *Parser) ParseFile(path string) (*Menu, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu file: %w", err)
	}
	return p.Parse(content)
}
