// Command cleanarchguard fails when a package imports across layers the
// wrong way. Domain packages may not import services, and services may not
// import infrastructure.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roblaszczak/go-cleanarch/cleanarch"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type layerAliases struct {
	Domain         []string `yaml:"domain"`
	Application    []string `yaml:"application"`
	Interfaces     []string `yaml:"interfaces"`
	Infrastructure []string `yaml:"infrastructure"`
}

type guardConfig struct {
	Root           string       `yaml:"root"`
	IgnoreTests    bool         `yaml:"ignore_tests"`
	IgnorePackages []string     `yaml:"ignore_packages"`
	Allow          []string     `yaml:"allow"`
	Aliases        layerAliases `yaml:"aliases"`
}

var defaultAliases = layerAliases{
	Domain:         []string{"domain"},
	Application:    []string{"services"},
	Infrastructure: []string{"infrastructure"},
}

func main() {
	configPath := flag.String("config", ".gocleanarch.yml", "Guard configuration file")
	debug := flag.Bool("debug", false, "Print go-cleanarch debug output")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	cfg, err := loadGuardConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to read guard configuration")
	}
	if *debug {
		cleanarch.Log.SetOutput(os.Stderr)
	}

	violations, err := check(cfg)
	if err != nil {
		log.WithError(err).Fatal("go-cleanarch failed")
	}
	for _, v := range violations {
		log.Error(v)
	}
	if len(violations) > 0 {
		log.Errorf("%d layering violations", len(violations))
		os.Exit(1)
	}
	log.Info("layering ok")
}

// loadGuardConfig reads path; a missing file means the defaults.
func loadGuardConfig(path string) (*guardConfig, error) {
	cfg := &guardConfig{Root: ".", IgnoreTests: true}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(cfg.Root) == "" {
		cfg.Root = "."
	}
	return cfg, nil
}

func (c *guardConfig) layers() map[string]cleanarch.Layer {
	out := map[string]cleanarch.Layer{}
	add := func(custom, defaults []string, layer cleanarch.Layer) {
		names := defaults
		if len(custom) > 0 {
			names = custom
		}
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				out[name] = layer
			}
		}
	}
	add(c.Aliases.Domain, defaultAliases.Domain, cleanarch.LayerDomain)
	add(c.Aliases.Application, defaultAliases.Application, cleanarch.LayerApplication)
	add(c.Aliases.Interfaces, defaultAliases.Interfaces, cleanarch.LayerInterfaces)
	add(c.Aliases.Infrastructure, defaultAliases.Infrastructure, cleanarch.LayerInfrastructure)
	return out
}

func check(cfg *guardConfig) ([]string, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	ok, errs, err := cleanarch.NewValidator(cfg.layers()).Validate(root, cfg.IgnoreTests, cfg.IgnorePackages)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}
	return filterAllowed(messages, cfg.Allow), nil
}

// filterAllowed drops messages containing any allow pattern.
func filterAllowed(messages, allow []string) []string {
	var out []string
next:
	for _, msg := range messages {
		for _, pattern := range allow {
			if pattern != "" && strings.Contains(msg, pattern) {
				continue next
			}
		}
		out = append(out, msg)
	}
	return out
}
