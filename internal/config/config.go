package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"osticket-helper/internal/components/telemetry"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYaml []byte

const (
	DriverChrome = "chrome"
	DriverHTTP   = "http"
)

// Timeouts are in seconds.
type Timeouts struct {
	Login      int `json:"login" yaml:"login"`
	Navigation int `json:"navigation" yaml:"navigation"`
	Download   int `json:"download" yaml:"download"`
	Compile    int `json:"compile" yaml:"compile"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (t Timeouts) LoginTimeout() time.Duration      { return seconds(t.Login) }
func (t Timeouts) NavigationTimeout() time.Duration { return seconds(t.Navigation) }
func (t Timeouts) DownloadTimeout() time.Duration   { return seconds(t.Download) }
func (t Timeouts) CompileTimeout() time.Duration    { return seconds(t.Compile) }

type Images struct {
	MaxWidth    int `json:"max_width" yaml:"max_width"`
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
}

type OSTicket struct {
	Url         string `json:"url" yaml:"url"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	SecretsFile string `json:"secrets_file" yaml:"secrets_file"`
	AgeIdentity string `json:"age_identity" yaml:"age_identity"`

	Driver            string  `json:"driver" yaml:"driver"`
	Headless          *bool   `json:"headless" yaml:"headless"`
	SlowMo            int     `json:"slow_mo" yaml:"slow_mo"`
	ChromePath        string  `json:"chrome_path" yaml:"chrome_path"`
	NoSandbox         bool    `json:"no_sandbox" yaml:"no_sandbox"`
	CloudflareBypass  bool    `json:"cloudflare_bypass" yaml:"cloudflare_bypass"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	WorkDir      string `json:"work_dir" yaml:"work_dir"`
	InboxDir     string `json:"inbox_dir" yaml:"inbox_dir"`
	ReceiptsDir  string `json:"receipts_dir" yaml:"receipts_dir"`
	TempDir      string `json:"temp_dir" yaml:"temp_dir"`
	LogoPath     string `json:"logo_path" yaml:"logo_path"`
	TemplatePath string `json:"template_path" yaml:"template_path"`
	TypstBinary  string `json:"typst_binary" yaml:"typst_binary"`

	DateFormat     string   `json:"date_format" yaml:"date_format"`
	Timezone       string   `json:"timezone" yaml:"timezone"`
	ResolvedStates []string `json:"resolved_states" yaml:"resolved_states"`
	Timeouts       Timeouts `json:"timeouts" yaml:"timeouts"`
	Images         Images   `json:"images" yaml:"images"`
}

// SlowMoDuration is the pause between browser interactions.
func (o OSTicket) SlowMoDuration() time.Duration {
	return time.Duration(o.SlowMo) * time.Millisecond
}

// IsHeadless defaults to true when unset.
func (o OSTicket) IsHeadless() bool {
	return o.Headless == nil || *o.Headless
}

type Config struct {
	OSTicket  OSTicket         `json:"osticket" yaml:"osticket"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
	Strings   Strings          `json:"strings" yaml:"strings"`
}

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

func decode(ext string, contents []byte, out *Config) error {
	switch strings.ToLower(ext) {
	case "yaml", "yml":
		return yaml.Unmarshal(contents, out)
	case "json", "json5":
		return json5.Unmarshal(contents, out)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// Defaults returns the built-in configuration.
func Defaults() (Config, error) {
	var out Config
	err := yaml.Unmarshal(defaultsYaml, &out)
	return out, err
}

// merge layers `override` on top of `base`, non-zero values win. Strings are
// merged per key and headless is taken whenever it is set, since mergo never
// lets an explicit false win.
func merge(base *Config, override Config) error {
	overrideStrings := override.Strings
	override.Strings = nil
	baseStrings := base.Strings
	base.Strings = nil

	headless := base.OSTicket.Headless
	if override.OSTicket.Headless != nil {
		headless = override.OSTicket.Headless
	}
	override.OSTicket.Headless = nil
	base.OSTicket.Headless = nil

	err := mergo.Merge(base, override, mergo.WithOverride)
	if err != nil {
		return err
	}
	base.Strings = mergeStrings(baseStrings, overrideStrings)
	base.OSTicket.Headless = headless
	return nil
}

// read reads a configuration file, `name` should come with a file extension,
// it will automatically be lopped off to produce the other extensions.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
func read(name string) (Config, error) {
	var out Config

	dirname := filepath.Dir(name)
	prefixname, ext := splitExt(filepath.Base(name))

	mainFile, err := os.ReadFile(name)
	if err != nil {
		return out, err
	}
	err = decode(ext, mainFile, &out)
	if err != nil {
		return out, fmt.Errorf("parse %s: %w", name, err)
	}

	localFilepath := filepath.Join(
		dirname,
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override Config
		err = decode(ext, localFile, &override)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", localFilepath, err)
		}
		err = merge(&out, override)
		if err != nil {
			return out, err
		}
		slog.Debug("merging config with local overrides", "local", localFilepath)
	}

	return out, nil
}

// Load reads the configuration at `name` on top of the defaults and resolves
// every relative path against the working directory. `workDir` overrides the
// configured work_dir when not empty.
func Load(name string, workDir string) (Config, error) {
	out, err := Defaults()
	if err != nil {
		return out, fmt.Errorf("parse defaults: %w", err)
	}

	user, err := read(name)
	if errors.Is(err, os.ErrNotExist) {
		return out, fmt.Errorf("config file not found: %s", name)
	}
	if err != nil {
		return out, err
	}
	err = merge(&out, user)
	if err != nil {
		return out, err
	}

	err = out.validate()
	if err != nil {
		return out, err
	}
	err = out.resolvePaths(workDir)
	if err != nil {
		return out, err
	}
	return out, nil
}

func (c Config) validate() error {
	o := c.OSTicket
	if o.Url == "" {
		return fmt.Errorf("missing required field 'osticket.url' in config")
	}
	if o.Username == "" {
		return fmt.Errorf("missing required field 'osticket.username' in config")
	}
	switch o.Driver {
	case DriverChrome, DriverHTTP:
	default:
		return fmt.Errorf("unknown driver %q, expected %q or %q", o.Driver, DriverChrome, DriverHTTP)
	}
	if o.Images.JPEGQuality < 1 || o.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpeg_quality must be within 1-100, got %d", o.Images.JPEGQuality)
	}
	return nil
}

func (c *Config) resolvePaths(workDir string) error {
	o := &c.OSTicket
	o.Url = strings.TrimRight(o.Url, "/")

	if workDir == "" {
		workDir = o.WorkDir
	}
	if workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		workDir = cwd
	}
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return err
	}
	o.WorkDir = workDir

	for _, path := range []*string{
		&o.InboxDir,
		&o.ReceiptsDir,
		&o.TempDir,
		&o.LogoPath,
		&o.TemplatePath,
		&o.SecretsFile,
		&o.AgeIdentity,
	} {
		if *path == "" || filepath.IsAbs(*path) {
			continue
		}
		*path = filepath.Join(workDir, *path)
	}
	return nil
}
