package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	// LibraryConfig describes where persistent reader state lives.
	LibraryConfig struct {
		DatabasePath string `yaml:"database_path" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
		// CacheDir is the parent for per-session resource directories.
		// Empty means system temporary directory.
		CacheDir string `yaml:"cache_dir,omitempty" sanitize:"path_clean" validate:"omitempty,filepath"`
	}

	ThumbnailConfig struct {
		Generate    bool            `yaml:"generate"`
		Resize      ImageResizeMode `yaml:"resize" validate:"gte=0"`
		Width       int             `yaml:"width" validate:"min=100"`
		Height      int             `yaml:"height" validate:"min=100"`
		JPEGQuality int             `yaml:"jpeg_quality_level" validate:"min=40,max=100"`
	}

	// ReaderConfig tunes reading session behavior.
	ReaderConfig struct {
		ScrollDebounceMs      int  `yaml:"scroll_debounce_ms" validate:"min=0,max=5000"`
		SaveDebounceMs        int  `yaml:"save_debounce_ms" validate:"min=0,max=30000"`
		RestoreMarginPx       int  `yaml:"restore_margin_px" validate:"min=0,max=500"`
		MaxBookmarkGroups     int  `yaml:"max_bookmark_groups" validate:"min=1,max=5"`
		KeepUnresolvedImages  bool `yaml:"keep_unresolved_images"`
		DetectVerticalWriting bool `yaml:"detect_vertical_writing"`
	}

	ExportConfig struct {
		// SectionNameTemplate names exported section files, expanded with
		// book metadata. Empty falls back to spine identifiers.
		SectionNameTemplate   string `yaml:"section_name_template"`
		FileNameTransliterate bool   `yaml:"file_name_transliterate"`
	}

	TranslationConfig struct {
		Enable bool `yaml:"enable"`
		// Endpoint receives paragraph translation requests as JSON.
		Endpoint string `yaml:"endpoint,omitempty" validate:"required_unless=Enable false,omitempty,http_url"`
		// TargetLanguage is the language paragraphs are translated into.
		// Source is always the book's own language.
		TargetLanguage string `yaml:"target_language" validate:"required_unless=Enable false"`
		// ContextSentences is the number of sentences taken from each
		// neighboring paragraph when building translation context.
		ContextSentences int          `yaml:"context_sentences" validate:"min=0,max=10"`
		APIKey           SecretString `yaml:"api_key,omitempty"`
	}

	Config struct {
		Version     int               `yaml:"version" validate:"eq=1"`
		Library     LibraryConfig     `yaml:"library"`
		Reader      ReaderConfig      `yaml:"reader"`
		Thumbnail   ThumbnailConfig   `yaml:"thumbnail"`
		Export      ExportConfig      `yaml:"export"`
		Translation TranslationConfig `yaml:"translation"`
		Logging     LoggingConfig     `yaml:"logging"`
		Reporting   ReporterConfig    `yaml:"reporting"`
	}
)

const (
	// NOTE: must match yaml field name above, alternative is to use struct
	// field name and reflection which I want to avoid for now
	SectionNameTemplateFieldName TemplateFieldName = "section_name_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(SectionNameTemplateFieldName)),
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
