package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

type ModelConfig struct {
	Name       string     `toml:"name" mapstructure:"name"`
	File       string     `toml:"file" mapstructure:"file"`
	Labels     string     `toml:"labels" mapstructure:"labels"`
	ImageSize  int        `toml:"image_size" mapstructure:"image_size"`
	Mean       [3]float32 `toml:"mean" mapstructure:"mean"`
	Std        [3]float32 `toml:"std" mapstructure:"std"`
	Activation string     `toml:"activation" mapstructure:"activation"`
	TopK       int        `toml:"top_k" mapstructure:"top_k"`
	Sessions   int        `toml:"sessions" mapstructure:"sessions"`
}

type Config struct {
	Token    string `toml:"token" mapstructure:"token"`
	Host     string `toml:"host" mapstructure:"host"`
	Port     string `toml:"port" mapstructure:"port"`
	Libonnx  string `toml:"libonnx" mapstructure:"libonnx"`
	LogLevel string `toml:"log_level" mapstructure:"log_level"`

	ModelDir string        `toml:"model_dir" mapstructure:"model_dir"`
	Models   []ModelConfig `toml:"models" mapstructure:"models"`
}

var ErrDuplicateModel = errors.New("duplicate model name")

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Default returns the built-in configuration used when no config file exists.
func Default() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     "8000",
		LogLevel: "info",
		ModelDir: "models",
		Models: []ModelConfig{
			imagenetModel("FastViT", "fastvit_t8.onnx", 256),
			imagenetModel("ResNet50", "resnet50.onnx", 224),
			imagenetModel("MobileNetV2", "mobilenetv2.onnx", 224),
		},
	}
}

func imagenetModel(name, file string, size int) ModelConfig {
	return ModelConfig{
		Name:       name,
		File:       file,
		Labels:     "imagenet_labels.txt",
		ImageSize:  size,
		Mean:       imagenetMean,
		Std:        imagenetStd,
		Activation: "softmax",
		TopK:       5,
		Sessions:   1,
	}
}

var (
	cfg      = Default()
	loadOnce sync.Once
)

// Path returns the config file location, overridable with CONFIG_PATH.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.toml"
}

func C() Config {
	loadOnce.Do(func() {
		if _, err := os.Stat(Path()); err == nil {
			data, err := os.ReadFile(Path())
			if err != nil {
				panic(err)
			}
			c, err := Parse(data)
			if err != nil {
				panic(err)
			}
			cfg = c
		}
	})
	return cfg
}

// Parse decodes TOML on top of the defaults. A [[models]] array replaces the
// default model list; zero fields of each entry are filled from the defaults.
// Model names must be unique.
func Parse(data []byte) (Config, error) {
	c := Default()
	c.Models = nil
	if err := toml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	if len(c.Models) == 0 {
		c.Models = Default().Models
	}
	seen := make(map[string]bool, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if seen[m.Name] {
			return Config{}, fmt.Errorf("%w: %q", ErrDuplicateModel, m.Name)
		}
		seen[m.Name] = true
		if m.ImageSize <= 0 {
			m.ImageSize = 224
		}
		if m.Std == [3]float32{} {
			m.Mean, m.Std = imagenetMean, imagenetStd
		}
		if m.Activation == "" {
			m.Activation = "softmax"
		}
		if m.TopK <= 0 {
			m.TopK = 5
		}
		if m.Sessions <= 0 {
			m.Sessions = 1
		}
	}
	return c, nil
}
