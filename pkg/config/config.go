package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Vision struct {
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"vision"`

	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		TimeoutMS   int     `yaml:"timeout_ms"`
	} `yaml:"llm"`

	Embedding struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"embedding"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Storage struct {
		ResultPath    string `yaml:"result_path"`
		MaxFileSizeMB int64  `yaml:"max_file_size_mb"`
		DPI           int    `yaml:"dpi"`
	} `yaml:"storage"`

	Ingest struct {
		ChunkSize    int     `yaml:"chunk_size"`
		ChunkOverlap int     `yaml:"chunk_overlap"`
		Workers      int     `yaml:"workers"`
		RateLimit    float64 `yaml:"rate_limit"`
	} `yaml:"ingest"`

	Query struct {
		TopK int `yaml:"top_k"`
	} `yaml:"query"`

	Server struct {
		Port   string `yaml:"port"`
		Prefix string `yaml:"prefix"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/visdoc/config.yaml"),
			"/etc/visdoc/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Vision.BaseURL == "" {
		config.Vision.BaseURL = "http://localhost:58123/v1"
	}
	if config.Vision.Model == "" {
		config.Vision.Model = "/function/vllm/model"
	}
	if config.Vision.TimeoutMS == 0 {
		config.Vision.TimeoutMS = 600000 // vllm serving limit for large page renders
	}

	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:58123/v1"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "/models/qwen2.5-7b"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.TimeoutMS == 0 {
		config.LLM.TimeoutMS = 120000
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "bge-large-zh-v1.5"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "pdf_documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 1024
	}

	if config.Storage.ResultPath == "" {
		config.Storage.ResultPath = "./data/results"
	}
	if config.Storage.MaxFileSizeMB == 0 {
		config.Storage.MaxFileSizeMB = 50
	}
	if config.Storage.DPI == 0 {
		config.Storage.DPI = 200
	}

	if config.Ingest.ChunkSize == 0 {
		config.Ingest.ChunkSize = 300
	}
	if config.Ingest.ChunkOverlap == 0 {
		config.Ingest.ChunkOverlap = 30
	}
	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}
	if config.Ingest.RateLimit == 0 {
		config.Ingest.RateLimit = 2.0
	}

	if config.Query.TopK == 0 {
		config.Query.TopK = 3
	}

	if config.Server.Port == "" {
		config.Server.Port = "8000"
	}
	if config.Server.Prefix == "" {
		config.Server.Prefix = "/api/v1"
	}
}

func mergeWithEnv(config *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if visionURL := os.Getenv("VLM_API_URL"); visionURL != "" {
		config.Vision.BaseURL = visionURL
	}
	if llmURL := os.Getenv("LLM_API_URL"); llmURL != "" {
		config.LLM.BaseURL = llmURL
	}
	if embedURL := os.Getenv("OLLAMA_BASE_URL"); embedURL != "" {
		config.Embedding.BaseURL = embedURL
	}
}
