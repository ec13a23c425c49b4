// Package config provides XML-based configuration for the upload server.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"UploadHub"`

	Server   ServerConfig   `xml:"Server"`
	Storage  StorageConfig  `xml:"Storage"`
	Upload   UploadConfig   `xml:"Upload"`
	S3       S3Config       `xml:"S3"`
	MinIO    MinIOConfig    `xml:"MinIO"`
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains settings for files received by this server
type StorageConfig struct {
	DataDirectory     string `xml:"DataDirectory"`
	UploadsDirectory  string `xml:"UploadsDirectory"`
	CatalogPath       string `xml:"CatalogPath"`
	AllowFileDeletion bool   `xml:"AllowFileDeletion"`
}

// Field is a name/value pair, used for extra headers and form fields.
type Field struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// UploadConfig controls the upload manager and its transfer channel
type UploadConfig struct {
	// Transport is one of "http", "websocket", "s3", "minio".
	Transport   string  `xml:"Transport"`
	Action      string  `xml:"Action"`
	FieldName   string  `xml:"FieldName"`
	Headers     []Field `xml:"Headers>Header"`
	FormData    []Field `xml:"FormData>Field"`
	ChunkSizeKB int     `xml:"ChunkSizeKB"`
	MaxFileSize string  `xml:"MaxFileSize"`
	Accept      string  `xml:"Accept"`
	Compress    bool    `xml:"Compress"`
	SeedFile    string  `xml:"SeedFile"`
}

// S3Config configures the s3 transport
type S3Config struct {
	Bucket    string `xml:"Bucket"`
	Prefix    string `xml:"Prefix"`
	Region    string `xml:"Region"`
	Endpoint  string `xml:"Endpoint"`
	PathStyle bool   `xml:"PathStyle"`
	AccessKey string `xml:"AccessKey"`
	SecretKey string `xml:"SecretKey"`
}

// MinIOConfig configures the minio transport
type MinIOConfig struct {
	Endpoint  string `xml:"Endpoint"`
	Bucket    string `xml:"Bucket"`
	Prefix    string `xml:"Prefix"`
	Region    string `xml:"Region"`
	AccessKey string `xml:"AccessKey"`
	SecretKey string `xml:"SecretKey"`
	UseSSL    bool   `xml:"UseSSL"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "2G",
		},
		Storage: StorageConfig{
			DataDirectory:     "./data",
			UploadsDirectory:  "./data/uploads",
			CatalogPath:       "./data/catalog.duckdb",
			AllowFileDeletion: true,
		},
		Upload: UploadConfig{
			Transport:   "http",
			Action:      "http://127.0.0.1:8089/api/files/upload",
			FieldName:   "file",
			ChunkSizeKB: 256,
			MaxFileSize: "2G",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "256MB",
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &AppConfig{}
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- UploadHub Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *AppConfig) Validate() error {
	switch c.Upload.Transport {
	case "http", "websocket", "s3", "minio":
	default:
		return fmt.Errorf("invalid Upload.Transport %q (want http, websocket, s3 or minio)", c.Upload.Transport)
	}
	if _, err := ParseSize(c.Upload.MaxFileSize); err != nil {
		return fmt.Errorf("invalid Upload.MaxFileSize: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid Server.Port %d", c.Server.Port)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if action := os.Getenv("UPLOAD_ACTION"); action != "" {
		c.Upload.Action = action
	}

	if transport := os.Getenv("UPLOAD_TRANSPORT"); transport != "" {
		c.Upload.Transport = strings.ToLower(transport)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	resolve(&c.Storage.DataDirectory)
	resolve(&c.Storage.UploadsDirectory)
	resolve(&c.Storage.CatalogPath)
	resolve(&c.Upload.SeedFile)
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// MaxFileSizeBytes returns Upload.MaxFileSize in bytes, zero for no limit.
func (c *AppConfig) MaxFileSizeBytes() int64 {
	n, _ := ParseSize(c.Upload.MaxFileSize)
	return n
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}
	if c.Storage.CatalogPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.CatalogPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// FieldMap flattens a field list; later entries win.
func FieldMap(fields []Field) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value
	}
	return m
}

// ParseSize parses sizes such as "512", "64K", "10MB", "2G". Empty means zero.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "B")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
	case strings.HasSuffix(s, "T"):
		mult = 1 << 40
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
