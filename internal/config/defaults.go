package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".kioku/records.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = ".kioku/index.bin"
	}
	if cfg.Storage.IndexType == "" {
		cfg.Storage.IndexType = "memory"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = ".kioku/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
}
