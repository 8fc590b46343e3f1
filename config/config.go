package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Graph Database (entity store)
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Redis (embedding cache store)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Embedding provider
	OpenAIAPIKey       string        `env:"OPENAI_API_KEY" env-default:""`
	EmbeddingModel     string        `env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingCacheTTL  time.Duration `env:"EMBEDDING_CACHE_TTL" env-default:"1h"`
	EmbeddingCacheSize int           `env:"EMBEDDING_CACHE_MAX_ENTITIES" env-default:"1000"`

	// Resolution
	MatchThreshold      float64       `env:"MATCH_THRESHOLD" env-default:"0.85"`
	SimilarityThreshold float64       `env:"SIMILARITY_THRESHOLD" env-default:"0.85"`
	FuzzyThreshold      float64       `env:"FUZZY_THRESHOLD" env-default:"80"`
	ExactMatchLimit     int           `env:"EXACT_MATCH_LIMIT" env-default:"10"`
	FuzzyMatchLimit     int           `env:"FUZZY_MATCH_LIMIT" env-default:"100"`
	ClusteringLimit     int           `env:"CLUSTERING_LIMIT" env-default:"500"`
	ClusteringEps       float64       `env:"CLUSTERING_EPS" env-default:"0.3"`
	ClusteringMinPoints int           `env:"CLUSTERING_MIN_POINTS" env-default:"2"`
	StrategyTimeout     time.Duration `env:"STRATEGY_TIMEOUT" env-default:"5s"`

	// Kafka Producer (resolution lifecycle events)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic     string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"entity-events"`
	KafkaProducerEnabled bool     `env:"KAFKA_PRODUCER_ENABLED" env-default:"true"`
	KafkaBatchSize       int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks    int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression     string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
}
