package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr string `yaml:"elasticsearch_addr"`
	NewsIndex         string `yaml:"news_index"`
	LedgerIndex       string `yaml:"ledger_index"`
	RelationshipIndex string `yaml:"relationship_index"`
}

// LLM configures the OpenAI-compatible endpoint used for extraction and embeddings.
type LLM struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
	RPM            int           `yaml:"rpm"`
}

// Vector selects and configures the vector store backend.
type Vector struct {
	Backend    string `yaml:"backend"`
	Index      string `yaml:"index"`
	SQLitePath string `yaml:"sqlite_path"`
	Dimensions int    `yaml:"dimensions"`
}

// Analysis bounds the pre-summarization of long articles.
type Analysis struct {
	ChunkThreshold  int `yaml:"chunk_threshold"`
	ChunkSize       int `yaml:"chunk_size"`
	MaxSummaryDepth int `yaml:"max_summary_depth"`
}

// Sources holds credentials and transport settings for the fetchers.
type Sources struct {
	NewsAPIKey    string        `yaml:"newsapi_key"`
	NewsAPIURL    string        `yaml:"newsapi_url"`
	RSSFeeds      []string      `yaml:"rss_feeds"`
	TwitterBearer string        `yaml:"twitter_bearer"`
	TwitterURL    string        `yaml:"twitter_url"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	UserAgent     string        `yaml:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	FullArticles  bool          `yaml:"full_articles"`
}

// Aggregator sizes the fetch fan-out and the result budget.
type Aggregator struct {
	Workers int `yaml:"workers"`
	Budget  int `yaml:"budget"`
}

// Ledger configures cross-run deduplication.
type Ledger struct {
	Preload    int           `yaml:"preload"`
	Window     int           `yaml:"window"`
	WindowTTL  time.Duration `yaml:"window_ttl"`
	Similarity float64       `yaml:"similarity"`
}

// Kafka describes the candidate hand-off topic.
type Kafka struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// Collector holds configuration for the aggregation -> Kafka loop.
type Collector struct {
	Common
	Sources    Sources
	Aggregator Aggregator
	Ledger     Ledger
	Kafka      Kafka
	Interval   time.Duration
	Queries    []string
}

// Worker holds configuration for the Kafka -> analysis worker.
type Worker struct {
	Common
	LLM       LLM
	Vector    Vector
	Analysis  Analysis
	Kafka     Kafka
	BatchSize int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	LLM         LLM
	Vector      Vector
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Retention configures the ledger cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// CLI is the configuration newsctl runs with.
type CLI struct {
	Common     `yaml:",inline"`
	Sources    Sources    `yaml:"sources"`
	Aggregator Aggregator `yaml:"aggregator"`
	Ledger     Ledger     `yaml:"ledger"`
	LLM        LLM        `yaml:"llm"`
	Vector     Vector     `yaml:"vector"`
	Analysis   Analysis   `yaml:"analysis"`
}

// Masked returns a copy with credentials replaced for display.
func (c CLI) Masked() CLI {
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Sources.NewsAPIKey = mask(c.Sources.NewsAPIKey)
	c.Sources.TwitterBearer = mask(c.Sources.TwitterBearer)
	return c
}

// LoadCollector builds a Collector config from the environment and CONFIG_FILE.
func LoadCollector() (*Collector, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	c := &Collector{
		Common:     loadCommon(v),
		Sources:    loadSources(v),
		Aggregator: loadAggregator(v),
		Ledger:     loadLedger(v),
		Kafka:      loadKafka(v),
		Interval:   getDuration(v, "COLLECTOR_INTERVAL", "5m"),
		Queries:    splitAndTrim(getEnv(v, "COLLECTOR_QUERIES", "stock market")),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("COLLECTOR_INTERVAL must be positive")
	}
	if len(c.Queries) == 0 {
		return nil, fmt.Errorf("COLLECTOR_QUERIES must contain at least one query")
	}
	if err := c.Kafka.validate(); err != nil {
		return nil, err
	}
	if err := c.Aggregator.validate(); err != nil {
		return nil, err
	}
	if err := c.Ledger.validate(); err != nil {
		return nil, err
	}
	if err := c.Sources.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadWorker builds a Worker config from the environment and CONFIG_FILE.
func LoadWorker() (*Worker, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	c := &Worker{
		Common:    loadCommon(v),
		LLM:       loadLLM(v),
		Vector:    loadVector(v),
		Analysis:  loadAnalysis(v),
		Kafka:     loadKafka(v),
		BatchSize: getInt(v, "WORKER_BATCH_SIZE", 10),
	}

	if err := c.Kafka.validate(); err != nil {
		return nil, err
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("WORKER_BATCH_SIZE must be positive")
	}
	if err := c.LLM.validate(); err != nil {
		return nil, err
	}
	if err := c.Vector.validate(); err != nil {
		return nil, err
	}
	if err := c.Analysis.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadAPI builds an API config from the environment and CONFIG_FILE.
func LoadAPI() (*API, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	c := &API{
		Common:      loadCommon(v),
		LLM:         loadLLM(v),
		Vector:      loadVector(v),
		BindAddr:    getEnv(v, "API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage: getInt(v, "API_PAGE_SIZE", 20),
		MaxPage:     getInt(v, "API_MAX_PAGE_SIZE", 100),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if err := c.LLM.validate(); err != nil {
		return nil, err
	}
	if err := c.Vector.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadRetention builds a Retention config from the environment and CONFIG_FILE.
func LoadRetention() (*Retention, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	c := &Retention{
		Common:    loadCommon(v),
		Interval:  getDuration(v, "RETENTION_CRON", "24h"),
		MaxAge:    getDuration(v, "RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt(v, "RETENTION_BATCH_SIZE", 500),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadCLI builds the newsctl config. configFile overrides CONFIG_FILE when set.
func LoadCLI(configFile string) (*CLI, error) {
	v, err := newViperWithFile(configFile)
	if err != nil {
		return nil, err
	}

	c := &CLI{
		Common:     loadCommon(v),
		Sources:    loadSources(v),
		Aggregator: loadAggregator(v),
		Ledger:     loadLedger(v),
		LLM:        loadLLM(v),
		Vector:     loadVector(v),
		Analysis:   loadAnalysis(v),
	}

	if err := c.Aggregator.validate(); err != nil {
		return nil, err
	}
	if err := c.Ledger.validate(); err != nil {
		return nil, err
	}
	if err := c.Sources.validate(); err != nil {
		return nil, err
	}
	if err := c.LLM.validate(); err != nil {
		return nil, err
	}
	if err := c.Vector.validate(); err != nil {
		return nil, err
	}
	if err := c.Analysis.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func loadCommon(v *viper.Viper) Common {
	return Common{
		ElasticsearchAddr: getEnv(v, "ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		NewsIndex:         getEnv(v, "NEWS_INDEX", "news_analysis"),
		LedgerIndex:       getEnv(v, "LEDGER_INDEX", "news_ledger"),
		RelationshipIndex: getEnv(v, "RELATIONSHIP_INDEX", "entity_relationships"),
	}
}

func loadLLM(v *viper.Viper) LLM {
	return LLM{
		BaseURL:        getEnv(v, "LLM_BASE_URL", ""),
		APIKey:         getEnv(v, "LLM_API_KEY", ""),
		Model:          getEnv(v, "LLM_MODEL", "gpt-4o-mini"),
		EmbeddingModel: getEnv(v, "LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		Timeout:        getDuration(v, "LLM_TIMEOUT", "15s"),
		RPM:            getInt(v, "LLM_RPM", 60),
	}
}

func loadVector(v *viper.Viper) Vector {
	return Vector{
		Backend:    strings.ToLower(getEnv(v, "VECTOR_BACKEND", "elasticsearch")),
		Index:      getEnv(v, "VECTOR_INDEX", "news_vectors"),
		SQLitePath: getEnv(v, "VECTOR_SQLITE_PATH", "data/vectors.db"),
		Dimensions: getInt(v, "EMBEDDING_DIMENSIONS", 1536),
	}
}

func loadAnalysis(v *viper.Viper) Analysis {
	return Analysis{
		ChunkThreshold:  getInt(v, "ANALYSIS_CHUNK_THRESHOLD", 4000),
		ChunkSize:       getInt(v, "ANALYSIS_CHUNK_SIZE", 1000),
		MaxSummaryDepth: getInt(v, "ANALYSIS_MAX_SUMMARY_DEPTH", 3),
	}
}

func loadSources(v *viper.Viper) Sources {
	return Sources{
		NewsAPIKey:    getEnv(v, "NEWSAPI_KEY", ""),
		NewsAPIURL:    getEnv(v, "NEWSAPI_URL", "https://newsapi.org/v2/everything"),
		RSSFeeds:      splitAndTrim(getEnv(v, "RSS_FEEDS", "https://finance.yahoo.com/rss/")),
		TwitterBearer: getEnv(v, "TWITTER_BEARER", ""),
		TwitterURL:    getEnv(v, "TWITTER_URL", "https://api.twitter.com/2/tweets/search/recent"),
		FetchTimeout:  getDuration(v, "FETCH_TIMEOUT", "12s"),
		UserAgent:     getEnv(v, "FETCH_USER_AGENT", "market-news-radar/1.0"),
		MaxBodyBytes:  int64(getInt(v, "FETCH_MAX_BODY_BYTES", 2<<20)),
		FullArticles:  getBool(v, "RSS_FULL_ARTICLES", true),
	}
}

func loadAggregator(v *viper.Viper) Aggregator {
	return Aggregator{
		Workers: getInt(v, "AGGREGATOR_WORKERS", 5),
		Budget:  getInt(v, "AGGREGATOR_BUDGET", 10),
	}
}

func loadLedger(v *viper.Viper) Ledger {
	return Ledger{
		Preload:    getInt(v, "LEDGER_PRELOAD", 1000),
		Window:     getInt(v, "LEDGER_WINDOW", 500),
		WindowTTL:  getDuration(v, "LEDGER_WINDOW_TTL", "72h"),
		Similarity: getFloat(v, "LEDGER_SIMILARITY", 0.9),
	}
}

func loadKafka(v *viper.Viper) Kafka {
	return Kafka{
		Brokers:       splitAndTrim(getEnv(v, "KAFKA_BROKERS", "kafka:9092")),
		Topic:         getEnv(v, "KAFKA_TOPIC", "news_candidates"),
		ConsumerGroup: getEnv(v, "KAFKA_CONSUMER_GROUP", "news-analyzer"),
	}
}

func (k Kafka) validate() error {
	if len(k.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	return nil
}

func (a Aggregator) validate() error {
	if a.Workers <= 0 {
		return fmt.Errorf("AGGREGATOR_WORKERS must be positive")
	}
	if a.Budget <= 0 {
		return fmt.Errorf("AGGREGATOR_BUDGET must be positive")
	}
	return nil
}

func (l Ledger) validate() error {
	if l.Preload < 0 {
		return fmt.Errorf("LEDGER_PRELOAD cannot be negative")
	}
	if l.Window <= 0 {
		return fmt.Errorf("LEDGER_WINDOW must be positive")
	}
	if l.Similarity <= 0 || l.Similarity > 1 {
		return fmt.Errorf("LEDGER_SIMILARITY must be in (0, 1]")
	}
	return nil
}

func (s Sources) validate() error {
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("FETCH_MAX_BODY_BYTES must be positive")
	}
	return nil
}

func (l LLM) validate() error {
	if l.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if l.RPM <= 0 {
		return fmt.Errorf("LLM_RPM must be positive")
	}
	return nil
}

func (v Vector) validate() error {
	switch v.Backend {
	case "elasticsearch", "sqlite", "memory":
	default:
		return fmt.Errorf("VECTOR_BACKEND must be elasticsearch, sqlite or memory, got %q", v.Backend)
	}
	if v.Dimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}
	return nil
}

func (a Analysis) validate() error {
	if a.ChunkSize <= 0 {
		return fmt.Errorf("ANALYSIS_CHUNK_SIZE must be positive")
	}
	if a.ChunkThreshold < a.ChunkSize {
		return fmt.Errorf("ANALYSIS_CHUNK_THRESHOLD cannot be below ANALYSIS_CHUNK_SIZE")
	}
	if a.MaxSummaryDepth <= 0 {
		return fmt.Errorf("ANALYSIS_MAX_SUMMARY_DEPTH must be positive")
	}
	return nil
}

func newViper() (*viper.Viper, error) {
	return newViperWithFile("")
}

func newViperWithFile(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	if configFile == "" {
		configFile = strings.TrimSpace(v.GetString("CONFIG_FILE"))
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

func getEnv(v *viper.Viper, key, fallback string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return fallback
}

func getInt(v *viper.Viper, key string, fallback int) int {
	if s := getEnv(v, key, ""); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(v *viper.Viper, key string, fallback float64) float64 {
	if s := getEnv(v, key, ""); s != "" {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(v *viper.Viper, key string, fallback bool) bool {
	if s := getEnv(v, key, ""); s != "" {
		if parsed, err := strconv.ParseBool(s); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(v *viper.Viper, key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(v, key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + "****" + secret[len(secret)-2:]
}
