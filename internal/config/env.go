package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(string) (string, bool)

// envReader applies the first non-empty variable among names to a field and
// collects parse errors.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) value(names ...string) (string, string, bool) {
	for _, name := range names {
		if v, ok := r.lookup(name); ok && strings.TrimSpace(v) != "" {
			return name, strings.TrimSpace(v), true
		}
	}
	return "", "", false
}

func (r *envReader) str(dst *string, names ...string) {
	if _, v, ok := r.value(names...); ok {
		*dst = v
	}
}

func (r *envReader) list(dst *[]string, names ...string) {
	if _, v, ok := r.value(names...); ok {
		*dst = splitList(v)
	}
}

func (r *envReader) integer(dst *int, names ...string) {
	if name, v, ok := r.value(names...); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("parse %s: %w", name, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) boolean(dst *bool, names ...string) {
	if name, v, ok := r.value(names...); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("parse %s: %w", name, err))
			return
		}
		*dst = b
	}
}

// duration accepts Go duration strings or a bare number of seconds.
func (r *envReader) duration(dst *time.Duration, names ...string) {
	if name, v, ok := r.value(names...); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("parse %s: %w", name, err))
			return
		}
		*dst = d
	}
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	if _, port, ok := r.value("PORT"); ok {
		cfg.Server.Addr = ":" + port
	}
	r.str(&cfg.Server.Addr, "ONEBREATH_ADDR")
	r.duration(&cfg.Server.RequestTimeout, "ONEBREATH_REQUEST_TIMEOUT")
	r.list(&cfg.Server.CORSOrigins, "ONEBREATH_CORS_ORIGINS")

	r.str(&cfg.Store.Driver, "ONEBREATH_STORE_DRIVER")
	r.str(&cfg.Store.MongoURI, "ONEBREATH_MONGO_URI", "MONGO_URI")
	r.str(&cfg.Store.Database, "ONEBREATH_MONGO_DATABASE", "DATABASE_NAME")
	r.str(&cfg.Store.SamplesCollection, "ONEBREATH_SAMPLES_COLLECTION", "COLLECTION_NAME")
	r.str(&cfg.Store.AnalyzedCollection, "ONEBREATH_ANALYZED_COLLECTION", "ANALYZED_COLLECTION_NAME")
	r.str(&cfg.Store.PostgresDSN, "ONEBREATH_POSTGRES_DSN", "DATABASE_URL")
	r.str(&cfg.Store.SQLitePath, "ONEBREATH_SQLITE_PATH")
	if _, _, ok := r.value("ONEBREATH_STORE_DRIVER"); !ok && cfg.Store.MongoURI != "" {
		cfg.Store.Driver = "mongo"
	}

	r.str(&cfg.Blob.Driver, "ONEBREATH_BLOB_DRIVER")
	r.str(&cfg.Blob.FSRoot, "ONEBREATH_BLOB_FS_ROOT")
	r.str(&cfg.Blob.Bucket, "ONEBREATH_BLOB_BUCKET", "GCS_BUCKET")
	r.str(&cfg.Blob.Region, "ONEBREATH_BLOB_REGION", "AWS_REGION")
	r.str(&cfg.Blob.Endpoint, "ONEBREATH_BLOB_ENDPOINT")
	r.boolean(&cfg.Blob.PathStyle, "ONEBREATH_BLOB_PATH_STYLE")
	r.str(&cfg.Blob.CredentialsFile, "ONEBREATH_BLOB_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")
	r.duration(&cfg.Blob.PresignExpiry, "ONEBREATH_PRESIGN_EXPIRY")
	if _, _, ok := r.value("ONEBREATH_BLOB_DRIVER"); !ok {
		if _, _, gcs := r.value("GCS_BUCKET"); gcs {
			cfg.Blob.Driver = "gcs"
		}
	}

	r.str(&cfg.Auth.Driver, "ONEBREATH_AUTH_DRIVER")
	r.str(&cfg.Auth.ProjectID, "ONEBREATH_FIREBASE_PROJECT", "FIREBASE_PROJECT_ID")
	r.str(&cfg.Auth.CredentialsFile, "ONEBREATH_FIREBASE_CREDENTIALS", "FIREBASE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS")
	r.list(&cfg.Auth.Admins, "ONEBREATH_ADMINS")
	if _, v, ok := r.value("ONEBREATH_STATIC_TOKENS"); ok {
		tokens, err := parsePairs(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("parse ONEBREATH_STATIC_TOKENS: %w", err))
		} else {
			cfg.Auth.StaticTokens = tokens
		}
	}

	r.str(&cfg.Mail.Host, "MAIL_SERVER")
	r.integer(&cfg.Mail.Port, "MAIL_PORT")
	r.str(&cfg.Mail.Username, "MAIL_USERNAME")
	r.str(&cfg.Mail.Password, "MAIL_PASSWORD")
	r.str(&cfg.Mail.From, "MAIL_DEFAULT_SENDER", "MAIL_USERNAME")
	r.list(&cfg.Mail.Recipients, "RECIPIENT_EMAILS")

	r.str(&cfg.SMS.AccountSID, "TWILIO_ACCOUNT_SID")
	r.str(&cfg.SMS.AuthToken, "TWILIO_AUTH_TOKEN")
	r.str(&cfg.SMS.From, "TWILIO_PHONE_NUMBER")
	r.list(&cfg.SMS.Recipients, "RECIPIENT_PHONE_NUMBERS")

	if _, key, ok := r.value("GEMINI_API_KEY"); ok {
		cfg.LLM.APIKey = key
		cfg.LLM.Provider = "gemini"
	}
	if _, key, ok := r.value("OPENAI_API_KEY"); ok {
		cfg.LLM.APIKey = key
		cfg.LLM.Provider = "openai"
	}
	r.str(&cfg.LLM.Provider, "ONEBREATH_LLM_PROVIDER")
	r.str(&cfg.LLM.Model, "ONEBREATH_LLM_MODEL")
	r.str(&cfg.LLM.BaseURL, "ONEBREATH_LLM_BASE_URL")
	r.duration(&cfg.LLM.Timeout, "ONEBREATH_LLM_TIMEOUT")
	r.integer(&cfg.LLM.MaxRetries, "ONEBREATH_LLM_MAX_RETRIES")

	r.duration(&cfg.Analysis.CacheTTL, "ONEBREATH_ANALYSIS_CACHE_TTL")
	r.integer(&cfg.Analysis.CacheCapacity, "ONEBREATH_ANALYSIS_CACHE_CAPACITY")
	r.integer(&cfg.Analysis.MaxRecords, "ONEBREATH_ANALYSIS_MAX_RECORDS")

	r.boolean(&cfg.Monitor.Enabled, "ONEBREATH_MONITOR_ENABLED")
	r.duration(&cfg.Monitor.Interval, "ONEBREATH_MONITOR_INTERVAL")
	r.duration(&cfg.Monitor.NudgeInterval, "ONEBREATH_MONITOR_NUDGE_INTERVAL")
	r.duration(&cfg.Monitor.ProcessingDuration, "ONEBREATH_PROCESSING_DURATION")
	r.boolean(&cfg.Monitor.NotifyOnFailure, "ONEBREATH_MONITOR_NOTIFY_ON_FAILURE")

	r.str(&cfg.Logging.Level, "ONEBREATH_LOG_LEVEL")
	r.str(&cfg.Logging.Format, "ONEBREATH_LOG_FORMAT")

	return errors.Join(r.errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePairs reads "token=uid,token2=uid2".
func parsePairs(v string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range splitList(v) {
		k, val, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(val) == "" {
			return nil, fmt.Errorf("invalid pair %q", item)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out, nil
}
