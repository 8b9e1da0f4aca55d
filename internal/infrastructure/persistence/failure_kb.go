package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/agentcore/agentcore/internal/domain/failure"
)

// NewFailureKnowledgeBase builds the cross-session failure-pattern store
// (§5's "failure pattern knowledge base (JSON file...)"): backed by Redis
// when redisURL is non-empty, falling back to the named JSON file the spec
// names when it is not.
func NewFailureKnowledgeBase(redisURL, jsonPath string, log *zap.Logger) failure.KnowledgeBase {
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err == nil {
			return &redisKnowledgeBase{client: redis.NewClient(opt), log: log}
		}
		log.Warn("failure kb: invalid REDIS_URL, falling back to JSON file", zap.Error(err))
	}
	return newJSONFileKnowledgeBase(jsonPath, log)
}

// --- Redis-backed store ---

// redisKnowledgeBase keys each tool/type pairing as a hash, incrementing a
// count and refreshing a last-seen timestamp on every Record — cheap enough
// to call synchronously from Observer.Observe.
type redisKnowledgeBase struct {
	client *redis.Client
	log    *zap.Logger
}

func failureKBKey(toolName string, typ failure.Type) string {
	return fmt.Sprintf("agentcore:failure_kb:%s:%s", toolName, typ)
}

func (r *redisKnowledgeBase) Record(signal failure.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := failureKBKey(signal.ToolName, signal.Type)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_seen", signal.Timestamp.Format(time.RFC3339))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("failure kb: redis record failed", zap.Error(err))
	}
}

func (r *redisKnowledgeBase) Lookup(toolName string, failureType failure.Type) (int, time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vals, err := r.client.HGetAll(ctx, failureKBKey(toolName, failureType)).Result()
	if err != nil || len(vals) == 0 {
		return 0, time.Time{}
	}
	count := 0
	fmt.Sscanf(vals["count"], "%d", &count)
	lastSeen, _ := time.Parse(time.RFC3339, vals["last_seen"])
	return count, lastSeen
}

// --- JSON-file-backed store ---

type jsonKBEntry struct {
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// jsonFileKnowledgeBase is the dependency-free fallback: one small JSON
// document, read fully on Lookup/Record and rewritten on every Record — fine
// at the scale a single-box deployment without Redis actually sees.
type jsonFileKnowledgeBase struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

func newJSONFileKnowledgeBase(path string, log *zap.Logger) *jsonFileKnowledgeBase {
	if path == "" {
		path = "failure_patterns.json"
	}
	return &jsonFileKnowledgeBase{path: path, log: log}
}

func (j *jsonFileKnowledgeBase) load() map[string]jsonKBEntry {
	entries := make(map[string]jsonKBEntry)
	data, err := os.ReadFile(j.path)
	if err != nil {
		return entries
	}
	_ = json.Unmarshal(data, &entries)
	return entries
}

func (j *jsonFileKnowledgeBase) save(entries map[string]jsonKBEntry) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(j.path, data, 0o644); err != nil {
		j.log.Warn("failure kb: writing json store failed", zap.Error(err))
	}
}

func (j *jsonFileKnowledgeBase) Record(signal failure.Signal) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.load()
	key := string(failureKBKeyJSON(signal.ToolName, signal.Type))
	e := entries[key]
	e.Count++
	e.LastSeen = signal.Timestamp
	entries[key] = e
	j.save(entries)
}

func (j *jsonFileKnowledgeBase) Lookup(toolName string, failureType failure.Type) (int, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.load()
	e, ok := entries[string(failureKBKeyJSON(toolName, failureType))]
	if !ok {
		return 0, time.Time{}
	}
	return e.Count, e.LastSeen
}

func failureKBKeyJSON(toolName string, typ failure.Type) string {
	return toolName + "|" + string(typ)
}
