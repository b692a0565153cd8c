package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// defaultUserAgents is the process-wide fallback when neither the user
// nor the shared collection has an agent bank.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

type userAgentBank struct {
	Agents []string `json:"agents"`
	Index  int      `json:"index"`
}

// LoadUserAgentFile reads a YAML list of user agents for seeding the
// shared collection.
func LoadUserAgentFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var agents []string
	if err := yaml.Unmarshal(raw, &agents); err != nil {
		return nil, fmt.Errorf("user agent file %s is malformed: %w", path, err)
	}
	return agents, nil
}

// SeedUserAgents writes the shared agent collection
// (USERAGENTS / COLLECTION).
func (s *Store) SeedUserAgents(ctx context.Context, agents []string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(agents)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, userAgentsKey, rowCollection, data).Err()
}

func (s *Store) sharedUserAgents(ctx context.Context) []string {
	raw, err := s.rdb.HGet(ctx, userAgentsKey, rowCollection).Result()
	if errors.Is(err, redis.Nil) || err != nil {
		return defaultUserAgents
	}
	var agents []string
	if err := json.Unmarshal([]byte(raw), &agents); err != nil || len(agents) == 0 {
		return defaultUserAgents
	}
	return agents
}

// NextUserAgent rotates through the user's persisted agent bank,
// seeding it from the shared collection on first use.
func (s *Store) NextUserAgent(ctx context.Context, userID string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var bank userAgentBank
	raw, err := s.rdb.HGet(ctx, userKey(userID), rowUserAgent).Result()
	switch {
	case errors.Is(err, redis.Nil):
		bank = userAgentBank{Agents: s.sharedUserAgents(ctx)}
	case err != nil:
		return "", err
	default:
		if err := json.Unmarshal([]byte(raw), &bank); err != nil || len(bank.Agents) == 0 {
			bank = userAgentBank{Agents: s.sharedUserAgents(ctx)}
		}
	}

	agent := bank.Agents[bank.Index%len(bank.Agents)]
	bank.Index = (bank.Index + 1) % len(bank.Agents)

	data, err := json.Marshal(bank)
	if err != nil {
		return "", err
	}
	if err := s.rdb.HSet(ctx, userKey(userID), rowUserAgent, data).Err(); err != nil {
		return "", err
	}
	return agent, nil
}
