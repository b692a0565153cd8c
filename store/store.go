// Package store persists pipeline state in Redis using the partition
// layout USER#{userId}, CASE#{caseNumber} and NAMESEARCH#{searchId},
// one hash per partition with a field per row.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/zipcase/zipcase"
)

// Row names within a partition hash.
const (
	rowCredentials = "PORTAL_CREDENTIALS"
	rowSession     = "SESSION"
	rowUserAgent   = "USER-AGENT"
	rowAPIKey      = "API_KEY"
	rowWebhook     = "WEBHOOK_SETTINGS"
	rowID          = "ID"
	rowSummary     = "SUMMARY"
	rowCollection  = "COLLECTION"

	userAgentsKey = "USERAGENTS"
)

// NameSearchTTL is how long a name search entry lives.
const NameSearchTTL = 24 * time.Hour

// OpTimeout bounds every single store operation.
const OpTimeout = 10 * time.Second

func userKey(userID string) string     { return "USER#" + userID }
func caseKey(caseNumber string) string { return "CASE#" + caseNumber }
func searchKey(searchID string) string { return "NAMESEARCH#" + searchID }

// Store wraps the Redis client with the pipeline's persistence
// operations. Per-key updates are last-writer-wins except
// TryTransition, which conditions on the current status.
type Store struct {
	rdb    *redis.Client
	sealer *Sealer
	logger logrus.FieldLogger
}

func New(rdb *redis.Client, sealer *Sealer, logger logrus.FieldLogger) *Store {
	return &Store{rdb: rdb, sealer: sealer, logger: logger}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, OpTimeout)
}

// Ping reports whether Redis is reachable; the health endpoint uses it.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// ---- credentials ----

func (s *Store) SaveCredentials(ctx context.Context, userID string, creds zipcase.PortalCredentials) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	sealedUser, err := s.sealer.Seal(creds.Username)
	if err != nil {
		return err
	}
	sealedPass, err := s.sealer.Seal(creds.Password)
	if err != nil {
		return err
	}
	data, err := json.Marshal(zipcase.PortalCredentials{
		Username: sealedUser,
		Password: sealedPass,
		IsBad:    creds.IsBad,
	})
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, userKey(userID), rowCredentials, data).Err()
}

// GetCredentials returns nil when the user has never saved portal
// credentials.
func (s *Store) GetCredentials(ctx context.Context, userID string) (*zipcase.PortalCredentials, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.rdb.HGet(ctx, userKey(userID), rowCredentials).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sealed zipcase.PortalCredentials
	if err := json.Unmarshal([]byte(raw), &sealed); err != nil {
		return nil, fmt.Errorf("stored credentials for %s are malformed: %w", userID, err)
	}
	username, err := s.sealer.Open(sealed.Username)
	if err != nil {
		return nil, err
	}
	password, err := s.sealer.Open(sealed.Password)
	if err != nil {
		return nil, err
	}
	return &zipcase.PortalCredentials{Username: username, Password: password, IsBad: sealed.IsBad}, nil
}

func (s *Store) MarkCredentialsBad(ctx context.Context, userID string, bad bool) error {
	creds, err := s.GetCredentials(ctx, userID)
	if err != nil {
		return err
	}
	if creds == nil {
		return nil
	}
	creds.IsBad = bad
	return s.SaveCredentials(ctx, userID, *creds)
}

// ---- sessions ----

func (s *Store) SaveSession(ctx context.Context, userID string, session zipcase.UserSession) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, userKey(userID), rowSession, data).Err()
}

func (s *Store) GetSession(ctx context.Context, userID string) (*zipcase.UserSession, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.rdb.HGet(ctx, userKey(userID), rowSession).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session zipcase.UserSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("stored session for %s is malformed: %w", userID, err)
	}
	return &session, nil
}

// ---- cases ----

func (s *Store) GetCase(ctx context.Context, caseNumber string) (*zipcase.ZipCase, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.rdb.HGet(ctx, caseKey(caseNumber), rowID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var zc zipcase.ZipCase
	if err := json.Unmarshal([]byte(raw), &zc); err != nil {
		return nil, fmt.Errorf("stored case %s is malformed: %w", caseNumber, err)
	}
	return &zc, nil
}

// GetCases batch-loads case records. Missing case numbers are absent
// from the returned map.
func (s *Store) GetCases(ctx context.Context, caseNumbers []string) (map[string]zipcase.ZipCase, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(caseNumbers))
	for _, cn := range caseNumbers {
		cmds[cn] = pipe.HGet(ctx, caseKey(cn), rowID)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result := make(map[string]zipcase.ZipCase, len(caseNumbers))
	for cn, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var zc zipcase.ZipCase
		if err := json.Unmarshal([]byte(raw), &zc); err != nil {
			return nil, fmt.Errorf("stored case %s is malformed: %w", cn, err)
		}
		result[cn] = zc
	}
	return result, nil
}

func (s *Store) PutCase(ctx context.Context, zc zipcase.ZipCase) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(zc)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, caseKey(zc.CaseNumber), rowID, data).Err()
}

// SetStatus overwrites the status (and lastUpdated) on an existing
// record, preserving the caseId. The record is created if absent.
func (s *Store) SetStatus(ctx context.Context, caseNumber string, fs zipcase.FetchStatus) error {
	zc, err := s.GetCase(ctx, caseNumber)
	if err != nil {
		return err
	}
	if zc == nil {
		zc = &zipcase.ZipCase{CaseNumber: caseNumber}
	}
	now := time.Now().UTC()
	zc.FetchStatus = fs
	zc.LastUpdated = &now
	return s.PutCase(ctx, *zc)
}

// tryTransitionScript conditionally rewrites a case record when its
// current status is in the allowed set. An absent record matches the
// empty string. Returns 1 on success, 0 when the caller lost the race.
var tryTransitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ID')
local status = ''
local rec
if cur then
  rec = cjson.decode(cur)
  status = rec['fetchStatus']['status']
else
  rec = {caseNumber = ARGV[1]}
end
local allowed = false
for i = 5, #ARGV do
  if status == ARGV[i] then allowed = true end
end
if not allowed then return 0 end
rec['fetchStatus'] = cjson.decode(ARGV[2])
rec['lastUpdated'] = ARGV[3]
if ARGV[4] ~= '' then rec['caseId'] = ARGV[4] end
redis.call('HSET', KEYS[1], 'ID', cjson.encode(rec))
return 1
`)

// TryTransition is the status lease: it moves the case to the new
// status only if the current status is one of from. caseID is set
// when non-empty. Losers get ok=false and must drop their work.
func (s *Store) TryTransition(ctx context.Context, caseNumber string, to zipcase.FetchStatus, caseID string, from ...zipcase.Status) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	fsJSON, err := json.Marshal(to)
	if err != nil {
		return false, err
	}
	args := []interface{}{
		caseNumber,
		string(fsJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
		caseID,
	}
	for _, f := range from {
		args = append(args, string(f))
	}
	n, err := tryTransitionScript.Run(ctx, s.rdb, []string{caseKey(caseNumber)}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---- summaries ----

func (s *Store) GetSummary(ctx context.Context, caseNumber string) (*zipcase.CaseSummary, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.rdb.HGet(ctx, caseKey(caseNumber), rowSummary).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var summary zipcase.CaseSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		// present but undecodable counts as a stored, malformed summary
		return nil, true, nil
	}
	return &summary, true, nil
}

func (s *Store) PutSummary(ctx context.Context, caseNumber string, summary zipcase.CaseSummary) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, caseKey(caseNumber), rowSummary, data).Err()
}

func (s *Store) DeleteSummary(ctx context.Context, caseNumber string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.HDel(ctx, caseKey(caseNumber), rowSummary).Err()
}

// ---- name searches ----

func (s *Store) PutNameSearch(ctx context.Context, data zipcase.NameSearchData) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	key := searchKey(data.SearchID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, rowID, raw)
	pipe.Expire(ctx, key, NameSearchTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetNameSearch(ctx context.Context, searchID string) (*zipcase.NameSearchData, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := s.rdb.HGet(ctx, searchKey(searchID), rowID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data zipcase.NameSearchData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("stored name search %s is malformed: %w", searchID, err)
	}
	return &data, nil
}

// ---- API key / webhook rows (owned by external collaborators) ----

func (s *Store) SaveUserRow(ctx context.Context, userID, row, value string) error {
	switch row {
	case rowAPIKey, rowWebhook:
	default:
		return fmt.Errorf("unknown user row %q", row)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.rdb.HSet(ctx, userKey(userID), row, value).Err()
}

func (s *Store) GetUserRow(ctx context.Context, userID, row string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	raw, err := s.rdb.HGet(ctx, userKey(userID), row).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return raw, err
}

// Exported row names for the passthrough rows.
const (
	RowAPIKey  = rowAPIKey
	RowWebhook = rowWebhook
)
