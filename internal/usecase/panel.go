package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hackthon-glue/backend/internal/cache"
	"github.com/hackthon-glue/backend/internal/domain"
	"github.com/hackthon-glue/backend/internal/integrations/objectstore"
)

const (
	DefaultListLimit    = 20
	DefaultHistoryLimit = 10
	MaxLimit            = 100

	discussionsPrefix = "discussions/"
	listTTL           = 5 * time.Minute
	discussionTTL     = time.Hour

	defaultCountryCode = "UNKNOWN"
	defaultFinalScore  = 50.0
)

// ObjectStore reads discussion objects. Missing keys are reported with
// objectstore.ErrNotFound.
type ObjectStore interface {
	List(ctx context.Context, prefix string, limit int) ([]objectstore.Object, error)
	Metadata(ctx context.Context, key string) (map[string]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// PanelService serves stored panel discussions, cached through a shared Cache.
type PanelService struct {
	store  ObjectStore
	loader *cache.Loader
}

func NewPanelService(store ObjectStore, loader *cache.Loader) (*PanelService, error) {
	if store == nil {
		return nil, errors.New("usecase: object store must not be nil")
	}
	if loader == nil {
		return nil, errors.New("usecase: cache loader must not be nil")
	}
	return &PanelService{store: store, loader: loader}, nil
}

// ListDiscussions returns up to limit discussion summaries, most recent first.
// The limit applies to the raw listing order, before sorting.
func (s *PanelService) ListDiscussions(ctx context.Context, countryCode string, limit int) ([]domain.DiscussionSummary, error) {
	countryCode = strings.TrimSpace(countryCode)
	if strings.Contains(countryCode, "/") {
		return nil, newError(ErrorInvalidInput, "invalid_country_code", nil)
	}
	if limit <= 0 || limit > MaxLimit {
		return nil, newError(ErrorInvalidInput, "invalid_limit", nil)
	}

	summaries, err := cache.Fetch(ctx, s.loader, listCacheKey(countryCode, limit), listTTL,
		func(ctx context.Context) ([]domain.DiscussionSummary, error) {
			return s.loadSummaries(ctx, countryCode, limit)
		})
	if err != nil {
		var ucErr *Error
		if errors.As(err, &ucErr) {
			return nil, ucErr
		}
		return nil, upstreamError("s3_list_error", err)
	}
	return summaries, nil
}

func (s *PanelService) loadSummaries(ctx context.Context, countryCode string, limit int) ([]domain.DiscussionSummary, error) {
	prefix := discussionsPrefix
	if countryCode != "" {
		prefix += countryCode + "/"
	}

	objects, err := s.store.List(ctx, prefix, limit)
	if err != nil {
		return nil, err
	}
	if len(objects) > limit {
		objects = objects[:limit]
	}

	type listed struct {
		summary  domain.DiscussionSummary
		modified time.Time
	}
	entries := make([]listed, 0, len(objects))
	for _, obj := range objects {
		meta, err := s.store.Metadata(ctx, obj.Key)
		if errors.Is(err, objectstore.ErrNotFound) {
			slog.WarnContext(ctx, "discussion vanished between list and head", "key", obj.Key)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, listed{
			summary:  summaryFromMetadata(obj, meta),
			modified: obj.LastModified,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].modified.After(entries[j].modified)
	})

	summaries := make([]domain.DiscussionSummary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, e.summary)
	}
	return summaries, nil
}

// GetDiscussion returns the stored discussion document verbatim.
func (s *PanelService) GetDiscussion(ctx context.Context, discussionID string) (json.RawMessage, error) {
	discussionID = strings.TrimSpace(discussionID)
	if discussionID == "" || strings.Contains(discussionID, "/") {
		return nil, newError(ErrorInvalidInput, "invalid_discussion_id", nil)
	}

	raw, err := cache.Fetch(ctx, s.loader, discussionCacheKey(discussionID), discussionTTL,
		func(ctx context.Context) (json.RawMessage, error) {
			return s.loadDiscussion(ctx, discussionID)
		})
	if err != nil {
		var ucErr *Error
		if errors.As(err, &ucErr) {
			return nil, ucErr
		}
		return nil, upstreamError("s3_get_error", err)
	}
	return raw, nil
}

func (s *PanelService) loadDiscussion(ctx context.Context, discussionID string) (json.RawMessage, error) {
	key, err := s.resolveKey(ctx, discussionID)
	if err != nil {
		return nil, err
	}

	body, err := s.store.Get(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, newError(ErrorNotFound, "discussion_not_found", err)
	}
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, newError(ErrorUpstream, "malformed_discussion", fmt.Errorf("decode %q: %w", key, err))
	}
	if fields == nil {
		return nil, newError(ErrorUpstream, "malformed_discussion", fmt.Errorf("decode %q: not a JSON object", key))
	}

	// Compact so a fresh load and a cache hit return the same bytes.
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, newError(ErrorUpstream, "malformed_discussion", fmt.Errorf("compact %q: %w", key, err))
	}
	return json.RawMessage(compact.Bytes()), nil
}

// resolveKey scans every key under the discussions prefix, since ids do not
// carry the country segment of their key.
func (s *PanelService) resolveKey(ctx context.Context, discussionID string) (string, error) {
	objects, err := s.store.List(ctx, discussionsPrefix, 0)
	if err != nil {
		return "", err
	}
	for _, obj := range objects {
		if discussionIDFromKey(obj.Key) == discussionID {
			return obj.Key, nil
		}
	}
	return "", newError(ErrorNotFound, "discussion_not_found", nil)
}

// GetDiscussionDigest returns the discussion without its transcript.
func (s *PanelService) GetDiscussionDigest(ctx context.Context, discussionID string) (domain.DiscussionDigest, error) {
	raw, err := s.GetDiscussion(ctx, discussionID)
	if err != nil {
		return domain.DiscussionDigest{}, err
	}
	var d domain.Discussion
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.DiscussionDigest{}, newError(ErrorUpstream, "malformed_discussion", err)
	}
	return d.Digest(strings.TrimSpace(discussionID)), nil
}

// CountryHistory returns a country's recent discussions with the trend between
// the two most recent ones.
func (s *PanelService) CountryHistory(ctx context.Context, countryCode string, limit int) (domain.CountryHistory, error) {
	countryCode = strings.TrimSpace(countryCode)
	if countryCode == "" {
		return domain.CountryHistory{}, newError(ErrorInvalidInput, "country_code_required", nil)
	}

	discussions, err := s.ListDiscussions(ctx, countryCode, limit)
	if err != nil {
		return domain.CountryHistory{}, err
	}

	history := domain.CountryHistory{
		CountryCode: countryCode,
		Discussions: discussions,
		Trend:       domain.ComputeTrend(discussions),
	}
	if len(discussions) > 0 {
		latest := discussions[0]
		history.Latest = &latest
	}
	return history, nil
}

func summaryFromMetadata(obj objectstore.Object, meta map[string]string) domain.DiscussionSummary {
	summary := domain.DiscussionSummary{
		DiscussionID: discussionIDFromKey(obj.Key),
		CountryCode:  defaultCountryCode,
		Timestamp:    obj.LastModified.UTC().Format(time.RFC3339),
		FinalMood:    domain.MoodUnknown,
		FinalScore:   defaultFinalScore,
		StorageKey:   obj.Key,
	}
	if v := strings.TrimSpace(meta["country_code"]); v != "" {
		summary.CountryCode = v
	}
	if v := strings.TrimSpace(meta["final_mood"]); v != "" {
		summary.FinalMood = v
	}
	if v := strings.TrimSpace(meta["final_score"]); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			summary.FinalScore = score
		}
	}
	return summary
}

func discussionIDFromKey(key string) string {
	return strings.TrimSuffix(path.Base(key), ".json")
}

func listCacheKey(countryCode string, limit int) string {
	if countryCode == "" {
		countryCode = "all"
	}
	return fmt.Sprintf("panel_discussions:%s:%d", countryCode, limit)
}

func discussionCacheKey(discussionID string) string {
	return "panel_discussion:" + discussionID
}
