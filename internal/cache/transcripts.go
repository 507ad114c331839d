package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hackthon-glue/backend/internal/domain"
)

// TranscriptTTL is how long a cached chat transcript survives after its last turn.
const TranscriptTTL = 30 * time.Minute

// Transcripts keeps chat session transcripts in a Cache when no session table
// is configured. Appends read, extend and rewrite the whole transcript, so two
// concurrent appends to one session can lose a turn.
type Transcripts struct {
	cache Cache
	ttl   time.Duration
}

func NewTranscripts(c Cache, ttl time.Duration) (*Transcripts, error) {
	if c == nil {
		return nil, errors.New("cache: cache must not be nil")
	}
	if ttl <= 0 {
		ttl = TranscriptTTL
	}
	return &Transcripts{cache: c, ttl: ttl}, nil
}

func transcriptKey(sessionID string) string {
	return "rag_session:" + sessionID
}

func (t *Transcripts) AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	history, err := t.History(ctx, sessionID)
	if err != nil {
		return err
	}
	history = append(history, turns...)
	if err := SetJSON(ctx, t.cache, transcriptKey(sessionID), history, t.ttl); err != nil {
		return fmt.Errorf("cache: append transcript: %w", err)
	}
	return nil
}

func (t *Transcripts) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	data, ok, err := t.cache.Get(ctx, transcriptKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("cache: read transcript: %w", err)
	}
	turns := []domain.Turn{}
	if !ok {
		return turns, nil
	}
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("cache: decode transcript: %w", err)
	}
	return turns, nil
}

func (t *Transcripts) Clear(ctx context.Context, sessionID string) error {
	if err := t.cache.Delete(ctx, transcriptKey(sessionID)); err != nil {
		return fmt.Errorf("cache: clear transcript: %w", err)
	}
	return nil
}
