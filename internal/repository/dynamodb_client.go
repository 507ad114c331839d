package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jonboulle/clockwork"

	"github.com/hackthon-glue/backend/internal/domain"
)

const (
	skTranscript = "TRANSCRIPT"
	// DefaultSessionTTL is how long a transcript survives after its last turn.
	DefaultSessionTTL = 30 * time.Minute
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client stores chat session transcripts in a DynamoDB table, one item per
// session. Every append slides the item's TTL forward.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	clock     clockwork.Clock
}

type Option func(*Client)

func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		ttl:       DefaultSessionTTL,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// sessionPK returns the DynamoDB partition key for a chat session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func (c *Client) key(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skTranscript},
	}
}

// AppendTurns atomically appends turns to the session transcript and refreshes its TTL.
func (c *Client) AppendTurns(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendTurns: session id is required")
	}
	if len(turns) == 0 {
		return nil
	}

	now := c.clock.Now().UTC()
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              c.key(sessionID),
		UpdateExpression: aws.String("SET turns = list_append(if_not_exists(turns, :empty), :new), sessionId = :sid, lastActivity = :now, #ttl = :ttl ADD turnCount :n"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":new":   &types.AttributeValueMemberL{Value: turnsToList(turns)},
			":sid":   &types.AttributeValueMemberS{Value: sessionID},
			":now":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(c.ttl).Unix(), 10)},
			":n":     &types.AttributeValueMemberN{Value: strconv.Itoa(len(turns))},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendTurns: %w", err)
	}
	return nil
}

// History returns the session transcript in chronological order. Unknown and
// expired sessions yield an empty transcript; DynamoDB deletes expired items lazily.
func (c *Client) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: History get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return []domain.Turn{}, nil
	}

	expires, err := intAttr(out.Item, "ttl")
	if err != nil {
		return nil, fmt.Errorf("repository: History decode ttl: %w", err)
	}
	if int64(expires) <= c.clock.Now().Unix() {
		return []domain.Turn{}, nil
	}

	turns, err := listToTurns(out.Item["turns"])
	if err != nil {
		return nil, fmt.Errorf("repository: History decode turns: %w", err)
	}
	return turns, nil
}

// Clear deletes the session transcript. Deleting an unknown session is not an error.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(sessionID),
	})
	if err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	return nil
}

func turnsToList(turns []domain.Turn) []types.AttributeValue {
	out := make([]types.AttributeValue, 0, len(turns))
	for _, t := range turns {
		out = append(out, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: t.Role},
			"content": &types.AttributeValueMemberS{Value: t.Content},
		}})
	}
	return out
}

func listToTurns(v types.AttributeValue) ([]domain.Turn, error) {
	if v == nil {
		return []domain.Turn{}, nil
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New("repository: attribute \"turns\" is not a list")
	}
	turns := make([]domain.Turn, 0, len(list.Value))
	for i, entry := range list.Value {
		m, ok := entry.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: turn %d is not a map", i)
		}
		role, err := strAttr(m.Value, "role")
		if err != nil {
			return nil, err
		}
		content, _ := strAttr(m.Value, "content") // allow empty
		turns = append(turns, domain.Turn{Role: role, Content: content})
	}
	return turns, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
