package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/hackthon-glue/backend/internal/domain"
)

type fakeDynamo struct {
	getOut        *dynamodb.GetItemOutput
	getErr        error
	updateErr     error
	deleteErr     error
	lastGetInput  *dynamodb.GetItemInput
	lastUpdateIn  *dynamodb.UpdateItemInput
	lastDeleteIn  *dynamodb.DeleteItemInput
	updateInvoked int
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInvoked++
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteIn = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

var testNow = time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) (*Client, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	c, err := New(db, "test-table", WithClock(clock))
	require.NoError(t, err)
	return c, clock
}

func transcriptItem(ttl int64, turns ...domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK":    &types.AttributeValueMemberS{Value: skTranscript},
		"turns": &types.AttributeValueMemberL{Value: turnsToList(turns)},
		"ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func TestAppendTurns_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c, _ := mustNewClient(t, db)

	err := c.AppendTurns(context.Background(), "abc",
		domain.Turn{Role: domain.RoleUser, Content: "How is Japan?"},
		domain.Turn{Role: domain.RoleAssistant, Content: "Happy."},
	)
	require.NoError(t, err)

	in := db.lastUpdateIn
	require.Equal(t, "test-table", *in.TableName)
	require.Equal(t, "SESSION#abc", in.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skTranscript, in.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, *in.UpdateExpression, "list_append(if_not_exists(turns, :empty), :new)")
	require.Equal(t, "ttl", in.ExpressionAttributeNames["#ttl"])

	added := in.ExpressionAttributeValues[":new"].(*types.AttributeValueMemberL).Value
	require.Len(t, added, 2)
	wantTTL := strconv.FormatInt(testNow.Add(DefaultSessionTTL).Unix(), 10)
	require.Equal(t, wantTTL, in.ExpressionAttributeValues[":ttl"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "2", in.ExpressionAttributeValues[":n"].(*types.AttributeValueMemberN).Value)
}

func TestAppendTurns_NoTurnsIsNoop(t *testing.T) {
	db := &fakeDynamo{}
	c, _ := mustNewClient(t, db)
	require.NoError(t, c.AppendTurns(context.Background(), "abc"))
	require.Zero(t, db.updateInvoked)
}

func TestAppendTurns_RequiresSession(t *testing.T) {
	c, _ := mustNewClient(t, &fakeDynamo{})
	err := c.AppendTurns(context.Background(), " ", domain.Turn{Role: domain.RoleUser})
	require.ErrorContains(t, err, "session id is required")
}

func TestAppendTurns_DynamoError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("ProvisionedThroughputExceededException")}
	c, _ := mustNewClient(t, db)
	err := c.AppendTurns(context.Background(), "abc", domain.Turn{Role: domain.RoleUser, Content: "hi"})
	require.ErrorContains(t, err, "AppendTurns")
}

func TestHistory_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: transcriptItem(
		testNow.Add(time.Minute).Unix(),
		domain.Turn{Role: domain.RoleUser, Content: "q"},
		domain.Turn{Role: domain.RoleAssistant, Content: "a"},
	)}}
	c, _ := mustNewClient(t, db)

	turns, err := c.History(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Content: "q"},
		{Role: domain.RoleAssistant, Content: "a"},
	}, turns)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestHistory_UnknownSession(t *testing.T) {
	c, _ := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	turns, err := c.History(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, turns)
	require.Empty(t, turns)
}

func TestHistory_ExpiredItemIsEmpty(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: transcriptItem(
		testNow.Add(time.Minute).Unix(),
		domain.Turn{Role: domain.RoleUser, Content: "q"},
	)}}
	c, clock := mustNewClient(t, db)

	clock.Advance(time.Minute)
	turns, err := c.History(context.Background(), "abc")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestHistory_GetItemError(t *testing.T) {
	c, _ := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.History(context.Background(), "abc")
	require.ErrorContains(t, err, "History")
}

func TestHistory_MalformedTurn(t *testing.T) {
	item := transcriptItem(testNow.Add(time.Hour).Unix())
	item["turns"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberS{Value: "not-a-map"},
	}}
	c, _ := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err := c.History(context.Background(), "abc")
	require.ErrorContains(t, err, "decode turns")
}

func TestHistory_MissingRole(t *testing.T) {
	item := transcriptItem(testNow.Add(time.Hour).Unix())
	item["turns"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"content": &types.AttributeValueMemberS{Value: "x"},
		}},
	}}
	c, _ := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err := c.History(context.Background(), "abc")
	require.ErrorContains(t, err, "role")
}

func TestHistory_MalformedTTL(t *testing.T) {
	item := transcriptItem(0)
	item["ttl"] = &types.AttributeValueMemberS{Value: "bad"}
	c, _ := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err := c.History(context.Background(), "abc")
	require.ErrorContains(t, err, "decode ttl")
}

func TestClear(t *testing.T) {
	db := &fakeDynamo{}
	c, _ := mustNewClient(t, db)
	require.NoError(t, c.Clear(context.Background(), "abc"))
	require.Equal(t, "SESSION#abc", db.lastDeleteIn.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestClear_DynamoError(t *testing.T) {
	c, _ := mustNewClient(t, &fakeDynamo{deleteErr: errors.New("boom")})
	require.ErrorContains(t, c.Clear(context.Background(), "abc"), "Clear")
}

func TestWithTTL(t *testing.T) {
	c, err := New(&fakeDynamo{}, "t", WithTTL(time.Hour))
	require.NoError(t, err)
	require.Equal(t, time.Hour, c.ttl)

	c, err = New(&fakeDynamo{}, "t", WithTTL(0))
	require.NoError(t, err)
	require.Equal(t, DefaultSessionTTL, c.ttl)
}

func TestSessionPK(t *testing.T) {
	require.Equal(t, "SESSION#my-session", sessionPK("my-session"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
