package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"statement-analyzer/internal/domain"
)

type fakeDynamo struct {
	putErr     error
	queryOuts  []*dynamodb.QueryOutput
	queryErr   error
	updateErr  error
	txErr      error
	queryCalls int

	lastPutInput    *dynamodb.PutItemInput
	queryInputs     []dynamodb.QueryInput
	lastUpdateInput *dynamodb.UpdateItemInput
	lastTxInput     *dynamodb.TransactWriteItemsInput
	txInputs        []*dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, *in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryCalls >= len(f.queryOuts) {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[f.queryCalls]
	f.queryCalls++
	return out, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateInput = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	f.txInputs = append(f.txInputs, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table", time.Hour)
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:       "abc",
		FileName: "bs.xlsx",
		Table: domain.LineItemTable{
			{Label: "TOTAL ASSETS", Prior: 1000, Current: 1200, GrowthPct: 20, PriorSharePct: 100, CurrentSharePct: 100},
		},
		Ratios:    &domain.FinancialRatios{CurrentRatioPrior: 2, CurrentRatioCurrent: 2.5},
		CreatedAt: fixedNow,
	}
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "t", 0)
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ", 0)
	require.Error(t, err)

	c, err := New(&fakeDynamo{}, "t", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, c.ttl)
}

func TestCreateSession_WritesMetaItem(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.CreateSession(context.Background(), testSession()))
	in := db.lastPutInput
	require.NotNil(t, in)
	require.Equal(t, "test-table", aws.ToString(in.TableName))
	require.Equal(t, "attribute_not_exists(PK)", aws.ToString(in.ConditionExpression))
	require.Equal(t, &types.AttributeValueMemberS{Value: "SESSION#abc"}, in.Item["PK"])
	require.Equal(t, &types.AttributeValueMemberS{Value: skMeta}, in.Item["SK"])
	require.Equal(t, &types.AttributeValueMemberN{Value: strconv.FormatInt(fixedNow.Add(time.Hour).Unix(), 10)}, in.Item["ttl"])
	require.Contains(t, in.Item, "ratios")
}

func TestCreateSession_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("boom")})
	err := c.CreateSession(context.Background(), testSession())
	require.ErrorContains(t, err, "CreateSession")

	err = c.CreateSession(context.Background(), &domain.Session{})
	require.ErrorContains(t, err, "session id is required")
}

func TestGetSession_RoundTripsThroughItems(t *testing.T) {
	writer := &fakeDynamo{}
	c := mustNewClient(t, writer)
	s := testSession()
	require.NoError(t, c.CreateSession(context.Background(), s))
	require.NoError(t, c.AppendMessages(context.Background(), s.ID, 0,
		domain.ChatMessage{Role: domain.RoleUser, Content: "Why?"},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: "Because."},
	))

	var items []map[string]types.AttributeValue
	items = append(items, writer.lastPutInput.Item)
	for _, ti := range writer.lastTxInput.TransactItems {
		if ti.Put != nil {
			items = append(items, ti.Put.Item)
		}
	}

	// Split across two pages to exercise pagination.
	reader := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: items[:2], LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "x"}}},
		{Items: items[2:]},
	}}
	got, err := mustNewClient(t, reader).GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, s.Table, got.Table)
	require.Equal(t, s.Ratios, got.Ratios)
	require.Equal(t, "bs.xlsx", got.FileName)
	require.True(t, fixedNow.Equal(got.CreatedAt))
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "Why?"},
		{Role: domain.RoleAssistant, Content: "Because."},
	}, got.History)

	require.Len(t, reader.queryInputs, 2)
	require.Nil(t, reader.queryInputs[0].ExclusiveStartKey)
	require.NotNil(t, reader.queryInputs[1].ExclusiveStartKey)
}

func TestGetSession_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{}}})
	_, err := c.GetSession(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetSession_ExpiredIsNotFound(t *testing.T) {
	writer := &fakeDynamo{}
	c := mustNewClient(t, writer)
	require.NoError(t, c.CreateSession(context.Background(), testSession()))

	reader := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{writer.lastPutInput.Item}}}}
	later := mustNewClient(t, reader)
	later.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	_, err := later.GetSession(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetSession_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.GetSession(context.Background(), "abc")
	require.ErrorContains(t, err, "GetSession query")

	c = mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{{
		"PK":    &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK":    &types.AttributeValueMemberS{Value: skMeta},
		"table": &types.AttributeValueMemberS{Value: "not-json"},
	}}}}})
	_, err = c.GetSession(context.Background(), "abc")
	require.ErrorContains(t, err, "decode table")

	c = mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{{
		"PK":   &types.AttributeValueMemberS{Value: "SESSION#abc"},
		"SK":   &types.AttributeValueMemberS{Value: msgSK(0)},
		"role": &types.AttributeValueMemberS{Value: "user"},
	}}}}})
	_, err = c.GetSession(context.Background(), "abc")
	require.ErrorContains(t, err, `missing attribute "content"`)
}

func ttlOf(t *testing.T, item map[string]types.AttributeValue) string {
	t.Helper()
	n, ok := item["ttl"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	return n.Value
}

func msgKeyPage(sks ...string) *dynamodb.QueryOutput {
	out := &dynamodb.QueryOutput{}
	for _, sk := range sks {
		out.Items = append(out.Items, map[string]types.AttributeValue{"SK": &types.AttributeValueMemberS{Value: sk}})
	}
	return out
}

func TestSaveSummary(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.SaveSummary(context.Background(), "abc", "Looks healthy."))
	in := db.lastUpdateInput
	require.Equal(t, "attribute_exists(PK)", aws.ToString(in.ConditionExpression))
	require.Equal(t, &types.AttributeValueMemberS{Value: "Looks healthy."}, in.ExpressionAttributeValues[":summary"])
	require.Empty(t, db.txInputs, "no messages to refresh")

	c = mustNewClient(t, &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("nope")}})
	require.ErrorIs(t, c.SaveSummary(context.Background(), "abc", "x"), domain.ErrSessionNotFound)

	c = mustNewClient(t, &fakeDynamo{updateErr: errors.New("throttled")})
	require.ErrorContains(t, c.SaveSummary(context.Background(), "abc", "x"), "SaveSummary")
}

func TestSaveSummary_RefreshesMessageTTL(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{msgKeyPage(msgSK(0), msgSK(1))}}
	c := mustNewClient(t, db)
	c.now = func() time.Time { return fixedNow.Add(23 * time.Hour) }

	require.NoError(t, c.SaveSummary(context.Background(), "abc", "summary"))
	want := strconv.FormatInt(fixedNow.Add(24*time.Hour).Unix(), 10)
	require.Equal(t, &types.AttributeValueMemberN{Value: want}, db.lastUpdateInput.ExpressionAttributeValues[":ttl"])

	require.Equal(t, "SK", aws.ToString(db.queryInputs[0].ProjectionExpression))
	require.Len(t, db.txInputs, 1)
	updates := db.txInputs[0].TransactItems
	require.Len(t, updates, 2)
	for i, ti := range updates {
		require.NotNil(t, ti.Update)
		require.Equal(t, &types.AttributeValueMemberS{Value: msgSK(i)}, ti.Update.Key["SK"])
		require.Equal(t, &types.AttributeValueMemberN{Value: want}, ti.Update.ExpressionAttributeValues[":ttl"])
	}

	failing := &fakeDynamo{queryErr: errors.New("boom")}
	require.ErrorContains(t, mustNewClient(t, failing).SaveSummary(context.Background(), "abc", "x"), "query message keys")
}

func TestAppendMessages(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.AppendMessages(context.Background(), "abc", 4))
	require.Nil(t, db.lastTxInput)

	require.NoError(t, c.AppendMessages(context.Background(), "abc", 0,
		domain.ChatMessage{Role: "user", Content: "q"},
		domain.ChatMessage{Role: "assistant", Content: "a"},
	))
	require.Len(t, db.txInputs, 1, "nothing earlier to refresh")
	items := db.txInputs[0].TransactItems
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Update)
	require.Equal(t, &types.AttributeValueMemberS{Value: skMeta}, items[0].Update.Key["SK"])
	require.Equal(t, "attribute_exists(PK)", aws.ToString(items[0].Update.ConditionExpression))
	require.Equal(t, &types.AttributeValueMemberS{Value: "MSG#000000"}, items[1].Put.Item["SK"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "MSG#000001"}, items[2].Put.Item["SK"])

	require.Error(t, c.AppendMessages(context.Background(), "abc", -1, domain.ChatMessage{}))
	require.Error(t, c.AppendMessages(context.Background(), "abc", 0, make([]domain.ChatMessage, maxTransactItems)...))

	c = mustNewClient(t, &fakeDynamo{txErr: errors.New("cancelled")})
	err := c.AppendMessages(context.Background(), "abc", 0, domain.ChatMessage{Role: "user", Content: "q"})
	require.ErrorContains(t, err, "AppendMessages")
}

func TestAppendMessages_RefreshesEarlierTurns(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	c.now = func() time.Time { return fixedNow.Add(20 * time.Hour) }

	require.NoError(t, c.AppendMessages(context.Background(), "abc", 102,
		domain.ChatMessage{Role: "user", Content: "q"},
		domain.ChatMessage{Role: "assistant", Content: "a"},
	))

	want := &types.AttributeValueMemberN{Value: strconv.FormatInt(fixedNow.Add(21*time.Hour).Unix(), 10)}
	first := db.txInputs[0].TransactItems
	require.Equal(t, want, first[0].Update.ExpressionAttributeValues[":ttl"])
	require.Equal(t, want, first[1].Put.Item["ttl"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "MSG#000102"}, first[1].Put.Item["SK"])

	// 102 earlier turns split across two transactions.
	require.Len(t, db.txInputs, 3)
	require.Len(t, db.txInputs[1].TransactItems, maxTransactItems)
	require.Len(t, db.txInputs[2].TransactItems, 2)
	require.Equal(t, &types.AttributeValueMemberS{Value: msgSK(0)}, db.txInputs[1].TransactItems[0].Update.Key["SK"])
	require.Equal(t, &types.AttributeValueMemberS{Value: msgSK(101)}, db.txInputs[2].TransactItems[1].Update.Key["SK"])
	require.Equal(t, want, db.txInputs[2].TransactItems[1].Update.ExpressionAttributeValues[":ttl"])
}

func TestAppendMessages_ExpiredSessionIsNotFound(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{
		Message: aws.String("cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}}
	err := mustNewClient(t, db).AppendMessages(context.Background(), "abc", 0, domain.ChatMessage{Role: "user", Content: "q"})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	db = &fakeDynamo{txErr: &types.TransactionCanceledException{
		Message: aws.String("cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}}
	err = mustNewClient(t, db).AppendMessages(context.Background(), "abc", 0, domain.ChatMessage{Role: "user", Content: "q"})
	require.NotErrorIs(t, err, domain.ErrSessionNotFound)
	require.ErrorContains(t, err, "AppendMessages")
}

func TestSession_ActiveChatOutlivesCreationTTL(t *testing.T) {
	// Created at fixedNow with a 1h ttl, chatted at +50m, read at +90m.
	writer := &fakeDynamo{}
	c := mustNewClient(t, writer)
	require.NoError(t, c.CreateSession(context.Background(), testSession()))
	meta := writer.lastPutInput.Item

	c.now = func() time.Time { return fixedNow.Add(50 * time.Minute) }
	require.NoError(t, c.AppendMessages(context.Background(), "abc", 0,
		domain.ChatMessage{Role: domain.RoleUser, Content: "q"},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: "a"},
	))
	tx := writer.txInputs[0].TransactItems
	refreshed := map[string]types.AttributeValue{}
	for k, v := range meta {
		refreshed[k] = v
	}
	refreshed["ttl"] = tx[0].Update.ExpressionAttributeValues[":ttl"]
	require.Equal(t, ttlOf(t, tx[1].Put.Item), ttlOf(t, refreshed))

	reader := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{
		refreshed, tx[1].Put.Item, tx[2].Put.Item,
	}}}}
	later := mustNewClient(t, reader)
	later.now = func() time.Time { return fixedNow.Add(90 * time.Minute) }
	got, err := later.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
}

func TestGetSession_SkipsExpiredMessages(t *testing.T) {
	expired := strconv.FormatInt(fixedNow.Add(-time.Minute).Unix(), 10)
	live := strconv.FormatInt(fixedNow.Add(time.Hour).Unix(), 10)
	table := `[{"label":"TOTAL ASSETS","prior":1,"current":2}]`
	item := func(sk, ttl string, extra map[string]types.AttributeValue) map[string]types.AttributeValue {
		m := map[string]types.AttributeValue{
			"PK":  &types.AttributeValueMemberS{Value: "SESSION#abc"},
			"SK":  &types.AttributeValueMemberS{Value: sk},
			"ttl": &types.AttributeValueMemberN{Value: ttl},
		}
		for k, v := range extra {
			m[k] = v
		}
		return m
	}
	msg := func(content string) map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: domain.RoleUser},
			"content": &types.AttributeValueMemberS{Value: content},
		}
	}

	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{
		item(skMeta, live, map[string]types.AttributeValue{"table": &types.AttributeValueMemberS{Value: table}}),
		item(msgSK(0), expired, msg("old")),
		item(msgSK(1), live, msg("new")),
	}}}}
	got, err := mustNewClient(t, db).GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, []domain.ChatMessage{{Role: domain.RoleUser, Content: "new"}}, got.History)
}

func TestMsgSK_SortsChronologically(t *testing.T) {
	require.Less(t, msgSK(9), msgSK(10))
	require.Less(t, skMeta, msgSK(0))
}
