// Package ddb stores documents in a single DynamoDB table. Every document is one item
// keyed PK=COLL#<collection>, SK=DOC#<id> holding the codec-encoded body and a version
// number used for compare-and-swap merges. DynamoDB has no push channel for arbitrary
// readers, so watches poll and push when the content hash changes.
package ddb

import (
	"context"
	"errors"
	"strconv"
	"time"

	"firestorm/internal/codec"
	"firestorm/internal/ports"
	"firestorm/internal/query"
	"firestorm/internal/types"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 2 * time.Second

	// merges retry this many times when a concurrent writer bumps the version
	maxUpdateAttempts = 5
)

type docItem struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	Body    []byte `dynamodbav:"body"`
	Version int64  `dynamodbav:"ver"`
}

// DataStore implements ports.DocumentStore.
type DataStore struct {
	table string
	cli   *dynamodb.Client
	poll  time.Duration
}

var _ ports.DocumentStore = (*DataStore)(nil)

func NewDataStore(table string, cli *dynamodb.Client, poll time.Duration) *DataStore {
	createTableIfNotExists(cli, table)
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &DataStore{table: table, cli: cli, poll: poll}
}

func (s *DataStore) load(ctx context.Context, collection, id string) (*docItem, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: awsBool(true),
		Key:            docKey(collection, id),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var it docItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func decodeItem(it *docItem) (types.Document, error) {
	doc, err := codec.Decode(it.Body)
	if err != nil {
		return nil, err
	}
	if doc.ID() == "" {
		id, err := parseDocID(it.SK)
		if err != nil {
			return nil, err
		}
		doc[types.KeyID] = id
	}
	return doc, nil
}

func encodeBody(id string, fields types.Document) ([]byte, error) {
	doc := fields.Clone()
	if doc == nil {
		doc = types.Document{}
	}
	doc[types.KeyID] = id
	return codec.Encode(doc)
}

func (s *DataStore) GetDocument(ctx context.Context, collection, id string) (types.Document, error) {
	it, err := s.load(ctx, collection, id)
	if err != nil || it == nil {
		return nil, err
	}
	return decodeItem(it)
}

func (s *DataStore) SetDocument(ctx context.Context, collection, id string, fields types.Document) error {
	body, err := encodeBody(id, fields)
	if err != nil {
		return err
	}
	_, err = s.cli.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.table,
		Key:              docKey(collection, id),
		UpdateExpression: awsString("SET #body = :body ADD #ver :one"),
		ExpressionAttributeNames: map[string]string{
			"#body": attrBody,
			"#ver":  attrVersion,
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":body": &ddbTypes.AttributeValueMemberB{Value: body},
			":one":  &ddbTypes.AttributeValueMemberN{Value: "1"},
		},
	})
	return err
}

// CreateDocument puts the item only if no item with the key exists.
func (s *DataStore) CreateDocument(ctx context.Context, collection, id string, fields types.Document) (bool, error) {
	body, err := encodeBody(id, fields)
	if err != nil {
		return false, err
	}
	av, err := attributevalue.MarshalMap(docItem{
		PK:      pkCollection(collection),
		SK:      skDoc(id),
		Body:    body,
		Version: 1,
	})
	if err != nil {
		return false, err
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.table,
		Item:                av,
		ConditionExpression: awsString("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var cc *ddbTypes.ConditionalCheckFailedException
		if errorAs(err, &cc) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateDocument merges partial into the stored body under condition ver == the version read.
func (s *DataStore) UpdateDocument(ctx context.Context, collection, id string, partial types.Document) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		it, err := s.load(ctx, collection, id)
		if err != nil {
			return err
		}
		if it == nil {
			return types.ErrNotFound
		}
		cur, err := decodeItem(it)
		if err != nil {
			return err
		}
		body, err := encodeBody(id, cur.Merge(partial))
		if err != nil {
			return err
		}
		_, err = s.cli.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        &s.table,
			Key:              docKey(collection, id),
			UpdateExpression: awsString("SET #body = :body, #ver = :newver"),
			ExpressionAttributeNames: map[string]string{
				"#body": attrBody,
				"#ver":  attrVersion,
			},
			ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
				":body":   &ddbTypes.AttributeValueMemberB{Value: body},
				":newver": &ddbTypes.AttributeValueMemberN{Value: itoa(it.Version + 1)},
				":prev":   &ddbTypes.AttributeValueMemberN{Value: itoa(it.Version)},
			},
			ConditionExpression: awsString("#ver = :prev"),
		})
		if err == nil {
			return nil
		}
		var cc *ddbTypes.ConditionalCheckFailedException
		if !errorAs(err, &cc) {
			return err
		}
		log.WithFields(log.Fields{
			"collection": collection,
			"id":         id,
			"attempt":    attempt + 1,
		}).Debug("Concurrent write, retrying merge")
	}
	return errors.New("too many concurrent writers, giving up on merge")
}

func (s *DataStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key:       docKey(collection, id),
	})
	return err
}

// RunQuery reads the whole collection partition and evaluates q in-process.
func (s *DataStore) RunQuery(ctx context.Context, q types.Query) ([]types.Document, error) {
	p := dynamodb.NewQueryPaginator(s.cli, &dynamodb.QueryInput{
		TableName:              &s.table,
		ConsistentRead:         awsBool(true),
		KeyConditionExpression: awsString("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":pk": &ddbTypes.AttributeValueMemberS{Value: pkCollection(q.Collection)},
		},
	})
	var docs []types.Document
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var items []docItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for i := range items {
			doc, err := decodeItem(&items[i])
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return query.Apply(docs, q), nil
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }

func awsString(s string) *string         { return &s }
func awsBool(b bool) *bool               { return &b }
func errorAs(err error, target any) bool { return errors.As(err, target) }
