package ddb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

const (
	SCollection = "COLL"
	SDoc        = "DOC"

	attrPK      = "PK"
	attrSK      = "SK"
	attrBody    = "body"
	attrVersion = "ver"
)

func pkCollection(collection string) string { return fmt.Sprintf("%s#%s", SCollection, collection) }
func skDoc(id string) string                { return fmt.Sprintf("%s#%s", SDoc, id) }

func parseDocID(sk string) (string, error) {
	id, ok := strings.CutPrefix(sk, SDoc+"#")
	if !ok {
		return "", fmt.Errorf("not a document sort key: %q", sk)
	}
	return id, nil
}

func docKey(collection, id string) map[string]ddbTypes.AttributeValue {
	return map[string]ddbTypes.AttributeValue{
		attrPK: &ddbTypes.AttributeValueMemberS{Value: pkCollection(collection)},
		attrSK: &ddbTypes.AttributeValueMemberS{Value: skDoc(id)},
	}
}

func createTableIfNotExists(client *dynamodb.Client, table string) {
	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString(attrPK), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString(attrSK), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString(attrPK), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString(attrSK), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		log.Fatalf("Failed to create table %s: %v", table, err)
	}
}
