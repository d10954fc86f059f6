package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/maartendamen/houseagent-latitude/internal/models"
)

const (
	kindAccount  = "account"
	kindLocation = "location"
)

// DynamoDBAPI is the part of the DynamoDB client the repository uses.
type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// dynamoItem is one row of the table. The key is (kind, name).
type dynamoItem struct {
	Kind            string  `dynamodbav:"kind"`
	Name            string  `dynamodbav:"name"`
	Password        string  `dynamodbav:"password,omitempty"`
	DeviceID        string  `dynamodbav:"device_id,omitempty"`
	RefreshInterval int     `dynamodbav:"refresh_interval,omitempty"`
	ProximityKm     float64 `dynamodbav:"proximity_km,omitempty"`
	Latitude        float64 `dynamodbav:"latitude"`
	Longitude       float64 `dynamodbav:"longitude"`
}

// DynamoDBRepository keeps accounts and locations in a single table,
// partitioned by kind and sorted by name.
type DynamoDBRepository struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBRepository wraps an existing client.
func NewDynamoDBRepository(client DynamoDBAPI, tableName string) *DynamoDBRepository {
	return &DynamoDBRepository{client: client, tableName: tableName}
}

// OpenDynamoDB builds a client from the default AWS credential chain.
func OpenDynamoDB(ctx context.Context, region, tableName string) (*DynamoDBRepository, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config: %v", ErrConfigIO, err)
	}
	return NewDynamoDBRepository(dynamodb.NewFromConfig(cfg), tableName), nil
}

func (r *DynamoDBRepository) queryKind(ctx context.Context, kind string) ([]dynamoItem, error) {
	var items []dynamoItem
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue

	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("#kind = :kind"),
			ExpressionAttributeNames: map[string]string{
				"#kind": "kind",
			},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":kind": &dynamodbtypes.AttributeValueMemberS{Value: kind},
			},
			ConsistentRead: aws.Bool(true),
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: querying %s items: %v", ErrConfigIO, kind, err)
		}

		var page []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("%w: decoding %s items: %v", ErrConfigIO, kind, err)
		}
		items = append(items, page...)

		lastEvaluatedKey = result.LastEvaluatedKey
		if len(lastEvaluatedKey) == 0 {
			break
		}
	}
	return items, nil
}

func (r *DynamoDBRepository) put(ctx context.Context, item dynamoItem) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("%w: encoding %s %q: %v", ErrConfigIO, item.Kind, item.Name, err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("%w: saving %s %q: %v", ErrConfigIO, item.Kind, item.Name, err)
	}
	return nil
}

func (r *DynamoDBRepository) delete(ctx context.Context, kind, name string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"kind": &dynamodbtypes.AttributeValueMemberS{Value: kind},
			"name": &dynamodbtypes.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: deleting %s %q: %v", ErrConfigIO, kind, name, err)
	}
	return nil
}

func (r *DynamoDBRepository) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	items, err := r.queryKind(ctx, kindAccount)
	if err != nil {
		return nil, err
	}
	accounts := make([]models.Account, 0, len(items))
	for _, item := range items {
		accounts = append(accounts, models.Account{
			Username:        item.Name,
			Password:        item.Password,
			DeviceID:        item.DeviceID,
			RefreshInterval: item.RefreshInterval,
			ProximityKm:     item.ProximityKm,
		})
	}
	sortAccounts(accounts)
	return accounts, nil
}

func (r *DynamoDBRepository) LoadLocations(ctx context.Context) ([]models.NamedLocation, error) {
	items, err := r.queryKind(ctx, kindLocation)
	if err != nil {
		return nil, err
	}
	locations := make([]models.NamedLocation, 0, len(items))
	for _, item := range items {
		locations = append(locations, models.NamedLocation{Name: item.Name, Latitude: item.Latitude, Longitude: item.Longitude})
	}
	sortLocations(locations)
	return locations, nil
}

func (r *DynamoDBRepository) SaveAccount(ctx context.Context, a models.Account) error {
	return r.put(ctx, dynamoItem{
		Kind:            kindAccount,
		Name:            a.Username,
		Password:        a.Password,
		DeviceID:        a.DeviceID,
		RefreshInterval: a.RefreshInterval,
		ProximityKm:     a.ProximityKm,
	})
}

func (r *DynamoDBRepository) DeleteAccount(ctx context.Context, username string) error {
	return r.delete(ctx, kindAccount, username)
}

func (r *DynamoDBRepository) SaveLocation(ctx context.Context, l models.NamedLocation) error {
	return r.put(ctx, dynamoItem{Kind: kindLocation, Name: l.Name, Latitude: l.Latitude, Longitude: l.Longitude})
}

func (r *DynamoDBRepository) DeleteLocation(ctx context.Context, name string) error {
	return r.delete(ctx, kindLocation, name)
}

// Close is a no-op; the AWS client holds no persistent connection.
func (r *DynamoDBRepository) Close() error {
	return nil
}
