package dynamo

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
)

const (
	stockKey      = "product_id"
	adjustmentKey = "adjustment_key"

	adjustmentNotExists = "attribute_not_exists(adjustment_key)"
	stockUnchanged      = "stock = :current"
	productExists       = "attribute_exists(product_id)"

	setStock = "SET stock = :next, updated_at = :at"

	conditionFailed          = "ConditionalCheckFailed"
	conditionFailedException = "ConditionalCheckFailedException"

	defaultMaxAttempts = 5

	// maxTransactItems is the DynamoDB limit of actions per transaction.
	maxTransactItems = 100
)

// ErrContention is returned when stock kept changing under a decrement for
// every attempt.
var ErrContention = errors.New("stock changed concurrently")

type stockItem struct {
	ProductID string `dynamodbav:"product_id"`
	Stock     int    `dynamodbav:"stock"`
	UpdatedAt string `dynamodbav:"updated_at,omitempty"`
}

type adjustmentItem struct {
	Key       string    `dynamodbav:"adjustment_key"`
	SaleID    string    `dynamodbav:"sale_id"`
	ProductID string    `dynamodbav:"product_id"`
	Quantity  int       `dynamodbav:"quantity"`
	AppliedAt time.Time `dynamodbav:"applied_at"`
}

// Tables names the stock and adjustment tables.
type Tables struct {
	Stock       string `yaml:"stock" default:"pos-stock"`
	Adjustments string `yaml:"adjustments" default:"pos-stock-adjustments"`
}

var _ inventory.Store = (*InventoryStore)(nil)

// InventoryStore implements inventory.Store with optimistic, conditional
// transactions.
type InventoryStore struct {
	client      DynamoDBAPI
	tables      Tables
	maxAttempts int
	now         func() time.Time
}

// NewInventoryStore returns a store over the given tables.
func NewInventoryStore(client DynamoDBAPI, tables Tables) *InventoryStore {
	return &InventoryStore{
		client:      client,
		tables:      tables,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
}

// Levels returns live stock for ids using strongly consistent reads.
func (s *InventoryStore) Levels(ctx context.Context, ids []string) (map[string]int, error) {
	levels := make(map[string]int, len(ids))
	for _, id := range inventory.SortedKeys(ids) {
		item, ok, err := s.getStock(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			levels[id] = item.Stock
		}
	}
	return levels, nil
}

// Decrement applies adj at most once. The adjustment marker and the stock
// update commit in one transaction conditioned on the stock read; a
// concurrent writer makes the attempt retry.
func (s *InventoryStore) Decrement(ctx context.Context, adj inventory.Adjustment, mode inventory.Mode) (inventory.Result, error) {
	for range s.maxAttempts {
		item, ok, err := s.getStock(ctx, adj.ProductID)
		if err != nil {
			return inventory.Result{}, err
		}
		if !ok {
			return inventory.Result{}, inventory.ErrUnknownProduct
		}

		applied, err := s.isApplied(ctx, adj)
		if err != nil {
			return inventory.Result{}, err
		}
		if applied {
			return inventory.Result{Stock: item.Stock}, nil
		}

		if mode == inventory.ModeStrict && item.Stock < adj.Quantity {
			return inventory.Result{Stock: item.Stock}, inventory.ErrConflict
		}
		next := inventory.Clamp(item.Stock, adj.Quantity)

		retry, alreadyApplied, err := s.commit(ctx, adj, item.Stock, next)
		switch {
		case err != nil:
			return inventory.Result{}, errors.Wrapf(err, "decrement %s", adj.Key())
		case alreadyApplied:
			continue
		case retry:
			continue
		}
		return inventory.Result{Stock: next, Applied: true}, nil
	}
	return inventory.Result{}, errors.Wrapf(ErrContention, "decrement %s", adj.Key())
}

// commit runs the conditional transaction. retry reports a stock race;
// alreadyApplied reports that another writer recorded the same adjustment.
func (s *InventoryStore) commit(ctx context.Context, adj inventory.Adjustment, current, next int) (retry, alreadyApplied bool, err error) {
	marker, err := s.marker(adj)
	if err != nil {
		return false, false, err
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.tables.Adjustments),
					Item:                marker,
					ConditionExpression: aws.String(adjustmentNotExists),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(s.tables.Stock),
					Key: map[string]types.AttributeValue{
						stockKey: &types.AttributeValueMemberS{Value: adj.ProductID},
					},
					UpdateExpression:    aws.String(setStock),
					ConditionExpression: aws.String(stockUnchanged),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":current": number(current),
						":next":    number(next),
						":at":      &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
					},
				},
			},
		},
	})
	if err == nil {
		return false, false, nil
	}

	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false, false, errors.Wrap(err, "transact write")
	}
	reasons := canceled.CancellationReasons
	if len(reasons) > 0 && aws.ToString(reasons[0].Code) == conditionFailed {
		return false, true, nil
	}
	if len(reasons) > 1 && aws.ToString(reasons[1].Code) == conditionFailed {
		return true, false, nil
	}
	return false, false, errors.Wrap(err, "transact write")
}

// Snapshot scans the stock table.
func (s *InventoryStore) Snapshot(ctx context.Context) (inventory.Snapshot, error) {
	snap := inventory.Snapshot{TakenAt: s.now().UTC(), Levels: make(map[string]int)}

	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(s.tables.Stock),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return inventory.Snapshot{}, errors.Wrap(err, "scan stock")
		}
		var items []stockItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return inventory.Snapshot{}, errors.Wrap(err, "unmarshal stock")
		}
		for _, it := range items {
			snap.Levels[it.ProductID] = it.Stock
		}
	}
	return snap, nil
}

// Restore overwrites the stock of known products and records applied
// adjustments. Unknown products are skipped. The writes go out as
// transactions of at most maxTransactItems actions, stock updates first. Each
// transaction is atomic on its own; after a failure earlier ones stay applied
// and running the same Restore again converges.
func (s *InventoryStore) Restore(ctx context.Context, levels map[string]int, applied []inventory.Adjustment) error {
	ids := make([]string, 0, len(levels))
	for id := range levels {
		ids = append(ids, id)
	}
	known, err := s.Levels(ctx, ids)
	if err != nil {
		return err
	}

	at := &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)}
	items := make([]types.TransactWriteItem, 0, len(known)+len(applied))
	for _, id := range inventory.SortedKeys(ids) {
		if _, ok := known[id]; !ok {
			continue
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName: aws.String(s.tables.Stock),
				Key: map[string]types.AttributeValue{
					stockKey: &types.AttributeValueMemberS{Value: id},
				},
				UpdateExpression:    aws.String(setStock),
				ConditionExpression: aws.String(productExists),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":next": number(levels[id]),
					":at":   at,
				},
			},
		})
	}

	// A transaction may not touch the same item twice.
	seen := make(map[string]struct{}, len(applied))
	for _, adj := range applied {
		if _, dup := seen[adj.Key()]; dup {
			continue
		}
		seen[adj.Key()] = struct{}{}
		marker, err := s.marker(adj)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.tables.Adjustments),
				Item:      marker,
			},
		})
	}

	for lo := 0; lo < len(items); lo += maxTransactItems {
		hi := min(lo+maxTransactItems, len(items))
		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items[lo:hi],
		})
		switch {
		case err == nil:
		case isConditionFailed(err):
			return errors.Wrapf(inventory.ErrUnknownProduct, "restore items %d-%d: product removed concurrently", lo, hi-1)
		default:
			return errors.Wrapf(err, "restore items %d-%d", lo, hi-1)
		}
	}
	return nil
}

// PutStock sets the stock of a product, creating it if needed.
func (s *InventoryStore) PutStock(ctx context.Context, productID string, stock int) error {
	item, err := attributevalue.MarshalMap(stockItem{
		ProductID: productID,
		Stock:     stock,
		UpdatedAt: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Wrap(err, "marshal stock")
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Stock),
		Item:      item,
	}); err != nil {
		return errors.Wrapf(err, "put stock of %s", productID)
	}
	return nil
}

func (s *InventoryStore) getStock(ctx context.Context, id string) (stockItem, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Stock),
		Key: map[string]types.AttributeValue{
			stockKey: &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return stockItem{}, false, errors.Wrapf(err, "get stock of %s", id)
	}
	if len(out.Item) == 0 {
		return stockItem{}, false, nil
	}
	var item stockItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return stockItem{}, false, errors.Wrap(err, "unmarshal stock")
	}
	return item, true, nil
}

func (s *InventoryStore) isApplied(ctx context.Context, adj inventory.Adjustment) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tables.Adjustments),
		Key: map[string]types.AttributeValue{
			adjustmentKey: &types.AttributeValueMemberS{Value: adj.Key()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, errors.Wrapf(err, "get adjustment %s", adj.Key())
	}
	return len(out.Item) > 0, nil
}

func (s *InventoryStore) marker(adj inventory.Adjustment) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(adjustmentItem{
		Key:       adj.Key(),
		SaleID:    adj.SaleID,
		ProductID: adj.ProductID,
		Quantity:  adj.Quantity,
		AppliedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal adjustment")
	}
	return item, nil
}

// isConditionFailed reports a failed condition of a single write or of any
// action of a transaction.
func isConditionFailed(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			if aws.ToString(r.Code) == conditionFailed {
				return true
			}
		}
		return false
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == conditionFailedException
}

func number(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}
