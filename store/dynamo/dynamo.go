// Package dynamo provides a store.Driver backed by DynamoDB.
//
// Each entity type maps to one table whose hash key is the "id" attribute
// (configurable with the "key" connection option). Deletes are soft: Remove
// sets a TTL attribute to now and every read filters expired items out, so
// DynamoDB's TTL sweeper reclaims them later.
//
// Lookups that filter on the key alone use BatchGetItem; every other filter
// is a Scan with a filter expression. Sorting, pagination and aggregates are
// computed client side.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/jacentio/weave/store"
)

// DriverID is the driver identifier used in connection configuration.
const DriverID = "dynamodb"

const (
	maxBatchGet      = 100
	maxTransactItems = 100

	// maxUnprocessedRetries bounds consecutive BatchGetItem rounds that
	// leave keys unprocessed.
	maxUnprocessedRetries = 8
	maxUnprocessedBackoff = 2 * time.Second
)

// ErrUnprocessed is returned when DynamoDB keeps leaving keys unprocessed
// after every retry.
var ErrUnprocessed = errors.New("weave: dynamodb keys left unprocessed")

// API is the subset of *dynamodb.Client used by the driver.
type API interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Factory returns a DriverFactory using client for every connection.
func Factory(client API) store.DriverFactory {
	return func(_ context.Context, opts store.DriverOptions) (store.Driver, error) {
		return newDriver(client, client, opts), nil
	}
}

// ConnectFunc opens a client for a connection.
type ConnectFunc func(ctx context.Context, conn store.ConnectionDescriptor) (API, error)

// ConnectFactory returns a DriverFactory opening one client per connection
// name with connect. Clients are shared by every entity using the connection.
func ConnectFactory(connect ConnectFunc) store.DriverFactory {
	var (
		mu      sync.Mutex
		clients = make(map[string]API)
	)
	get := func(ctx context.Context, conn store.ConnectionDescriptor) (API, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[conn.Name]; ok {
			return c, nil
		}
		c, err := connect(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", conn.Name, err)
		}
		clients[conn.Name] = c
		return c, nil
	}
	return func(ctx context.Context, opts store.DriverOptions) (store.Driver, error) {
		read, err := get(ctx, opts.Connections.Read)
		if err != nil {
			return nil, err
		}
		write, err := get(ctx, opts.Connections.Write)
		if err != nil {
			return nil, err
		}
		return newDriver(read, write, opts), nil
	}
}

// Driver is a store.Driver over one DynamoDB table.
type Driver struct {
	read  API
	write API
	opts  store.DriverOptions

	table          string
	key            string
	consistentRead bool

	backoff retry.BackoffDelayer
}

var _ store.Driver = (*Driver)(nil)

func newDriver(read, write API, opts store.DriverOptions) *Driver {
	connOpts := opts.Connections.Read.Options
	key := cast.ToString(connOpts["key"])
	if key == "" {
		key = "id"
	}
	return &Driver{
		read:           read,
		write:          write,
		opts:           opts,
		table:          cast.ToString(connOpts["table_prefix"]) + opts.Table,
		key:            key,
		consistentRead: cast.ToBool(connOpts["consistent_read"]),
		backoff:        retry.NewExponentialJitterBackoff(maxUnprocessedBackoff),
	}
}

// Entity implements store.Driver.
func (d *Driver) Entity() string { return d.opts.Entity }

// Table implements store.Driver. It includes the configured table prefix.
func (d *Driver) Table() string { return d.table }

// ConnectionName implements store.Driver.
func (d *Driver) ConnectionName(target store.Target) string {
	return d.opts.Connections.Get(target).Name
}

// Get implements store.Driver.
func (d *Driver) Get(ctx context.Context, where store.Where, opts ...store.QueryOption) ([]*store.Row, error) {
	q := store.BuildQuery(opts...)

	var (
		rows []*store.Row
		err  error
	)
	if keys, ok := keyOnly(where, d.key); ok {
		rows, err = d.batchGet(ctx, keys)
	} else {
		rows, err = d.scan(ctx, where)
	}
	if err != nil {
		return nil, err
	}

	store.SortRows(rows, q.Order)
	if q.PageSize > 0 {
		start := q.Offset()
		if start >= len(rows) {
			return nil, nil
		}
		rows = rows[start:min(start+q.PageSize, len(rows))]
	}
	return rows, nil
}

// batchGet fetches items by key in chunks, retrying unprocessed keys.
func (d *Driver) batchGet(ctx context.Context, keys []any) ([]*store.Row, error) {
	seen := make(map[string]struct{}, len(keys))
	var pending []map[string]types.AttributeValue
	for _, k := range keys {
		ks := store.KeyString(k)
		if _, dup := seen[ks]; dup {
			continue
		}
		seen[ks] = struct{}{}
		av, err := attributevalue.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key: %w", err)
		}
		pending = append(pending, map[string]types.AttributeValue{d.key: av})
	}

	var rows []*store.Row
	attempt := 0
	for len(pending) > 0 {
		chunk := pending[:min(maxBatchGet, len(pending))]
		pending = pending[len(chunk):]

		out, err := d.read.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				d.table: {Keys: chunk, ConsistentRead: aws.Bool(d.consistentRead)},
			},
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Responses[d.table] {
			if IsDeleted(item) {
				continue
			}
			rows = append(rows, rowFromItem(item))
		}
		unprocessed := out.UnprocessedKeys[d.table].Keys
		if len(unprocessed) == 0 {
			attempt = 0
			continue
		}
		attempt++
		if attempt > maxUnprocessedRetries {
			return nil, fmt.Errorf("%w: %d keys in %s after %d retries",
				ErrUnprocessed, len(unprocessed), d.table, maxUnprocessedRetries)
		}
		if err := d.wait(ctx, attempt); err != nil {
			return nil, err
		}
		pending = append(pending, unprocessed...)
	}
	return rows, nil
}

// wait sleeps for the backoff of the given retry attempt.
func (d *Driver) wait(ctx context.Context, attempt int) error {
	delay, err := d.backoff.BackoffDelay(attempt, nil)
	if err != nil {
		return err
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Driver) scanInput(where store.Where) (*dynamodb.ScanInput, bool, error) {
	f, err := compileWhere(where)
	if err != nil {
		return nil, false, err
	}
	if f.empty {
		return nil, false, nil
	}
	return &dynamodb.ScanInput{
		TableName:                 aws.String(d.table),
		FilterExpression:          aws.String(f.expr),
		ExpressionAttributeNames:  f.names,
		ExpressionAttributeValues: f.values,
		ConsistentRead:            aws.Bool(d.consistentRead),
	}, true, nil
}

func (d *Driver) scan(ctx context.Context, where store.Where) ([]*store.Row, error) {
	input, ok, err := d.scanInput(where)
	if err != nil || !ok {
		return nil, err
	}

	var rows []*store.Row
	paginator := dynamodb.NewScanPaginator(d.read, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			rows = append(rows, rowFromItem(item))
		}
	}
	return rows, nil
}

// GetOne implements store.Driver.
func (d *Driver) GetOne(ctx context.Context, where store.Where, order ...store.Order) (*store.Row, error) {
	rows, err := d.Get(ctx, where, store.WithOrder(order...), store.WithPage(1, 1))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count implements store.Driver with a COUNT scan.
func (d *Driver) Count(ctx context.Context, where store.Where) (int64, error) {
	input, ok, err := d.scanInput(where)
	if err != nil || !ok {
		return 0, err
	}
	input.Select = types.SelectCount

	var total int64
	paginator := dynamodb.NewScanPaginator(d.read, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		total += int64(page.Count)
	}
	return total, nil
}

// Aggregate implements store.Driver.
func (d *Driver) Aggregate(ctx context.Context, fn store.AggregateFunc, field string, where store.Where) (float64, error) {
	rows, err := d.Get(ctx, where)
	if err != nil {
		return 0, err
	}
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		v, ok := row.Get(field)
		if !ok || v == nil {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("aggregate %s.%s: %w", d.opts.Entity, field, err)
		}
		values = append(values, f)
	}
	return store.Reduce(fn, values)
}

// withID returns the row's id, assigning a new one when it has none.
func (d *Driver) withID(row *store.Row) (*store.Row, any) {
	if id := row.Value(d.key); id != nil {
		return row, id
	}
	row = row.Clone()
	id := uuid.NewString()
	row.Set(d.key, id)
	return row, id
}

// Create implements store.Driver. It fails with store.ErrAlreadyExists when
// an item with the same key exists.
func (d *Driver) Create(ctx context.Context, row *store.Row) (any, error) {
	row, id := d.withID(row)
	item, err := itemFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", d.opts.Entity, err)
	}

	_, err = d.write.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#key)"),
		ExpressionAttributeNames: map[string]string{"#key": d.key},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil, fmt.Errorf("%w: %s %v", store.ErrAlreadyExists, d.opts.Entity, id)
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

// CreateMany implements store.Driver. Rows are written in transactions of
// up to 100 items; a duplicate key cancels its whole transaction.
func (d *Driver) CreateMany(ctx context.Context, rows []*store.Row) error {
	for start := 0; start < len(rows); start += maxTransactItems {
		end := min(start+maxTransactItems, len(rows))
		items := make([]types.TransactWriteItem, 0, end-start)
		for _, row := range rows[start:end] {
			row, _ = d.withID(row)
			item, err := itemFromRow(row)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", d.opts.Entity, err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:                aws.String(d.table),
					Item:                     item,
					ConditionExpression:      aws.String("attribute_not_exists(#key)"),
					ExpressionAttributeNames: map[string]string{"#key": d.key},
				},
			})
		}
		_, err := d.write.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		if err := d.mapTransactionError(err); err != nil {
			return err
		}
	}
	return nil
}

// mapTransactionError maps a cancelled transaction caused by a failed
// condition to store.ErrAlreadyExists.
func (d *Driver) mapTransactionError(err error) error {
	if err == nil {
		return nil
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return fmt.Errorf("%w: %s", store.ErrAlreadyExists, d.opts.Entity)
			}
		}
	}
	return err
}

// Set implements store.Driver. The key field is never updated.
func (d *Driver) Set(ctx context.Context, fields *store.Row, where store.Where) error {
	rows, err := d.Get(ctx, where)
	if err != nil {
		return err
	}

	var setClauses []string
	exprNames := mergeExprNames(TTLFilterNames(), map[string]string{"#key": d.key})
	exprValues := map[string]types.AttributeValue{}
	for i, k := range fields.Fields() {
		if k == d.key || k == TTLAttribute {
			continue
		}
		av, err := attributevalue.Marshal(plain(fields.Value(k)))
		if err != nil {
			return fmt.Errorf("marshal field %q: %w", k, err)
		}
		nameKey := "#attr" + strconv.Itoa(i)
		valueKey := ":val" + strconv.Itoa(i)
		exprNames[nameKey] = k
		exprValues[valueKey] = av
		setClauses = append(setClauses, nameKey+" = "+valueKey)
	}
	if len(setClauses) == 0 {
		return nil
	}
	updateExpr := "SET " + strings.Join(setClauses, ", ")

	for _, row := range rows {
		key, err := d.keyOf(row)
		if err != nil {
			return err
		}
		_, err = d.write.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(d.table),
			Key:                       key,
			UpdateExpression:          aws.String(updateExpr),
			ConditionExpression:       aws.String("attribute_exists(#key) AND attribute_not_exists(#ttl)"),
			ExpressionAttributeNames:  exprNames,
			ExpressionAttributeValues: exprValues,
		})
		// Deleted between the read and the write.
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Remove implements store.Driver by setting the TTL of matching items to now.
func (d *Driver) Remove(ctx context.Context, where store.Where) error {
	rows, err := d.Get(ctx, where)
	if err != nil {
		return err
	}
	now := strconv.FormatInt(time.Now().Unix(), 10)
	for _, row := range rows {
		key, err := d.keyOf(row)
		if err != nil {
			return err
		}
		_, err = d.write.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(d.table),
			Key:                      key,
			UpdateExpression:         aws.String("SET #ttl = :now"),
			ConditionExpression:      aws.String("attribute_not_exists(#ttl)"),
			ExpressionAttributeNames: TTLFilterNames(),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberN{Value: now},
			},
		})
		// Ignore condition failure - already deleted
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) keyOf(row *store.Row) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.Marshal(row.Value(d.key))
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return map[string]types.AttributeValue{d.key: av}, nil
}

func plain(v any) any {
	switch t := v.(type) {
	case *store.Row:
		return t.Map()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	}
	return v
}
