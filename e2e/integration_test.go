//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// WEAVE_E2E_ENDPOINT points the tests at DynamoDB Local
// (e.g., http://localhost:8000); WEAVE_E2E_PROFILE selects an AWS profile.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/weave/format"
	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/store/dynamo"
	"github.com/jacentio/weave/validate"
)

// Table names - unique per test run to avoid conflicts
const tablePrefix = "weave-e2e-test"

var (
	testID      string
	prefix      string
	tables      = []string{"users", "posts", "tags", "post_tags"}
	ddbClient   *dynamodb.Client
	registry    *store.Registry
	connOptions map[string]any
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	prefix = fmt.Sprintf("%s-%s-", tablePrefix, testID)
	fmt.Printf("Test ID: %s\n", testID)

	ctx := context.Background()
	connOptions = map[string]any{
		"table_prefix":    prefix,
		"consistent_read": true,
	}
	if endpoint := os.Getenv("WEAVE_E2E_ENDPOINT"); endpoint != "" {
		connOptions["endpoint"] = endpoint
		connOptions["region"] = "us-east-1"
	}
	if profile := os.Getenv("WEAVE_E2E_PROFILE"); profile != "" {
		connOptions["profile"] = profile
	}

	client, err := dynamo.NewClient(ctx, store.ConnectionDescriptor{Name: "default", Options: connOptions})
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = client.(*dynamodb.Client)

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	cfg := store.DefaultConfig()
	cfg.Drivers[dynamo.DriverID] = dynamo.Factory(ddbClient)
	cfg.Connections[store.DefaultConnection] = store.Connection{Driver: dynamo.DriverID, Options: connOptions}
	registry = store.NewRegistry(cfg)

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}

	os.Exit(code)
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	for _, name := range tables {
		_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(prefix + name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}

	for _, name := range tables {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(prefix + name),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", name, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")

	for _, name := range tables {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(prefix + name),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", name, err)
		}
	}

	fmt.Println("Tables deleted")
	return nil
}

func entity(t *testing.T, name string) store.Driver {
	t.Helper()
	drv, err := registry.Entity(context.Background(), name)
	if err != nil {
		t.Fatalf("Entity(%s) failed: %v", name, err)
	}
	return drv
}

// --- CRUD Tests ---

func TestCreate_AssignsID(t *testing.T) {
	ctx := context.Background()
	users := entity(t, "User")

	id, err := users.Create(ctx, store.NewRow("name", "Generated"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s, ok := id.(string); !ok || s == "" {
		t.Fatalf("expected generated string id, got %v", id)
	}

	row, err := users.GetOne(ctx, store.Where{"id": id})
	if err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if row == nil || row.String("name") != "Generated" {
		t.Errorf("expected created user, got %v", row)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	ctx := context.Background()
	users := entity(t, "User")
	id := uuid.NewString()

	if _, err := users.Create(ctx, store.NewRow("id", id, "name", "First")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := users.Create(ctx, store.NewRow("id", id, "name", "Second"))
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSet_UpdatesFields(t *testing.T) {
	ctx := context.Background()
	users := entity(t, "User")
	id := uuid.NewString()

	if _, err := users.Create(ctx, store.NewRow("id", id, "name", "Before")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := users.Set(ctx, store.NewRow("name", "After"), store.Where{"id": id}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	row, _ := users.GetOne(ctx, store.Where{"id": id})
	if row.String("name") != "After" {
		t.Errorf("expected 'After', got %q", row.String("name"))
	}
}

func TestRemove_SoftDeleteSetsTTL(t *testing.T) {
	ctx := context.Background()
	users := entity(t, "User")
	id := uuid.NewString()

	if _, err := users.Create(ctx, store.NewRow("id", id, "name", "Doomed")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := users.Remove(ctx, store.Where{"id": id}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	row, err := users.GetOne(ctx, store.Where{"id": id})
	if err != nil {
		t.Fatalf("GetOne failed: %v", err)
	}
	if row != nil {
		t.Errorf("expected removed user to be hidden, got %v", row)
	}

	// Direct DynamoDB get should show TTL is set
	result, err := ddbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(prefix + "users"),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		t.Fatalf("Direct get failed: %v", err)
	}
	if _, ok := result.Item[dynamo.TTLAttribute]; !ok {
		t.Error("expected ttl to be set on removed item")
	}

	// Removing again is a no-op
	if err := users.Remove(ctx, store.Where{"id": id}); err != nil {
		t.Errorf("expected idempotent Remove, got %v", err)
	}
}

func TestCreateMany_AndCount(t *testing.T) {
	ctx := context.Background()
	tags := entity(t, "Tag")
	group := uuid.NewString()

	rows := []*store.Row{
		store.NewRow("id", uuid.NewString(), "group", group, "label", "go"),
		store.NewRow("id", uuid.NewString(), "group", group, "label", "aws"),
	}
	if err := tags.CreateMany(ctx, rows); err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	n, err := tags.Count(ctx, store.Where{"group": group})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 tags, got %d", n)
	}
}

// --- Formatter Tests ---

func TestFormatter_ObjectAndChain(t *testing.T) {
	ctx := context.Background()
	userID, postID := uuid.NewString(), uuid.NewString()
	tagA, tagB := uuid.NewString(), uuid.NewString()

	if _, err := entity(t, "User").Create(ctx, store.NewRow("id", userID, "name", "Ann")); err != nil {
		t.Fatalf("Create user failed: %v", err)
	}
	if err := entity(t, "Tag").CreateMany(ctx, []*store.Row{
		store.NewRow("id", tagA, "label", "a"),
		store.NewRow("id", tagB, "label", "b"),
	}); err != nil {
		t.Fatalf("Create tags failed: %v", err)
	}
	if err := entity(t, "PostTag").CreateMany(ctx, []*store.Row{
		store.NewRow("id", uuid.NewString(), "post", postID, "post_tag", tagA),
		store.NewRow("id", uuid.NewString(), "post", postID, "post_tag", tagB),
	}); err != nil {
		t.Fatalf("Create post tags failed: %v", err)
	}

	post := format.New("post").
		Add("id", format.Scalar{}).
		Add("user", format.Object{Reference: format.Reference{
			Entity: "User",
			Select: format.Projection{Field: &format.FieldSpec{Name: "name"}},
		}}).
		Add("tags", format.Chain{
			Reference: format.Reference{
				Entity: "Tag",
				Select: format.Projection{Field: &format.FieldSpec{Name: "label"}},
			},
			Via: format.Via{Entity: "PostTag", Field: "post", Identity: "post_tag"},
		})

	f := format.NewFormatter(registry)
	out, err := f.ApplyOne(ctx, post, store.NewRow("id", postID, "user", userID), format.Fields("user", "tags"))
	if err != nil {
		t.Fatalf("ApplyOne failed: %v", err)
	}
	if out.Value("user") != "Ann" {
		t.Errorf("expected user 'Ann', got %v", out.Value("user"))
	}
	labels, ok := out.Value("tags").([]any)
	if !ok || len(labels) != 2 {
		t.Fatalf("expected 2 tags, got %v", out.Value("tags"))
	}
}

// --- Validator Tests ---

func TestValidator_UniqueAndExists(t *testing.T) {
	ctx := context.Background()
	email := uuid.NewString() + "@example.com"
	userID := uuid.NewString()

	if _, err := entity(t, "User").Create(ctx, store.NewRow("id", userID, "email", email)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	v := validate.New(registry)
	rules := []validate.Rule{
		{Field: "email", Check: validate.CheckUnique, Options: validate.Options{Entity: "User"}},
		{Field: "user_id", Check: validate.CheckExists, Options: validate.Options{Entity: "User"}},
	}

	res, err := v.Validate(ctx, rules, store.NewRow("email", email, "user_id", uuid.NewString()))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got := res.Codes("email"); len(got) != 1 || got[0] != validate.CodeNotUnique {
		t.Errorf("expected email %s, got %v", validate.CodeNotUnique, got)
	}
	if got := res.Codes("user_id"); len(got) != 1 || got[0] != validate.CodeNotExists {
		t.Errorf("expected user_id %s, got %v", validate.CodeNotExists, got)
	}

	res, err = v.Validate(ctx, rules, store.NewRow("email", "free-"+email, "user_id", userID))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !res.OK() {
		t.Errorf("expected no violations, got %v", res.Violations)
	}
}
