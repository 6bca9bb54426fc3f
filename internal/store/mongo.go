package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"inventory-analytics-service/internal/domain"
	"inventory-analytics-service/internal/logging"
	"inventory-analytics-service/internal/metrics"
)

// MongoOptions configures ConnectMongo. Zero durations leave the driver defaults.
type MongoOptions struct {
	URI                    string
	Database               string
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	MaxPoolSize            uint64
	// QueryTimeout bounds each read when > 0. Cursors are bounded by the
	// request context instead.
	QueryTimeout time.Duration
}

// MongoStore implements Source on top of a MongoDB database.
type MongoStore struct {
	client       *mongo.Client
	db           *mongo.Database
	queryTimeout time.Duration
}

// NewMongoStore wraps an already connected database handle. Close on the
// returned store does not disconnect the client.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// ConnectMongo dials the cluster, verifies it with a ping and returns a store
// owning the client.
func ConnectMongo(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.ServerSelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.ServerSelectionTimeout)
	}
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping", err)
	}

	return &MongoStore{
		client:       client,
		db:           client.Database(opts.Database),
		queryTimeout: opts.QueryTimeout,
	}, nil
}

func (s *MongoStore) Name() string { return "mongo" }

// Close disconnects the client if the store owns one.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

// --- documents ---

type productDoc struct {
	ID                bson.RawValue `bson:"_id"`
	ProductID         string        `bson:"product_id,omitempty"`
	Category          string        `bson:"category"`
	Price             bson.RawValue `bson:"price"`
	UOM               string        `bson:"uom"`
	LeadTimeDays      int           `bson:"lead_time_days"`
	SafetyStock       int           `bson:"safety_stock"`
	ReorderMultiplier bson.RawValue `bson:"reorder_multiplier"`
}

type demandDoc struct {
	ProductID string `bson:"product_id"`
	Date      string `bson:"date"`
	Demand    int64  `bson:"demand"`
}

type inventoryDoc struct {
	ProductID      string `bson:"product_id"`
	Date           string `bson:"date"`
	InventoryLevel int64  `bson:"inventory_level"`
}

type recommendationDoc struct {
	ProductID           string `bson:"product_id"`
	Month               string `bson:"month,omitempty"`
	Date                string `bson:"date,omitempty"`
	ReorderPoint        int64  `bson:"reorder_point"`
	RecommendedOrderQty int64  `bson:"recommended_order_qty"`
}

func (d productDoc) toDomain() (domain.Product, error) {
	id := d.ProductID
	if id == "" {
		switch d.ID.Type {
		case bson.TypeString:
			id = d.ID.StringValue()
		case bson.TypeObjectID:
			id = d.ID.ObjectID().Hex()
		default:
			return domain.Product{}, fmt.Errorf("product without usable id (type %s)", d.ID.Type)
		}
	}

	price, ok, err := decimalFromRaw(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: price: %w", id, err)
	}
	if !ok {
		price = decimal.Zero
	}
	multiplier, ok, err := decimalFromRaw(d.ReorderMultiplier)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: reorder_multiplier: %w", id, err)
	}

	return domain.Product{
		ID:                id,
		Category:          d.Category,
		Price:             price,
		UOM:               d.UOM,
		LeadTimeDays:      d.LeadTimeDays,
		SafetyStock:       d.SafetyStock,
		ReorderMultiplier: decimal.NullDecimal{Decimal: multiplier, Valid: ok},
	}, nil
}

func (d demandDoc) toDomain() (domain.DailyDemand, error) {
	date, err := domain.ParseDate(d.Date)
	if err != nil {
		return domain.DailyDemand{}, err
	}
	return domain.DailyDemand{ProductID: d.ProductID, Date: date, Demand: d.Demand}, nil
}

func (d inventoryDoc) toDomain() (domain.InventoryLevel, error) {
	date, err := domain.ParseDate(d.Date)
	if err != nil {
		return domain.InventoryLevel{}, err
	}
	return domain.InventoryLevel{ProductID: d.ProductID, Date: date, InventoryLevel: d.InventoryLevel}, nil
}

// month returns the explicit month field, or the YYYY-MM prefix of date.
func (d recommendationDoc) month() string {
	if d.Month != "" {
		return d.Month
	}
	if len(d.Date) >= 7 {
		return d.Date[:7]
	}
	return d.Date
}

// decimalFromRaw converts a numeric BSON value. ok is false for missing or null.
func decimalFromRaw(v bson.RawValue) (decimal.Decimal, bool, error) {
	switch v.Type {
	case 0, bson.TypeNull, bson.TypeUndefined:
		return decimal.Decimal{}, false, nil
	case bson.TypeDouble:
		return decimal.NewFromFloat(v.Double()), true, nil
	case bson.TypeInt32:
		return decimal.NewFromInt(int64(v.Int32())), true, nil
	case bson.TypeInt64:
		return decimal.NewFromInt(v.Int64()), true, nil
	case bson.TypeDecimal128:
		d, err := decimal.NewFromString(v.Decimal128().String())
		return d, err == nil, err
	case bson.TypeString:
		d, err := decimal.NewFromString(v.StringValue())
		return d, err == nil, err
	default:
		return decimal.Decimal{}, false, fmt.Errorf("unsupported numeric type %s", v.Type)
	}
}

// --- CatalogReader ---

func (s *MongoStore) ListProducts(ctx context.Context, filter ProductFilter) (_ []domain.Product, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreQuery("find", CollectionProducts, start, err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter.Category != nil {
		query["category"] = *filter.Category
	}
	cur, err := s.db.Collection(CollectionProducts).Find(ctx, query, byteOrderFind(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classifyMongo("ListProducts", err)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	products := make([]domain.Product, 0)
	for cur.Next(ctx) {
		var doc productDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: ListProducts failed to decode product: %w", err)
		}
		p, err := doc.toDomain()
		if err != nil {
			return nil, fmt.Errorf("store: ListProducts: %w", err)
		}
		products = append(products, p)
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongo("ListProducts", err)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (s *MongoStore) ListCategories(ctx context.Context) (_ []string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreQuery("distinct", CollectionProducts, start, err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.db.Collection(CollectionProducts).Distinct(ctx, "category", bson.D{})
	if err != nil {
		return nil, classifyMongo("ListCategories", err)
	}
	categories := make([]string, 0, len(values))
	for _, v := range values {
		if c, ok := v.(string); ok {
			categories = append(categories, c)
		}
	}
	sort.Strings(categories)
	return categories, nil
}

func (s *MongoStore) ListRecommendations(ctx context.Context) (_ []domain.ReorderRecommendation, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreQuery("find", CollectionRecommendations, start, err) }()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := byteOrderFind(bson.D{
		{Key: "product_id", Value: 1},
		{Key: "month", Value: 1},
		{Key: "date", Value: 1},
	})
	cur, err := s.db.Collection(CollectionRecommendations).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, classifyMongo("ListRecommendations", err)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	recs := make([]domain.ReorderRecommendation, 0)
	for cur.Next(ctx) {
		var doc recommendationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: ListRecommendations failed to decode recommendation: %w", err)
		}
		recs = append(recs, domain.ReorderRecommendation{
			ProductID:           doc.ProductID,
			Month:               doc.month(),
			ReorderPoint:        doc.ReorderPoint,
			RecommendedOrderQty: doc.RecommendedOrderQty,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongo("ListRecommendations", err)
	}
	return recs, nil
}

// --- FactReader ---

func factFilter(q FactQuery) bson.M {
	filter := bson.M{
		"date": bson.M{
			"$gte": q.Range.Start.String(),
			"$lte": q.Range.End.String(),
		},
	}
	if q.ProductIDs != nil {
		filter["product_id"] = bson.M{"$in": q.ProductIDs}
	}
	return filter
}

// byteOrderFind sorts with the "simple" collation so string keys compare by
// bytes whatever default collation the collection carries. The merge-join
// relies on that order.
func byteOrderFind(sort bson.D) *options.FindOptions {
	return options.Find().
		SetSort(sort).
		SetCollation(&options.Collation{Locale: "simple"})
}

var factSort = bson.D{{Key: "product_id", Value: 1}, {Key: "date", Value: 1}}

func (s *MongoStore) DemandCursor(ctx context.Context, q FactQuery) (Cursor[domain.DailyDemand], error) {
	start := time.Now()
	cur, err := s.db.Collection(CollectionDailyDemand).Find(ctx, factFilter(q), byteOrderFind(factSort))
	metrics.ObserveStoreQuery("find", CollectionDailyDemand, start, err)
	if err != nil {
		return nil, classifyMongo("DemandCursor", err)
	}
	return &mongoCursor[demandDoc, domain.DailyDemand]{
		cur:        cur,
		collection: CollectionDailyDemand,
		convert:    demandDoc.toDomain,
	}, nil
}

func (s *MongoStore) InventoryCursor(ctx context.Context, q FactQuery) (Cursor[domain.InventoryLevel], error) {
	start := time.Now()
	cur, err := s.db.Collection(CollectionInventoryLevels).Find(ctx, factFilter(q), byteOrderFind(factSort))
	metrics.ObserveStoreQuery("find", CollectionInventoryLevels, start, err)
	if err != nil {
		return nil, classifyMongo("InventoryCursor", err)
	}
	return &mongoCursor[inventoryDoc, domain.InventoryLevel]{
		cur:        cur,
		collection: CollectionInventoryLevels,
		convert:    inventoryDoc.toDomain,
	}, nil
}

// mongoCursor decodes documents of type D and converts them to T. Documents
// that fail conversion (malformed dates) are skipped and counted.
type mongoCursor[D any, T any] struct {
	cur        *mongo.Cursor
	collection string
	convert    func(D) (T, error)
	value      T
	err        error
	closed     bool
}

func (c *mongoCursor[D, T]) Next(ctx context.Context) bool {
	if c.err != nil || c.closed {
		return false
	}
	for c.cur.Next(ctx) {
		var doc D
		if err := c.cur.Decode(&doc); err != nil {
			c.err = fmt.Errorf("store: failed to decode %s document: %w", c.collection, err)
			return false
		}
		v, err := c.convert(doc)
		if err != nil {
			metrics.RecordSkipped(metrics.ReasonMalformedDate, 1)
			logging.Ctx(ctx).Warn().Err(err).Str("collection", c.collection).Msg("Skipping malformed fact document")
			continue
		}
		c.value = v
		return true
	}
	return false
}

func (c *mongoCursor[D, T]) Value() T { return c.value }

func (c *mongoCursor[D, T]) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.cur.Err(); err != nil {
		return classifyMongo("cursor "+c.collection, err)
	}
	return nil
}

func (c *mongoCursor[D, T]) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.cur.Close(ctx)
}

// --- HealthChecker ---

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *MongoStore) CollectionCounts(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	counts := make(map[string]int64, len(Collections))
	for _, name := range Collections {
		n, err := s.db.Collection(name).CountDocuments(ctx, bson.D{})
		if err != nil {
			return nil, classifyMongo("CollectionCounts "+name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

// mongoAuthFailed is the server code for AuthenticationFailed.
const mongoAuthFailed = 18

// classifyMongo maps connectivity failures onto ErrUnavailable and wraps the rest.
func classifyMongo(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	se := mongo.ServerError(nil)
	authFailed := errors.As(err, &se) && se.HasErrorCode(mongoAuthFailed)
	if authFailed || mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return unavailable(op, err)
	}
	return fmt.Errorf("store: %s failed: %w", op, err)
}
