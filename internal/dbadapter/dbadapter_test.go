package dbadapter

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquetsync/internal/frame"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/schema"
)

type fakeDriver struct {
	findResult   []record.Record
	insertedRows []record.Record
	insertedOrd  bool
	collections  []string
	created      string
	deleted      string
}

func (f *fakeDriver) Find(ctx context.Context, collection string, filter, projection record.Record) ([]record.Record, error) {
	return f.findResult, nil
}

func (f *fakeDriver) Aggregate(ctx context.Context, collection string, pipeline []record.Record) ([]record.Record, error) {
	return f.findResult, nil
}

func (f *fakeDriver) InsertMany(ctx context.Context, collection string, rows []record.Record, ordered bool) error {
	f.insertedRows = rows
	f.insertedOrd = ordered
	return nil
}

func (f *fakeDriver) DeleteMany(ctx context.Context, collection string, filter record.Record) error {
	f.deleted = collection
	return nil
}

func (f *fakeDriver) ListCollections(ctx context.Context) ([]string, error) {
	return f.collections, nil
}

func (f *fakeDriver) CreateCollection(ctx context.Context, collection string) error {
	f.created = collection
	return nil
}

func (f *fakeDriver) MaxDate(ctx context.Context, collection, field string, filter record.Record) (any, bool, error) {
	return nil, false, nil
}

func testModel() *schema.ParquetModel {
	return &schema.ParquetModel{
		Collection: "pages",
		Schema: arrow.NewSchema([]arrow.Field{
			{Name: "_id", Type: arrow.BinaryTypes.String},
			{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil),
	}
}

func TestFindShapesResultIntoModelSchema(t *testing.T) {
	driver := &fakeDriver{findResult: []record.Record{
		{"_id": "64bb7ea337b9d8195e3b441d", "title": "hello"},
	}}
	a := New(driver)

	rec, err := a.Find(context.Background(), testModel(), record.Record{})
	require.NoError(t, err)
	defer rec.Release()
	assert.EqualValues(t, 1, rec.NumRows())
}

func TestFindEmptyResultYieldsZeroRowBatchWithSchema(t *testing.T) {
	driver := &fakeDriver{}
	a := New(driver)
	model := testModel()

	rec, err := a.Find(context.Background(), model, record.Record{})
	require.NoError(t, err)
	defer rec.Release()
	assert.EqualValues(t, 0, rec.NumRows())
	assert.True(t, rec.Schema().Equal(model.Schema))
}

func TestInsertManyAppliesDefaultsAndObjectIDDecode(t *testing.T) {
	driver := &fakeDriver{}
	a := New(driver)

	coll := &schema.MongoCollection{
		Collection:     "pages",
		ObjectIDFields: []string{"_id"},
	}
	schemaDef := arrow.NewSchema([]arrow.Field{
		{Name: "_id", Type: arrow.BinaryTypes.String},
	}, nil)
	b, err := frame.FromRecords(nil, schemaDef, []record.Record{{"_id": "64bb7ea337b9d8195e3b441d"}})
	require.NoError(t, err)
	defer b.Release()

	err = a.InsertMany(context.Background(), coll, b, true)
	require.NoError(t, err)
	require.Len(t, driver.insertedRows, 1)
	assert.True(t, driver.insertedOrd)
}

func TestEnsureCollectionCreatesWhenAbsent(t *testing.T) {
	driver := &fakeDriver{collections: []string{"other"}}
	a := New(driver)

	err := a.EnsureCollection(context.Background(), "pages")
	require.NoError(t, err)
	assert.Equal(t, "pages", driver.created)
}

func TestEnsureCollectionSkipsWhenPresent(t *testing.T) {
	driver := &fakeDriver{collections: []string{"pages"}}
	a := New(driver)

	err := a.EnsureCollection(context.Background(), "pages")
	require.NoError(t, err)
	assert.Empty(t, driver.created)
}
