package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowarc/parquetsync/internal/dbadapter"
	"github.com/arrowarc/parquetsync/internal/errs"
	"github.com/arrowarc/parquetsync/internal/record"
	"github.com/arrowarc/parquetsync/internal/schema"
)

type fakeDriver struct {
	maxDateOK  bool
	collection string
}

func (f *fakeDriver) Find(ctx context.Context, collection string, filter, projection record.Record) ([]record.Record, error) {
	return nil, nil
}

func (f *fakeDriver) Aggregate(ctx context.Context, collection string, pipeline []record.Record) ([]record.Record, error) {
	return nil, nil
}

func (f *fakeDriver) InsertMany(ctx context.Context, collection string, rows []record.Record, ordered bool) error {
	return nil
}

func (f *fakeDriver) DeleteMany(ctx context.Context, collection string, filter record.Record) error {
	return nil
}

func (f *fakeDriver) ListCollections(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeDriver) CreateCollection(ctx context.Context, collection string) error { return nil }

func (f *fakeDriver) MaxDate(ctx context.Context, collection, field string, filter record.Record) (any, bool, error) {
	f.collection = collection
	if !f.maxDateOK {
		return nil, false, nil
	}
	return time.Now(), true, nil
}

func testController(driver *fakeDriver) *Controller {
	r := schema.NewRegistry()
	return New(r, dbadapter.New(driver), nil, nil, nil)
}

func TestRunRejectsIncludeAndExcludeTogether(t *testing.T) {
	c := testController(&fakeDriver{})
	err := c.Run(context.Background(), Options{Action: ActionExport, Include: []string{"pages"}, Exclude: []string{"tasks"}})
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunRejectsUploadOnSuccessWithWrongAction(t *testing.T) {
	c := testController(&fakeDriver{})
	err := c.Run(context.Background(), Options{Action: ActionImport, UploadOnSuccess: true})
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCheckSentinelFailsWhenEmpty(t *testing.T) {
	driver := &fakeDriver{maxDateOK: false}
	c := testController(driver)

	err := c.checkSentinel(context.Background())
	var preErr *errs.PreconditionError
	require.ErrorAs(t, err, &preErr)
	assert.Equal(t, sentinelCollection, driver.collection)
	assert.Equal(t, "page_metrics", sentinelCollection)
}

func TestCheckSentinelPassesWhenNonEmpty(t *testing.T) {
	driver := &fakeDriver{maxDateOK: true}
	c := testController(driver)

	err := c.checkSentinel(context.Background())
	require.NoError(t, err)
}

func TestContinuableClassifiesDataAndTransientAsContinuable(t *testing.T) {
	assert.True(t, continuable(&errs.DataError{Collection: "pages", Reason: "bad"}))
	assert.True(t, continuable(&errs.TransientIOError{Op: "find", Err: assert.AnError}))
	assert.False(t, continuable(&errs.ConfigError{Reason: "bad config"}))
	assert.False(t, continuable(&errs.PreconditionError{Collection: "pages", Reason: "empty"}))
}

func TestActionStringNames(t *testing.T) {
	assert.Equal(t, "export", ActionExport.String())
	assert.Equal(t, "recalculate-views", ActionRecalculateViews.String())
}
