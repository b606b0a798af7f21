package writers

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stacktrends/pkg/metrics"
	"stacktrends/pkg/types"
)

type fakeSink struct {
	name   string
	err    error
	tables []string
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Write(ctx context.Context, table types.Table) error {
	if s.err != nil {
		return s.err
	}
	s.tables = append(s.tables, table.Name)
	return nil
}

func TestWriteAll(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	m := metrics.New()
	table := types.Table{Name: "tag", Rows: []types.Row{{"go"}, {"sql"}}}

	require.NoError(t, WriteAll(context.Background(), []Sink{a, b}, table, zap.NewNop(), m))

	assert.Equal(t, []string{"tag"}, a.tables)
	assert.Equal(t, []string{"tag"}, b.tables)
	series, err := testutil.GatherAndCount(m.Registry(), "stacktrends_table_rows")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestWriteAll_CombinesFailures(t *testing.T) {
	a := &fakeSink{name: "a", err: errors.New("disk full")}
	b := &fakeSink{name: "b"}
	c := &fakeSink{name: "c", err: errors.New("broker down")}

	err := WriteAll(context.Background(), []Sink{a, b, c}, types.Table{Name: "tag"}, zap.NewNop(), nil)

	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "a sink: disk full")
	assert.Contains(t, err.Error(), "c sink: broker down")
	assert.Equal(t, []string{"tag"}, b.tables)
}

func TestWriteAll_Cancelled(t *testing.T) {
	a := &fakeSink{name: "a"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WriteAll(ctx, []Sink{a}, types.Table{Name: "tag"}, zap.NewNop(), nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, a.tables)
}
