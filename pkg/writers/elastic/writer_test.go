package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/jarcoal/httpmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stacktrends/pkg/types"
)

const testAddress = "http://es.test:9200"

var productHeader = http.Header{"X-Elastic-Product": []string{"Elasticsearch"}}

func esResponse(status int, body string) *http.Response {
	res := httpmock.NewStringResponse(status, body)
	res.Header.Set("X-Elastic-Product", "Elasticsearch")
	res.Header.Set("Content-Type", "application/json")
	return res
}

func newMockClient(t *testing.T) (*elasticsearch.Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{testAddress},
		Transport: mock,
	})
	require.NoError(t, err)
	return es, mock
}

func tagTable(rows int) types.Table {
	table := types.Table{
		Name: "tag_year",
		Columns: []types.Column{
			{Name: "tag", Kind: types.Text},
			{Name: "period", Kind: types.Text},
			{Name: "count", Kind: types.Integer},
		},
	}
	for i := 0; i < rows; i++ {
		table.Rows = append(table.Rows, types.Row{fmt.Sprintf("tag%d", i), "2020", i})
	}
	return table
}

const (
	testAlias = "stacktrends-tag_year"
	testIndex = testAlias + "-1700000000000"
)

func newTestWriter(es *elasticsearch.Client) *Writer {
	w := New(es, "StackTrends", zap.NewNop())
	w.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return w
}

type bulkCall struct {
	refresh string
	lines   []string
}

// esCluster records what the writer asks of a mocked cluster.
type esCluster struct {
	created      []string
	bulks        []bulkCall
	aliasActions []interface{}
	dropped      []string
}

func registerCluster(t *testing.T, mock *httpmock.MockTransport, aliasReply *http.Response, bulkReply string) *esCluster {
	t.Helper()
	c := &esCluster{}
	mock.RegisterResponder(http.MethodPut, "=~^"+testAddress+"/"+testAlias+`-\d+`,
		func(req *http.Request) (*http.Response, error) {
			c.created = append(c.created, strings.TrimPrefix(req.URL.Path, "/"))
			return esResponse(200, `{"acknowledged":true}`), nil
		})
	mock.RegisterResponder(http.MethodPost, "=~^"+testAddress+"/_bulk",
		func(req *http.Request) (*http.Response, error) {
			body, err := io.ReadAll(req.Body)
			if err != nil {
				return nil, err
			}
			c.bulks = append(c.bulks, bulkCall{
				refresh: req.URL.Query().Get("refresh"),
				lines:   strings.Split(strings.TrimSpace(string(body)), "\n"),
			})
			return esResponse(200, bulkReply), nil
		})
	mock.RegisterResponder(http.MethodGet, "=~^"+testAddress+"/_alias/"+testAlias,
		func(req *http.Request) (*http.Response, error) {
			return aliasReply, nil
		})
	mock.RegisterResponder(http.MethodPost, "=~^"+testAddress+"/_aliases",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Actions []interface{} `json:"actions"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			c.aliasActions = body.Actions
			return esResponse(200, `{"acknowledged":true}`), nil
		})
	mock.RegisterResponder(http.MethodDelete, "=~^"+testAddress+"/"+testAlias+`-\d+`,
		func(req *http.Request) (*http.Response, error) {
			c.dropped = append(c.dropped, strings.TrimPrefix(req.URL.Path, "/"))
			return esResponse(200, `{"acknowledged":true}`), nil
		})
	return c
}

const bulkOK = `{"took":1,"errors":false,"items":[]}`

func TestWrite(t *testing.T) {
	es, mock := newMockClient(t)
	cluster := registerCluster(t, mock,
		esResponse(200, `{"stacktrends-tag_year-1600000000000":{"aliases":{"stacktrends-tag_year":{}}}}`), bulkOK)

	w := newTestWriter(es)
	w.bufferSize = 2

	require.NoError(t, w.Write(context.Background(), tagTable(5)))

	assert.Equal(t, []string{testIndex}, cluster.created)
	require.Len(t, cluster.bulks, 3)
	assert.Len(t, cluster.bulks[0].lines, 4)
	assert.Len(t, cluster.bulks[1].lines, 4)
	assert.Len(t, cluster.bulks[2].lines, 2)
	assert.Empty(t, cluster.bulks[0].refresh)
	assert.Equal(t, "true", cluster.bulks[2].refresh)

	assert.JSONEq(t, `{"index":{"_index":"`+testIndex+`"}}`, cluster.bulks[0].lines[0])
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(cluster.bulks[0].lines[1]), &doc))
	assert.Equal(t, map[string]interface{}{"tag": "tag0", "period": "2020", "count": 0.0}, doc)

	assert.Equal(t, []interface{}{
		map[string]interface{}{"add": map[string]interface{}{"index": testIndex, "alias": testAlias}},
		map[string]interface{}{"remove_index": map[string]interface{}{"index": "stacktrends-tag_year-1600000000000"}},
	}, cluster.aliasActions)
	assert.Empty(t, cluster.dropped)
}

func TestWrite_FirstVersionOnlyAddsAlias(t *testing.T) {
	es, mock := newMockClient(t)
	cluster := registerCluster(t, mock,
		esResponse(404, `{"error":"alias [stacktrends-tag_year] missing","status":404}`), bulkOK)

	require.NoError(t, newTestWriter(es).Write(context.Background(), tagTable(1)))

	assert.Equal(t, []interface{}{
		map[string]interface{}{"add": map[string]interface{}{"index": testIndex, "alias": testAlias}},
	}, cluster.aliasActions)
}

func TestWrite_EmptyTableStillSwapsAlias(t *testing.T) {
	es, mock := newMockClient(t)
	cluster := registerCluster(t, mock, esResponse(404, `{}`), bulkOK)

	require.NoError(t, newTestWriter(es).Write(context.Background(), tagTable(0)))

	assert.Equal(t, []string{testIndex}, cluster.created)
	assert.Empty(t, cluster.bulks)
	assert.Len(t, cluster.aliasActions, 1)
}

func TestWrite_FailedBulkKeepsPreviousVersion(t *testing.T) {
	es, mock := newMockClient(t)
	cluster := registerCluster(t, mock, esResponse(404, `{}`),
		`{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [count]"}}}]}`)

	w := newTestWriter(es)
	w.bufferSize = 2
	err := w.Write(context.Background(), tagTable(5))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse field [count]")
	assert.Len(t, cluster.bulks, 1, "loading stops at the first failed batch")
	assert.Nil(t, cluster.aliasActions, "the alias is never touched")
	assert.Equal(t, []string{testIndex}, cluster.dropped)
}

func TestWrite_CreateFailure(t *testing.T) {
	es, mock := newMockClient(t)
	mock.RegisterResponder(http.MethodPut, "=~^"+testAddress+"/"+testAlias,
		httpmock.NewStringResponder(500, `{"error":"boom"}`).HeaderSet(productHeader))

	err := newTestWriter(es).Write(context.Background(), tagTable(1))

	assert.Error(t, err)
	assert.Equal(t, 1, mock.GetTotalCallCount(), "nothing is loaded without an index")
}

// TestWrite_Live runs against the cluster named by ELASTICSEARCH_URL.
func TestWrite_Live(t *testing.T) {
	if os.Getenv("ELASTICSEARCH_URL") == "" {
		t.Skip("ELASTICSEARCH_URL is not set")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to initilaize logger: %s", err)
	}
	es, err := elasticsearch.NewDefaultClient()
	if err != nil {
		t.Fatalf("Error creating the client: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	w := New(es, "stacktrends-test", logger)
	table := tagTable(3)
	require.NoError(t, w.Write(ctx, table))

	found, err := countObjects(ctx, es, w.Index(table.Name))
	require.NoError(t, err)
	assert.Equal(t, 3, found)
}

func countObjects(ctx context.Context, es *elasticsearch.Client, index string) (int, error) {
	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(index),
		es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, errors.New("error reading response body")
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, err
	}
	return r.Hits.Total.Value, nil
}
