package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stacktrends/config"
	"stacktrends/pkg/types"
)

const dropTimeout = 10 * time.Second

// Writer indexes every table into a fresh index and then points the table's
// alias at it in a single alias update, dropping the indices it replaced.
// A failed write leaves the alias on the previous version.
type Writer struct {
	es         *elasticsearch.Client
	prefix     string
	bufferSize int
	now        func() time.Time
	logger     *zap.Logger
}

func New(es *elasticsearch.Client, prefix string, logger *zap.Logger) *Writer {
	return &Writer{es: es, prefix: prefix, bufferSize: config.ElasticBulkBuffer, now: time.Now, logger: logger}
}

func (w *Writer) Name() string { return "elastic" }

// Index returns the alias a table is searchable under.
func (w *Writer) Index(table string) string {
	return strings.ToLower(w.prefix + "-" + table)
}

func (w *Writer) Write(ctx context.Context, table types.Table) error {
	alias := w.Index(table.Name)
	index := alias + "-" + strconv.FormatInt(w.now().UnixMilli(), 10)

	if err := w.createIndex(ctx, index); err != nil {
		return err
	}
	if err := w.load(ctx, index, table); err != nil {
		w.dropIndex(index)
		return err
	}

	previous, err := w.aliasedIndices(ctx, alias)
	if err != nil {
		w.dropIndex(index)
		return err
	}
	if err := w.swapAlias(ctx, alias, index, previous); err != nil {
		w.dropIndex(index)
		return err
	}
	w.logger.Debug("alias switched", zap.String("alias", alias), zap.String("index", index), zap.Strings("replaced", previous))
	return nil
}

func (w *Writer) load(ctx context.Context, index string, table types.Table) error {
	var buffer [][]byte
	for i := range table.Rows {
		data, err := json.Marshal(table.Record(i))
		if err != nil {
			return errors.Wrapf(err, "failed to encode row %d of %s", i, table.Name)
		}
		buffer = append(buffer, data)

		if len(buffer) >= w.bufferSize {
			if err := w.flush(ctx, index, buffer, false); err != nil {
				return err
			}
			buffer = buffer[:0]
		}
	}
	return w.flush(ctx, index, buffer, true)
}

func (w *Writer) createIndex(ctx context.Context, index string) error {
	res, err := esapi.IndicesCreateRequest{Index: index}.Do(ctx, w.es)
	if err != nil {
		return errors.Wrapf(err, "failed to create index %s", index)
	}
	defer closeBody(res, w.logger)

	if res.IsError() {
		return errors.Errorf("failed to create index %s: %s", index, res.Status())
	}
	return nil
}

// aliasedIndices lists the indices alias currently points at.
func (w *Writer) aliasedIndices(ctx context.Context, alias string) ([]string, error) {
	res, err := esapi.IndicesGetAliasRequest{Name: []string{alias}}.Do(ctx, w.es)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up alias %s", alias)
	}
	defer closeBody(res, w.logger)

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, errors.Errorf("failed to look up alias %s: %s", alias, res.Status())
	}
	doc, err := jason.NewObjectFromReader(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode alias response")
	}
	var indices []string
	for name := range doc.Map() {
		indices = append(indices, name)
	}
	sort.Strings(indices)
	return indices, nil
}

// swapAlias points alias at index and removes the previous indices in one
// atomic alias update.
func (w *Writer) swapAlias(ctx context.Context, alias, index string, previous []string) error {
	actions := []map[string]interface{}{
		{"add": map[string]string{"index": index, "alias": alias}},
	}
	for _, old := range previous {
		actions = append(actions, map[string]interface{}{"remove_index": map[string]string{"index": old}})
	}
	body, err := json.Marshal(map[string]interface{}{"actions": actions})
	if err != nil {
		return errors.Wrap(err, "failed to encode alias actions")
	}

	res, err := esapi.IndicesUpdateAliasesRequest{Body: bytes.NewReader(body)}.Do(ctx, w.es)
	if err != nil {
		return errors.Wrapf(err, "failed to switch alias %s", alias)
	}
	defer closeBody(res, w.logger)

	if res.IsError() {
		return errors.Errorf("failed to switch alias %s: %s", alias, res.Status())
	}
	return nil
}

// dropIndex removes a half-loaded index. It runs after ctx may have been
// cancelled, so it uses its own short deadline.
func (w *Writer) dropIndex(index string) {
	ctx, cancel := context.WithTimeout(context.Background(), dropTimeout)
	defer cancel()

	res, err := esapi.IndicesDeleteRequest{Index: []string{index}}.Do(ctx, w.es)
	if err != nil {
		w.logger.Error("failed to drop index", zap.String("index", index), zap.Error(err))
		return
	}
	defer closeBody(res, w.logger)
	if res.IsError() {
		w.logger.Error("failed to drop index", zap.String("index", index), zap.String("status", res.Status()))
	}
}

// flush sends the buffered documents in one bulk request. The last flush of
// a table refreshes the index so the documents are searchable once Write
// returns.
func (w *Writer) flush(ctx context.Context, index string, buffer [][]byte, last bool) error {
	if len(buffer) == 0 {
		return nil
	}
	w.logger.Debug("writing objects to ES", zap.String("index", index), zap.Int("objects", len(buffer)))

	var body strings.Builder
	for _, data := range buffer {
		body.WriteString(fmt.Sprintf("{\"index\" : { \"_index\" : \"%s\" }}\n", index))
		body.Write(data)
		body.WriteString("\n")
	}

	req := esapi.BulkRequest{
		Body: strings.NewReader(body.String()),
	}
	if last {
		req.Refresh = "true"
	}
	res, err := req.Do(ctx, w.es)
	if err != nil {
		return errors.Wrap(err, "error making bulk request")
	}
	defer closeBody(res, w.logger)

	if res.IsError() {
		return errors.Errorf("bulk request to %s failed: %s", index, res.Status())
	}
	return bulkErrors(res.Body, index)
}

// bulkErrors reports the first item failure of a bulk response.
func bulkErrors(body io.Reader, index string) error {
	doc, err := jason.NewObjectFromReader(body)
	if err != nil {
		return errors.Wrap(err, "failed to decode bulk response")
	}
	if failed, _ := doc.GetBoolean("errors"); !failed {
		return nil
	}
	items, _ := doc.GetObjectArray("items")
	for _, item := range items {
		reason, err := item.GetString("index", "error", "reason")
		if err == nil {
			return errors.Errorf("bulk indexing into %s failed: %s", index, reason)
		}
	}
	return errors.Errorf("bulk indexing into %s failed", index)
}

func closeBody(res *esapi.Response, logger *zap.Logger) {
	if err := res.Body.Close(); err != nil {
		logger.Error("failed to close response body", zap.Error(err))
	}
}
