package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ledger-reconciliation/internal/config"
	"ledger-reconciliation/internal/models"
	pkgerrors "ledger-reconciliation/pkg/errors"
	"ledger-reconciliation/pkg/logger"

	"github.com/shopspring/decimal"
)

// HTTPClient talks to the collaborator's record and trigger endpoints
// over JSON and normalizes wire records into models.SourceRecord.
type HTTPClient struct {
	endpoints  map[models.Source]string
	repairURL  string
	recalcURL  string
	recordURL  string
	httpClient *http.Client
	log        logger.Logger
}

// NewHTTPClient creates a client from engine configuration
func NewHTTPClient(cfg *config.Config) *HTTPClient {
	return &HTTPClient{
		endpoints: map[models.Source]string{
			models.SourceDeclared:  cfg.DeclaredSourceURL,
			models.SourceConfirmed: cfg.ConfirmedSourceURL,
		},
		repairURL: cfg.RepairURL,
		recalcURL: cfg.RecalculateURL,
		recordURL: cfg.RecordURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		log: logger.GetGlobalLogger().WithComponent("sources"),
	}
}

// Aliases for wire field names the two backends are known to emit.
// Both feeds are normalized onto the same canonical names before
// records are built.
var fieldAliases = map[string]string{
	"employee":    "entity",
	"name":        "entity",
	"entity_key":  "entity",
	"anno":        "year",
	"mese":        "month",
	"day":         "date",
	"giorno":      "date",
	"data":        "date",
	"amt":         "amount",
	"importo":     "amount",
	"value":       "amount",
	"desc":        "description",
	"descrizione": "description",
	"causale":     "description",
}

// FetchRecords implements Client. Malformed records are dropped and
// logged individually; only a failed request aborts the fetch, and then
// as a SourceUnavailable error the caller degrades on.
func (c *HTTPClient) FetchRecords(ctx context.Context, source models.Source, filter Filter) ([]*models.SourceRecord, error) {
	endpoint, ok := c.endpoints[source]
	if !ok || endpoint == "" {
		return nil, pkgerrors.ConfigurationError(
			pkgerrors.CodeMissingConfig, fmt.Sprintf("%s source endpoint", strings.ToLower(source.String())), "", nil)
	}

	reqURL, err := buildRecordsURL(endpoint, filter)
	if err != nil {
		return nil, pkgerrors.SourceUnavailableError(source.String(), endpoint, err)
	}

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, pkgerrors.SourceUnavailableError(source.String(), endpoint, err)
	}

	var wireRecords []map[string]interface{}
	if err := json.Unmarshal(body, &wireRecords); err != nil {
		return nil, pkgerrors.SourceUnavailableError(source.String(), endpoint, err).
			WithSuggestion("the endpoint returned a payload that is not a JSON record array")
	}

	records := make([]*models.SourceRecord, 0, len(wireRecords))
	dropped := 0
	for i, wire := range wireRecords {
		record, err := normalizeRecord(wire, source)
		if err != nil {
			dropped++
			c.log.WithError(err).WithFields(logger.Fields{
				"source": source.String(),
				"index":  i,
			}).Warn("dropping malformed record")
			continue
		}
		// The endpoint filters by query parameter; lenient backends that
		// ignore it still must not leak out-of-range periods.
		if !filter.Matches(record.Period) {
			continue
		}
		records = append(records, record)
	}

	if dropped > 0 {
		c.log.Warnf("source %s: dropped %d of %d records", source, dropped, len(wireRecords))
	}

	return records, nil
}

// TriggerRepair implements Client
func (c *HTTPClient) TriggerRepair(ctx context.Context, scope string) (models.RepairReport, error) {
	payload := map[string]string{"scope": scope}

	body, err := c.post(ctx, c.repairURL, payload)
	if err != nil {
		return models.RepairReport{}, pkgerrors.RepairFailedError(scope, err)
	}

	var report models.RepairReport
	if err := json.Unmarshal(body, &report); err != nil {
		return models.RepairReport{}, pkgerrors.RepairFailedError(scope, err)
	}

	return report, nil
}

// RecalculateProgressive implements Client
func (c *HTTPClient) RecalculateProgressive(ctx context.Context, excludedYears []int, entityKey string) error {
	payload := map[string]interface{}{
		"excluded_years": excludedYears,
	}
	if entityKey != "" {
		payload["entity_filter"] = entityKey
	}

	if _, err := c.post(ctx, c.recalcURL, payload); err != nil {
		return pkgerrors.RecalculationFailedError(entityKey, err)
	}
	return nil
}

// DeleteRecord implements Client
func (c *HTTPClient) DeleteRecord(ctx context.Context, id string) error {
	reqURL := strings.TrimSuffix(c.recordURL, "/") + "/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return pkgerrors.InternalError("delete record", err)
	}

	return c.doExpectOK(req)
}

// UpdateRecord implements Client
func (c *HTTPClient) UpdateRecord(ctx context.Context, id string, patch map[string]string) error {
	reqURL := strings.TrimSuffix(c.recordURL, "/") + "/" + url.PathEscape(id)

	body, err := json.Marshal(patch)
	if err != nil {
		return pkgerrors.InternalError("encode record patch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.InternalError("update record", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doExpectOK(req)
}

func (c *HTTPClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) post(ctx context.Context, reqURL string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) doExpectOK(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CategorySource, pkgerrors.CodeBadResponse,
			fmt.Sprintf("%s %s failed", req.Method, req.URL.Path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CategorySource, pkgerrors.CodeBadResponse,
			fmt.Sprintf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode))
	}

	return nil
}

func buildRecordsURL(endpoint string, filter Filter) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	if !filter.From.IsZero() {
		q.Set("from", filter.From.Key())
	}
	if !filter.To.IsZero() {
		q.Set("to", filter.To.Key())
	}
	if filter.EntityKey != "" {
		q.Set("entity", filter.EntityKey)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// normalizeRecord converts one wire object into a SourceRecord,
// resolving field-name aliases and coercing amount and period types.
func normalizeRecord(wire map[string]interface{}, source models.Source) (*models.SourceRecord, error) {
	fields := canonicalFields(wire)

	amount, err := parseWireAmount(fields["amount"])
	if err != nil {
		return nil, pkgerrors.RecordValidationError(pkgerrors.CodeInvalidAmount, "amount", fields["amount"], err)
	}

	period, err := parseWirePeriod(fields)
	if err != nil {
		return nil, pkgerrors.RecordValidationError(pkgerrors.CodeInvalidPeriod, "period", fields["date"], err)
	}

	record := models.NewSourceRecord(
		stringField(fields, "id"),
		stringField(fields, "entity"),
		period,
		amount,
		source,
	)
	record.Description = stringField(fields, "description")
	record.Raw = rawFields(fields)

	if err := record.Validate(); err != nil {
		return nil, pkgerrors.RecordValidationError(pkgerrors.CodeInvalidRecord, "record", record.ID, err)
	}

	return record, nil
}

func canonicalFields(wire map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(wire))
	for key, value := range wire {
		canonical := strings.ToLower(strings.TrimSpace(key))
		if alias, ok := fieldAliases[canonical]; ok {
			canonical = alias
		}
		fields[canonical] = value
	}
	return fields
}

func parseWireAmount(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case string:
		return models.ParseAmount(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case nil:
		return decimal.Zero, fmt.Errorf("amount is missing")
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", value)
	}
}

func parseWirePeriod(fields map[string]interface{}) (models.Period, error) {
	if date := stringField(fields, "date"); date != "" {
		return models.ParsePeriodDate(date)
	}

	year, err := intField(fields, "year")
	if err != nil {
		return models.Period{}, err
	}

	period := models.Period{Year: year}
	if month, err := intField(fields, "month"); err == nil && month >= 1 && month <= 12 {
		period.Month = time.Month(month)
	}

	return period, nil
}

func stringField(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func intField(fields map[string]interface{}, key string) (int, error) {
	switch v := fields[key].(type) {
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	default:
		return 0, fmt.Errorf("field '%s' is missing", key)
	}
}

func rawFields(fields map[string]interface{}) map[string]string {
	raw := make(map[string]string, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			raw[key] = v
		case float64:
			raw[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			raw[key] = strconv.FormatBool(v)
		}
	}
	return raw
}
