package errors

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// constraintGuards names the settlement rule each schema constraint enforces.
// Keys are constraint names (Postgres) or table(columns) (sqlite).
var constraintGuards = map[string]string{
	"uq_transactions_idempotency":             "one purchase per tenant idempotency key",
	"transactions(idempotency_key,tenant_id)": "one purchase per tenant idempotency key",
	"uq_transactions_provider_payment":        "one transaction per provider payment",
	"transactions(provider_payment_id)":       "one transaction per provider payment",
	"chk_transactions_amount_non_negative":    "ticket amount is never negative",
	"chk_transactions_total":                  "total equals the sum of its components",
	"fk_refunds_transaction":                  "refunds reference an existing purchase",
	"chk_refunds_amount_positive":             "refund amount is positive",
	"uq_venue_balances_bucket":                "one balance bucket per venue and type",
	"venue_balances(balance_type,venue_id)":   "one balance bucket per venue and type",
	"uq_webhook_inbox_event":                  "one inbox row per provider event",
	"webhook_inbox(event_id,provider)":        "one inbox row per provider event",
}

var sqliteConstraintRe = regexp.MustCompile(`(UNIQUE|CHECK|FOREIGN KEY) constraint failed: ([\w.]+(?:, [\w.]+)*)`)

// ErrorDump flattens an error chain for logging.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`

	// Guard is the settlement rule behind a violated constraint.
	Guard string `json:"guard,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = MetadataFor(d.Code).Retryable
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGColumn = pgxErr.ColumnName
		d.PGDetail = pgxErr.Detail
		d.PGMessage = pgxErr.Message
	case errors.As(err, &pqErr):
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGColumn = pqErr.Column
		d.PGDetail = pqErr.Detail
		d.PGMessage = pqErr.Message
	default:
		d.PGTable, d.PGColumn = sqliteConstraint(err.Error())
	}

	switch {
	case d.PGConstraint != "":
		d.Guard = constraintGuards[d.PGConstraint]
	case d.PGTable != "" && d.PGColumn != "":
		d.Guard = constraintGuards[d.PGTable+"("+d.PGColumn+")"]
	}
	return d
}

// LogFields returns the populated dump fields keyed for structured logs.
func (d ErrorDump) LogFields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	if d.Code != "" {
		fields["error_code"] = d.Code
		fields["retryable"] = d.Retryable
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	for key, value := range map[string]string{
		"pg_code":       d.PGCode,
		"pg_constraint": d.PGConstraint,
		"pg_table":      d.PGTable,
		"pg_detail":     d.PGDetail,
		"guard":         d.Guard,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}

// sqliteConstraint pulls table and sorted column list out of a sqlite
// constraint message such as "UNIQUE constraint failed: t.a, t.b".
func sqliteConstraint(msg string) (string, string) {
	m := sqliteConstraintRe.FindStringSubmatch(msg)
	if m == nil {
		return "", ""
	}
	var table string
	var columns []string
	for _, qualified := range strings.Split(m[2], ", ") {
		parts := strings.SplitN(qualified, ".", 2)
		if len(parts) != 2 {
			continue
		}
		table = parts[0]
		columns = append(columns, parts[1])
	}
	sort.Strings(columns)
	return table, strings.Join(columns, ",")
}
