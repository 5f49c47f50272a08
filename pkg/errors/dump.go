package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the engine reacts to. Serialization and lock failures come
// from concurrent capacity commits and cursor advances.
var pgConditions = map[string]string{
	"23505": "unique_violation",
	"23514": "check_violation",
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
	"57014": "query_canceled",
}

// PostgresDetail is the server side of a failed statement.
type PostgresDetail struct {
	Code       string `json:"code"`
	Condition  string `json:"condition,omitempty"`
	Table      string `json:"table,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Transient reports whether retrying the whole run can succeed.
func (p *PostgresDetail) Transient() bool {
	if p == nil {
		return false
	}
	switch p.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	Message  string          `json:"message"`
	Code     Code            `json:"code,omitempty"`
	Chain    []string        `json:"chain,omitempty"`
	Postgres *PostgresDetail `json:"postgres,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{Message: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}
	d.Postgres = postgresDetail(err)
	return d
}

func postgresDetail(err error) *PostgresDetail {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return &PostgresDetail{
			Code:       pgxErr.Code,
			Condition:  pgConditions[pgxErr.Code],
			Table:      pgxErr.TableName,
			Constraint: pgxErr.ConstraintName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	return nil
}

// Fields renders the dump as log fields, leaving out empty Postgres parts.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_chain": d.Chain,
	}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if pg := d.Postgres; pg != nil {
		fields["pg_code"] = pg.Code
		if pg.Condition != "" {
			fields["pg_condition"] = pg.Condition
		}
		if pg.Table != "" {
			fields["pg_table"] = pg.Table
		}
		if pg.Constraint != "" {
			fields["pg_constraint"] = pg.Constraint
		}
		if pg.Detail != "" {
			fields["pg_detail"] = pg.Detail
		}
		fields["pg_transient"] = pg.Transient()
	}
	return fields
}
