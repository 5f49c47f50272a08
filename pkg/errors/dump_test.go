package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDumpNil(t *testing.T) {
	if d := Dump(nil); d.Message != "" || d.Postgres != nil {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}

func TestDumpWalksChain(t *testing.T) {
	err := fmt.Errorf("run assignment: %w", Wrap(CodeDependency, stdErrors.New("connection reset"), "commit capacity"))
	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", d.Code)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected three links, got %v", d.Chain)
	}
	fields := d.Fields()
	if fields["error_code"] != string(CodeDependency) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields should be absent without a postgres error")
	}
}

func TestDumpPostgresSerializationFailure(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40001", TableName: "capacity_usages", Message: "could not serialize access"}
	d := Dump(Dependency(fmt.Errorf("commit: %w", pgErr), "commit capacity"))
	if d.Postgres == nil {
		t.Fatalf("expected postgres detail")
	}
	if d.Postgres.Condition != "serialization_failure" || !d.Postgres.Transient() {
		t.Fatalf("unexpected detail %+v", d.Postgres)
	}
	fields := d.Fields()
	if fields["pg_table"] != "capacity_usages" || fields["pg_transient"] != true {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["pg_constraint"]; ok {
		t.Fatalf("empty constraint should be omitted")
	}
}

func TestDumpPostgresUniqueViolationIsNotTransient(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_vendor_service_capacity"}
	d := Dump(pgErr)
	if d.Postgres.Condition != "unique_violation" || d.Postgres.Transient() {
		t.Fatalf("unexpected detail %+v", d.Postgres)
	}
}
