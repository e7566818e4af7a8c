/**
 * Record inserters
 *
 * One inserter per record type writes a committed draft into the tenant's
 * record table inside the commit transaction.
 */

package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/storage"
)

var tables = map[fusion.RecordType]string{
	fusion.RecordBaptism:  "baptism_records",
	fusion.RecordMarriage: "marriage_records",
	fusion.RecordFuneral:  "funeral_records",
}

// Inserter writes records of one type
type Inserter struct {
	recordType fusion.RecordType
	table      string
	columns    []string
	dialect    storage.Dialect
}

// New returns the inserter for a supported record type
func New(rt fusion.RecordType, dialect storage.Dialect) (*Inserter, error) {
	table, ok := tables[rt]
	if !ok {
		return nil, fmt.Errorf("no record table for %q", rt)
	}
	return &Inserter{
		recordType: rt,
		table:      table,
		columns:    fusion.RecordColumns(rt),
		dialect:    dialect,
	}, nil
}

// All returns inserters for every supported record type
func All(dialect storage.Dialect) map[fusion.RecordType]fusion.RecordInserter {
	out := make(map[fusion.RecordType]fusion.RecordInserter, len(tables))
	for rt := range tables {
		ins, _ := New(rt, dialect)
		out[rt] = ins
	}
	return out
}

// Insert implements fusion.RecordInserter
func (i *Inserter) Insert(ctx context.Context, tx fusion.DBTX, in fusion.RecordInput) (int64, error) {
	cols := make([]string, 0, len(i.columns)+3)
	args := make([]interface{}, 0, len(i.columns)+3)

	cols = append(cols, "church_id")
	args = append(args, in.ChurchID)
	for _, col := range i.columns {
		cols = append(cols, col)
		if v, ok := in.Fields[col]; ok && v != "" {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	cols = append(cols, "created_by", "created_at")
	args = append(args, in.CreatedBy, in.CreatedAt.UTC())

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		i.table, strings.Join(cols, ", "), marks)

	var id int64
	if err := tx.QueryRowContext(ctx, i.dialect.Rebind(query), args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", i.table, err)
	}
	return id, nil
}
