package booking

import (
	"context"
	"fmt"

	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// Project derives the visible status of a table.  Maintenance wins over
// everything; otherwise the table is OCCUPIED only while a match is
// IN_PROGRESS.  A CONFIRMED reservation that has not started leaves the
// table AVAILABLE.
func Project(t model.Table, reservations []model.Reservation) model.TableStatus {
	if t.Maintenance {
		return model.TableMaintenance
	}
	for _, r := range reservations {
		if r.TableID == t.ID && r.Status == model.StatusInProgress {
			return model.TableOccupied
		}
	}
	return model.TableAvailable
}

// TableView is a table together with its projected status.
type TableView struct {
	model.Table
	Status model.TableStatus `json:"status"`
}

// Projector reads tables and reservations without taking slot locks.  What
// it reports may lag an in-flight unit of work.
type Projector struct {
	reader TableReader
}

// NewProjector returns a projector over reader.
func NewProjector(reader TableReader) *Projector {
	return &Projector{reader: reader}
}

// Status projects a single table.
func (p *Projector) Status(ctx context.Context, tableID uint64) (model.TableStatus, error) {
	view, err := p.view(ctx, tableID)
	if err != nil {
		return "", err
	}
	return view.Status, nil
}

// View returns the table with its projected status.
func (p *Projector) View(ctx context.Context, tableID uint64) (TableView, error) {
	return p.view(ctx, tableID)
}

// List projects every table.
func (p *Projector) List(ctx context.Context) ([]TableView, error) {
	tables, err := p.reader.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	views := make([]TableView, 0, len(tables))
	for _, t := range tables {
		view, err := p.project(ctx, t)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (p *Projector) view(ctx context.Context, tableID uint64) (TableView, error) {
	t, err := p.reader.FindTable(ctx, tableID)
	if err != nil {
		return TableView{}, fmt.Errorf("find table %d: %w", tableID, err)
	}
	return p.project(ctx, t)
}

func (p *Projector) project(ctx context.Context, t model.Table) (TableView, error) {
	if t.Maintenance {
		return TableView{Table: t, Status: model.TableMaintenance}, nil
	}
	running, err := p.reader.ListByTable(ctx, t.ID, model.StatusInProgress)
	if err != nil {
		return TableView{}, fmt.Errorf("list reservations of table %d: %w", t.ID, err)
	}
	return TableView{Table: t, Status: Project(t, running)}, nil
}
