package repository

import (
	"context"
	"errors"
	"fmt"

	"ticketing-import/internal/models"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicateKey is returned when an insert hits a unique index.
var ErrDuplicateKey = errors.New("duplicate key value violates unique constraint")

const mysqlDuplicateEntry = 1062

type TicketRepository struct {
	db *sqlx.DB
}

func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	query := `INSERT INTO tickets (id, ticket_uid, source, external_id, title, description,
	          ticket_type, priority, status, dr_number, pole_number, pon_number, zone, address,
	          fault_cause, created_by, created_at, updated_at)
	          VALUES (:id, :ticket_uid, :source, :external_id, :title, :description,
	          :ticket_type, :priority, :status, :dr_number, :pole_number, :pon_number, :zone,
	          :address, :fault_cause, :created_by, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, ticket)
	if isDuplicateEntry(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

func (r *TicketRepository) ExistsByUID(ctx context.Context, uid string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM tickets WHERE ticket_uid = ?)"
	if err := r.db.GetContext(ctx, &exists, query, uid); err != nil {
		return false, err
	}
	return exists, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
