package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wheelwright-dev/wheelwright/pkg/types"
)

// ErrTicketNotFound is returned by GetTicket when no row matches the id.
var ErrTicketNotFound = errors.New("ticket not found")

// TicketRepo implements capability.TicketRepo against the Client's pool.
type TicketRepo struct {
	client *Client
}

// NewTicketRepo wraps a Client as a capability.TicketRepo.
func NewTicketRepo(client *Client) *TicketRepo {
	return &TicketRepo{client: client}
}

func (r *TicketRepo) CreateTicket(ctx context.Context, t types.Ticket) error {
	allowedPaths, err := json.Marshal(t.AllowedPaths)
	if err != nil {
		return fmt.Errorf("marshal allowed_paths: %w", err)
	}
	verify, err := json.Marshal(t.VerificationCommands)
	if err != nil {
		return fmt.Errorf("marshal verification_commands: %w", err)
	}

	_, err = r.client.pool.Exec(ctx, `
		INSERT INTO tickets (id, title, description, category, allowed_paths,
			verification_commands, status, priority, confidence, impact_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Title, t.Description, string(t.Category), allowedPaths, verify,
		string(t.Status), t.Priority, t.Confidence, t.ImpactScore)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (r *TicketRepo) UpdateTicketStatus(ctx context.Context, id string, status types.TicketStatus) error {
	tag, err := r.client.pool.Exec(ctx,
		`UPDATE tickets SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (r *TicketRepo) GetTicket(ctx context.Context, id string) (types.Ticket, error) {
	row := r.client.pool.QueryRow(ctx, `
		SELECT id, title, description, category, allowed_paths, verification_commands,
			status, priority, confidence, impact_score
		FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Ticket{}, ErrTicketNotFound
	}
	if err != nil {
		return types.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (r *TicketRepo) ListTickets(ctx context.Context, status types.TicketStatus) ([]types.Ticket, error) {
	rows, err := r.client.pool.Query(ctx, `
		SELECT id, title, description, category, allowed_paths, verification_commands,
			status, priority, confidence, impact_score
		FROM tickets WHERE status = $1 ORDER BY priority DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []types.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (types.Ticket, error) {
	var (
		t                        types.Ticket
		category, status         string
		allowedPaths, verifyCmds []byte
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &category, &allowedPaths,
		&verifyCmds, &status, &t.Priority, &t.Confidence, &t.ImpactScore); err != nil {
		return types.Ticket{}, err
	}
	t.Category = types.Category(category)
	t.Status = types.TicketStatus(status)
	if err := json.Unmarshal(allowedPaths, &t.AllowedPaths); err != nil {
		return types.Ticket{}, fmt.Errorf("unmarshal allowed_paths: %w", err)
	}
	if err := json.Unmarshal(verifyCmds, &t.VerificationCommands); err != nil {
		return types.Ticket{}, fmt.Errorf("unmarshal verification_commands: %w", err)
	}
	return t, nil
}

func (r *TicketRepo) RecordRun(ctx context.Context, runID, ticketID string, startedAt time.Time) error {
	_, err := r.client.pool.Exec(ctx,
		`INSERT INTO runs (id, ticket_id, started_at) VALUES ($1, $2, $3)`,
		runID, ticketID, startedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (r *TicketRepo) CompleteRun(ctx context.Context, runID string, finishedAt time.Time, outcome string) error {
	tag, err := r.client.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $2, outcome = $3 WHERE id = $1`, runID, finishedAt, outcome)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run: run %q not found", runID)
	}
	return nil
}

func (r *TicketRepo) AppendEvent(ctx context.Context, ev types.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = r.client.pool.Exec(ctx,
		`INSERT INTO events (run_id, seq, type, payload, timestamp) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, seq) DO NOTHING`,
		ev.RunID, ev.Seq, string(ev.Type), payload, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
