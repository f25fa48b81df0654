package tracker

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the durable Store. CreateOrMerge takes a transaction-scoped
// advisory lock on the dedup key, so concurrent duplicates serialize on the
// database instead of racing.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OpenPostgres connects, pings, and runs pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	// goose wants database/sql; the stdlib adapter borrows connections from
	// the pool and closing it leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateOrMerge(ctx context.Context, candidate *Application, window time.Duration) (*Application, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	lockKey := candidate.UserID + "\x00" + candidate.CompanyNorm + "\x00" + candidate.RoleNorm
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, false, err
	}

	cutoff := candidate.CreatedAt.Add(-window)
	var existingID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM applications
		WHERE user_id = $1 AND company_norm = $2 AND role_norm = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`,
		candidate.UserID, candidate.CompanyNorm, candidate.RoleNorm, cutoff,
	).Scan(&existingID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created := candidate.Clone()
		if created.Status == "" {
			created.Status = StageDraft
		}
		if err := insertApplication(ctx, tx, created); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return created.Clone(), false, nil

	case err != nil:
		return nil, false, err
	}

	existing, err := loadApplication(ctx, tx, candidate.UserID, existingID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, core.NewApplicationNotFoundError(existingID)
	}

	mergeInto(existing, candidate, candidate.CreatedAt)
	if err := updateApplication(ctx, tx, existing); err != nil {
		return nil, false, err
	}
	if err := insertNotes(ctx, tx, existing.ID, candidate.Notes); err != nil {
		return nil, false, err
	}
	if err := insertFollowups(ctx, tx, existing.ID, candidate.Followups); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, userID, id string) (*Application, error) {
	app, err := loadApplication(ctx, s.pool, userID, id)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, core.NewApplicationNotFoundError(id)
	}
	return app, nil
}

func (s *PostgresStore) FindByReference(ctx context.Context, userID, ref string) (*Application, error) {
	if app, err := loadApplication(ctx, s.pool, userID, ref); err != nil {
		return nil, err
	} else if app != nil {
		return app, nil
	}

	needle := Normalize(ref)
	if needle == "" {
		return nil, core.NewApplicationNotFoundError(ref)
	}

	for _, column := range []string{"company_norm", "role_norm"} {
		var id string
		err := s.pool.QueryRow(ctx, `
			SELECT id FROM applications
			WHERE user_id = $1 AND position($2 in `+column+`) > 0
			ORDER BY updated_at DESC
			LIMIT 1`,
			userID, needle,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.GetByID(ctx, userID, id)
	}
	return nil, core.NewApplicationNotFoundError(ref)
}

func (s *PostgresStore) SetStatus(ctx context.Context, userID, id string, stage Stage, now time.Time) (*Application, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE applications SET status = $1, updated_at = $2
		WHERE user_id = $3 AND id = $4`,
		string(stage), now, userID, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, core.NewApplicationNotFoundError(id)
	}
	return s.GetByID(ctx, userID, id)
}

func (s *PostgresStore) AddNote(ctx context.Context, userID, id string, note Note, now time.Time) (*Application, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := touchApplication(ctx, tx, userID, id, now); err != nil {
		return nil, err
	}
	if err := insertNotes(ctx, tx, id, []Note{note}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, userID, id)
}

func (s *PostgresStore) AddFollowup(ctx context.Context, userID, id string, f Followup, now time.Time) (*Application, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := touchApplication(ctx, tx, userID, id, now); err != nil {
		return nil, err
	}
	if err := insertFollowups(ctx, tx, id, []Followup{f}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, userID, id)
}

func (s *PostgresStore) SetFollowup(ctx context.Context, userID, appID, followupID string, status FollowupStatus, dueAt *time.Time, now time.Time) (*Application, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := touchApplication(ctx, tx, userID, appID, now); err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE followups SET status = $1, due_at = COALESCE($2, due_at)
		WHERE id = $3 AND application_id = $4`,
		string(status), dueAt, followupID, appID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, core.NewApplicationNotFoundError(followupID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, userID, appID)
}

func (s *PostgresStore) Search(ctx context.Context, userID string, filter SearchFilter) ([]*Application, error) {
	query := `SELECT id FROM applications WHERE user_id = $1`
	args := []any{userID}

	if len(filter.Stages) > 0 {
		stages := make([]string, len(filter.Stages))
		for i, stage := range filter.Stages {
			stages[i] = string(stage)
		}
		args = append(args, stages)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if filter.Company != "" {
		args = append(args, Normalize(filter.Company))
		query += fmt.Sprintf(` AND position($%d in company_norm) > 0`, len(args))
	}
	if filter.RemoteOK != nil {
		args = append(args, *filter.RemoteOK)
		query += fmt.Sprintf(` AND remote_ok = $%d`, len(args))
	}

	field := "created_at"
	if filter.TimeField == "updated_at" {
		field = "updated_at"
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(` AND %s >= $%d`, field, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(` AND %s < $%d`, field, len(args))
	}

	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	out := make([]*Application, 0, len(ids))
	for _, id := range ids {
		app, err := loadApplication(ctx, s.pool, userID, id)
		if err != nil {
			return nil, err
		}
		if app != nil {
			out = append(out, app)
		}
	}
	return out, nil
}

func (s *PostgresStore) Summarize(ctx context.Context, userID string) (*Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*) FROM applications
		WHERE user_id = $1
		GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sum := &Summary{ByStage: make(map[Stage]int, len(Stages))}
	for _, stage := range Stages {
		sum.ByStage[stage] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stage := Stage(status)
		sum.ByStage[stage] = count
		sum.Total += count
		if stage.IsActive() {
			sum.Active += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	offers := sum.ByStage[StageOffer]
	terminal := offers + sum.ByStage[StageRejected] + sum.ByStage[StageWithdrawn]
	if terminal > 0 {
		sum.SuccessRate = float64(offers) / float64(terminal)
	}
	return sum, nil
}

func (s *PostgresStore) DueFollowups(ctx context.Context, userID string, before time.Time) ([]DueFollowup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.application_id, f.id, f.due_at, f.channel, f.note, f.status, f.created_at
		FROM followups f
		JOIN applications a ON a.id = f.application_id
		WHERE a.user_id = $1 AND f.status = $2 AND f.due_at <= $3
		ORDER BY f.due_at`,
		userID, string(FollowupPending), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type dueRow struct {
		appID string
		f     Followup
	}
	var due []dueRow
	for rows.Next() {
		var r dueRow
		var channel, status string
		if err := rows.Scan(&r.appID, &r.f.ID, &r.f.DueAt, &channel, &r.f.Note, &status, &r.f.CreatedAt); err != nil {
			return nil, err
		}
		r.f.Channel = Channel(channel)
		r.f.Status = FollowupStatus(status)
		due = append(due, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]DueFollowup, 0, len(due))
	for _, r := range due {
		app, err := loadApplication(ctx, s.pool, userID, r.appID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			continue
		}
		out = append(out, DueFollowup{Application: app, Followup: r.f})
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// touchApplication bumps updated_at and doubles as the ownership check.
func touchApplication(ctx context.Context, q pgQuerier, userID, id string, now time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE applications SET updated_at = $1
		WHERE user_id = $2 AND id = $3`, now, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.NewApplicationNotFoundError(id)
	}
	return nil
}

// loadApplication returns (nil, nil) when the row does not exist.
func loadApplication(ctx context.Context, q pgQuerier, userID, id string) (*Application, error) {
	app := &Application{}
	err := q.QueryRow(ctx, `
		SELECT id, user_id, company, role_title, company_norm, role_norm,
		       location, source, job_post_url, status, salary_min, salary_max,
		       currency, remote_ok, skills_req, job_posted_date, created_at, updated_at
		FROM applications
		WHERE user_id = $1 AND id = $2`,
		userID, id,
	).Scan(
		&app.ID, &app.UserID, &app.Company, &app.RoleTitle, &app.CompanyNorm, &app.RoleNorm,
		&app.Location, &app.Source, &app.JobPostURL, &app.Status, &app.SalaryMin, &app.SalaryMax,
		&app.Currency, &app.RemoteOK, &app.SkillsReq, &app.JobPostedDate, &app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	noteRows, err := q.Query(ctx, `
		SELECT id, body, created_at FROM notes
		WHERE application_id = $1
		ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	app.Notes, err = pgx.CollectRows(noteRows, func(row pgx.CollectableRow) (Note, error) {
		var n Note
		err := row.Scan(&n.ID, &n.Text, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, err
	}

	fuRows, err := q.Query(ctx, `
		SELECT id, due_at, channel, note, status, created_at FROM followups
		WHERE application_id = $1
		ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}
	app.Followups, err = pgx.CollectRows(fuRows, func(row pgx.CollectableRow) (Followup, error) {
		var f Followup
		var channel, status string
		err := row.Scan(&f.ID, &f.DueAt, &channel, &f.Note, &status, &f.CreatedAt)
		f.Channel = Channel(channel)
		f.Status = FollowupStatus(status)
		return f, err
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func insertApplication(ctx context.Context, q pgQuerier, app *Application) error {
	_, err := q.Exec(ctx, `
		INSERT INTO applications (
			id, user_id, company, role_title, company_norm, role_norm,
			location, source, job_post_url, status, salary_min, salary_max,
			currency, remote_ok, skills_req, job_posted_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)`,
		app.ID, app.UserID, app.Company, app.RoleTitle, app.CompanyNorm, app.RoleNorm,
		app.Location, app.Source, app.JobPostURL, string(app.Status), app.SalaryMin, app.SalaryMax,
		app.Currency, app.RemoteOK, app.SkillsReq, app.JobPostedDate, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertNotes(ctx, q, app.ID, app.Notes); err != nil {
		return err
	}
	return insertFollowups(ctx, q, app.ID, app.Followups)
}

func updateApplication(ctx context.Context, q pgQuerier, app *Application) error {
	_, err := q.Exec(ctx, `
		UPDATE applications SET
			location = $1, source = $2, job_post_url = $3, status = $4,
			salary_min = $5, salary_max = $6, currency = $7, remote_ok = $8,
			skills_req = $9, job_posted_date = $10, updated_at = $11
		WHERE id = $12`,
		app.Location, app.Source, app.JobPostURL, string(app.Status),
		app.SalaryMin, app.SalaryMax, app.Currency, app.RemoteOK,
		app.SkillsReq, app.JobPostedDate, app.UpdatedAt, app.ID)
	return err
}

func insertNotes(ctx context.Context, q pgQuerier, appID string, notes []Note) error {
	for _, n := range notes {
		_, err := q.Exec(ctx, `
			INSERT INTO notes (id, application_id, body, created_at)
			VALUES ($1, $2, $3, $4)`,
			n.ID, appID, n.Text, n.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertFollowups(ctx context.Context, q pgQuerier, appID string, followups []Followup) error {
	for _, f := range followups {
		_, err := q.Exec(ctx, `
			INSERT INTO followups (id, application_id, due_at, channel, note, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			f.ID, appID, f.DueAt, string(f.Channel), f.Note, string(f.Status), f.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}
