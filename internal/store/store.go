package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/hrbonus/internal/model"
	"github.com/iurnickita/hrbonus/internal/store/config"
)

type Store interface {
	AuthRegister(ctx context.Context, user model.User, passwordHash string) (string, error)
	AuthLogin(ctx context.Context, login string) (model.User, string, error)
	UserGet(ctx context.Context, code string) (model.User, error)
	BadgePost(ctx context.Context, badge model.Badge) error
	BadgeGet(ctx context.Context, employee string) ([]model.Badge, error)
	BonusSessionPost(ctx context.Context, session model.BonusSession) error
	BonusSessionGet(ctx context.Context, id string) (model.BonusSession, error)
	BonusSessionGetByEmployee(ctx context.Context, employee string) ([]model.BonusSession, error)
	BonusSessionPut(ctx context.Context, session model.BonusSession) error
	BonusSessionApprove(ctx context.Context, id string, paymentID string, at time.Time) (model.BonusSession, error)
	PaymentEventGet(ctx context.Context, id string) (model.PaymentEvent, error)
	PaymentEventPost(ctx context.Context, event model.PaymentEvent) error
	Close() error
}

var (
	ErrNoRows           = errors.New("no rows")
	ErrAlreadyExists    = errors.New("already exists")
	ErrDuplicateRequest = errors.New("duplicate request")
)

const pgUniqueViolation = "23505"

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	if err = runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &store{
		database: db,
	}, nil
}

func (store *store) Close() error {
	return store.database.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (store *store) AuthRegister(ctx context.Context, user model.User, passwordHash string) (string, error) {
	// Запись нового пользователя
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO users (login, password_hash, name, role, organization, manager)"+
			" VALUES ($1, $2, $3, $4, $5, $6)"+
			" RETURNING code",
		user.Data.Login,
		passwordHash,
		user.Data.Name,
		user.Data.Role,
		user.Data.Organization,
		user.Data.Manager)

	// Получение ID пользователя
	var code int
	err := row.Scan(&code)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrAlreadyExists
		}
		return "", err
	}

	return strconv.Itoa(code), nil
}

func (store *store) AuthLogin(ctx context.Context, login string) (model.User, string, error) {
	var user model.User
	var code int
	var passwordHash string
	row := store.database.QueryRowContext(ctx,
		"SELECT code, login, password_hash, name, role, organization, manager FROM users"+
			" WHERE login = $1",
		login)
	err := row.Scan(&code,
		&user.Data.Login,
		&passwordHash,
		&user.Data.Name,
		&user.Data.Role,
		&user.Data.Organization,
		&user.Data.Manager)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, "", ErrNoRows
		}
		return model.User{}, "", err
	}
	user.Code = strconv.Itoa(code)

	return user, passwordHash, nil
}

func (store *store) UserGet(ctx context.Context, code string) (model.User, error) {
	codeInt, err := strconv.Atoi(code)
	if err != nil {
		return model.User{}, ErrNoRows
	}

	var user model.User
	row := store.database.QueryRowContext(ctx,
		"SELECT login, name, role, organization, manager FROM users"+
			" WHERE code = $1",
		codeInt)
	err = row.Scan(&user.Data.Login,
		&user.Data.Name,
		&user.Data.Role,
		&user.Data.Organization,
		&user.Data.Manager)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNoRows
		}
		return model.User{}, err
	}
	user.Code = code

	return user, nil
}

func (store *store) BadgePost(ctx context.Context, badge model.Badge) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO badge (id, employee, period, type, title, description, date_earned, approved)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)",
		badge.ID,
		badge.Data.Employee,
		badge.Data.Period,
		badge.Data.Type,
		badge.Data.Title,
		badge.Data.Description,
		badge.Data.DateEarned)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (store *store) BadgeGet(ctx context.Context, employee string) ([]model.Badge, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, employee, period, type, title, description, date_earned, approved, approved_at, session"+
			" FROM badge"+
			" WHERE employee = $1"+
			" ORDER BY date_earned",
		employee)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var badges []model.Badge
	for rows.Next() {
		var badgeRow model.Badge
		var approvedAt sql.NullTime
		err := rows.Scan(&badgeRow.ID,
			&badgeRow.Data.Employee,
			&badgeRow.Data.Period,
			&badgeRow.Data.Type,
			&badgeRow.Data.Title,
			&badgeRow.Data.Description,
			&badgeRow.Data.DateEarned,
			&badgeRow.Data.Approved,
			&approvedAt,
			&badgeRow.Data.Session)
		if err != nil {
			return nil, err
		}
		badgeRow.Data.ApprovedAt = approvedAt.Time
		badges = append(badges, badgeRow)
	}

	return badges, rows.Err()
}

func (store *store) BonusSessionPost(ctx context.Context, session model.BonusSession) error {
	badges, err := json.Marshal(session.Data.Badges)
	if err != nil {
		return err
	}

	_, err = store.database.ExecContext(ctx,
		"INSERT INTO bonus_session (id, employee, employee_name, manager, badges, amount_total, currency, status, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		session.ID,
		session.Data.Employee,
		session.Data.EmployeeName,
		session.Data.Manager,
		string(badges),
		session.Data.AmountTotal,
		session.Data.Currency,
		session.Data.Status,
		session.Data.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

const bonusSessionColumns = "id, employee, employee_name, manager, badges, amount_total, currency," +
	" status, payment_id, approved_count, failure_reason, created_at, reconciled_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBonusSession(row rowScanner) (model.BonusSession, error) {
	var session model.BonusSession
	var badges string
	var reconciledAt sql.NullTime
	err := row.Scan(&session.ID,
		&session.Data.Employee,
		&session.Data.EmployeeName,
		&session.Data.Manager,
		&badges,
		&session.Data.AmountTotal,
		&session.Data.Currency,
		&session.Data.Status,
		&session.Data.PaymentID,
		&session.Data.ApprovedCount,
		&session.Data.FailureReason,
		&session.Data.CreatedAt,
		&reconciledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.BonusSession{}, ErrNoRows
		}
		return model.BonusSession{}, err
	}
	if err = json.Unmarshal([]byte(badges), &session.Data.Badges); err != nil {
		return model.BonusSession{}, fmt.Errorf("bonus session %s badges: %w", session.ID, err)
	}
	session.Data.ReconciledAt = reconciledAt.Time
	return session, nil
}

func (store *store) BonusSessionGet(ctx context.Context, id string) (model.BonusSession, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+bonusSessionColumns+
			" FROM bonus_session"+
			" WHERE id = $1",
		id)
	return scanBonusSession(row)
}

func (store *store) BonusSessionGetByEmployee(ctx context.Context, employee string) ([]model.BonusSession, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+bonusSessionColumns+
			" FROM bonus_session"+
			" WHERE employee = $1"+
			" ORDER BY created_at DESC",
		employee)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.BonusSession
	for rows.Next() {
		session, err := scanBonusSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// BonusSessionPut меняет статус незавершенной сессии.
// Оплаченная сессия не меняется.
func (store *store) BonusSessionPut(ctx context.Context, session model.BonusSession) error {
	var reconciledAt any
	if !session.Data.ReconciledAt.IsZero() {
		reconciledAt = session.Data.ReconciledAt
	}

	_, err := store.database.ExecContext(ctx,
		"UPDATE bonus_session"+
			" SET status = $1, failure_reason = $2, reconciled_at = $3"+
			" WHERE id = $4"+
			"   AND status <> $5",
		session.Data.Status,
		session.Data.FailureReason,
		reconciledAt,
		session.ID,
		model.BonusSessionStatusPaid)
	return err
}

// BonusSessionApprove в одной транзакции подтверждает бейджи сессии и помечает ее оплаченной.
// Для уже оплаченной сессии возвращает ее с ErrDuplicateRequest.
func (store *store) BonusSessionApprove(ctx context.Context, id string, paymentID string, at time.Time) (model.BonusSession, error) {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.BonusSession{}, err
	}
	defer tx.Rollback()

	// Блокировка строки сессии до конца транзакции
	row := tx.QueryRowContext(ctx,
		"SELECT "+bonusSessionColumns+
			" FROM bonus_session"+
			" WHERE id = $1"+
			" FOR UPDATE",
		id)
	session, err := scanBonusSession(row)
	if err != nil {
		return model.BonusSession{}, err
	}
	if session.Data.Status == model.BonusSessionStatusPaid {
		return session, ErrDuplicateRequest
	}

	approved := 0
	for _, badge := range session.Data.Badges {
		res, err := tx.ExecContext(ctx,
			"UPDATE badge"+
				" SET approved = TRUE, approved_at = $1, session = $2"+
				" WHERE id = $3"+
				"   AND employee = $4"+
				"   AND approved = FALSE",
			at,
			session.ID,
			badge,
			session.Data.Employee)
		if err != nil {
			return model.BonusSession{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.BonusSession{}, err
		}
		approved += int(n)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE bonus_session"+
			" SET status = $1, payment_id = $2, approved_count = $3, failure_reason = '', reconciled_at = $4"+
			" WHERE id = $5",
		model.BonusSessionStatusPaid,
		paymentID,
		approved,
		at,
		session.ID)
	if err != nil {
		return model.BonusSession{}, err
	}

	if err = tx.Commit(); err != nil {
		return model.BonusSession{}, err
	}

	session.Data.Status = model.BonusSessionStatusPaid
	session.Data.PaymentID = paymentID
	session.Data.ApprovedCount = approved
	session.Data.FailureReason = ""
	session.Data.ReconciledAt = at
	return session, nil
}

func (store *store) PaymentEventPost(ctx context.Context, event model.PaymentEvent) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO payment_event (id, type, session, received_at)"+
			" VALUES ($1, $2, $3, $4)",
		event.ID,
		event.Data.Type,
		event.Data.Session,
		event.Data.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRequest
		}
		return err
	}
	return nil
}

func (store *store) PaymentEventGet(ctx context.Context, id string) (model.PaymentEvent, error) {
	var event model.PaymentEvent
	row := store.database.QueryRowContext(ctx,
		"SELECT id, type, session, received_at FROM payment_event"+
			" WHERE id = $1",
		id)
	err := row.Scan(&event.ID,
		&event.Data.Type,
		&event.Data.Session,
		&event.Data.ReceivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PaymentEvent{}, ErrNoRows
		}
		return model.PaymentEvent{}, err
	}
	return event, nil
}
