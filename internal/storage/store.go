package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/workflow"
)

//go:embed schema/*.sql
var embeddedSchema embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to PostgreSQL or SQLite. SQLite is limited to a single connection, which
// makes every transaction exclusive and stands in for row locks.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return db, nil
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

type Store struct {
	db       *gorm.DB
	logger   *slog.Logger
	lockRows bool
}

func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		logger:   logger,
		lockRows: db.Dialector.Name() == DriverPostgres,
	}
}

func (s *Store) InitSchema(ctx context.Context) error {
	b, err := embeddedSchema.ReadFile("schema/" + s.db.Dialector.Name() + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ---------- Applicants ----------

// CreateApplicant registers a telegram user with a fresh profile. Repeated calls refresh the
// display names and report created=false.
func (s *Store) CreateApplicant(ctx context.Context, a domain.Applicant) (created bool, err error) {
	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := applicantModel{
			ID:        a.ID,
			FirstName: a.FirstName,
			LastName:  a.LastName,
			Username:  a.Username,
			CreatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "username"}),
		}).Create(&row).Error; err != nil {
			return err
		}

		profile := profileModel{
			ApplicantID: a.ID,
			State:       string(workflow.InitialState()),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "applicant_id"}},
			DoNothing: true,
		}).Create(&profile)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, s.logError("storage_create_applicant_failed", err, "applicant_id", a.ID)
	}
	return created, nil
}

// Profile is an unlocked read, good for routing only. Decisions are made on
// Tx.ProfileForUpdate.
func (s *Store) Profile(ctx context.Context, applicantID int64) (domain.Profile, error) {
	return findProfile(s.db.WithContext(ctx), applicantID)
}

func (s *Store) ListApplicantIDsByState(ctx context.Context, state domain.State) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&profileModel{}).
		Where("state = ?", string(state)).
		Order("applicant_id").
		Pluck("applicant_id", &ids).Error
	if err != nil {
		return nil, s.logError("storage_list_by_state_failed", err, "state", string(state))
	}
	return ids, nil
}

func (s *Store) CountByState(ctx context.Context) (map[domain.State]int64, error) {
	var rows []struct {
		State string
		N     int64
	}
	err := s.db.WithContext(ctx).Model(&profileModel{}).
		Select("state, COUNT(*) AS n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, s.logError("storage_count_by_state_failed", err)
	}
	counts := make(map[domain.State]int64, len(domain.States))
	for _, st := range domain.States {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[domain.State(r.State)] = r.N
	}
	return counts, nil
}

// ---------- Vote options / results ----------

func (s *Store) VoteOptions(ctx context.Context) ([]domain.VoteOption, error) {
	var rows []optionModel
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, s.logError("storage_list_options_failed", err)
	}
	options := make([]domain.VoteOption, 0, len(rows))
	for _, r := range rows {
		options = append(options, domain.VoteOption{ID: r.ID, Label: r.Label})
	}
	return options, nil
}

func (s *Store) UpsertVoteOptions(ctx context.Context, labels []string) error {
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "label"}},
			DoNothing: true,
		}).Create(&optionModel{Label: label}).Error
		if err != nil {
			return s.logError("storage_upsert_option_failed", err, "label", label)
		}
	}
	return nil
}

func (s *Store) Tallies(ctx context.Context) ([]domain.OptionTally, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
SELECT o.id, o.label, COUNT(v.id) AS votes
FROM vote_options o
LEFT JOIN vote_records v ON v.option_id = o.id
GROUP BY o.id, o.label
ORDER BY votes DESC, o.id
`).Rows()
	if err != nil {
		return nil, s.logError("storage_tallies_failed", err)
	}
	defer rows.Close()

	var tallies []domain.OptionTally
	for rows.Next() {
		var t domain.OptionTally
		if err := rows.Scan(&t.OptionID, &t.Label, &t.Votes); err != nil {
			return nil, err
		}
		tallies = append(tallies, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tallies, nil
}

func (s *Store) Status(ctx context.Context) (domain.Status, error) {
	counts, err := s.CountByState(ctx)
	if err != nil {
		return domain.Status{}, err
	}
	tallies, err := s.Tallies(ctx)
	if err != nil {
		return domain.Status{}, err
	}
	return domain.Status{ByState: counts, Tallies: tallies}, nil
}

// ---------- External players ----------

func (s *Store) UpsertExternalPlayers(ctx context.Context, players []domain.ExternalPlayer) error {
	if len(players) == 0 {
		return nil
	}
	rows := make([]playerModel, 0, len(players))
	for _, p := range players {
		rows = append(rows, playerModelFromEntity(p))
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(&rows, 200).Error
	if err != nil {
		return s.logError("storage_upsert_players_failed", err, "count", len(players))
	}
	return nil
}

func (s *Store) ExternalPlayer(ctx context.Context, id int64) (domain.ExternalPlayer, error) {
	return findPlayer(s.db.WithContext(ctx), id)
}

// ---------- Transactions ----------

// Tx is a unit of work holding row locks until commit.
type Tx struct {
	db       *gorm.DB
	store    *Store
	lockRows bool
}

// WithinTx runs fn in one transaction. Returning an error rolls everything back.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db, store: s, lockRows: s.lockRows})
	})
}

// ProfileForUpdate reads the profile and holds a write lock on it until the transaction ends.
func (t *Tx) ProfileForUpdate(applicantID int64) (domain.Profile, error) {
	q := t.db
	if t.lockRows {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return findProfile(q, applicantID)
}

func (t *Tx) SaveProfile(p domain.Profile) error {
	res := t.db.Model(&profileModel{}).
		Where("applicant_id = ?", p.ApplicantID).
		Updates(profileUpdates(p, time.Now().UTC()))
	if res.Error != nil {
		if col, ok := uniqueViolation(res.Error); ok && strings.Contains(col, "external_player_id") {
			return domain.ErrPlayerAlreadyRegistered
		}
		return t.store.logError("storage_save_profile_failed", res.Error, "applicant_id", p.ApplicantID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrApplicantNotFound
	}
	return nil
}

func (t *Tx) ExternalPlayer(id int64) (domain.ExternalPlayer, error) {
	return findPlayer(t.db, id)
}

func (t *Tx) VoteOption(id int64) (domain.VoteOption, error) {
	var row optionModel
	if err := t.db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.VoteOption{}, domain.ErrUnknownOption
		}
		return domain.VoteOption{}, err
	}
	return domain.VoteOption{ID: row.ID, Label: row.Label}, nil
}

// InsertVote stores the vote under a savepoint so that a uniqueness failure leaves the
// enclosing transaction usable for a retry.
func (t *Tx) InsertVote(applicantID, optionID int64, secretCode string) (domain.VoteRecord, error) {
	row := voteModel{
		ApplicantID: applicantID,
		OptionID:    optionID,
		SecretCode:  secretCode,
		CreatedAt:   time.Now().UTC(),
	}
	err := t.db.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&row).Error
	})
	if err != nil {
		if col, ok := uniqueViolation(err); ok {
			switch {
			case strings.Contains(col, "secret_code"):
				return domain.VoteRecord{}, domain.ErrSecretCodeTaken
			case strings.Contains(col, "applicant_id"):
				return domain.VoteRecord{}, domain.ErrDuplicateVote
			}
		}
		return domain.VoteRecord{}, t.store.logError("storage_insert_vote_failed", err,
			"applicant_id", applicantID,
			"option_id", optionID,
		)
	}
	return row.toEntity(), nil
}

// ---------- helpers ----------

func findProfile(db *gorm.DB, applicantID int64) (domain.Profile, error) {
	var row profileModel
	err := db.Where("applicant_id = ?", applicantID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, domain.ErrApplicantNotFound
		}
		return domain.Profile{}, err
	}
	return row.toEntity(), nil
}

func findPlayer(db *gorm.DB, id int64) (domain.ExternalPlayer, error) {
	var row playerModel
	err := db.Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ExternalPlayer{}, &domain.PlayerNotFoundError{PlayerID: id}
		}
		return domain.ExternalPlayer{}, err
	}
	return row.toEntity(), nil
}

// uniqueViolation reports the violated constraint (postgres) or the failing column list
// (sqlite).
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return liteErr.Error(), true
	}
	return "", false
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+4)
	fields = append(fields,
		"event", event,
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("storage operation failed", fields...)
	return err
}
