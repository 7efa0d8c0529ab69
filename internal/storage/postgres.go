package storage

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// PostgresStorage persists the same state as MemoryStorage in PostgreSQL.
// Every operation is durable on return, so Save is a no-op.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) UpsertUser(profile models.UserProfile) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE users
		SET first_name = $2, last_name = $3, username = $4, language_code = $5,
		    is_bot = $6, is_premium = $7, last_activity = NOW()
		WHERE id = $1`,
		profile.ID, profile.FirstName, profile.LastName, profile.Username,
		profile.LanguageCode, profile.IsBot, profile.IsPremium)
	if err != nil {
		return false, fmt.Errorf("error updating user: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %v", err)
	}

	isNew := rowsAffected == 0
	if isNew {
		_, err = tx.Exec(`
			INSERT INTO users (id, first_name, last_name, username, language_code, is_bot, is_premium)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			profile.ID, profile.FirstName, profile.LastName, profile.Username,
			profile.LanguageCode, profile.IsBot, profile.IsPremium)
		if err != nil {
			return false, fmt.Errorf("error inserting user: %v", err)
		}

		_, err = tx.Exec(`UPDATE bot_stats SET total_users = total_users + 1 WHERE id = 1`)
		if err != nil {
			return false, fmt.Errorf("error updating user total: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("error committing transaction: %v", err)
	}
	return isNew, nil
}

func (s *PostgresStorage) GetUser(id int64) (models.UserRecord, bool) {
	var record models.UserRecord
	err := s.db.QueryRow(`
		SELECT id, first_name, last_name, username, language_code, is_bot, is_premium,
		       first_seen, last_activity, message_count, welcomed
		FROM users
		WHERE id = $1`, id).Scan(
		&record.ID,
		&record.FirstName,
		&record.LastName,
		&record.Username,
		&record.LanguageCode,
		&record.IsBot,
		&record.IsPremium,
		&record.FirstSeen,
		&record.LastActivity,
		&record.MessageCount,
		&record.Welcomed,
	)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("Failed to query user", zap.Error(err), zap.Int64("user_id", id))
		}
		return models.UserRecord{}, false
	}
	return record, true
}

func (s *PostgresStorage) BlockUser(id int64) error {
	_, err := s.db.Exec(`
		INSERT INTO blocked_users (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("error blocking user: %v", err)
	}
	s.logger.Info("User blocked", zap.Int64("user_id", id))
	return nil
}

func (s *PostgresStorage) UnblockUser(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM blocked_users WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("error unblocking user: %v", err)
	}
	s.logger.Info("User unblocked", zap.Int64("user_id", id))
	return nil
}

func (s *PostgresStorage) IsBlocked(id int64) bool {
	var blocked bool
	err := s.db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM blocked_users WHERE user_id = $1)`, id).Scan(&blocked)
	if err != nil {
		s.logger.Error("Failed to check blocked status", zap.Error(err), zap.Int64("user_id", id))
		return false
	}
	return blocked
}

func (s *PostgresStorage) WelcomeNeeded(id int64) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE users SET welcomed = TRUE
		WHERE id = $1 AND welcomed = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("error updating welcomed flag: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %v", err)
	}
	return rowsAffected == 1, nil
}

func (s *PostgresStorage) IncrementMessageCount(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	if err := rolloverTx(tx); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE users SET message_count = message_count + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error updating user message count: %v", err)
	}

	if _, err := tx.Exec(`
		UPDATE bot_stats
		SET total_messages = total_messages + 1, messages_today = messages_today + 1
		WHERE id = 1`); err != nil {
		return fmt.Errorf("error updating message totals: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %v", err)
	}
	return nil
}

// rolloverTx applies the lazy daily reset inside the caller's transaction.
func rolloverTx(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		UPDATE bot_stats SET messages_today = 0, last_reset = NOW()
		WHERE id = 1 AND last_reset::date < NOW()::date`); err != nil {
		return fmt.Errorf("error running daily reset: %v", err)
	}
	return nil
}

func (s *PostgresStorage) ActiveUserIDs() []int64 {
	rows, err := s.db.Query(`
		SELECT id FROM users
		WHERE id NOT IN (SELECT user_id FROM blocked_users)
		ORDER BY seq`)
	if err != nil {
		s.logger.Error("Failed to query active users", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			s.logger.Error("Failed to scan user id", zap.Error(err))
			return nil
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *PostgresStorage) FindByUsername(username string) (int64, bool) {
	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM users WHERE username = $1 ORDER BY seq LIMIT 1`, username).Scan(&id)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("Failed to look up username", zap.Error(err), zap.String("username", username))
		}
		return 0, false
	}
	return id, true
}

func (s *PostgresStorage) FindByFirstName(firstName string) (int64, bool) {
	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM users WHERE first_name = $1 ORDER BY seq LIMIT 1`, firstName).Scan(&id)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("Failed to look up first name", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

func (s *PostgresStorage) SetMode(mode models.Mode, targetGroupID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	var currentTarget int64
	if err := tx.QueryRow(`
		SELECT target_group_id FROM bot_settings WHERE id = 1`).Scan(&currentTarget); err != nil {
		return fmt.Errorf("error reading settings: %v", err)
	}

	if mode == models.ModeGroup && targetGroupID == 0 && currentTarget == 0 {
		return ErrGroupTargetRequired
	}

	if targetGroupID != 0 {
		_, err = tx.Exec(`
			UPDATE bot_settings SET mode = $1, target_group_id = $2 WHERE id = 1`,
			string(mode), targetGroupID)
	} else {
		_, err = tx.Exec(`UPDATE bot_settings SET mode = $1 WHERE id = 1`, string(mode))
	}
	if err != nil {
		return fmt.Errorf("error updating settings: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %v", err)
	}

	s.logger.Info("Bot mode changed", zap.String("mode", string(mode)))
	return nil
}

func (s *PostgresStorage) Settings() models.Settings {
	var settings models.Settings
	var mode string
	err := s.db.QueryRow(`
		SELECT mode, target_group_id FROM bot_settings WHERE id = 1`).Scan(
		&mode, &settings.TargetGroupID)
	if err != nil {
		s.logger.Error("Failed to query settings", zap.Error(err))
		return models.Settings{Mode: models.ModePrivate}
	}
	settings.Mode = models.Mode(mode)
	return settings
}

func (s *PostgresStorage) Stats() models.StatsSnapshot {
	var snapshot models.StatsSnapshot

	if _, err := s.db.Exec(`
		UPDATE bot_stats SET messages_today = 0, last_reset = NOW()
		WHERE id = 1 AND last_reset::date < NOW()::date`); err != nil {
		s.logger.Error("Failed to run daily reset", zap.Error(err))
	}

	err := s.db.QueryRow(`
		SELECT s.total_users, s.total_messages, s.messages_today, s.last_reset, s.bot_started,
		       (SELECT COUNT(*) FROM users WHERE last_activity > NOW() - INTERVAL '7 days'),
		       (SELECT COUNT(*) FROM blocked_users),
		       (SELECT mode FROM bot_settings WHERE id = 1)
		FROM bot_stats s WHERE s.id = 1`).Scan(
		&snapshot.TotalUsers,
		&snapshot.TotalMessages,
		&snapshot.MessagesToday,
		&snapshot.LastReset,
		&snapshot.BotStarted,
		&snapshot.ActiveUsers7d,
		&snapshot.TotalBlocked,
		&snapshot.CurrentMode,
	)
	if err != nil {
		s.logger.Error("Failed to query stats", zap.Error(err))
	}
	return snapshot
}

func (s *PostgresStorage) AddHistory(entry models.HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO message_history (user_id, message_type, text)
		VALUES ($1, $2, $3)`,
		entry.UserID, string(entry.MessageType), entry.Text); err != nil {
		return fmt.Errorf("error inserting history entry: %v", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM message_history
		WHERE id IN (SELECT id FROM message_history ORDER BY id DESC OFFSET $1)`,
		maxHistorySize); err != nil {
		return fmt.Errorf("error pruning history: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %v", err)
	}
	return nil
}

func (s *PostgresStorage) StoreMapping(userID int64, originMsgID, forwardedMsgID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO message_mapping (user_id, origin_message_id, forwarded_message_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, origin_message_id)
		DO UPDATE SET forwarded_message_id = EXCLUDED.forwarded_message_id`,
		userID, originMsgID, forwardedMsgID); err != nil {
		return fmt.Errorf("error storing message mapping: %v", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM message_mapping
		WHERE (user_id, origin_message_id) IN (
			SELECT user_id, origin_message_id FROM message_mapping
			ORDER BY created_at DESC, forwarded_message_id DESC OFFSET $1)`,
		maxMappingSize); err != nil {
		return fmt.Errorf("error pruning message mapping: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %v", err)
	}
	return nil
}

func (s *PostgresStorage) OriginByForwarded(forwardedMsgID int) (int64, int, bool) {
	var userID int64
	var originMsgID int
	err := s.db.QueryRow(`
		SELECT user_id, origin_message_id FROM message_mapping
		WHERE forwarded_message_id = $1
		ORDER BY created_at DESC LIMIT 1`, forwardedMsgID).Scan(&userID, &originMsgID)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("Failed to look up message mapping", zap.Error(err))
		}
		return 0, 0, false
	}
	return userID, originMsgID, true
}

func (s *PostgresStorage) Save() error {
	// Writes are durable per statement; nothing to flush.
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
