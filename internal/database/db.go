package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/go-sql-driver/mysql"
)

// Datastore manages connections and the state of the database.
type Datastore struct {
	mysqlClient *sql.DB
	dbHost      string
	dbPort      uint16
	dbUser      string
	dbPass      string
	dbName      string
	tableName   string
	env         string
}

// NewDatastore initializes a new Datastore with the given configurations.
// Rows are tagged with env so one database can serve several deployments.
func NewDatastore(dbHost string, dbPort uint16, dbUser string, dbPass string, dbName string, env string) (*Datastore, error) {

	datastore := &Datastore{
		dbHost:    dbHost,
		dbPort:    dbPort,
		dbUser:    dbUser,
		dbPass:    dbPass,
		dbName:    dbName,
		tableName: "chats",
		env:       env,
	}

	err := datastore.createDBClient()
	if err != nil {
		return nil, fmt.Errorf("error creating mysql client: %w", err)
	}
	err = datastore.initTables()
	if err != nil {
		return nil, fmt.Errorf("error ensuring tables exist in MySQL: %w", err)
	}

	return datastore, nil
}

// createDBClient sets up the database connection.
func (d *Datastore) createDBClient() error {
	var err error
	cfg := mysql.Config{
		User:                 d.dbUser,
		Passwd:               d.dbPass,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", d.dbHost, d.dbPort),
		DBName:               d.dbName,
		AllowNativePasswords: true,
	}
	d.mysqlClient, err = sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}

	d.mysqlClient.SetConnMaxLifetime(time.Second * 15)
	d.mysqlClient.SetMaxOpenConns(4)
	d.mysqlClient.SetMaxIdleConns(4)

	return nil
}

func (d *Datastore) initTables() error {
	if d.mysqlClient == nil {
		return fmt.Errorf("mysqlClient not initialized")
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		"  `id` bigint unsigned NOT NULL AUTO_INCREMENT,"+
		"  `groupme_id` VARCHAR(64) NOT NULL,"+
		"  `building_id` VARCHAR(64) NOT NULL,"+
		"  `floor_number` int NOT NULL,"+
		"  `env` VARCHAR(32) NOT NULL DEFAULT '',"+
		"  `created_at` DATETIME DEFAULT CURRENT_TIMESTAMP,"+
		"  PRIMARY KEY (`id`),"+
		"  UNIQUE KEY `groupme_env_unique` (`groupme_id`, `env`),"+
		"  KEY `building_env` (`building_id`, `env`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;", d.tableName)

	_, err := d.mysqlClient.Exec(query)
	if err != nil {
		return err
	}

	// Columns added after the first release
	requiredColumns := map[string]string{
		"env": "VARCHAR(32) NOT NULL DEFAULT ''",
	}

	for column, definition := range requiredColumns {
		var columnName string
		query := fmt.Sprintf("SHOW COLUMNS FROM `%s` LIKE '%s'", d.tableName, column)
		err := d.mysqlClient.QueryRow(query).Scan(&columnName, new(string), new(string), new(sql.NullString), new(sql.NullString), new(string))
		if err != nil {
			if err == sql.ErrNoRows {
				alterQuery := fmt.Sprintf("ALTER TABLE `%s` ADD COLUMN `%s` %s", d.tableName, column, definition)
				_, err := d.mysqlClient.Exec(alterQuery)
				if err != nil {
					return fmt.Errorf("error adding column %s: %v", column, err)
				}
				slogs.Logr.Info("Added column to table", "table", d.tableName, "column", column)
			} else {
				return fmt.Errorf("error checking column %s: %v", column, err)
			}
		}
	}

	// Replace the groupme_id-only key from the first release
	const legacyKey = "groupme_id_unique"
	query = fmt.Sprintf("SHOW INDEX FROM `%s` WHERE Key_name = '%s'", d.tableName, legacyKey)
	rows, err := d.mysqlClient.Query(query)
	if err != nil {
		return fmt.Errorf("error checking indexes: %v", err)
	}
	hasLegacyKey := rows.Next()
	err = rows.Close()
	if err != nil {
		return fmt.Errorf("error checking indexes: %v", err)
	}
	if hasLegacyKey {
		alterQuery := fmt.Sprintf("ALTER TABLE `%s` DROP INDEX `%s`, ADD UNIQUE KEY `groupme_env_unique` (`groupme_id`, `env`)", d.tableName, legacyKey)
		_, err := d.mysqlClient.Exec(alterQuery)
		if err != nil {
			return fmt.Errorf("error replacing index %s: %v", legacyKey, err)
		}
		slogs.Logr.Info("Replaced unique key", "table", d.tableName, "old", legacyKey, "new", "groupme_env_unique")
	}

	return nil
}

// AddChat stores a floor chat
func (d *Datastore) AddChat(ctx context.Context, chat Chat) (Chat, error) {
	chat.Env = d.env
	query := fmt.Sprintf("INSERT INTO `%s` (groupme_id, building_id, floor_number, env) VALUES (?, ?, ?, ?)", d.tableName)
	_, err := d.mysqlClient.ExecContext(ctx, query, chat.GroupID, chat.BuildingID, chat.Floor, chat.Env)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
			return Chat{}, ErrChatExists
		}
		return Chat{}, fmt.Errorf("error inserting chat: %v", err)
	}

	slogs.Logr.Info("Chat added to database", "groupme_id", chat.GroupID, "building_id", chat.BuildingID, "floor", chat.Floor, "env", chat.Env)
	return chat, nil
}

// ChatExists reports whether a chat with groupID is already registered in this environment
func (d *Datastore) ChatExists(ctx context.Context, groupID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM `%s` WHERE groupme_id = ? AND env = ? LIMIT 1", d.tableName)

	var found int
	err := d.mysqlClient.QueryRowContext(ctx, query, groupID, d.env).Scan(&found)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("error querying chat: %v", err)
	}
	return true, nil
}

// ChatsByBuildings returns the chats of this environment registered for any of buildingIDs
func (d *Datastore) ChatsByBuildings(ctx context.Context, buildingIDs []string) ([]Chat, error) {
	if len(buildingIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT groupme_id, building_id, floor_number, env FROM `%s` WHERE env = ? AND building_id IN (%s) ORDER BY id",
		d.tableName, placeholders(len(buildingIDs)))
	args := make([]any, 0, len(buildingIDs)+1)
	args = append(args, d.env)
	for _, id := range buildingIDs {
		args = append(args, id)
	}

	rows, err := d.mysqlClient.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying chats: %v", err)
	}
	defer func(rows *sql.Rows) {
		err := rows.Close()
		if err != nil {
			slogs.Logr.Error("Could not close rows", "error", err)
		}
	}(rows)

	var chats []Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.GroupID, &chat.BuildingID, &chat.Floor, &chat.Env); err != nil {
			return nil, fmt.Errorf("error scanning chat: %v", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// CopyChats upserts every chat of fromEnv into toEnv, keyed on groupme_id, and
// returns how many chats were copied. With dryRun set nothing is written and
// the count is what would have been copied.
func (d *Datastore) CopyChats(ctx context.Context, fromEnv, toEnv string, dryRun bool) (int, error) {
	if fromEnv == toEnv {
		return 0, ErrSameEnv
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE env = ?", d.tableName)
	err := d.mysqlClient.QueryRowContext(ctx, query, fromEnv).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting chats: %v", err)
	}
	if dryRun || count == 0 {
		return count, nil
	}

	_, err = d.mysqlClient.ExecContext(ctx, copyChatsQuery(d.tableName), toEnv, fromEnv)
	if err != nil {
		return 0, fmt.Errorf("error copying chats: %v", err)
	}

	slogs.Logr.Info("Copied chats between environments", "from", fromEnv, "to", toEnv, "count", count)
	return count, nil
}

func copyChatsQuery(table string) string {
	return fmt.Sprintf("INSERT INTO `%[1]s` (groupme_id, building_id, floor_number, env) "+
		"SELECT src.groupme_id, src.building_id, src.floor_number, ? FROM `%[1]s` AS src WHERE src.env = ? "+
		"ON DUPLICATE KEY UPDATE building_id = VALUES(building_id), floor_number = VALUES(floor_number);", table)
}

// Close closes the database connection
func (d *Datastore) Close() error {
	return d.mysqlClient.Close()
}

// placeholders returns "?, ?, ?" for n parameters
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
