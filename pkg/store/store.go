package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stacktrends/pkg/types"
)

// sqlite accepts at most 999 bound parameters per statement on older builds
const maxInsertParams = 999

const newTableSuffix = "__new"

var creationDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// UserModel maps the users table of the imported data dump.
type UserModel struct {
	ID       int64   `gorm:"column:Id;primaryKey"`
	Location *string `gorm:"column:Location"`
}

func (UserModel) TableName() string { return "users" }

// PostModel maps the posts table of the imported data dump. CreationDate is
// kept as text, the way the import writes it.
type PostModel struct {
	ID           int64   `gorm:"column:Id;primaryKey"`
	PostTypeID   int     `gorm:"column:PostTypeId"`
	ParentID     *int64  `gorm:"column:ParentId"`
	CreationDate string  `gorm:"column:CreationDate"`
	OwnerUserID  *int64  `gorm:"column:OwnerUserId"`
	Tags         *string `gorm:"column:Tags"`
}

func (PostModel) TableName() string { return "posts" }

// Store reads the imported users and posts and holds every derived table.
// It is also a sink: Write replaces a table as a whole.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens the SQLite database at filename. ":memory:" opens a private
// in-memory database.
func Open(filename string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(filename), &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", filename)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get database connection")
	}
	// one connection keeps in-memory databases alive and serialises writers
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db, logger: log}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Name() string { return "sqlite" }

// Users reads every user with its raw location.
func (s *Store) Users(ctx context.Context) ([]types.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("Id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read users")
	}
	users := make([]types.User, len(models))
	for i, m := range models {
		users[i] = types.User{ID: m.ID}
		if m.Location != nil {
			users[i].Location = *m.Location
		}
	}
	return users, nil
}

// Posts reads every post. Unknown post types are kept and ignored later.
func (s *Store) Posts(ctx context.Context) ([]types.Post, error) {
	var models []PostModel
	if err := s.db.WithContext(ctx).Order("Id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read posts")
	}
	posts := make([]types.Post, len(models))
	for i, m := range models {
		created, err := parseCreationDate(m.CreationDate)
		if err != nil {
			return nil, errors.Wrapf(err, "post %d", m.ID)
		}
		posts[i] = types.Post{
			ID:          m.ID,
			Type:        types.PostType(m.PostTypeID),
			ParentID:    m.ParentID,
			CreatedAt:   created,
			OwnerUserID: m.OwnerUserID,
		}
		if m.Tags != nil {
			posts[i].PackedTags = *m.Tags
		}
	}
	return posts, nil
}

// Import creates the input tables and inserts users and posts into them.
// The real dump is imported by an external tool; Import serves fixtures.
func (s *Store) Import(ctx context.Context, users []types.User, posts []types.Post) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&UserModel{}, &PostModel{}); err != nil {
		return errors.Wrap(err, "failed to create input tables")
	}

	userModels := make([]UserModel, len(users))
	for i, u := range users {
		userModels[i] = UserModel{ID: u.ID}
		if u.Location != "" {
			location := u.Location
			userModels[i].Location = &location
		}
	}
	postModels := make([]PostModel, len(posts))
	for i, p := range posts {
		postModels[i] = PostModel{
			ID:           p.ID,
			PostTypeID:   int(p.Type),
			ParentID:     p.ParentID,
			CreationDate: p.CreatedAt.UTC().Format("2006-01-02T15:04:05.000"),
			OwnerUserID:  p.OwnerUserID,
		}
		if p.PackedTags != "" {
			tags := p.PackedTags
			postModels[i].Tags = &tags
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if len(userModels) > 0 {
			if err := tx.CreateInBatches(userModels, 400).Error; err != nil {
				return errors.Wrap(err, "failed to insert users")
			}
		}
		if len(postModels) > 0 {
			if err := tx.CreateInBatches(postModels, 150).Error; err != nil {
				return errors.Wrap(err, "failed to insert posts")
			}
		}
		return nil
	})
}

func (s *Store) HasTable(name string) bool {
	return s.db.Migrator().HasTable(name)
}

// ReadTable reads a derived table back. Column kinds are reported as text.
func (s *Store) ReadTable(ctx context.Context, name string) (types.Table, error) {
	table := types.Table{Name: name}
	rows, err := s.db.WithContext(ctx).Table(name).Rows()
	if err != nil {
		return table, errors.Wrapf(err, "failed to read table %s", name)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return table, errors.Wrapf(err, "failed to read columns of %s", name)
	}
	for _, c := range columns {
		table.Columns = append(table.Columns, types.Column{Name: c, Kind: types.Text})
	}

	for rows.Next() {
		row := make(types.Row, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return table, errors.Wrapf(err, "failed to scan %s", name)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, errors.Wrapf(rows.Err(), "failed to read table %s", name)
}

// Write replaces the table with the given one in a single transaction: the
// rows go to a fresh table that is renamed over the old one. On failure the
// old table is left untouched.
func (s *Store) Write(ctx context.Context, table types.Table) error {
	if len(table.Columns) == 0 {
		return errors.Errorf("table %s has no columns", table.Name)
	}
	tmp := table.Name + newTableSuffix

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Migrator().DropTable(tmp); err != nil {
			return err
		}
		if err := tx.Exec(createStatement(tmp, table.Columns)).Error; err != nil {
			return err
		}
		if err := insert(tx, tmp, table); err != nil {
			return err
		}
		if err := tx.Migrator().DropTable(table.Name); err != nil {
			return err
		}
		return tx.Migrator().RenameTable(tmp, table.Name)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to replace table %s", table.Name)
	}

	s.logger.Debug("table replaced", zap.String("table", table.Name), zap.Int("rows", len(table.Rows)))
	return nil
}

func insert(tx *gorm.DB, name string, table types.Table) error {
	batch := maxInsertParams / len(table.Columns)
	if batch < 1 {
		batch = 1
	}

	columns := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		columns[i] = quote(c.Name)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", quote(name), strings.Join(columns, ", "))

	for start := 0; start < len(table.Rows); start += batch {
		end := start + batch
		if end > len(table.Rows) {
			end = len(table.Rows)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*len(columns))
		for _, row := range table.Rows[start:end] {
			if len(row) != len(columns) {
				return errors.Errorf("row has %d values, table %s has %d columns", len(row), table.Name, len(columns))
			}
			values = append(values, placeholder)
			args = append(args, row...)
		}
		if err := tx.Exec(prefix+strings.Join(values, ", "), args...).Error; err != nil {
			return err
		}
	}
	return nil
}

func createStatement(name string, columns []types.Column) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quote(c.Name) + " " + c.Kind.SQLType()
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(name), strings.Join(defs, ", "))
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func parseCreationDate(value string) (time.Time, error) {
	for _, layout := range creationDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unparseable creation date %q", value)
}
